package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrSlugTaken indicates a slug is owned by a different project.
var ErrSlugTaken = errors.New("repository: slug owned by another project")
