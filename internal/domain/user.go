package domain

import "time"

// User is an authoring-tool account allowed to call the service.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}
