package domain

import "time"

// Project is the authoring collaborator's record. Its brief fields feed the
// generation prompt; everything else about flows and pages lives upstream.
type Project struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	Brief       string
	CreatedAt   time.Time
}

// Supported build frameworks.
const (
	FrameworkReact  = "react"
	FrameworkVue    = "vue"
	FrameworkStatic = "static"
)

// BuildConfig holds per-project generation settings. One row per project,
// upserted, never historized.
type BuildConfig struct {
	ProjectID  string
	Framework  string
	Styling    string
	TypeScript bool
	UpdatedAt  time.Time
}
