package domain

import (
	"encoding/json"
	"time"
)

// ActivityLog records build and publish activity for a project.
type ActivityLog struct {
	ID        int64
	ProjectID string
	Source    string
	Level     string
	Message   string
	Metadata  json.RawMessage
	CreatedAt time.Time
}
