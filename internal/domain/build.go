package domain

import "time"

// Build output statuses. A build never returns to StatusGenerating once it
// has reached a terminal state.
const (
	BuildStatusGenerating = "generating"
	BuildStatusComplete   = "complete"
	BuildStatusFailed     = "failed"
)

// GeneratedFile is one file of a generated source tree. Order matters: the
// slice preserves the order files were announced on the model stream.
type GeneratedFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// BuildOutput captures one generation pipeline run. Files is overwritten in
// place as the stream progresses so a crash mid-run leaves the latest
// known-good set persisted.
type BuildOutput struct {
	ID           string
	ProjectID    string
	Framework    string
	Styling      string
	TypeScript   bool
	Status       string
	Files        []GeneratedFile
	Verified     bool
	Error        string
	PreviewURL   string
	PreviewToken []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
