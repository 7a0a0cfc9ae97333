package build

import "encoding/json"

// Progress event types streamed to clients during a build.
const (
	EventFileStart    = "file_start"
	EventFileChunk    = "file_chunk"
	EventFileComplete = "file_complete"
	EventVerify       = "verify"
	EventVerifyFailed = "verify_failed"
	EventFixing       = "fixing"
	EventDone         = "done"
	EventError        = "error"
)

// Event is one progress frame on a build stream. Completion frames carry the
// full file content: chunks are best-effort and clients replace whatever they
// buffered with the content of file_complete.
type Event struct {
	Type      string   `json:"type"`
	BuildID   string   `json:"build_id"`
	Path      string   `json:"path,omitempty"`
	Text      string   `json:"text,omitempty"`
	Content   string   `json:"content,omitempty"`
	Iteration int      `json:"iteration,omitempty"`
	Max       int      `json:"max,omitempty"`
	Files     []string `json:"files,omitempty"`
	FileCount int      `json:"file_count,omitempty"`
	Verified  *bool    `json:"verified,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func (e Event) marshal() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}
