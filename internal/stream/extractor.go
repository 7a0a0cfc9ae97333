package stream

import "strings"

// File delimiters emitted by the model. The extractor is defined purely in
// terms of locating these two markers in a growing buffer.
const (
	startPrefix = "===FILE: "
	startSuffix = "==="
	endMarker   = "===END FILE==="
)

// holdback is the number of trailing bytes withheld from chunk emission so a
// marker split across two deltas is still recognized before being mistaken
// for content. It must be at least as long as the longest marker.
const holdback = len(endMarker)

// EventType identifies extractor events.
type EventType string

// Extractor event types.
const (
	EventFileStart    EventType = "file_start"
	EventFileChunk    EventType = "file_chunk"
	EventFileComplete EventType = "file_complete"
)

// Event is one incremental extraction result. FileChunk carries Text, a slice
// confirmed not to straddle a delimiter; FileComplete carries the full
// trimmed Content and is authoritative.
type Event struct {
	Type    EventType
	Path    string
	Text    string
	Content string
}

const (
	stateScanningForStart = iota
	stateInsideFile
)

// Extractor incrementally reconstructs delimited files from a token stream.
// Feed it deltas as they arrive; the resulting event list is identical no
// matter how the stream is split.
type Extractor struct {
	state     int
	buf       string
	path      string
	content   strings.Builder
	announced map[string]bool
}

// NewExtractor returns an Extractor ready to scan for the first file marker.
func NewExtractor() *Extractor {
	return &Extractor{announced: make(map[string]bool)}
}

// Feed advances the scan with the next stream delta and returns the events it
// produced, in order.
func (e *Extractor) Feed(delta string) []Event {
	if delta == "" {
		return nil
	}
	e.buf += delta
	var events []Event
	for {
		switch e.state {
		case stateScanningForStart:
			if !e.scanForStart(&events) {
				return events
			}
		case stateInsideFile:
			if !e.scanForEnd(&events) {
				return events
			}
		}
	}
}

// scanForStart looks for a complete start marker. It reports whether progress
// was made and scanning should continue.
func (e *Extractor) scanForStart(events *[]Event) bool {
	idx := strings.Index(e.buf, startPrefix)
	if idx < 0 {
		// Keep only a tail that could still begin a split marker.
		if len(e.buf) > holdback {
			e.buf = e.buf[len(e.buf)-holdback:]
		}
		return false
	}
	rest := e.buf[idx+len(startPrefix):]
	closing := strings.Index(rest, startSuffix)
	if closing < 0 {
		// Marker opened but path not yet terminated; wait for more input.
		e.buf = e.buf[idx:]
		return false
	}
	path := strings.TrimSpace(rest[:closing])
	e.buf = rest[closing+len(startSuffix):]
	// Content begins on the next line.
	e.buf = strings.TrimPrefix(e.buf, "\n")
	e.path = path
	e.content.Reset()
	e.state = stateInsideFile
	if path != "" && !e.announced[path] {
		e.announced[path] = true
		*events = append(*events, Event{Type: EventFileStart, Path: path})
	}
	return true
}

// scanForEnd looks for the end marker, emitting safe chunks along the way.
func (e *Extractor) scanForEnd(events *[]Event) bool {
	idx := strings.Index(e.buf, endMarker)
	if idx < 0 {
		safe := len(e.buf) - holdback
		if safe > 0 {
			text := e.buf[:safe]
			e.buf = e.buf[safe:]
			e.content.WriteString(text)
			*events = append(*events, Event{Type: EventFileChunk, Path: e.path, Text: text})
		}
		return false
	}
	e.content.WriteString(e.buf[:idx])
	e.buf = e.buf[idx+len(endMarker):]
	e.complete(events)
	return true
}

func (e *Extractor) complete(events *[]Event) {
	content := strings.TrimSpace(e.content.String())
	*events = append(*events, Event{Type: EventFileComplete, Path: e.path, Content: content})
	e.path = ""
	e.content.Reset()
	e.state = stateScanningForStart
}

// Flush finalizes the stream. If a file is still open — the stream ended
// normally, truncated, or deadline-aborted — its captured partial content is
// emitted as a best-effort FileComplete rather than discarded.
func (e *Extractor) Flush() []Event {
	if e.state != stateInsideFile {
		return nil
	}
	e.content.WriteString(e.buf)
	e.buf = ""
	var events []Event
	e.complete(&events)
	return events
}
