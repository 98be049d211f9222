package subtitle

import "fmt"

// Status is the display status of a word, turn or emitted transcription
type Status int

const (
	StatusInProgress Status = iota
	StatusEnd
	StatusInterrupted
)

// String returns the wire representation of a Status
func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusEnd:
		return "end"
	case StatusInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further updates may follow this status
func (s Status) Terminal() bool {
	return s == StatusEnd || s == StatusInterrupted
}

// Type tells whose speech a transcription belongs to
type Type int

const (
	TypeAgent Type = iota
	TypeUser
)

// String returns the wire representation of a Type
func (t Type) String() string {
	if t == TypeUser {
		return "user"
	}
	return "agent"
}

// RenderMode selects the subtitle granularity of a session
type RenderMode int

const (
	ModeUnset RenderMode = iota
	ModeWord
	ModeText
)

// String returns the string representation of a RenderMode
func (m RenderMode) String() string {
	switch m {
	case ModeWord:
		return "word"
	case ModeText:
		return "text"
	default:
		return "unset"
	}
}

// ParseRenderMode parses a preferred render mode name
func ParseRenderMode(s string) (RenderMode, error) {
	switch s {
	case "word", "Word", "WORD":
		return ModeWord, nil
	case "text", "Text", "TEXT":
		return ModeText, nil
	default:
		return ModeUnset, fmt.Errorf("invalid render mode %q (want word or text)", s)
	}
}

// Transcription is one subtitle update delivered to the UI collaborator.
// The UI keys replace-or-append decisions on (TurnID, Type).
type Transcription struct {
	TurnID    int64
	SpeakerID string
	Text      string
	Status    Status
	Type      Type
}

// InterruptEvent reports an agent interruption received on the channel
type InterruptEvent struct {
	TurnID        int64
	StartOffsetMs int64
}

// Handler receives transcriptions, one call at a time, in emission order
type Handler func(Transcription)

// InterruptHandler receives agent interruption notices
type InterruptHandler func(speakerID string, event InterruptEvent)

// word is a timed token owned by its turn
type word struct {
	text    string
	startMs int64
	status  Status
}

// turnBuffer holds the merged state of an in-flight agent turn
type turnBuffer struct {
	turnID    int64
	speakerID string
	startMs   int64
	fullText  string
	status    Status
	words     []*word
}
