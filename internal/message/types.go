package message

import "errors"

// Object discriminators carried in the "object" field of a channel message
const (
	ObjectUserTranscription  = "user.transcription"
	ObjectAgentTranscription = "assistant.transcription"
	ObjectInterrupt          = "message.interrupt"
	ObjectError              = "message.error"
	ObjectMetrics            = "message.metrics"
)

var (
	// ErrUnknownObject is returned when the discriminator is missing or unrecognised
	ErrUnknownObject = errors.New("unknown message object")

	// ErrUnhandledObject is returned for recognised objects the engine does not consume
	ErrUnhandledObject = errors.New("unhandled message object")

	// ErrUnknownTurnStatus is returned when turn_status is outside 0..2
	ErrUnknownTurnStatus = errors.New("unknown turn status")

	// ErrMissingField is returned when a required field is absent
	ErrMissingField = errors.New("missing required field")

	// ErrMalformed is returned when a field has the wrong type
	ErrMalformed = errors.New("malformed message")

	// ErrEmptyText is returned for transcripts without text
	ErrEmptyText = errors.New("empty transcript text")
)

// TurnStatus is the turn-level status reported by the agent
type TurnStatus int

const (
	TurnInProgress TurnStatus = iota
	TurnEnd
)

// String returns the string representation of a TurnStatus
func (s TurnStatus) String() string {
	switch s {
	case TurnInProgress:
		return "in_progress"
	case TurnEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Kind identifies the variant of a normalized Message
type Kind int

const (
	KindUserTranscript Kind = iota + 1
	KindAgentTranscript
	KindInterrupt
)

// String returns the metric label for a Kind
func (k Kind) String() string {
	switch k {
	case KindUserTranscript:
		return "user_transcript"
	case KindAgentTranscript:
		return "agent_transcript"
	case KindInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Message is a typed channel event
type Message interface {
	Kind() Kind
	Turn() int64
}

// Word is a single timed token inside an agent transcript
type Word struct {
	Text          string
	StartOffsetMs int64
}

// UserTranscript is a recognised fragment of the local user's speech
type UserTranscript struct {
	TurnID    int64
	SpeakerID string
	Text      string
	Final     bool
}

func (UserTranscript) Kind() Kind    { return KindUserTranscript }
func (u UserTranscript) Turn() int64 { return u.TurnID }

// AgentTranscript is an incremental fragment of an agent turn
type AgentTranscript struct {
	TurnID        int64
	SpeakerID     string
	StartOffsetMs int64
	Text          string
	TurnStatus    TurnStatus
	Words         []Word
}

func (AgentTranscript) Kind() Kind    { return KindAgentTranscript }
func (a AgentTranscript) Turn() int64 { return a.TurnID }

// InterruptSignal truncates an agent turn at an audio offset
type InterruptSignal struct {
	TurnID        int64
	SpeakerID     string
	StartOffsetMs int64
}

func (InterruptSignal) Kind() Kind    { return KindInterrupt }
func (i InterruptSignal) Turn() int64 { return i.TurnID }
