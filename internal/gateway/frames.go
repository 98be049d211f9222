package gateway

import (
	"fmt"

	"github.com/lexiqai/caption-sync/internal/subtitle"
	"github.com/mitchellh/mapstructure"
)

// Control objects sent by the client alongside channel messages
const (
	ObjectPlaybackPosition = "playback.position"
	ObjectSessionReset     = "session.reset"
	ObjectSessionEnable    = "session.enable"
	ObjectSessionStop      = "session.stop"
)

// Outbound objects
const (
	ObjectSubtitleUpdate   = "subtitle.update"
	ObjectAgentInterrupted = "agent.interrupted"
)

// ControlFrame is a client frame that drives the session rather than the
// caption buffer
type ControlFrame struct {
	Object         string `mapstructure:"object"`
	PresentationMs int64  `mapstructure:"presentation_ms"`
	Enabled        *bool  `mapstructure:"enabled"`
}

// isControlObject reports whether object names a ControlFrame
func isControlObject(object string) bool {
	switch object {
	case ObjectPlaybackPosition, ObjectSessionReset, ObjectSessionEnable, ObjectSessionStop:
		return true
	}
	return false
}

// decodeControl decodes a raw frame already known to be a control object
func decodeControl(raw map[string]any) (ControlFrame, error) {
	var frame ControlFrame
	if err := mapstructure.Decode(raw, &frame); err != nil {
		return ControlFrame{}, fmt.Errorf("decode %v control frame: %w", raw["object"], err)
	}
	if frame.Object == ObjectSessionEnable && frame.Enabled == nil {
		return ControlFrame{}, fmt.Errorf("%s: enabled is required", ObjectSessionEnable)
	}
	return frame, nil
}

// SubtitleUpdate is the outbound form of a subtitle.Transcription
type SubtitleUpdate struct {
	Object string `json:"object"`
	TurnID int64  `json:"turn_id"`
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	Status string `json:"status"`
	Type   string `json:"type"`
}

func newSubtitleUpdate(tr subtitle.Transcription) SubtitleUpdate {
	return SubtitleUpdate{
		Object: ObjectSubtitleUpdate,
		TurnID: tr.TurnID,
		UserID: tr.SpeakerID,
		Text:   tr.Text,
		Status: tr.Status.String(),
		Type:   tr.Type.String(),
	}
}

// AgentInterrupted tells the client the agent was cut off at StartMs
type AgentInterrupted struct {
	Object  string `json:"object"`
	TurnID  int64  `json:"turn_id"`
	UserID  string `json:"user_id"`
	StartMs int64  `json:"start_ms"`
}

func newAgentInterrupted(speakerID string, ev subtitle.InterruptEvent) AgentInterrupted {
	return AgentInterrupted{
		Object:  ObjectAgentInterrupted,
		TurnID:  ev.TurnID,
		UserID:  speakerID,
		StartMs: ev.StartOffsetMs,
	}
}
