package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// rawMessage mirrors the loosely typed wire shape of a channel message.
// Pointer fields distinguish "absent" from zero values.
type rawMessage struct {
	Object     string    `mapstructure:"object"`
	TurnID     *int64    `mapstructure:"turn_id"`
	UserID     any       `mapstructure:"user_id"`
	Text       string    `mapstructure:"text"`
	Final      bool      `mapstructure:"final"`
	TurnStatus *int64    `mapstructure:"turn_status"`
	StartMs    int64     `mapstructure:"start_ms"`
	Words      []rawWord `mapstructure:"words"`
}

type rawWord struct {
	Word    string `mapstructure:"word"`
	StartMs int64  `mapstructure:"start_ms"`
}

// Normalize converts a decoded channel message into a typed Message.
// speakerID is the publisher id reported by the transport; a user_id field
// in the payload takes precedence over it.
func Normalize(raw map[string]any, speakerID string) (Message, error) {
	object, _ := raw["object"].(string)
	switch object {
	case ObjectUserTranscription, ObjectAgentTranscription, ObjectInterrupt:
	case ObjectError, ObjectMetrics:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledObject, object)
	case "":
		return nil, ErrUnknownObject
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, object)
	}

	var msg rawMessage
	if err := decode(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, object, err)
	}
	if msg.TurnID == nil {
		return nil, fmt.Errorf("%w: turn_id", ErrMissingField)
	}
	userID, err := formatUserID(msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: user_id: %v", ErrMalformed, object, err)
	}
	if userID != "" {
		speakerID = userID
	}

	switch object {
	case ObjectInterrupt:
		return InterruptSignal{
			TurnID:        *msg.TurnID,
			SpeakerID:     speakerID,
			StartOffsetMs: msg.StartMs,
		}, nil

	case ObjectUserTranscription:
		if msg.Text == "" {
			return nil, ErrEmptyText
		}
		return UserTranscript{
			TurnID:    *msg.TurnID,
			SpeakerID: speakerID,
			Text:      msg.Text,
			Final:     msg.Final,
		}, nil

	default:
		if msg.Text == "" {
			return nil, ErrEmptyText
		}
		status, err := parseTurnStatus(msg.TurnStatus)
		if err != nil {
			return nil, err
		}
		return AgentTranscript{
			TurnID:        *msg.TurnID,
			SpeakerID:     speakerID,
			StartOffsetMs: msg.StartMs,
			Text:          msg.Text,
			TurnStatus:    status,
			Words:         convertWords(msg.Words),
		}, nil
	}
}

// NormalizePayload decodes a JSON payload and normalizes it
func NormalizePayload(payload []byte, speakerID string) (Message, error) {
	raw, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	return Normalize(raw, speakerID)
}

// DecodePayload parses a JSON object into a generic map
func DecodePayload(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}
	return raw, nil
}

// IsDiagnostic reports whether err should be surfaced as a diagnostic log
// rather than treated as expected stream noise.
func IsDiagnostic(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnknownTurnStatus) ||
		errors.Is(err, ErrUnknownObject)
}

// Reason returns a short metric label for a normalization error
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnknownObject):
		return "unknown_object"
	case errors.Is(err, ErrUnhandledObject):
		return "unhandled_object"
	case errors.Is(err, ErrUnknownTurnStatus):
		return "unknown_turn_status"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrEmptyText):
		return "empty_text"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "other"
	}
}

func decode(input map[string]any, out *rawMessage) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     out,
		DecodeHook: jsonNumberHook,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// jsonNumberHook lets json.Number values decode into integer fields. A
// number where a string is expected is a type mismatch.
func jsonNumberHook(from, to reflect.Type, data any) (any, error) {
	n, ok := data.(json.Number)
	if !ok {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Int64, reflect.Int:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return int64(f), nil
	case reflect.String:
		return nil, fmt.Errorf("expected string, got number %s", n)
	}
	return data, nil
}

// formatUserID accepts the numeric ids agents send as well as strings
func formatUserID(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case string:
		return id, nil
	case json.Number:
		if i, err := id.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return id.String(), nil
	case float64:
		return strconv.FormatInt(int64(id), 10), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	default:
		return "", fmt.Errorf("unexpected type %T", v)
	}
}

// 0: in-progress, 1: end, 2: interrupted (treated as end at this level)
func parseTurnStatus(code *int64) (TurnStatus, error) {
	if code == nil {
		return TurnInProgress, nil
	}
	switch *code {
	case 0:
		return TurnInProgress, nil
	case 1, 2:
		return TurnEnd, nil
	default:
		return TurnInProgress, fmt.Errorf("%w: %d", ErrUnknownTurnStatus, *code)
	}
}

func convertWords(raw []rawWord) []Word {
	if len(raw) == 0 {
		return nil
	}
	words := make([]Word, 0, len(raw))
	for _, w := range raw {
		words = append(words, Word{Text: w.Word, StartOffsetMs: w.StartMs})
	}
	return words
}
