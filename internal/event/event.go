package event

import (
	"fmt"

	"github.com/tidwall/sjson"
)

// Envelope is one event forwarded downstream.
// Envelopes are values and are never mutated after creation.
type Envelope struct {
	// Payload is the decoded line: a generic structured value
	// (map[string]any, []any, float64, string, bool or nil) in
	// structured mode, or the line text in raw mode.
	Payload any

	// Raw is the original JSON text of a structured payload.
	// Empty for raw-mode envelopes.
	Raw string

	// Meta describes where the event came from.
	Meta Meta
}

// Meta is the metadata attached to every envelope.
type Meta struct {
	// Command is the command text that produced the event.
	Command string
}

// NewText creates a raw-mode envelope carrying line verbatim.
func NewText(line, command string) Envelope {
	return Envelope{
		Payload: line,
		Meta:    Meta{Command: command},
	}
}

// NewStructured creates a structured-mode envelope.
// raw is the JSON text value was parsed from.
func NewStructured(value any, raw, command string) Envelope {
	return Envelope{
		Payload: value,
		Raw:     raw,
		Meta:    Meta{Command: command},
	}
}

// IsStructured reports whether the payload was parsed from JSON.
func (e Envelope) IsStructured() bool {
	return e.Raw != ""
}

// MarshalJSON renders {"cmd": payload, "meta": {"command": command}}.
// Structured payloads are spliced in from Raw so numbers keep their
// original formatting.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := []byte(`{}`)

	var err error
	if e.IsStructured() {
		out, err = sjson.SetRawBytes(out, "cmd", []byte(e.Raw))
	} else {
		out, err = sjson.SetBytes(out, "cmd", e.Payload)
	}
	if err != nil {
		return nil, fmt.Errorf("set cmd: %w", err)
	}

	out, err = sjson.SetBytes(out, "meta.command", e.Meta.Command)
	if err != nil {
		return nil, fmt.Errorf("set meta.command: %w", err)
	}

	return out, nil
}

// Map returns the envelope in the generic record shape used by rule
// engines: {"cmd": payload, "meta": {"command": command}}.
func (e Envelope) Map() map[string]any {
	return map[string]any{
		"cmd": e.Payload,
		"meta": map[string]any{
			"command": e.Meta.Command,
		},
	}
}
