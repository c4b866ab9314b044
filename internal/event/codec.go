package event

import (
	"encoding/json"
	"fmt"
)

// Envelope is the JSON wire form. Unknown fields in either the envelope or
// the payload are ignored on decode so older readers tolerate newer writers.
type Envelope struct {
	Type    string          `json:"type"`
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

// Encode validates then marshals a header and typed payload into the wire form.
func Encode(h Header, ev Event) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: ev.EventType(), Header: h, Payload: payload})
}

// Decode unmarshals the wire form and validates it. An unrecognized type
// discriminator is a ValidationError, so carriers treat it as terminal.
func Decode(b []byte) (Header, Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Header{}, nil, &ValidationError{Field: "envelope", Reason: err.Error()}
	}
	if err := env.Header.Validate(); err != nil {
		return Header{}, nil, err
	}

	ev, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return Header{}, nil, err
	}
	if err := ev.Validate(); err != nil {
		return Header{}, nil, err
	}
	return env.Header, ev, nil
}

func decodePayload(typ string, raw json.RawMessage) (Event, error) {
	var ev Event
	switch typ {
	case TypeSourceCreated:
		ev = &SourceCreated{}
	case TypePageRendered:
		ev = &PageRendered{}
	case TypePageExtracted:
		ev = &PageExtracted{}
	case TypeAudioSynthesized:
		ev = &AudioSynthesized{}
	case TypeAudioTranscoded:
		ev = &AudioTranscoded{}
	case TypeWorkflowCompleted:
		ev = &WorkflowCompleted{}
	default:
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown event type %q", typ)}
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return ev, nil
}
