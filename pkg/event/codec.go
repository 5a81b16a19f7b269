package event

import (
	"encoding/json"
	"fmt"
)

// Encode renders the event as the JSON document carried in packet payloads.
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: encode: %w", err)
	}
	return data, nil
}

// Decode parses packet payload bytes into an event and validates its shape.
// It does not verify the signature; callers decide whether verification is
// required on their path.
func Decode(data []byte) (*Event, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("event: empty payload")
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("event: decode: %w", err)
	}
	if err := ev.validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (e *Event) validate() error {
	if len(e.ID) != 64 {
		return fmt.Errorf("event: id must be 64 hex chars, got %d", len(e.ID))
	}
	if !ValidPubKey(e.PubKey) {
		return fmt.Errorf("event: malformed pubkey")
	}
	if e.Kind < 0 {
		return fmt.Errorf("event: negative kind %d", e.Kind)
	}
	if len(e.Sig) != 128 {
		return fmt.Errorf("event: sig must be 128 hex chars, got %d", len(e.Sig))
	}
	return nil
}
