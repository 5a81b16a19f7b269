package btp

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// PacketType discriminates the three packet variants.
type PacketType string

const (
	PacketPrepare PacketType = "PREPARE"
	PacketFulfill PacketType = "FULFILL"
	PacketReject  PacketType = "REJECT"
)

// ConditionSize is the byte length of execution conditions and fulfillments.
const ConditionSize = 32

// Packet is one wire frame. Exactly one variant's fields are populated,
// selected by Type. Byte fields marshal as base64, timestamps as RFC 3339.
type Packet struct {
	Type PacketType `json:"type"`

	// prepare
	Amount             string     `json:"amount,omitempty"`
	Destination        string     `json:"destination,omitempty"`
	ExecutionCondition []byte     `json:"executionCondition,omitempty"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
	Data               []byte     `json:"data,omitempty"`

	// fulfill
	Fulfillment []byte `json:"fulfillment,omitempty"`

	// reject
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewPrepare builds a prepare packet. The payload carries an encoded event.
func NewPrepare(amount *big.Int, destination string, condition []byte, expiresAt time.Time, data []byte) Packet {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return Packet{
		Type:               PacketPrepare,
		Amount:             amount.String(),
		Destination:        destination,
		ExecutionCondition: condition,
		ExpiresAt:          &expiresAt,
		Data:               data,
	}
}

// NewFulfill builds a fulfill packet.
func NewFulfill(fulfillment, data []byte) Packet {
	return Packet{Type: PacketFulfill, Fulfillment: fulfillment, Data: data}
}

// NewReject builds a reject packet.
func NewReject(code, message string, data []byte) Packet {
	return Packet{Type: PacketReject, Code: code, Message: message, Data: data}
}

// ParseAmount returns the prepare amount as an integer.
func (p *Packet) ParseAmount() (*big.Int, error) {
	if p.Amount == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("btp: invalid amount %q", p.Amount)
	}
	return n, nil
}

// Validate checks the variant-specific field shape.
func (p *Packet) Validate() error {
	switch p.Type {
	case PacketPrepare:
		if _, err := p.ParseAmount(); err != nil {
			return err
		}
		if p.Destination == "" {
			return fmt.Errorf("btp: prepare requires a destination")
		}
		if len(p.ExecutionCondition) != ConditionSize {
			return fmt.Errorf("btp: execution condition must be %d bytes, got %d", ConditionSize, len(p.ExecutionCondition))
		}
		if p.ExpiresAt == nil || p.ExpiresAt.IsZero() {
			return fmt.Errorf("btp: prepare requires an expiry")
		}
	case PacketFulfill:
		if len(p.Fulfillment) != ConditionSize {
			return fmt.Errorf("btp: fulfillment must be %d bytes, got %d", ConditionSize, len(p.Fulfillment))
		}
	case PacketReject:
		if p.Code == "" {
			return fmt.Errorf("btp: reject requires a code")
		}
	default:
		return fmt.Errorf("btp: unknown packet type %q", p.Type)
	}
	return nil
}

// EncodeFrame renders the packet as one wire frame.
func EncodeFrame(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("btp: encode frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses and validates one wire frame.
func DecodeFrame(data []byte) (*Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("btp: decode frame: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
