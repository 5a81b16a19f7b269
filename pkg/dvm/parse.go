package dvm

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/agentmesh/agentmesh-go/pkg/event"
)

// Parse failures.
var (
	ErrInvalidKind      = errors.New("dvm: kind outside the job-request range")
	ErrInvalidInputType = errors.New("dvm: invalid input type")
	ErrInvalidBid       = errors.New("dvm: invalid bid")
)

// Input types a job request may carry.
const (
	InputText  = "text"
	InputURL   = "url"
	InputEvent = "event"
	InputJob   = "job"
)

// Input is one ordered job input.
type Input struct {
	Data   string `json:"data"`
	Type   string `json:"type"`
	Relay  string `json:"relay,omitempty"`
	Marker string `json:"marker,omitempty"`
}

// JobRequest is a parsed job-request event.
type JobRequest struct {
	Event        *event.Event
	Inputs       []Input
	OutputType   string
	Params       map[string]string
	Bid          *big.Int
	Relays       []string
	Dependencies []string
}

// Priorities a delegation may request.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// DelegationRequest is a parsed task-delegation event (kind 5900).
type DelegationRequest struct {
	JobRequest
	Timeout         int // seconds; 0 when absent or invalid
	PreferredAgents []string
	Priority        string
	Schema          string
}

// ParseJobRequest extracts the job surface from a request event.
func ParseJobRequest(ev *event.Event) (*JobRequest, error) {
	if ev == nil || !event.IsJobRequestKind(ev.Kind) {
		return nil, ErrInvalidKind
	}

	req := &JobRequest{Event: ev, Params: map[string]string{}}
	for _, t := range ev.Tags {
		switch t.Name() {
		case "i":
			if len(t) < 3 {
				continue
			}
			in := Input{Data: t[1], Type: t[2]}
			switch in.Type {
			case InputText, InputURL, InputEvent, InputJob:
			default:
				return nil, fmt.Errorf("%w: %q", ErrInvalidInputType, in.Type)
			}
			if len(t) > 3 {
				in.Relay = t[3]
			}
			if len(t) > 4 {
				in.Marker = t[4]
			}
			req.Inputs = append(req.Inputs, in)
		case "output":
			if req.OutputType == "" {
				req.OutputType = t.Value()
			}
		case "param":
			if len(t) >= 3 {
				req.Params[t[1]] = t[2] // duplicate keys: last wins
			}
		case "bid":
			bid, ok := new(big.Int).SetString(t.Value(), 10)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrInvalidBid, t.Value())
			}
			req.Bid = bid
		case "relays":
			req.Relays = append(req.Relays, t[1:]...)
		case "e":
			if len(t) >= 4 && t[3] == "dependency" {
				req.Dependencies = append(req.Dependencies, t.Value())
			}
		}
	}
	return req, nil
}

// ParseDelegationRequest extracts the delegation surface from a kind-5900
// event. An unparseable timeout is ignored rather than failing the parse.
func ParseDelegationRequest(ev *event.Event) (*DelegationRequest, error) {
	if ev == nil || ev.Kind != event.KindDelegation {
		return nil, fmt.Errorf("%w: delegation requires kind %d", ErrInvalidKind, event.KindDelegation)
	}
	base, err := ParseJobRequest(ev)
	if err != nil {
		return nil, err
	}

	del := &DelegationRequest{JobRequest: *base, Priority: PriorityNormal}
	for _, t := range ev.Tags {
		switch t.Name() {
		case "timeout":
			if n, err := strconv.Atoi(t.Value()); err == nil && n > 0 {
				del.Timeout = n
			}
		case "p":
			if t.Value() != "" {
				del.PreferredAgents = append(del.PreferredAgents, t.Value())
			}
		case "priority":
			switch t.Value() {
			case PriorityHigh, PriorityNormal, PriorityLow:
				del.Priority = t.Value()
			}
		case "schema":
			del.Schema = t.Value()
		}
	}
	return del, nil
}
