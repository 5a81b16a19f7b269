package skills

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/agentmesh/agentmesh-go/pkg/event"
	"github.com/agentmesh/agentmesh-go/pkg/eventdb"
)

// Param describes one typed parameter of a skill.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, boolean, object, array
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Context carries everything a skill may need while handling one event.
type Context struct {
	Ctx         context.Context
	Event       *event.Event
	PeerID      string
	Amount      *big.Int
	Destination string
	ExpiresAt   time.Time
	DB          *eventdb.DB

	AgentID      string
	AgentPubKey  string
	AgentAddress string
}

// Background returns the embedded context, defaulting to context.Background.
func (c *Context) Background() context.Context {
	if c == nil || c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

// ErrorInfo describes a handler failure in wire terms.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of one skill invocation.
type Result struct {
	Success        bool           `json:"success"`
	Error          *ErrorInfo     `json:"error,omitempty"`
	ResponseEvent  *event.Event   `json:"responseEvent,omitempty"`
	ResponseEvents []*event.Event `json:"responseEvents,omitempty"`
}

// Ok returns a success result carrying the given response events.
func Ok(events ...*event.Event) Result {
	r := Result{Success: true}
	switch len(events) {
	case 0:
	case 1:
		r.ResponseEvent = events[0]
	default:
		r.ResponseEvent = events[0]
		r.ResponseEvents = events
	}
	return r
}

// Fail returns a failure result with a wire code and message.
func Fail(code, message string) Result {
	return Result{Success: false, Error: &ErrorInfo{Code: code, Message: message}}
}

// ExecFunc handles one event with validated parameters.
type ExecFunc func(params map[string]interface{}, ctx *Context) Result

// Skill is a named capability.
type Skill struct {
	Name        string
	Description string
	Params      []Param
	// Kinds lists the claimed event kinds; KindRange claims an inclusive
	// interval on top of that (zero value claims nothing). A skill with
	// neither claims every kind.
	Kinds     []int
	KindRange [2]int
	// RequiredPayment is the minimum prepare amount for this skill; the
	// packet handler rejects cheaper prepares before dispatch. Nil or zero
	// means free.
	RequiredPayment *big.Int
	Execute         ExecFunc
}

// ClaimsKind reports whether the skill handles events of kind k.
func (s *Skill) ClaimsKind(k int) bool {
	if len(s.Kinds) == 0 && s.KindRange == [2]int{} {
		return true
	}
	if s.KindRange != [2]int{} && k >= s.KindRange[0] && k <= s.KindRange[1] {
		return true
	}
	for _, kind := range s.Kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// ValidateParams checks raw model- or caller-supplied parameters against the
// schema. Unknown keys are tolerated; missing required keys and type
// mismatches are not.
func (s *Skill) ValidateParams(raw map[string]interface{}) error {
	for _, p := range s.Params {
		v, ok := raw[p.Name]
		if !ok {
			if p.Required {
				return fmt.Errorf("skills: %s: missing required parameter %q", s.Name, p.Name)
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return fmt.Errorf("skills: %s: parameter %q must be %s", s.Name, p.Name, p.Type)
		}
	}
	return nil
}

func typeMatches(want string, v interface{}) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64, uint64:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	default:
		return true
	}
}
