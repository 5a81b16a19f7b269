package skills

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/event"
	"github.com/agentmesh/agentmesh-go/pkg/eventdb"
	"github.com/agentmesh/agentmesh-go/pkg/router"
)

// queryLimitCap bounds a single query-events response.
const queryLimitCap = 1000

// StoreEvent persists profile and note events in the event database.
func StoreEvent(db *eventdb.DB) *Skill {
	return &Skill{
		Name:        "store_event",
		Description: "Store the incoming event in the local event database.",
		Kinds:       []int{event.KindProfile, event.KindNote},
		Execute: func(_ map[string]interface{}, ctx *Context) Result {
			if err := db.Insert(ctx.Event); err != nil {
				if errors.Is(err, eventdb.ErrStorageLimit) {
					return Fail(btp.CodeStorageLimit, "event store is full")
				}
				return Fail(btp.CodeUnhandled, err.Error())
			}
			return Ok()
		},
	}
}

// UpdateFollows applies a follow-list event to the router and stores it.
func UpdateFollows(db *eventdb.DB, rt *router.Router) *Skill {
	return &Skill{
		Name:        "update_follows",
		Description: "Replace the follow list from a follow-list event.",
		Kinds:       []int{event.KindFollows},
		Execute: func(_ map[string]interface{}, ctx *Context) Result {
			n, err := rt.ApplyFollowList(ctx.Event)
			if err != nil {
				return Fail(btp.CodeMalformed, err.Error())
			}
			if err := db.Insert(ctx.Event); err != nil && !errors.Is(err, eventdb.ErrStorageLimit) {
				return Fail(btp.CodeUnhandled, err.Error())
			}
			zap.L().Debug("follow list applied",
				zap.String("author", ctx.Event.PubKey), zap.Int("follows", n))
			return Ok()
		},
	}
}

// DeleteEvents removes the events referenced by a deletion event's "e" tags.
// Only events authored by the requester are removed.
func DeleteEvents(db *eventdb.DB) *Skill {
	return &Skill{
		Name:        "delete_events",
		Description: "Delete previously stored events referenced by the deletion request.",
		Kinds:       []int{event.KindDeletion},
		Execute: func(_ map[string]interface{}, ctx *Context) Result {
			var ids []string
			for _, t := range ctx.Event.TagsByName("e") {
				if t.Value() != "" {
					ids = append(ids, t.Value())
				}
			}
			if len(ids) == 0 {
				return Fail(btp.CodeMalformed, "deletion event references no event ids")
			}
			n, err := db.Delete(ids, ctx.Event.PubKey)
			if err != nil {
				return Fail(btp.CodeUnhandled, err.Error())
			}
			zap.L().Debug("events deleted",
				zap.String("author", ctx.Event.PubKey), zap.Int64("count", n))
			return Ok()
		},
	}
}

// queryFilter is the JSON filter carried in a query event's content.
type queryFilter struct {
	IDs     []string            `json:"ids,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Tags    map[string][]string `json:"tags,omitempty"`
	Since   int64               `json:"since,omitempty"`
	Until   int64               `json:"until,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
}

// QueryEvents answers a query event with the matching stored events.
func QueryEvents(db *eventdb.DB) *Skill {
	return &Skill{
		Name:        "query_events",
		Description: "Query the event database with the JSON filter in the event content.",
		Kinds:       []int{event.KindQuery},
		Execute: func(_ map[string]interface{}, ctx *Context) Result {
			var f queryFilter
			if err := json.Unmarshal([]byte(ctx.Event.Content), &f); err != nil {
				return Fail(btp.CodeMalformed, "malformed query filter")
			}
			limit := f.Limit
			if limit <= 0 || limit > queryLimitCap {
				limit = 100
			}
			matches, err := db.Query(eventdb.Filter{
				IDs:     f.IDs,
				Kinds:   f.Kinds,
				Authors: f.Authors,
				Tags:    f.Tags,
				Since:   f.Since,
				Until:   f.Until,
				Limit:   limit,
			})
			if err != nil {
				return Fail(btp.CodeUnhandled, err.Error())
			}
			content, err := json.Marshal(matches)
			if err != nil {
				return Fail(btp.CodeUnhandled, err.Error())
			}
			resp := event.New(event.KindQuery, string(content), []event.Tag{{"e", ctx.Event.ID}})
			return Ok(resp)
		},
	}
}

// infoCard is the agent identity card returned by the agent-info skill.
type infoCard struct {
	AgentID string    `json:"agentId"`
	PubKey  string    `json:"pubkey"`
	Address string    `json:"address"`
	Skills  []Summary `json:"skills"`
}

// AgentInfo answers an info request with the agent's identity card.
func AgentInfo(reg *Registry) *Skill {
	return &Skill{
		Name:        "agent_info",
		Description: "Describe this agent: identity, address and offered skills.",
		Kinds:       []int{event.KindAgentInfo},
		Execute: func(_ map[string]interface{}, ctx *Context) Result {
			card := infoCard{
				AgentID: ctx.AgentID,
				PubKey:  ctx.AgentPubKey,
				Address: ctx.AgentAddress,
				Skills:  reg.Summaries(),
			}
			content, err := json.Marshal(card)
			if err != nil {
				return Fail(btp.CodeUnhandled, err.Error())
			}
			resp := event.New(event.KindAgentInfo, string(content), []event.Tag{{"e", ctx.Event.ID}})
			return Ok(resp)
		},
	}
}

// Forwarder sends an event onward to another destination.
type Forwarder interface {
	ForwardEvent(ctx context.Context, destination string, ev *event.Event, amount *big.Int) error
}

// ForwardEvent relays the incoming event toward another address. It declares
// no kinds, which makes it the generalist choice the AI dispatcher can pick
// for events nothing else claims.
func ForwardEvent(fw Forwarder) *Skill {
	return &Skill{
		Name:        "forward_event",
		Description: "Forward the incoming event to another destination address.",
		Params: []Param{
			{Name: "destination", Type: "string", Description: "Dotted destination address.", Required: true},
			{Name: "amount", Type: "number", Description: "Amount to attach to the forwarded prepare."},
		},
		Execute: func(params map[string]interface{}, ctx *Context) Result {
			dest, _ := params["destination"].(string)
			if !router.ValidAddress(dest) {
				return Fail(btp.CodeMalformed, "invalid destination address")
			}
			amount := big.NewInt(0)
			if v, ok := params["amount"]; ok {
				switch n := v.(type) {
				case float64:
					amount = big.NewInt(int64(n))
				case int:
					amount = big.NewInt(int64(n))
				case int64:
					amount = big.NewInt(n)
				}
			}
			if err := fw.ForwardEvent(ctx.Background(), dest, ctx.Event, amount); err != nil {
				if errors.Is(err, router.ErrNoRoute) {
					return Fail(btp.CodeNoRoute, err.Error())
				}
				return Fail(btp.CodeUnhandled, err.Error())
			}
			return Ok()
		},
	}
}
