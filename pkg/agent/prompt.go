package agent

import (
	"fmt"
	"strings"

	"github.com/agentmesh/agentmesh-go/pkg/skills"
)

// ContentExcerptLimit bounds the event-content excerpt quoted in prompts.
const ContentExcerptLimit = 500

// PromptBuilder assembles the text contract handed to the model.
type PromptBuilder struct {
	AgentID     string
	PubKey      string
	Address     string
	Personality string

	reg *skills.Registry
}

// NewPromptBuilder returns a builder over the given registry.
func NewPromptBuilder(agentID, pubKey, address, personality string, reg *skills.Registry) *PromptBuilder {
	return &PromptBuilder{
		AgentID:     agentID,
		PubKey:      pubKey,
		Address:     address,
		Personality: personality,
		reg:         reg,
	}
}

// StaticPrompt renders the identity, the full skill catalogue and the
// decision rule. It never mentions transport mechanics.
func (pb *PromptBuilder) StaticPrompt() string {
	var sb strings.Builder

	sb.WriteString("You are an autonomous mesh agent.\n")
	fmt.Fprintf(&sb, "Identity: id=%s pubkey=%s address=%s\n", pb.AgentID, pb.PubKey, pb.Address)
	if pb.Personality != "" {
		fmt.Fprintf(&sb, "Personality: %s\n", pb.Personality)
	}

	sb.WriteString("\nSkills available to you:\n")
	for _, s := range pb.reg.Summaries() {
		fmt.Fprintf(&sb, "- %s: %s", s.Name, s.Description)
		if len(s.Kinds) > 0 {
			fmt.Fprintf(&sb, " (event kinds %s)", joinInts(s.Kinds))
		}
		sb.WriteString("\n")
		for _, p := range s.Params {
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(&sb, "    parameter %s (%s%s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}

	sb.WriteString("\nDecision rule: examine the incoming event, choose exactly one skill, ")
	sb.WriteString("and call it with the event's context. If no skill fits, do not call a tool; ")
	sb.WriteString("reply with a short reasoned refusal instead.\n")
	return sb.String()
}

// EventPrompt renders the static prompt plus a bounded description of the
// incoming event.
func (pb *PromptBuilder) EventPrompt(dctx *skills.Context) string {
	var sb strings.Builder
	sb.WriteString(pb.StaticPrompt())

	sb.WriteString("\nIncoming event:\n")
	fmt.Fprintf(&sb, "  kind: %d\n", dctx.Event.Kind)
	fmt.Fprintf(&sb, "  from peer: %s\n", dctx.PeerID)
	if dctx.Amount != nil {
		fmt.Fprintf(&sb, "  amount: %s\n", dctx.Amount.String())
	}
	if dctx.Destination != "" {
		fmt.Fprintf(&sb, "  destination: %s\n", dctx.Destination)
	}
	fmt.Fprintf(&sb, "  content: %s\n", excerpt(dctx.Event.Content, ContentExcerptLimit))
	fmt.Fprintf(&sb, "  tags: %d\n", len(dctx.Event.Tags))
	return sb.String()
}

func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}
