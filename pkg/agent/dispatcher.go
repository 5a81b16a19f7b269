package agent

import (
	"github.com/agentmesh/agentmesh-go/pkg/btp"
	"github.com/agentmesh/agentmesh-go/pkg/skills"
)

// Dispatcher turns one dispatch context into a handler result.
type Dispatcher interface {
	HandleEvent(dctx *skills.Context) skills.Result
}

// DirectDispatcher routes events by kind through a fixed index built at boot.
// Only skills that declare kinds or a kind range participate; generalists are
// an AI-path concept.
type DirectDispatcher struct {
	byKind map[int]*skills.Skill
	ranged []*skills.Skill
}

// NewDirectDispatcher indexes the registry's declared kinds. Exact kind
// declarations win over ranges; within each class the alphabetically first
// name wins, so routing is deterministic.
func NewDirectDispatcher(reg *skills.Registry) *DirectDispatcher {
	byKind := make(map[int]*skills.Skill)
	var ranged []*skills.Skill
	for _, s := range reg.Skills() {
		for _, k := range s.Kinds {
			if _, taken := byKind[k]; !taken {
				byKind[k] = s
			}
		}
		if s.KindRange != [2]int{} {
			ranged = append(ranged, s)
		}
	}
	return &DirectDispatcher{byKind: byKind, ranged: ranged}
}

// SkillFor returns the handler indexed for kind k.
func (d *DirectDispatcher) SkillFor(k int) (*skills.Skill, bool) {
	if s, ok := d.byKind[k]; ok {
		return s, true
	}
	for _, s := range d.ranged {
		if s.ClaimsKind(k) {
			return s, true
		}
	}
	return nil, false
}

// HandleEvent implements Dispatcher.
func (d *DirectDispatcher) HandleEvent(dctx *skills.Context) skills.Result {
	s, ok := d.SkillFor(dctx.Event.Kind)
	if !ok {
		return skills.Fail(btp.CodeUnhandled, "unhandled kind")
	}
	return s.Execute(map[string]interface{}{}, dctx)
}
