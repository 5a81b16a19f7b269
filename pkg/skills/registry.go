package skills

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/agentmesh/agentmesh-go/pkg/btp"
)

// ErrAlreadyExists is returned when registering a duplicate skill name.
var ErrAlreadyExists = errors.New("skills: skill already registered")

// Registry maps skill names to descriptors. It is mutated at boot and
// read-only once the node is serving.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Skill
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Skill)}
}

// Register adds s. Duplicate names fail with ErrAlreadyExists.
func (r *Registry) Register(s *Skill) error {
	if s == nil || s.Name == "" {
		return fmt.Errorf("skills: skill requires a name")
	}
	if s.Execute == nil {
		return fmt.Errorf("skills: skill %q requires an execute function", s.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[s.Name]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, s.Name)
	}
	r.byName[s.Name] = s
	return nil
}

// Unregister removes the skill with the given name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// Get returns the skill with the given name.
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Has reports whether a skill with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Size returns the number of registered skills.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Skills returns a snapshot of every registered skill, ordered by name.
func (r *Registry) Skills() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SkillsForKind returns the skills claiming kind k, ordered by name.
// Generalist skills (no declared kinds) are included for every kind.
func (r *Registry) SkillsForKind(k int) []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Skill
	for _, s := range r.byName {
		if s.ClaimsKind(k) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Summary describes one registered skill for prompts and the info card.
type Summary struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Kinds       []int   `json:"kinds,omitempty"`
	Params      []Param `json:"params,omitempty"`
}

// Summaries returns a snapshot of every skill's surface, ordered by name.
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, Summary{
			Name:        s.Name,
			Description: s.Description,
			Kinds:       s.Kinds,
			Params:      s.Params,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tool is a skill bound to a dispatch context, callable by the AI
// dispatcher with raw parameters.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Call        func(raw map[string]interface{}) Result
}

// ToTools binds every registered skill to ctx. Each tool validates its raw
// parameters against the skill schema before executing; validation failures
// become malformed-payload results rather than panics or dropped calls.
func (r *Registry) ToTools(ctx *Context) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.byName))
	for _, s := range r.byName {
		s := s
		out = append(out, Tool{
			Name:        s.Name,
			Description: s.Description,
			Params:      s.Params,
			Call: func(raw map[string]interface{}) Result {
				if raw == nil {
					raw = map[string]interface{}{}
				}
				if err := s.ValidateParams(raw); err != nil {
					return Fail(btp.CodeMalformed, err.Error())
				}
				return s.Execute(raw, ctx)
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
