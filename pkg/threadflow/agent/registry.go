package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/randalmurphal/threadflow/pkg/threadflow/llm"
)

// ToolPrefix prefixes handoff tool names.
const ToolPrefix = "transfer_to_"

// Sentinel errors for registry operations.
var (
	// ErrUnknownAgent indicates a lookup of an unregistered agent.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrInvalidAgent indicates an agent definition that cannot be used.
	ErrInvalidAgent = errors.New("invalid agent")
)

// Agent is one persona the assistant can take.
type Agent struct {
	Name         string   `yaml:"name" json:"name"`
	Model        string   `yaml:"model,omitempty" json:"model,omitempty"`
	Instructions string   `yaml:"instructions" json:"instructions"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	Handoffs     []string `yaml:"handoffs,omitempty" json:"handoffs,omitempty"`
}

// Validate checks the definition.
func (a Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if strings.ContainsAny(a.Name, " /") {
		return fmt.Errorf("%w: name %q must not contain spaces or slashes", ErrInvalidAgent, a.Name)
	}
	for _, h := range a.Handoffs {
		if h == a.Name {
			return fmt.Errorf("%w: %s hands off to itself", ErrInvalidAgent, a.Name)
		}
	}
	return nil
}

// ToolName returns the handoff tool name for an agent.
func ToolName(name string) string {
	return ToolPrefix + name
}

// Registry is a thread-safe set of agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	first  string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds or replaces an agent.
func (r *Registry) Register(a Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.first == "" {
		r.first = a.Name
	}
	a.Handoffs = append([]string(nil), a.Handoffs...)
	r.agents[a.Name] = a
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (r *Registry) MustRegister(a Agent) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Get returns an agent by name.
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Lookup returns an agent by name, falling back to the default agent
// for an empty name.
func (r *Registry) Lookup(name string) (Agent, error) {
	if name == "" {
		return r.Default()
	}
	a, ok := r.Get(name)
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return a, nil
}

// Default returns the first registered agent.
func (r *Registry) Default() (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.first == "" {
		return Agent{}, fmt.Errorf("%w: registry is empty", ErrUnknownAgent)
	}
	return r.agents[r.first], nil
}

// List returns all agents sorted by name.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Tools returns the handoff tools offered while name is active, in the
// order its handoffs are declared. Unknown targets are skipped.
func (r *Registry) Tools(name string) []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil
	}
	tools := make([]llm.Tool, 0, len(a.Handoffs))
	for _, h := range a.Handoffs {
		target, ok := r.agents[h]
		if !ok {
			continue
		}
		desc := target.Description
		if desc == "" {
			desc = "Hand the conversation over to the " + target.Name + " agent."
		}
		tools = append(tools, llm.Tool{
			Name:        ToolName(target.Name),
			Description: desc,
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		})
	}
	return tools
}

// Resolve maps a handoff tool name to its target agent.
func (r *Registry) Resolve(tool string) (Agent, bool) {
	name, ok := strings.CutPrefix(tool, ToolPrefix)
	if !ok {
		return Agent{}, false
	}
	return r.Get(name)
}

// Check verifies every handoff names a registered agent.
func (r *Registry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, a := range r.agents {
		for _, h := range a.Handoffs {
			if _, ok := r.agents[h]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s hands off to %s", ErrUnknownAgent, a.Name, h))
			}
		}
	}
	return errors.Join(errs...)
}
