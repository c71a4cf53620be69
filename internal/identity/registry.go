package identity

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"conductor/internal/agent/ports"
	"conductor/internal/logging"
)

// Registry is an in-memory identity store seeded with built-in presets and
// optionally extended from a YAML preset file. Implements
// ports.IdentityRegistry.
type Registry struct {
	logger logging.Logger

	mu         sync.RWMutex
	identities map[string]ports.AgentIdentity
}

// NewRegistry returns a registry holding the built-in presets.
func NewRegistry(logger logging.Logger) *Registry {
	r := &Registry{
		logger:     logging.OrNop(logger),
		identities: make(map[string]ports.AgentIdentity),
	}
	for _, preset := range builtinPresets() {
		r.identities[preset.ID] = preset
	}
	return r
}

// LoadPresets merges identities from a YAML file. File entries override
// built-ins with the same id.
func (r *Registry) LoadPresets(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read identity presets: %w", err)
	}

	var file struct {
		Identities []ports.AgentIdentity `yaml:"identities"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse identity presets: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range file.Identities {
		if identity.ID == "" {
			return fmt.Errorf("identity preset without id in %s", path)
		}
		if identity.Lifecycle == "" {
			identity.Lifecycle = ports.LifecyclePermanent
		}
		r.identities[identity.ID] = identity
		r.logger.Debug("loaded identity preset %s (primary=%t)", identity.ID, identity.Primary)
	}
	return nil
}

// Resolve returns the identity for an agent id.
func (r *Registry) Resolve(agentID string) (ports.AgentIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identities[agentID]
	if !ok {
		return ports.AgentIdentity{}, fmt.Errorf("unknown agent identity: %s", agentID)
	}
	return identity, nil
}

// Register adds or replaces an identity.
func (r *Registry) Register(identity ports.AgentIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities[identity.ID] = identity
}

// Remove deletes an identity. Temporary identities are removed when their
// owning workflow ends.
func (r *Registry) Remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.identities, agentID)
}

// List returns all identities sorted by id.
func (r *Registry) List() []ports.AgentIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ports.AgentIdentity, 0, len(r.identities))
	for _, identity := range r.identities {
		out = append(out, identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveTemporary drops the temporary identities owned by the workflow, for
// end-of-workflow cleanup. Temporaries owned by other workflows survive.
func (r *Registry) RemoveTemporary(workflowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for agentID, identity := range r.identities {
		if identity.Lifecycle == ports.LifecycleTemporary && identity.OwnerWorkflowID == workflowID {
			delete(r.identities, agentID)
		}
	}
}

func builtinPresets() []ports.AgentIdentity {
	return []ports.AgentIdentity{
		{
			ID:           "conductor",
			Class:        "primary",
			Primary:      true,
			Lifecycle:    ports.LifecyclePermanent,
			Capabilities: []string{"plan", "delegate", "answer"},
			SystemPrompt: "You are the primary orchestrating agent. Break the task down, " +
				"use tools when they help, and delegate focused sub-tasks to worker agents.",
		},
		{
			ID:           "researcher",
			Class:        "worker",
			Lifecycle:    ports.LifecyclePermanent,
			Capabilities: []string{"search", "summarize"},
			SystemPrompt: "You are a research agent. Gather the requested information with " +
				"your tools and report findings concisely.",
			MaxIterations: 25,
		},
		{
			ID:            "executor",
			Class:         "worker",
			Lifecycle:     ports.LifecyclePermanent,
			Capabilities:  []string{"execute"},
			ToolAllowlist: []string{"clock", "http_fetch"},
			SystemPrompt:  "You are an execution agent. Carry out the concrete task you were given.",
			MaxIterations: 25,
		},
	}
}
