package ports

// Lifecycle determines how long an agent identity outlives its workflow.
type Lifecycle string

const (
	// LifecyclePermanent identities persist across workflows.
	LifecyclePermanent Lifecycle = "permanent"
	// LifecycleTemporary identities are discarded when their owning
	// workflow ends.
	LifecycleTemporary Lifecycle = "temporary"
)

// AgentIdentity describes what an execution is permitted to do.
type AgentIdentity struct {
	ID            string    `yaml:"id" json:"id"`
	Class         string    `yaml:"class" json:"class"` // circuit-breaker grouping
	Capabilities  []string  `yaml:"capabilities" json:"capabilities"`
	ToolAllowlist []string  `yaml:"tool_allowlist" json:"tool_allowlist"`
	Lifecycle     Lifecycle `yaml:"lifecycle" json:"lifecycle"`

	// OwnerWorkflowID is set on temporary identities; it keys their
	// cleanup when the workflow ends.
	OwnerWorkflowID string `yaml:"owner_workflow_id" json:"owner_workflow_id,omitempty"`

	// Primary identities may spawn, delegate to, and batch sub-agents.
	Primary bool `yaml:"primary" json:"primary"`

	SystemPrompt  string `yaml:"system_prompt" json:"system_prompt"`
	MaxIterations int    `yaml:"max_iterations" json:"max_iterations"`
}

// BreakerClass returns the circuit-breaker grouping for the identity,
// defaulting to the identity id.
func (a AgentIdentity) BreakerClass() string {
	if a.Class != "" {
		return a.Class
	}
	return a.ID
}

// AllowsTool reports whether the identity may invoke the named tool.
// An empty allowlist allows everything.
func (a AgentIdentity) AllowsTool(name string) bool {
	if len(a.ToolAllowlist) == 0 {
		return true
	}
	for _, allowed := range a.ToolAllowlist {
		if allowed == name {
			return true
		}
	}
	return false
}

// IdentityRegistry resolves agent identifiers to identities.
type IdentityRegistry interface {
	Resolve(agentID string) (AgentIdentity, error)
	Register(identity AgentIdentity)
	Remove(agentID string)
	List() []AgentIdentity

	// RemoveTemporary discards the temporary identities owned by the
	// workflow. Called when the workflow ends.
	RemoveTemporary(workflowID string)
}
