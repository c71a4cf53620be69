package ports

// PolicyMode describes how much autonomy the surrounding system grants.
type PolicyMode string

const (
	// ModePermissive auto-approves operations; multiple workflows may run.
	ModePermissive PolicyMode = "permissive"
	// ModeConfirmationRequired requires human confirmation; a pending
	// confirmation halts progress, so concurrency is pinned to one.
	ModeConfirmationRequired PolicyMode = "confirmation-required"
)

// PolicyProvider exposes the current mode. Read before every workflow
// admission decision, never cached.
type PolicyProvider interface {
	CurrentMode() PolicyMode
}

// PolicyFunc adapts a function to the PolicyProvider interface.
type PolicyFunc func() PolicyMode

func (f PolicyFunc) CurrentMode() PolicyMode { return f() }

// StaticPolicy returns a provider pinned to one mode.
func StaticPolicy(mode PolicyMode) PolicyProvider {
	return PolicyFunc(func() PolicyMode { return mode })
}
