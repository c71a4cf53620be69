package ports

// ActivitySink receives liveness signals from an execution. Every layer that
// can suspend (provider call, tool call, sub-execution await) reports through
// the sink it was handed rather than through ambient state.
type ActivitySink interface {
	RecordActivity()
}

type nopActivity struct{}

func (nopActivity) RecordActivity() {}

// NopActivity returns a sink that ignores liveness signals.
func NopActivity() ActivitySink {
	return nopActivity{}
}
