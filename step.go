package switchover

import "context"

// Step is an atomic, named unit of work. The name is the idempotency key: a
// step whose name is already in the completed ledger is skipped. Run must
// tolerate re-execution after a crash between its side effect and the ledger
// write ("patch if not already in the desired state").
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Executor produces the ordered steps of one pipeline phase. Steps execute
// in the returned order; there is no scheduler.
type Executor interface {

	// Phase returns the pipeline phase this executor advances.
	Phase() Phase

	// Steps returns the ordered steps. Branching on discovered facts
	// (versions, observability presence) happens inside a step's Run, so
	// the step list itself is stable across invocations.
	Steps() []Step
}

// phaseMarker is the ledger entry recording that every step of a phase
// completed.
func phaseMarker(phase Phase) string {
	return "phase:" + string(phase)
}
