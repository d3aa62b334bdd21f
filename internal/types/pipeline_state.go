package types

// PipelineState tracks a submission through the pipeline. failed is terminal
// and reachable from every non-terminal state.
type PipelineState string

const (
	StateReceived   PipelineState = "received"   // row exists, payload archived
	StateDecoded    PipelineState = "decoded"    // metadata and payload canonicalized
	StateSandboxed  PipelineState = "sandboxed"  // verdict obtained from the runner
	StateRecorded   PipelineState = "recorded"   // verdict durably committed
	StateDispatched PipelineState = "dispatched" // delivery record written
	StateDone       PipelineState = "done"       // terminal success
	StateFailed     PipelineState = "failed"     // terminal failure, operator attention
)

func (s PipelineState) String() string {
	return string(s)
}

func (s PipelineState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// failed may re-enter at decoded so an operator can replay a message after
// fixing whatever broke.
var priorStates = map[PipelineState][]PipelineState{
	StateReceived:   {},
	StateDecoded:    {StateReceived, StateFailed},
	StateSandboxed:  {StateDecoded},
	StateRecorded:   {StateSandboxed},
	StateDispatched: {StateRecorded},
	StateDone:       {StateRecorded, StateDispatched},
	StateFailed: {
		StateReceived,
		StateDecoded,
		StateSandboxed,
		StateRecorded,
		StateDispatched,
	},
}

var stateRank = map[PipelineState]int{
	StateReceived:   0,
	StateDecoded:    1,
	StateSandboxed:  2,
	StateRecorded:   3,
	StateDispatched: 4,
	StateDone:       5,
}

// PriorStates returns the states a transition into s may legally come from.
// Transition updates guard on this set so stale writers become no-ops.
func PriorStates(s PipelineState) []PipelineState {
	return priorStates[s]
}

// Reached reports whether s is at or past other on the success path. failed
// never counts as having reached anything.
func (s PipelineState) Reached(other PipelineState) bool {
	if s == StateFailed {
		return false
	}

	rank, ok := stateRank[s]
	otherRank, otherOK := stateRank[other]
	if !ok || !otherOK {
		return false
	}

	return rank >= otherRank
}
