package verification

// Phase is a request's position in its state graph.
type Phase int

const (
	PhaseUnsent Phase = iota
	PhaseRequested
	PhaseReady
	PhaseStarted
	PhaseDone
	PhaseCancelled
)

var phaseNames = [...]string{"unsent", "requested", "ready", "started", "done", "cancelled"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Terminal reports whether p is Done or Cancelled.
func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseCancelled }

// Outcome summarises how a request ended.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeDone
	OutcomeCancelledByUs
	OutcomeCancelledByThem
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeDone:
		return "done"
	case OutcomeCancelledByUs:
		return "cancelled by us"
	case OutcomeCancelledByThem:
		return "cancelled by them"
	case OutcomeTimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}
