package auction

// Phase is the lifecycle state of an auction. Values match the wire contract.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseActive    Phase = "active"
	PhaseSold      Phase = "sold"
	PhaseEnded     Phase = "ended"
	PhaseCancelled Phase = "cancelled"
)

// Valid reports whether p is one of the known lifecycle phases.
func (p Phase) Valid() bool {
	switch p {
	case PhasePending, PhaseActive, PhaseSold, PhaseEnded, PhaseCancelled:
		return true
	}
	return false
}

// Terminal reports whether p has no outgoing transitions.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSold, PhaseEnded, PhaseCancelled:
		return true
	}
	return false
}

// transitions holds the single-step lifecycle edges:
// pending -> active, pending -> cancelled, active -> {sold, ended, cancelled}.
var transitions = map[Phase][]Phase{
	PhasePending: {PhaseActive, PhaseCancelled},
	PhaseActive:  {PhaseSold, PhaseEnded, PhaseCancelled},
}

// CanTransition reports whether a single lifecycle step from p to next is legal.
func (p Phase) CanTransition(next Phase) bool {
	for _, t := range transitions[p] {
		if t == next {
			return true
		}
	}
	return false
}

// Reachable reports whether next is p itself or reachable from p through any
// number of lifecycle steps. Events carrying an unreachable phase are stale or
// malformed and must not be applied.
func (p Phase) Reachable(next Phase) bool {
	if p == next {
		return true
	}
	for _, t := range transitions[p] {
		if t == next || t.Reachable(next) {
			return true
		}
	}
	return false
}
