package domain

// Phase is the lifecycle state of one connection's conversation.
type Phase int

const (
	// PhaseActive accepts user turns.
	PhaseActive Phase = iota
	// PhaseEnding means feedback is being generated.
	PhaseEnding
	// PhaseEnded is terminal; no further user turns are accepted.
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "ACTIVE"
	case PhaseEnding:
		return "ENDING"
	case PhaseEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// CanAdvanceTo reports whether moving from p to next keeps the phase monotonic.
// Staying in the same phase is allowed.
func (p Phase) CanAdvanceTo(next Phase) bool {
	return next >= p && next <= PhaseEnded
}
