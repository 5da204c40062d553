package srs

import "fmt"

// Phase is the learning stage of a card's scheduling state.
type Phase string

const (
	PhaseLearning   Phase = "learning"   // New card, in initial learning steps.
	PhaseReview     Phase = "review"     // Entered the long-term review cycle.
	PhaseRelearning Phase = "relearning" // Forgotten, relearning steps.
)

// IsValid reports whether p is one of the three known phases.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseLearning, PhaseReview, PhaseRelearning:
		return true
	}
	return false
}

// ParsePhase converts a stored phase string, defaulting to learning for
// blank values so never-reviewed blobs decode safely.
func ParsePhase(s string) (Phase, error) {
	if s == "" {
		return PhaseLearning, nil
	}
	p := Phase(s)
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhase, s)
	}
	return p, nil
}
