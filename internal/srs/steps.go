package srs

import "time"

// stepOutcome is the resolution of the shared learning/relearning machine
// for one review. When computeReview is true the interval is left to the
// algorithm's review-phase model; otherwise interval is final (before the
// configured floor/ceiling bounds).
type stepOutcome struct {
	phase          Phase
	step           int
	interval       time.Duration
	computeReview  bool
	leftRelearning bool
	graduated      bool
	lapsed         bool
}

// transitionSteps applies the step rules shared by every algorithm variant:
// learning → review on graduation, review ⇄ relearning on lapses, with an
// integer step counter indexing the configured step-delay lists.
func transitionSteps(phase Phase, step int, rating Rating, s settings) stepOutcome {
	switch phase {
	case PhaseLearning:
		// No learning steps: every first review graduates immediately and
		// the review-phase rules take over, lapses included.
		if len(s.learningSteps) == 0 {
			return reviewStep(rating, s)
		}
		return learnStep(step, rating, s.learningSteps, s)
	case PhaseRelearning:
		return relearnStep(step, rating, s.relearningSteps)
	default:
		return reviewStep(rating, s)
	}
}

func reviewStep(rating Rating, s settings) stepOutcome {
	if rating != Again {
		return stepOutcome{phase: PhaseReview, computeReview: true}
	}
	if len(s.relearningSteps) > 0 {
		return stepOutcome{phase: PhaseRelearning, step: 0, interval: s.relearningSteps[0], lapsed: true}
	}
	// No relearning steps configured: the lapse stays in review and the
	// algorithm's review-phase model schedules it.
	return stepOutcome{phase: PhaseReview, computeReview: true, lapsed: true}
}

func learnStep(step int, rating Rating, steps []time.Duration, s settings) stepOutcome {
	if step >= len(steps) && rating != Again {
		return stepOutcome{phase: PhaseReview, interval: s.graduating, graduated: true}
	}
	switch rating {
	case Again:
		return stepOutcome{phase: PhaseLearning, step: 0, interval: steps[0]}
	case Hard:
		return stepOutcome{phase: PhaseLearning, step: step, interval: hardDelay(steps, step)}
	case Good:
		next := step + 1
		if next >= len(steps) {
			return stepOutcome{phase: PhaseReview, interval: s.graduating, graduated: true}
		}
		return stepOutcome{phase: PhaseLearning, step: next, interval: steps[next]}
	default: // Easy jumps straight to review.
		return stepOutcome{phase: PhaseReview, interval: s.easy, graduated: true}
	}
}

func relearnStep(step int, rating Rating, steps []time.Duration) stepOutcome {
	if len(steps) == 0 {
		return stepOutcome{phase: PhaseReview, computeReview: true, leftRelearning: true}
	}
	switch rating {
	case Again:
		return stepOutcome{phase: PhaseRelearning, step: 0, interval: steps[0]}
	case Hard:
		return stepOutcome{phase: PhaseRelearning, step: step, interval: hardDelay(steps, step)}
	case Good:
		next := step + 1
		if next >= len(steps) {
			return stepOutcome{phase: PhaseReview, computeReview: true, leftRelearning: true}
		}
		return stepOutcome{phase: PhaseRelearning, step: next, interval: steps[next]}
	default: // Easy jumps past the remaining steps.
		return stepOutcome{phase: PhaseReview, computeReview: true, leftRelearning: true}
	}
}

// hardDelay repeats the current step with a slightly longer wait at step 0,
// so Hard is never faster than Again.
func hardDelay(steps []time.Duration, step int) time.Duration {
	if step == 0 {
		if len(steps) == 1 {
			return time.Duration(float64(steps[0]) * 1.5)
		}
		return (steps[0] + steps[1]) / 2
	}
	if step >= len(steps) {
		step = len(steps) - 1
	}
	return steps[step]
}
