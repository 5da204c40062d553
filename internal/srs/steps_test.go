package srs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHardDelay(t *testing.T) {
	steps := []time.Duration{time.Minute, 10 * time.Minute}

	// Step 0 with two or more steps waits the mean of the first two.
	assert.Equal(t, 5*time.Minute+30*time.Second, hardDelay(steps, 0))
	// Step 0 with a single step waits 1.5 times it.
	assert.Equal(t, 15*time.Minute, hardDelay([]time.Duration{10 * time.Minute}, 0))
	// Later steps repeat the current delay.
	assert.Equal(t, 10*time.Minute, hardDelay(steps, 1))
	assert.Equal(t, 10*time.Minute, hardDelay(steps, 5))
}

func TestTransitionStepsLapsePaths(t *testing.T) {
	s := parseSettings(Config{})

	out := transitionSteps(PhaseReview, 0, Again, s)
	assert.Equal(t, PhaseRelearning, out.phase)
	assert.Equal(t, 0, out.step)
	assert.True(t, out.lapsed)
	assert.Equal(t, 10*time.Minute, out.interval)

	// Without relearning steps the lapse stays in review.
	noRelearn := parseSettings(Config{"relearningStepsMinutes": []any{}})
	out = transitionSteps(PhaseReview, 0, Again, noRelearn)
	assert.Equal(t, PhaseReview, out.phase)
	assert.True(t, out.computeReview)
	assert.True(t, out.lapsed)
}

func TestTransitionStepsGraduation(t *testing.T) {
	s := parseSettings(Config{})

	out := transitionSteps(PhaseLearning, 1, Good, s)
	assert.Equal(t, PhaseReview, out.phase)
	assert.True(t, out.graduated)
	assert.Equal(t, daysDuration(1), out.interval)

	out = transitionSteps(PhaseLearning, 0, Easy, s)
	assert.Equal(t, PhaseReview, out.phase)
	assert.True(t, out.graduated)
	assert.Equal(t, daysDuration(4), out.interval)
}

func TestTransitionStepsRelearningExit(t *testing.T) {
	s := parseSettings(Config{})

	out := transitionSteps(PhaseRelearning, 0, Good, s)
	assert.Equal(t, PhaseReview, out.phase)
	assert.True(t, out.leftRelearning)
	assert.True(t, out.computeReview)

	out = transitionSteps(PhaseRelearning, 0, Again, s)
	assert.Equal(t, PhaseRelearning, out.phase)
	assert.Equal(t, 0, out.step)
	assert.False(t, out.lapsed, "a lapse is only counted on entry from review")
}
