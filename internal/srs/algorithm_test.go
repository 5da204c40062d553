package srs

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()
	assert.ElementsMatch(t, []string{AlgorithmFSRS, AlgorithmHLR, AlgorithmSM2}, r.IDs())

	for _, id := range r.IDs() {
		alg, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, id, alg.ID())
	}
}

func TestRegistryFailsClosed(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("anki_v2")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	err := r.Register(NewEaseFactor())
	assert.ErrorIs(t, err, ErrDuplicateAlgorithm)
}

// TestAlgorithmContract walks every registered algorithm through the shared
// behavioral obligations: valid transitions for every rating, bounded
// canonical projections, deterministic previews, and no input mutation.
func TestAlgorithmContract(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, id := range r.IDs() {
		alg, err := r.Get(id)
		require.NoError(t, err)

		t.Run(id, func(t *testing.T) {
			for _, rating := range Ratings {
				res, err := alg.Apply(ApplyInput{State: alg.InitialState(nil)}, rating, now, nil)
				require.NoError(t, err, "rating %s", rating)
				assert.True(t, res.NextReviewAt.After(now), "rating %s", rating)
				assert.Equal(t, 1, res.ReviewCountDelta)
				assert.Equal(t, now, res.LastReviewAt)

				p := alg.ToCanonical(res.State)
				assert.GreaterOrEqual(t, p.Difficulty, 0.0)
				assert.LessOrEqual(t, p.Difficulty, 1.0)
				assert.GreaterOrEqual(t, p.StabilityDays, 0.0)
			}
		})

		t.Run(id+"/invalid_rating", func(t *testing.T) {
			_, err := alg.Apply(ApplyInput{State: alg.InitialState(nil)}, Rating(0), now, nil)
			assert.ErrorIs(t, err, ErrInvalidRating)
		})

		t.Run(id+"/preview_pure", func(t *testing.T) {
			state := alg.InitialState(nil)
			snapshot := cloneValue(state).(map[string]any)
			in := ApplyInput{State: state}

			first, err := alg.PreviewIntervals(in, now, nil)
			require.NoError(t, err)
			second, err := alg.PreviewIntervals(in, now, nil)
			require.NoError(t, err)

			assert.Equal(t, first, second)
			assert.True(t, reflect.DeepEqual(snapshot, state), "preview mutated input state")
		})
	}
}

// TestCanonicalMigrationRestartsBookkeeping covers an algorithm switch in
// both directions through the interchange form.
func TestCanonicalMigrationRestartsBookkeeping(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, fromID := range r.IDs() {
		for _, toID := range r.IDs() {
			if fromID == toID {
				continue
			}
			from, err := r.Get(fromID)
			require.NoError(t, err)
			to, err := r.Get(toID)
			require.NoError(t, err)

			seeded, err := from.Apply(ApplyInput{State: from.InitialState(nil)}, Good, now, nil)
			require.NoError(t, err)

			migrated := to.FromCanonical(from.ToCanonical(seeded.State), nil)
			assert.Equal(t, string(PhaseReview), blobString(migrated, "phase", ""),
				"%s → %s", fromID, toID)
			assert.Equal(t, 0, blobInt(migrated, "step", -1), "%s → %s", fromID, toID)

			// The migrated blob must be usable immediately.
			last := now
			res, err := to.Apply(ApplyInput{State: migrated, LastReviewAt: &last, ReviewCount: 1},
				Good, now.Add(48*time.Hour), nil)
			require.NoError(t, err)
			assert.True(t, res.NextReviewAt.After(now))
		}
	}
}

func TestIntervalBoundsRespected(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cfg := Config{
		"learningStepsMinutes":   []any{},
		"relearningStepsMinutes": []any{},
		"maxIntervalDays":        3.0,
		"minIntervalMinutes":     30.0,
	}

	for _, id := range r.IDs() {
		alg, err := r.Get(id)
		require.NoError(t, err)

		for _, rating := range Ratings {
			res, err := alg.Apply(ApplyInput{State: alg.InitialState(cfg)}, rating, now, cfg)
			require.NoError(t, err, "%s %s", id, rating)

			gap := res.NextReviewAt.Sub(now)
			assert.GreaterOrEqual(t, gap, 30*time.Minute, "%s %s", id, rating)
			assert.LessOrEqual(t, gap, daysDuration(3), "%s %s", id, rating)
		}
	}
}
