package review_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/logging"
	"mnemo/internal/memstore"
	"mnemo/internal/observability"
	"mnemo/internal/srs"
	"mnemo/internal/srs/configcache"
	"mnemo/internal/srs/ports"
	"mnemo/internal/srs/review"
	"mnemo/internal/srs/weightbuffer"
)

const (
	learner = "learner-1"
	deck    = "deck-1"
)

type fixture struct {
	store   *memstore.Store
	svc     *review.Service
	weights *weightbuffer.Buffer
	now     time.Time
}

func newFixture(t *testing.T, bufOpts ...weightbuffer.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		now:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	opts := append([]weightbuffer.Option{weightbuffer.WithClock(clock)}, bufOpts...)
	f.weights = weightbuffer.New(opts...)

	svc, err := review.NewService(review.Config{
		Registry: srs.NewRegistry(),
		States:   f.store.CardStates(),
		Queue:    f.store,
		Logs:     f.store,
		Prefs:    f.store.Prefs(),
		Cards:    f.store,
		DeckAlgo: f.store.DeckAlgorithms(),
		Defaults: configcache.New(f.store, configcache.WithClock(clock)),
		Weights:  f.weights,
		Logger: logging.FromObservability(observability.NewLogger(observability.LogConfig{
			Level:  "error",
			Output: io.Discard,
		}), "review"),
		Clock: clock,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) addCard(position int) string {
	return f.store.AddCard(&ports.CardView{
		LearnerID: learner,
		DeckID:    deck,
		Position:  position,
		CreatedAt: f.now.Add(-time.Hour),
	})
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestGetNextCardEmptyDeck(t *testing.T) {
	f := newFixture(t)
	next, err := f.svc.GetNextCard(context.Background(), learner, deck)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestGetNextCardNewByPosition(t *testing.T) {
	f := newFixture(t)
	f.addCard(2)
	first := f.addCard(1)

	next, err := f.svc.GetNextCard(context.Background(), learner, deck)
	require.NoError(t, err)
	require.NotNil(t, next)

	assert.Equal(t, first, next.CardID)
	assert.Equal(t, srs.AlgorithmSM2, next.AlgorithmID, "blank deck config falls back to sm2")
	assert.False(t, next.IsDue)
	assert.Nil(t, next.DueAt)
	assert.Len(t, next.Preview, 4)
	require.NotNil(t, next.View)
	assert.Equal(t, first, next.View.CardID)
}

func TestGetNextCardPrefersDueOverNew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reviewed := f.addCard(1)
	f.addCard(2)

	_, err := f.svc.Answer(ctx, learner, deck, reviewed, srs.Good, nil)
	require.NoError(t, err)

	// Past the 10-minute learning step the answered card is due again and
	// outranks the untouched new card.
	f.advance(15 * time.Minute)
	next, err := f.svc.GetNextCard(ctx, learner, deck)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, reviewed, next.CardID)
	assert.True(t, next.IsDue)
	require.NotNil(t, next.DueAt)
}

func TestAnswerPersistsStateAndLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cardID := f.addCard(1)

	res, err := f.svc.Answer(ctx, learner, deck, cardID, srs.Good, &review.AnswerContext{
		Latency: 1500 * time.Millisecond,
		Source:  "mobile",
	})
	require.NoError(t, err)
	assert.Equal(t, srs.Good, res.Rating)
	assert.Equal(t, f.now.Add(10*time.Minute), res.NextReviewAt)

	state, err := f.store.CardStates().Get(ctx, learner, cardID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.ReviewCount)
	assert.Equal(t, srs.AlgorithmSM2, state.AlgorithmID)
	require.NotNil(t, state.LastReviewAt)
	assert.Equal(t, f.now, *state.LastReviewAt)

	logs := f.store.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, cardID, logs[0].CardID)
	assert.Equal(t, srs.Good.String(), logs[0].Rating)
	assert.Equal(t, int64(1500), logs[0].LatencyMS)
	assert.Equal(t, "mobile", logs[0].Source)
	assert.NotNil(t, logs[0].StateBefore)
	assert.NotNil(t, logs[0].StateAfter)
	assert.NotEmpty(t, logs[0].ID)
}

func TestAnswerRejectsInvalidRating(t *testing.T) {
	f := newFixture(t)
	cardID := f.addCard(1)

	_, err := f.svc.Answer(context.Background(), learner, deck, cardID, srs.Rating(7), nil)
	assert.ErrorIs(t, err, srs.ErrInvalidRating)
	assert.Empty(t, f.store.Logs())
}

func TestAnswerOwnershipChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cardID := f.addCard(1)

	_, err := f.svc.Answer(ctx, learner, deck, "no-such-card", srs.Good, nil)
	assert.ErrorIs(t, err, ports.ErrCardNotFound)

	_, err = f.svc.Answer(ctx, "other-learner", deck, cardID, srs.Good, nil)
	assert.ErrorIs(t, err, ports.ErrAccessDenied)

	_, err = f.svc.Answer(ctx, learner, "other-deck", cardID, srs.Good, nil)
	assert.ErrorIs(t, err, ports.ErrAccessDenied)

	deleted := f.store.AddCard(&ports.CardView{LearnerID: learner, DeckID: deck, Deleted: true})
	_, err = f.svc.Answer(ctx, learner, deck, deleted, srs.Good, nil)
	assert.ErrorIs(t, err, ports.ErrCardDeleted)
}

func TestAnswerSuspendedCardRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cardID := f.addCard(1)

	_, err := f.svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)
	f.store.SuspendCard(learner, cardID, true)

	f.advance(time.Hour)
	_, err = f.svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	assert.ErrorIs(t, err, ports.ErrCardSuspended)

	state, err := f.store.CardStates().Get(ctx, learner, cardID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.ReviewCount, "suspended answer must not mutate state")
	assert.Len(t, f.store.Logs(), 1)
}

func TestAnswerReturnsFollowUpCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.addCard(1)
	second := f.addCard(2)

	res, err := f.svc.Answer(ctx, learner, deck, first, srs.Good, nil)
	require.NoError(t, err)
	require.NotNil(t, res.NextCard)
	assert.Equal(t, second, res.NextCard.CardID)

	res, err = f.svc.Answer(ctx, learner, deck, second, srs.Good, nil)
	require.NoError(t, err)
	assert.Nil(t, res.NextCard, "both cards scheduled into the future")
}

func TestDailyNewLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.addCard(1)
	f.addCard(2)
	f.store.SetPreferences(&ports.DeckPreferences{
		LearnerID: learner,
		DeckID:    deck,
		NewPerDay: 1,
	})

	_, err := f.svc.Answer(ctx, learner, deck, first, srs.Good, nil)
	require.NoError(t, err)

	next, err := f.svc.GetNextCard(ctx, learner, deck)
	require.NoError(t, err)
	assert.Nil(t, next, "second new card blocked by the daily limit")

	// The limit resets at the UTC day boundary.
	f.advance(24 * time.Hour)
	next, err = f.svc.GetNextCard(ctx, learner, deck)
	require.NoError(t, err)
	require.NotNil(t, next)
}

func TestDailyReviewLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cardID := f.addCard(1)
	f.store.SetPreferences(&ports.DeckPreferences{
		LearnerID:     learner,
		DeckID:        deck,
		ReviewsPerDay: 1,
	})

	// First answer consumes the new allowance, second the review allowance.
	// Again keeps the card on a short learning step so it comes due quickly.
	_, err := f.svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)
	f.advance(15 * time.Minute)
	_, err = f.svc.Answer(ctx, learner, deck, cardID, srs.Again, nil)
	require.NoError(t, err)

	// The card is due again but the review limit is spent.
	f.advance(2 * time.Hour)
	next, err := f.svc.GetNextCard(ctx, learner, deck)
	require.NoError(t, err)
	assert.Nil(t, next)

	// New cards are still admitted while reviews are blocked.
	fresh := f.addCard(2)
	next, err = f.svc.GetNextCard(ctx, learner, deck)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, fresh, next.CardID)
	assert.False(t, next.IsDue)

	// The limit resets at the day boundary.
	f.advance(24 * time.Hour)
	next, err = f.svc.GetNextCard(ctx, learner, deck)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, cardID, next.CardID)
	assert.True(t, next.IsDue)
}

func TestDailyCountersTrackNewAndReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cardID := f.addCard(1)

	_, err := f.svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)
	f.advance(15 * time.Minute)
	_, err = f.svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)

	prefs, err := f.store.Prefs().GetForUpdate(ctx, learner, deck)
	require.NoError(t, err)
	require.NotNil(t, prefs)
	assert.Equal(t, 1, prefs.NewToday)
	assert.Equal(t, 1, prefs.ReviewsToday)
}

func TestAnswerMigratesStateOnAlgorithmSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cardID := f.addCard(1)

	_, err := f.svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)

	f.store.SetDeckAlgorithm(learner, &ports.DeckAlgorithmConfig{
		DeckID:      deck,
		AlgorithmID: srs.AlgorithmFSRS,
	})

	f.advance(48 * time.Hour)
	_, err = f.svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)

	state, err := f.store.CardStates().Get(ctx, learner, cardID)
	require.NoError(t, err)
	assert.Equal(t, srs.AlgorithmFSRS, state.AlgorithmID)
	assert.Equal(t, 2, state.ReviewCount, "review count survives migration")
	assert.Contains(t, state.State, "stability")
	assert.Contains(t, state.State, "difficulty")
}

func TestPreviewProjectsForeignStateWithoutPersisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cardID := f.addCard(1)

	_, err := f.svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)
	before, err := f.store.CardStates().Get(ctx, learner, cardID)
	require.NoError(t, err)

	f.store.SetDeckAlgorithm(learner, &ports.DeckAlgorithmConfig{
		DeckID:      deck,
		AlgorithmID: srs.AlgorithmHLR,
	})

	f.advance(15 * time.Minute)
	next, err := f.svc.GetNextCard(ctx, learner, deck)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, srs.AlgorithmHLR, next.AlgorithmID)
	assert.Len(t, next.Preview, 4)

	// Selection is read-only: the stored blob still belongs to sm2.
	after, err := f.store.CardStates().Get(ctx, learner, cardID)
	require.NoError(t, err)
	assert.Equal(t, srs.AlgorithmSM2, after.AlgorithmID)
	assert.Equal(t, before.State, after.State)
}

func TestHLRAnswerFlushesLearnedWeights(t *testing.T) {
	f := newFixture(t, weightbuffer.WithThresholds(1, time.Minute))
	ctx := context.Background()
	cardID := f.addCard(1)
	f.store.SetDeckAlgorithm(learner, &ports.DeckAlgorithmConfig{
		DeckID:      deck,
		AlgorithmID: srs.AlgorithmHLR,
	})

	_, err := f.svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)

	cfg, err := f.store.DeckAlgorithms().Get(ctx, learner, deck)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.NotNil(t, cfg.Override, "learned weights should be persisted")
	assert.Len(t, srs.Config(cfg.Override).Floats("weights"), 4)
}

// flakyDeckAlgo fails the first failSaves override writes.
type flakyDeckAlgo struct {
	ports.DeckAlgorithm
	failSaves int
	saves     int
}

func (d *flakyDeckAlgo) SaveOverride(ctx context.Context, learnerID, deckID string, override map[string]any) error {
	d.saves++
	if d.saves <= d.failSaves {
		return errors.New("deck config store unavailable")
	}
	return d.DeckAlgorithm.SaveOverride(ctx, learnerID, deckID, override)
}

func TestHLRFailedWeightFlushRetriesOnNextAnswer(t *testing.T) {
	f := newFixture(t, weightbuffer.WithThresholds(1, time.Minute))
	ctx := context.Background()
	cardID := f.addCard(1)
	f.store.SetDeckAlgorithm(learner, &ports.DeckAlgorithmConfig{
		DeckID:      deck,
		AlgorithmID: srs.AlgorithmHLR,
	})

	flaky := &flakyDeckAlgo{DeckAlgorithm: f.store.DeckAlgorithms(), failSaves: 1}
	svc, err := review.NewService(review.Config{
		Registry: srs.NewRegistry(),
		States:   f.store.CardStates(),
		Queue:    f.store,
		Logs:     f.store,
		Prefs:    f.store.Prefs(),
		Cards:    f.store,
		DeckAlgo: flaky,
		Defaults: configcache.New(f.store),
		Weights:  f.weights,
		Clock:    func() time.Time { return f.now },
	})
	require.NoError(t, err)

	// The first flush fails; the answer itself must still commit.
	_, err = svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)
	cfg, err := f.store.DeckAlgorithms().Get(ctx, learner, deck)
	require.NoError(t, err)
	assert.Nil(t, cfg.Override)

	// The requeued document flushes with the next answer.
	f.advance(15 * time.Minute)
	_, err = svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)
	cfg, err = f.store.DeckAlgorithms().Get(ctx, learner, deck)
	require.NoError(t, err)
	require.NotNil(t, cfg.Override)
	assert.Len(t, srs.Config(cfg.Override).Floats("weights"), 4)
	assert.Equal(t, 2, flaky.saves)
}

func TestStoredDefaultsShapeSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cardID := f.addCard(1)
	f.store.SetAlgorithmDefaults(srs.AlgorithmSM2, map[string]any{
		"learningStepsMinutes": []any{},
	})

	// With no learning steps a first Good graduates straight to a 1-day
	// review interval.
	res, err := f.svc.Answer(ctx, learner, deck, cardID, srs.Good, nil)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(24*time.Hour), res.NextReviewAt)
}

func TestUnknownDeckAlgorithmFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCard(1)
	f.store.SetDeckAlgorithm(learner, &ports.DeckAlgorithmConfig{
		DeckID:      deck,
		AlgorithmID: "leitner",
	})

	_, err := f.svc.GetNextCard(ctx, learner, deck)
	assert.ErrorIs(t, err, srs.ErrUnknownAlgorithm)
}
