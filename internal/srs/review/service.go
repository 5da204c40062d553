// Package review implements the per-review orchestration: next-card
// selection, interval preview, answer handling under a per-card lock, and
// cross-algorithm state migration. The service owns no state of its own; it
// coordinates the algorithm registry and the persistence ports.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/logging"
	"mnemo/internal/observability"
	"mnemo/internal/srs"
	"mnemo/internal/srs/configcache"
	"mnemo/internal/srs/ports"
	"mnemo/internal/srs/weightbuffer"
)

// DefaultAlgorithmID is used when a deck has no configured algorithm.
const DefaultAlgorithmID = srs.AlgorithmSM2

// Config wires the service's collaborators. Registry, stores and the two
// caches are required; Logger, Metrics and Clock are optional.
type Config struct {
	Registry *srs.Registry
	States   ports.CardStateStore
	Queue    ports.ReviewQueue
	Logs     ports.ReviewLogStore
	Prefs    ports.DeckPreferencesStore
	Cards    ports.CardLookup
	DeckAlgo ports.DeckAlgorithm
	Defaults *configcache.Cache
	Weights  *weightbuffer.Buffer

	Logger  logging.Logger
	Metrics *observability.MetricsCollector
	Clock   func() time.Time
}

// Service is the review orchestrator.
type Service struct {
	registry *srs.Registry
	states   ports.CardStateStore
	queue    ports.ReviewQueue
	logs     ports.ReviewLogStore
	prefs    ports.DeckPreferencesStore
	cards    ports.CardLookup
	deckAlgo ports.DeckAlgorithm
	defaults *configcache.Cache
	weights  *weightbuffer.Buffer
	locks    *keyedMutex
	logger   logging.Logger
	metrics  *observability.MetricsCollector
	now      func() time.Time
}

// NewService creates the orchestrator.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("review: registry is required")
	case cfg.States == nil, cfg.Queue == nil, cfg.Logs == nil,
		cfg.Prefs == nil, cfg.Cards == nil, cfg.DeckAlgo == nil:
		return nil, errors.New("review: all persistence ports are required")
	case cfg.Defaults == nil:
		return nil, errors.New("review: default-config cache is required")
	case cfg.Weights == nil:
		return nil, errors.New("review: weight buffer is required")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		registry: cfg.Registry,
		states:   cfg.States,
		queue:    cfg.Queue,
		logs:     cfg.Logs,
		prefs:    cfg.Prefs,
		cards:    cfg.Cards,
		deckAlgo: cfg.DeckAlgo,
		defaults: cfg.Defaults,
		weights:  cfg.Weights,
		locks:    newKeyedMutex(),
		logger:   logging.OrNop(cfg.Logger),
		metrics:  cfg.Metrics,
		now:      now,
	}, nil
}

// NextCard is the selection result returned to the caller.
type NextCard struct {
	CardID      string
	AlgorithmID string
	// Preview maps each rating to the due time it would produce.
	Preview map[srs.Rating]time.Time
	// DueAt is nil for never-reviewed cards.
	DueAt *time.Time
	IsDue bool
	// Retrievability is the modeled recall probability at selection time;
	// only the fsrs_v6 algorithm reports it, others leave it 0.
	Retrievability float64
	View           *ports.CardView
}

// AnswerContext is optional per-answer client context.
type AnswerContext struct {
	Latency    time.Duration
	Source     string
	Features   []float64
	ClientMeta map[string]any
}

// AnswerResult is the outcome of one accepted answer plus the next prompt.
type AnswerResult struct {
	Rating       srs.Rating
	NextReviewAt time.Time
	// NextCard is nil when the queue is exhausted. It is best-effort: a
	// selection failure after a committed answer is logged, not returned.
	NextCard *NextCard
}

// resolved is an algorithm with its effective configuration and the deck
// config it came from.
type resolved struct {
	alg     srs.Algorithm
	cfg     srs.Config
	deckCfg *ports.DeckAlgorithmConfig
}

func (s *Service) resolveAlgorithm(ctx context.Context, learnerID, deckID string) (resolved, error) {
	deckCfg, err := s.deckAlgo.Get(ctx, learnerID, deckID)
	if err != nil {
		return resolved{}, fmt.Errorf("resolve deck config: %w", err)
	}
	if deckCfg == nil {
		deckCfg = &ports.DeckAlgorithmConfig{DeckID: deckID}
	}
	id := deckCfg.AlgorithmID
	if id == "" {
		id = DefaultAlgorithmID
	}
	alg, err := s.registry.Get(id)
	if err != nil {
		// Never fall back to a different algorithm: interpreting the blob
		// with the wrong one would corrupt it.
		return resolved{}, err
	}
	defaults, err := s.defaults.Get(ctx, id)
	if err != nil {
		return resolved{}, fmt.Errorf("load algorithm defaults: %w", err)
	}
	override := s.weights.ApplyPending(deckID, id, deckCfg.Override)
	return resolved{
		alg:     alg,
		cfg:     srs.Merge(defaults, override),
		deckCfg: deckCfg,
	}, nil
}

// GetNextCard selects the card to show next: the earliest due card, falling
// back to the first new card when nothing is due. Each path honors its deck
// daily limit. Returns nil when the queue is exhausted.
func (s *Service) GetNextCard(ctx context.Context, learnerID, deckID string) (*NextCard, error) {
	now := s.now()
	res, err := s.resolveAlgorithm(ctx, learnerID, deckID)
	if err != nil {
		return nil, err
	}

	reviewOK, newOK, err := s.dailyAllowance(ctx, learnerID, deckID, now)
	if err != nil {
		return nil, err
	}

	var cand *ports.QueueCandidate
	if reviewOK {
		if cand, err = s.queue.NextDue(ctx, learnerID, deckID, now); err != nil {
			return nil, fmt.Errorf("query due cards: %w", err)
		}
	}
	if cand == nil && newOK {
		if cand, err = s.queue.NextNew(ctx, learnerID, deckID); err != nil {
			return nil, fmt.Errorf("query new cards: %w", err)
		}
	}
	if cand == nil {
		return nil, nil
	}
	return s.buildNextCard(ctx, learnerID, cand, res, now)
}

func (s *Service) buildNextCard(ctx context.Context, learnerID string, cand *ports.QueueCandidate, res resolved, now time.Time) (*NextCard, error) {
	state, err := s.states.Get(ctx, learnerID, cand.CardID)
	if err != nil && !errors.Is(err, ports.ErrStateNotFound) {
		return nil, err
	}

	in, err := s.previewInput(state, res)
	if err != nil {
		return nil, err
	}
	preview, err := res.alg.PreviewIntervals(in, now, res.cfg)
	if err != nil {
		return nil, fmt.Errorf("preview intervals: %w", err)
	}

	var retrievability float64
	if fsrs, ok := res.alg.(*srs.TwoFactorExponential); ok && state != nil {
		retrievability = fsrs.Retrievability(in.State, in.LastReviewAt, now, res.cfg)
	}

	views, err := s.cards.View(ctx, []string{cand.CardID})
	if err != nil {
		return nil, fmt.Errorf("load card view: %w", err)
	}

	return &NextCard{
		CardID:         cand.CardID,
		AlgorithmID:    res.alg.ID(),
		Preview:        preview,
		DueAt:          cand.DueAt,
		IsDue:          cand.DueAt != nil,
		Retrievability: retrievability,
		View:           views[cand.CardID],
	}, nil
}

// previewInput produces the algorithm input for a read-only preview. Stored
// state written by a different algorithm is projected through
// CanonicalProgress without persisting anything.
func (s *Service) previewInput(state *ports.CardSchedulingState, res resolved) (srs.ApplyInput, error) {
	if state == nil {
		return srs.ApplyInput{State: res.alg.InitialState(res.cfg)}, nil
	}
	blob := state.State
	if state.AlgorithmID != "" && state.AlgorithmID != res.alg.ID() {
		prev, err := s.registry.Get(state.AlgorithmID)
		if err != nil {
			return srs.ApplyInput{}, err
		}
		blob = res.alg.FromCanonical(prev.ToCanonical(blob), res.cfg)
	}
	return srs.ApplyInput{
		State:        blob,
		LastReviewAt: state.LastReviewAt,
		ReviewCount:  state.ReviewCount,
	}, nil
}

// Answer applies one rating to the card, persists the transition under the
// card's exclusive lock, and returns the following card.
func (s *Service) Answer(ctx context.Context, learnerID, deckID, cardID string, rating srs.Rating, actx *AnswerContext) (*AnswerResult, error) {
	start := s.now()
	if !rating.IsValid() {
		return nil, srs.ErrInvalidRating
	}

	if err := s.ownedCard(ctx, learnerID, deckID, cardID); err != nil {
		return nil, err
	}

	// Re-resolve: the deck's algorithm may have changed since selection.
	res, err := s.resolveAlgorithm(ctx, learnerID, deckID)
	if err != nil {
		return nil, err
	}

	cardKey := learnerID + "/" + cardID
	s.locks.Lock(cardKey)
	defer s.locks.Unlock(cardKey)

	now := s.now()
	state, err := s.lockedState(ctx, learnerID, deckID, cardID, res, now)
	if err != nil {
		return nil, err
	}
	if state.Suspended {
		return nil, ports.ErrCardSuspended
	}

	wasNew := state.ReviewCount == 0
	stateBefore := state.Clone()

	in := srs.ApplyInput{
		State:        state.State,
		LastReviewAt: state.LastReviewAt,
		ReviewCount:  state.ReviewCount,
		Context:      answerContextDoc(actx),
	}

	applied, err := s.applyRating(ctx, learnerID, deckID, in, rating, now, res)
	if err != nil {
		return nil, err
	}

	state.State = applied.State
	state.LastReviewAt = &applied.LastReviewAt
	state.NextReviewAt = &applied.NextReviewAt
	state.ReviewCount += applied.ReviewCountDelta
	if err := s.states.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save scheduling state: %w", err)
	}

	if err := s.appendLog(ctx, res, rating, actx, stateBefore, state, now); err != nil {
		return nil, err
	}
	if err := s.bumpCounters(ctx, learnerID, deckID, wasNew, now); err != nil {
		return nil, err
	}

	s.metrics.RecordReview(ctx, res.alg.ID(), rating.String())
	s.metrics.RecordAnswerLatency(ctx, s.now().Sub(start))

	result := &AnswerResult{Rating: rating, NextReviewAt: applied.NextReviewAt}

	// The follow-up selection is additive: a failure here must not undo or
	// obscure the committed answer.
	next, err := s.GetNextCard(ctx, learnerID, deckID)
	if err != nil {
		s.logger.Warn("next-card selection failed after answer: %v", err)
	} else {
		result.NextCard = next
	}
	return result, nil
}

func (s *Service) ownedCard(ctx context.Context, learnerID, deckID, cardID string) error {
	views, err := s.cards.View(ctx, []string{cardID})
	if err != nil {
		return fmt.Errorf("load card view: %w", err)
	}
	view, ok := views[cardID]
	if !ok {
		return ports.ErrCardNotFound
	}
	if view.Deleted {
		return ports.ErrCardDeleted
	}
	if view.LearnerID != learnerID || view.DeckID != deckID {
		return ports.ErrAccessDenied
	}
	return nil
}

// lockedState loads the scheduling state under the card lock, creating it
// lazily for a first review and migrating it in place when the deck's
// algorithm changed.
func (s *Service) lockedState(ctx context.Context, learnerID, deckID, cardID string, res resolved, now time.Time) (*ports.CardSchedulingState, error) {
	state, err := s.states.GetForUpdate(ctx, learnerID, cardID)
	if err != nil {
		if !errors.Is(err, ports.ErrStateNotFound) {
			return nil, err
		}
		return &ports.CardSchedulingState{
			LearnerID:   learnerID,
			CardID:      cardID,
			DeckID:      deckID,
			AlgorithmID: res.alg.ID(),
			State:       res.alg.InitialState(res.cfg),
		}, nil
	}
	if state.AlgorithmID == res.alg.ID() {
		return state, nil
	}

	prev, err := s.registry.Get(state.AlgorithmID)
	if err != nil {
		return nil, err
	}
	state.State = res.alg.FromCanonical(prev.ToCanonical(state.State), res.cfg)
	state.AlgorithmID = res.alg.ID()
	if state.ReviewCount == 0 {
		// Unreviewed cards re-enter the due queue immediately under the
		// new algorithm.
		state.NextReviewAt = &now
	}
	return state, nil
}

// applyRating runs the algorithm transition. The hlr variant returns the
// updated deck override so learned weights reach the buffer; a flush
// instruction persists them.
func (s *Service) applyRating(ctx context.Context, learnerID, deckID string, in srs.ApplyInput, rating srs.Rating, now time.Time, res resolved) (srs.ApplyResult, error) {
	hlr, ok := res.alg.(*srs.HalfLifeRegression)
	if !ok {
		return res.alg.Apply(in, rating, now, res.cfg)
	}

	applied, updatedOverride, err := hlr.ApplyWithWeights(in, rating, now, res.cfg, res.deckCfg.Override)
	if err != nil {
		return srs.ApplyResult{}, err
	}
	if doc, flush := s.weights.Offer(deckID, hlr.ID(), updatedOverride); flush {
		if err := s.deckAlgo.SaveOverride(ctx, learnerID, deckID, doc); err != nil {
			// Put the document back so reads keep seeing it and the next
			// flush retries. Losing a handful of gradient steps is
			// acceptable, losing the answer is not.
			s.weights.Requeue(deckID, hlr.ID(), doc)
			s.logger.Warn("weight flush failed for deck %s: %v", deckID, err)
		} else {
			s.metrics.RecordWeightFlush(ctx)
		}
	}
	return applied, nil
}

func (s *Service) appendLog(ctx context.Context, res resolved, rating srs.Rating, actx *AnswerContext, before, after *ports.CardSchedulingState, now time.Time) error {
	entry := &ports.ReviewLogEntry{
		ID:          uuid.NewString(),
		LearnerID:   after.LearnerID,
		CardID:      after.CardID,
		DeckID:      after.DeckID,
		AlgorithmID: res.alg.ID(),
		Rating:      rating.String(),
		StateBefore: before.State,
		StateAfter:  after.State,
		ReviewedAt:  now,
	}
	if actx != nil {
		entry.LatencyMS = actx.Latency.Milliseconds()
		entry.Source = actx.Source
		entry.Features = actx.Features
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		return fmt.Errorf("append review log: %w", err)
	}
	return nil
}

// bumpCounters updates the deck's daily counters under the deck lock, so
// concurrent answers across the deck's cards cannot lose updates.
func (s *Service) bumpCounters(ctx context.Context, learnerID, deckID string, wasNew bool, now time.Time) error {
	deckKey := "deck/" + learnerID + "/" + deckID
	s.locks.Lock(deckKey)
	defer s.locks.Unlock(deckKey)

	prefs, err := s.prefs.GetForUpdate(ctx, learnerID, deckID)
	if err != nil {
		return fmt.Errorf("load deck preferences: %w", err)
	}
	if prefs == nil {
		prefs = &ports.DeckPreferences{LearnerID: learnerID, DeckID: deckID}
	}
	rolloverDay(prefs, now)
	if wasNew {
		prefs.NewToday++
	} else {
		prefs.ReviewsToday++
	}
	if err := s.prefs.Save(ctx, prefs); err != nil {
		return fmt.Errorf("save deck preferences: %w", err)
	}
	return nil
}

// dailyAllowance reports whether the deck's daily limits still admit due
// reviews and new cards. A zero limit means unlimited.
func (s *Service) dailyAllowance(ctx context.Context, learnerID, deckID string, now time.Time) (reviewOK, newOK bool, err error) {
	deckKey := "deck/" + learnerID + "/" + deckID
	s.locks.Lock(deckKey)
	defer s.locks.Unlock(deckKey)

	prefs, err := s.prefs.GetForUpdate(ctx, learnerID, deckID)
	if err != nil {
		return false, false, fmt.Errorf("load deck preferences: %w", err)
	}
	if prefs == nil {
		return true, true, nil
	}
	rolloverDay(prefs, now)
	reviewOK = prefs.ReviewsPerDay <= 0 || prefs.ReviewsToday < prefs.ReviewsPerDay
	newOK = prefs.NewPerDay <= 0 || prefs.NewToday < prefs.NewPerDay
	return reviewOK, newOK, nil
}

// rolloverDay resets the daily counters when the calendar day (UTC) changed.
func rolloverDay(prefs *ports.DeckPreferences, now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if prefs.DayStartedAt.Equal(day) {
		return
	}
	prefs.DayStartedAt = day
	prefs.NewToday = 0
	prefs.ReviewsToday = 0
}

func answerContextDoc(actx *AnswerContext) map[string]any {
	if actx == nil {
		return nil
	}
	doc := make(map[string]any, 4)
	if len(actx.Features) > 0 {
		doc["features"] = actx.Features
	}
	if actx.ClientMeta != nil {
		doc["clientMeta"] = actx.ClientMeta
	}
	if actx.Latency > 0 {
		doc["latencyMs"] = actx.Latency.Milliseconds()
	}
	if actx.Source != "" {
		doc["source"] = actx.Source
	}
	return doc
}
