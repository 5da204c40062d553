// Package memstore provides in-memory implementations of every scheduling
// port. It backs the review service tests and embedders that do not need
// durable storage; a SQL adapter in the surrounding service replaces it in
// production.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/srs/ports"
)

// Store holds all scheduling data in process memory. Safe for concurrent
// use. The per-record ports are exposed as facets (CardStates, Prefs,
// DeckAlgorithms) because their method sets collide on one type.
type Store struct {
	mu sync.RWMutex

	cards      map[string]*ports.CardView            // card id → view
	states     map[string]*ports.CardSchedulingState // learner/card → state
	logs       []*ports.ReviewLogEntry
	prefs      map[string]*ports.DeckPreferences     // learner/deck → prefs
	deckAlgos  map[string]*ports.DeckAlgorithmConfig // learner/deck → config
	algDefault map[string]map[string]any             // algorithm id → defaults
}

// Compile-time port checks.
var (
	_ ports.ReviewQueue          = (*Store)(nil)
	_ ports.ReviewLogStore       = (*Store)(nil)
	_ ports.AlgorithmConfigStore = (*Store)(nil)
	_ ports.CardLookup           = (*Store)(nil)
	_ ports.CardStateStore       = (*cardStates)(nil)
	_ ports.DeckPreferencesStore = (*prefsStore)(nil)
	_ ports.DeckAlgorithm        = (*deckAlgoStore)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		cards:      make(map[string]*ports.CardView),
		states:     make(map[string]*ports.CardSchedulingState),
		prefs:      make(map[string]*ports.DeckPreferences),
		deckAlgos:  make(map[string]*ports.DeckAlgorithmConfig),
		algDefault: make(map[string]map[string]any),
	}
}

func stateKey(learnerID, cardID string) string { return learnerID + "/" + cardID }
func deckKey(learnerID, deckID string) string  { return learnerID + "/" + deckID }

// CardStates returns the card scheduling-state port.
func (s *Store) CardStates() ports.CardStateStore { return &cardStates{s} }

// Prefs returns the deck preferences port.
func (s *Store) Prefs() ports.DeckPreferencesStore { return &prefsStore{s} }

// DeckAlgorithms returns the deck algorithm-config port.
func (s *Store) DeckAlgorithms() ports.DeckAlgorithm { return &deckAlgoStore{s} }

// AddCard registers a card view and returns its id (minted when blank).
func (s *Store) AddCard(view *ports.CardView) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if view.CardID == "" {
		view.CardID = uuid.NewString()
	}
	if view.CreatedAt.IsZero() {
		view.CreatedAt = time.Now()
	}
	s.cards[view.CardID] = view
	return view.CardID
}

// SetDeckAlgorithm stores the deck's algorithm choice for a learner.
func (s *Store) SetDeckAlgorithm(learnerID string, cfg *ports.DeckAlgorithmConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deckAlgos[deckKey(learnerID, cfg.DeckID)] = cfg
}

// SetAlgorithmDefaults stores default configuration for an algorithm id.
func (s *Store) SetAlgorithmDefaults(algorithmID string, doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.algDefault[algorithmID] = doc
}

// SetPreferences stores deck preferences.
func (s *Store) SetPreferences(prefs *ports.DeckPreferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[deckKey(prefs.LearnerID, prefs.DeckID)] = prefs
}

// SuspendCard marks an existing scheduling state suspended.
func (s *Store) SuspendCard(learnerID, cardID string, suspended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[stateKey(learnerID, cardID)]; ok {
		state.Suspended = suspended
	}
}

// Logs returns a snapshot of the appended review log.
func (s *Store) Logs() []*ports.ReviewLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ports.ReviewLogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

// NextDue implements ports.ReviewQueue: earliest NextReviewAt <= now, not
// suspended, ties broken by card id.
func (s *Store) NextDue(ctx context.Context, learnerID, deckID string, now time.Time) (*ports.QueueCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*ports.CardSchedulingState
	for _, state := range s.states {
		if state.LearnerID != learnerID || state.DeckID != deckID || state.Suspended {
			continue
		}
		if state.NextReviewAt == nil || state.NextReviewAt.After(now) {
			continue
		}
		if view, ok := s.cards[state.CardID]; !ok || view.Deleted {
			continue
		}
		due = append(due, state)
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextReviewAt.Equal(*due[j].NextReviewAt) {
			return due[i].NextReviewAt.Before(*due[j].NextReviewAt)
		}
		return due[i].CardID < due[j].CardID
	})
	pick := due[0]
	dueAt := *pick.NextReviewAt
	return &ports.QueueCandidate{CardID: pick.CardID, DueAt: &dueAt}, nil
}

// NextNew implements ports.ReviewQueue: first card with no scheduling state,
// ordered by deck position then creation time.
func (s *Store) NextNew(ctx context.Context, learnerID, deckID string) (*ports.QueueCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fresh []*ports.CardView
	for _, view := range s.cards {
		if view.LearnerID != learnerID || view.DeckID != deckID || view.Deleted {
			continue
		}
		if _, reviewed := s.states[stateKey(learnerID, view.CardID)]; reviewed {
			continue
		}
		fresh = append(fresh, view)
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].Position != fresh[j].Position {
			return fresh[i].Position < fresh[j].Position
		}
		return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
	})
	return &ports.QueueCandidate{CardID: fresh[0].CardID}, nil
}

// Append implements ports.ReviewLogStore.
func (s *Store) Append(ctx context.Context, entry *ports.ReviewLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.logs = append(s.logs, entry)
	return nil
}

// GetByID implements ports.AlgorithmConfigStore.
func (s *Store) GetByID(ctx context.Context, algorithmID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.algDefault[algorithmID]
	if !ok {
		return nil, ports.ErrConfigNotFound
	}
	return doc, nil
}

// View implements ports.CardLookup.
func (s *Store) View(ctx context.Context, cardIDs []string) (map[string]*ports.CardView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*ports.CardView, len(cardIDs))
	for _, id := range cardIDs {
		if view, ok := s.cards[id]; ok {
			clone := *view
			out[id] = &clone
		}
	}
	return out, nil
}

type cardStates struct{ s *Store }

func (c *cardStates) Get(ctx context.Context, learnerID, cardID string) (*ports.CardSchedulingState, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	state, ok := c.s.states[stateKey(learnerID, cardID)]
	if !ok {
		return nil, ports.ErrStateNotFound
	}
	return state.Clone(), nil
}

// GetForUpdate is a plain read here: the review service holds the per-card
// keyed lock for the whole transition.
func (c *cardStates) GetForUpdate(ctx context.Context, learnerID, cardID string) (*ports.CardSchedulingState, error) {
	return c.Get(ctx, learnerID, cardID)
}

func (c *cardStates) Save(ctx context.Context, state *ports.CardSchedulingState) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.states[stateKey(state.LearnerID, state.CardID)] = state.Clone()
	return nil
}

type prefsStore struct{ s *Store }

func (p *prefsStore) GetForUpdate(ctx context.Context, learnerID, deckID string) (*ports.DeckPreferences, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	prefs, ok := p.s.prefs[deckKey(learnerID, deckID)]
	if !ok {
		return nil, nil
	}
	clone := *prefs
	return &clone, nil
}

func (p *prefsStore) Save(ctx context.Context, prefs *ports.DeckPreferences) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	clone := *prefs
	p.s.prefs[deckKey(prefs.LearnerID, prefs.DeckID)] = &clone
	return nil
}

type deckAlgoStore struct{ s *Store }

func (d *deckAlgoStore) Get(ctx context.Context, learnerID, deckID string) (*ports.DeckAlgorithmConfig, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	cfg, ok := d.s.deckAlgos[deckKey(learnerID, deckID)]
	if !ok {
		return nil, nil
	}
	clone := *cfg
	return &clone, nil
}

func (d *deckAlgoStore) SaveOverride(ctx context.Context, learnerID, deckID string, override map[string]any) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	cfg, ok := d.s.deckAlgos[deckKey(learnerID, deckID)]
	if !ok {
		cfg = &ports.DeckAlgorithmConfig{DeckID: deckID}
		d.s.deckAlgos[deckKey(learnerID, deckID)] = cfg
	}
	cfg.Override = override
	return nil
}
