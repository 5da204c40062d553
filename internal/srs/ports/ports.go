// Package ports defines the records and collaborator interfaces the
// scheduling core depends on. Implementations live outside the core
// (SQL adapters in the surrounding service, the in-memory store in
// internal/memstore for tests and embedding).
package ports

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced to callers of the review service.
var (
	ErrAccessDenied   = errors.New("ports: card does not belong to learner/deck")
	ErrCardNotFound   = errors.New("ports: card not found")
	ErrCardDeleted    = errors.New("ports: card deleted")
	ErrCardSuspended  = errors.New("ports: card suspended")
	ErrStateNotFound  = errors.New("ports: scheduling state not found")
	ErrConfigNotFound = errors.New("ports: algorithm config not found")
)

// CardSchedulingState is the per learner-card scheduling record. The State
// document's shape is owned by the algorithm named in AlgorithmID; nothing
// else may interpret it.
type CardSchedulingState struct {
	LearnerID    string         `json:"learnerId"`
	CardID       string         `json:"cardId"`
	DeckID       string         `json:"deckId"`
	AlgorithmID  string         `json:"algorithmId"`
	State        map[string]any `json:"state"`
	LastReviewAt *time.Time     `json:"lastReviewAt,omitempty"`
	NextReviewAt *time.Time     `json:"nextReviewAt,omitempty"`
	ReviewCount  int            `json:"reviewCount"`
	Suspended    bool           `json:"suspended"`
}

// Clone returns a deep copy safe to hand across the lock boundary.
func (s *CardSchedulingState) Clone() *CardSchedulingState {
	if s == nil {
		return nil
	}
	out := *s
	out.State = cloneDoc(s.State)
	if s.LastReviewAt != nil {
		t := *s.LastReviewAt
		out.LastReviewAt = &t
	}
	if s.NextReviewAt != nil {
		t := *s.NextReviewAt
		out.NextReviewAt = &t
	}
	return &out
}

func cloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		switch t := v.(type) {
		case map[string]any:
			out[k] = cloneDoc(t)
		case []any:
			arr := make([]any, len(t))
			copy(arr, t)
			out[k] = arr
		default:
			out[k] = v
		}
	}
	return out
}

// DeckAlgorithmConfig is the deck's algorithm choice plus the override
// document merged on top of the algorithm defaults. The scheduler treats it
// as read-only, except that the hlr algorithm writes learned weights back
// into Override through the weight buffer.
type DeckAlgorithmConfig struct {
	DeckID      string         `json:"deckId"`
	AlgorithmID string         `json:"algorithmId"`
	Override    map[string]any `json:"override,omitempty"`
}

// ReviewLogEntry is the append-only audit record of one accepted review.
// Never mutated or deleted; analytics-only, the scheduler does not read it
// back.
type ReviewLogEntry struct {
	ID          string         `json:"id"`
	LearnerID   string         `json:"learnerId"`
	CardID      string         `json:"cardId"`
	DeckID      string         `json:"deckId"`
	AlgorithmID string         `json:"algorithmId"`
	Rating      string         `json:"rating"`
	LatencyMS   int64          `json:"latencyMs,omitempty"`
	Features    []float64      `json:"features,omitempty"`
	StateBefore map[string]any `json:"stateBefore,omitempty"`
	StateAfter  map[string]any `json:"stateAfter"`
	ReviewedAt  time.Time      `json:"reviewedAt"`
	Source      string         `json:"source,omitempty"`
}

// DeckPreferences carries per-deck daily counters and limits. Counters reset
// when a review arrives on a new day (DayStartedAt boundary).
type DeckPreferences struct {
	LearnerID     string    `json:"learnerId"`
	DeckID        string    `json:"deckId"`
	NewPerDay     int       `json:"newPerDay"`     // 0 = unlimited
	ReviewsPerDay int       `json:"reviewsPerDay"` // 0 = unlimited
	NewToday      int       `json:"newToday"`
	ReviewsToday  int       `json:"reviewsToday"`
	DayStartedAt  time.Time `json:"dayStartedAt"`
}

// CardView is the minimal presentation data for the next card.
type CardView struct {
	CardID        string         `json:"cardId"`
	DeckID        string         `json:"deckId"`
	LearnerID     string         `json:"learnerId"`
	TemplateID    string         `json:"templateId,omitempty"`
	CustomContent bool           `json:"customContent"`
	Content       map[string]any `json:"content,omitempty"`
	Deleted       bool           `json:"deleted"`
	Position      int            `json:"position"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// QueueCandidate identifies a card picked by the due/new queue queries.
type QueueCandidate struct {
	CardID string
	DueAt  *time.Time // nil for never-reviewed cards
}

// CardStateStore persists CardSchedulingState records.
//
// GetForUpdate exists so SQL adapters can push the exclusive lock into the
// row read (SELECT ... FOR UPDATE); the review service additionally holds a
// per-card keyed mutex for the whole transition, so in-memory adapters may
// implement GetForUpdate as a plain Get.
type CardStateStore interface {
	Get(ctx context.Context, learnerID, cardID string) (*CardSchedulingState, error)
	GetForUpdate(ctx context.Context, learnerID, cardID string) (*CardSchedulingState, error)
	Save(ctx context.Context, state *CardSchedulingState) error
}

// ReviewQueue answers the due/new selection queries. NextDue returns the
// earliest card with NextReviewAt <= now that is not suspended, ordered by
// due time then card id; NextNew returns the first never-reviewed card
// ordered by deck position then creation time. Both return nil when empty.
type ReviewQueue interface {
	NextDue(ctx context.Context, learnerID, deckID string, now time.Time) (*QueueCandidate, error)
	NextNew(ctx context.Context, learnerID, deckID string) (*QueueCandidate, error)
}

// ReviewLogStore appends audit records.
type ReviewLogStore interface {
	Append(ctx context.Context, entry *ReviewLogEntry) error
}

// DeckPreferencesStore persists deck counters. GetForUpdate has the same
// contract as CardStateStore.GetForUpdate.
type DeckPreferencesStore interface {
	GetForUpdate(ctx context.Context, learnerID, deckID string) (*DeckPreferences, error)
	Save(ctx context.Context, prefs *DeckPreferences) error
}

// AlgorithmConfigStore looks up stored default configuration by algorithm id.
// A missing id returns ErrConfigNotFound.
type AlgorithmConfigStore interface {
	GetByID(ctx context.Context, algorithmID string) (map[string]any, error)
}

// CardLookup resolves minimal card view data for presentation and ownership
// checks.
type CardLookup interface {
	View(ctx context.Context, cardIDs []string) (map[string]*CardView, error)
}

// DeckAlgorithm resolves and updates a deck's algorithm configuration.
// SaveOverride persists the override document after the weight buffer
// flushes learned hlr weights.
type DeckAlgorithm interface {
	Get(ctx context.Context, learnerID, deckID string) (*DeckAlgorithmConfig, error)
	SaveOverride(ctx context.Context, learnerID, deckID string, override map[string]any) error
}
