package srs

import (
	"fmt"
	"sync"
	"time"
)

// StateBlob is the opaque, algorithm-owned scheduling state document for one
// card. Its shape is only ever interpreted by the algorithm that wrote it;
// cross-algorithm reads go through CanonicalProgress.
type StateBlob = map[string]any

// ApplyInput carries the pieces of a card's stored scheduling state that an
// algorithm needs to compute a transition.
type ApplyInput struct {
	// State is the stored blob; nil for a never-reviewed card.
	State StateBlob
	// LastReviewAt is nil before the first review.
	LastReviewAt *time.Time
	// ReviewCount is the number of accepted reviews so far.
	ReviewCount int
	// Context is optional per-review client context (response features etc.).
	Context map[string]any
}

// ApplyResult is the outcome of one accepted review.
type ApplyResult struct {
	State            StateBlob
	NextReviewAt     time.Time
	LastReviewAt     time.Time
	ReviewCountDelta int
}

// Algorithm is the pluggable scheduling-algorithm contract. Implementations
// must be pure: Apply is a function of its inputs only, with no hidden I/O,
// so each transition is independently testable.
type Algorithm interface {
	// ID returns the stable string identifier dispatched through the Registry.
	ID() string

	// InitialState returns the state blob for a never-reviewed card.
	InitialState(cfg Config) StateBlob

	// Apply computes the transition for one review.
	Apply(in ApplyInput, rating Rating, now time.Time, cfg Config) (ApplyResult, error)

	// PreviewIntervals returns the due time that would result from each of
	// the four ratings without mutating anything.
	PreviewIntervals(in ApplyInput, now time.Time, cfg Config) (map[Rating]time.Time, error)

	// ToCanonical projects the blob into the algorithm-neutral interchange form.
	ToCanonical(state StateBlob) CanonicalProgress

	// FromCanonical builds a blob for this algorithm from interchange progress.
	// Phase bookkeeping restarts: migrated cards re-enter review at step 0.
	FromCanonical(p CanonicalProgress, cfg Config) StateBlob
}

// previewWith implements PreviewIntervals by invoking apply once per rating
// on a throwaway copy of the input. All three algorithms share it.
func previewWith(alg Algorithm, in ApplyInput, now time.Time, cfg Config) (map[Rating]time.Time, error) {
	out := make(map[Rating]time.Time, len(Ratings))
	for _, r := range Ratings {
		scratch := in
		if in.State != nil {
			scratch.State = cloneValue(in.State).(map[string]any)
		}
		res, err := alg.Apply(scratch, r, now, cfg)
		if err != nil {
			return nil, fmt.Errorf("preview %s: %w", r, err)
		}
		out[r] = res.NextReviewAt
	}
	return out, nil
}

// Registry resolves a scheduling algorithm by its string id. The set of
// algorithms is closed; lookup of an unknown id fails rather than falling
// back, since interpreting a state blob with the wrong algorithm would
// corrupt it.
type Registry struct {
	mu         sync.RWMutex
	algorithms map[string]Algorithm
}

// NewRegistry returns a registry with the three built-in algorithms
// (fsrs_v6, hlr, sm2) registered.
func NewRegistry() *Registry {
	r := &Registry{algorithms: make(map[string]Algorithm)}
	for _, alg := range []Algorithm{
		NewTwoFactorExponential(),
		NewHalfLifeRegression(),
		NewEaseFactor(),
	} {
		// Built-in ids never collide.
		_ = r.Register(alg)
	}
	return r
}

// Register adds an algorithm. Registering an id twice is an error.
func (r *Registry) Register(alg Algorithm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := alg.ID()
	if _, exists := r.algorithms[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAlgorithm, id)
	}
	r.algorithms[id] = alg
	return nil
}

// Get returns the algorithm registered under id.
func (r *Registry) Get(id string) (Algorithm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alg, ok := r.algorithms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, id)
	}
	return alg, nil
}

// IDs returns the registered algorithm ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.algorithms))
	for id := range r.algorithms {
		ids = append(ids, id)
	}
	return ids
}
