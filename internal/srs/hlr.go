package srs

import (
	"math"
	"time"
)

// AlgorithmHLR is the registry id of the half-life regression model.
const AlgorithmHLR = "hlr"

// defaultHLRWeights pairs with the built-in 4-feature fallback vector
// (bias, log1p(review count), first-review indicator, log1p(elapsed days)).
// A first review predicts a half-life of 2^(w0+w2) = 1 day.
var defaultHLRWeights = []float64{0.8, 0.4, -0.8, 0.2}

// HalfLifeRegression predicts a card's memory half-life as H = 2^(w·x) and
// learns the weight vector online, one gradient step per review.
type HalfLifeRegression struct{}

// NewHalfLifeRegression returns the hlr algorithm.
func NewHalfLifeRegression() *HalfLifeRegression {
	return &HalfLifeRegression{}
}

// ID implements Algorithm.
func (a *HalfLifeRegression) ID() string { return AlgorithmHLR }

type hlrParams struct {
	weights      []float64
	learningRate float64
	l2           float64
	minHalfLife  float64 // days
	maxHalfLife  float64 // days
}

func hlrParamsFrom(cfg Config) hlrParams {
	p := hlrParams{
		weights:      cfg.Floats("weights"),
		learningRate: cfg.Float("learningRate", 0.01),
		l2:           cfg.Float("l2", 0.001),
		minHalfLife:  cfg.Float("minHalfLifeDays", 1.0/24),
		maxHalfLife:  cfg.Float("maxHalfLifeDays", 274),
	}
	if len(p.weights) == 0 {
		p.weights = append([]float64(nil), defaultHLRWeights...)
	}
	if p.minHalfLife <= 0 {
		p.minHalfLife = 1.0 / 24
	}
	if p.maxHalfLife < p.minHalfLife {
		p.maxHalfLife = p.minHalfLife
	}
	if p.learningRate <= 0 {
		p.learningRate = 0.01
	}
	if p.l2 < 0 {
		p.l2 = 0
	}
	return p
}

// halfLife predicts H = clamp(2^(w·x), minH, maxH).
func (p hlrParams) halfLife(x []float64) float64 {
	h := math.Exp2(dot(p.weights, x))
	if math.IsNaN(h) || h < p.minHalfLife {
		return p.minHalfLife
	}
	if h > p.maxHalfLife {
		return p.maxHalfLife
	}
	return h
}

func dot(w, x []float64) float64 {
	n := len(w)
	if len(x) < n {
		n = len(x)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += w[i] * x[i]
	}
	return sum
}

// features resolves the feature vector for a review: a direct array on the
// review context first, then a nested client-supplied array, otherwise the
// built-in fallback.
func (a *HalfLifeRegression) features(in ApplyInput, elapsedDays float64) []float64 {
	if x := featureArray(in.Context, "features"); len(x) > 0 {
		return x
	}
	if client, ok := in.Context["clientMeta"].(map[string]any); ok {
		if x := featureArray(client, "features"); len(x) > 0 {
			return x
		}
	}
	first := 0.0
	if in.ReviewCount == 0 {
		first = 1.0
	}
	return []float64{
		1.0, // bias
		math.Log1p(float64(in.ReviewCount)),
		first,
		math.Log1p(math.Max(elapsedDays, 0)),
	}
}

func featureArray(doc map[string]any, key string) []float64 {
	if doc == nil {
		return nil
	}
	return Config(doc).Floats(key)
}

// sgdStep performs one gradient-descent update on a squared-error recall
// loss, returning the updated weights. The input slice is not mutated.
func (p hlrParams) sgdStep(x []float64, elapsedDays float64, rating Rating) []float64 {
	// Size the weight vector to the feature vector; extra features start
	// at zero weight, surplus weights are dropped.
	w := make([]float64, len(x))
	copy(w, p.weights)

	h := p.halfLife(x)
	y := 0.0
	if rating.Success() {
		y = 1.0
	}
	t := math.Max(elapsedDays, 0)
	predicted := math.Exp2(-t / h)

	ln2sq := math.Ln2 * math.Ln2
	base := (predicted - y) * predicted * ln2sq * t / h
	for i := range w {
		grad := base*x[i] + p.l2*w[i]
		w[i] -= p.learningRate * grad
	}
	return w
}

// InitialState implements Algorithm.
func (a *HalfLifeRegression) InitialState(cfg Config) StateBlob {
	return StateBlob{
		"phase": string(PhaseLearning),
		"step":  0,
	}
}

// Apply implements Algorithm. The updated weight vector is discarded; the
// orchestrator uses ApplyWithWeights so learned weights can be persisted.
func (a *HalfLifeRegression) Apply(in ApplyInput, rating Rating, now time.Time, cfg Config) (ApplyResult, error) {
	res, _, err := a.apply(in, rating, now, cfg)
	return res, err
}

// ApplyWithWeights is the weight-returning Apply variant. It merges the
// updated vector back into the deck's override document under "weights"
// (with a "featureSize" marker) so callers can persist the learned
// parameters per deck.
func (a *HalfLifeRegression) ApplyWithWeights(in ApplyInput, rating Rating, now time.Time, cfg Config, deckOverride map[string]any) (ApplyResult, map[string]any, error) {
	res, weights, err := a.apply(in, rating, now, cfg)
	if err != nil {
		return ApplyResult{}, nil, err
	}
	learned := make([]any, len(weights))
	for i, w := range weights {
		learned[i] = w
	}
	updated := Merge(deckOverride, map[string]any{
		"weights":     learned,
		"featureSize": len(weights),
	})
	return res, updated, nil
}

func (a *HalfLifeRegression) apply(in ApplyInput, rating Rating, now time.Time, cfg Config) (ApplyResult, []float64, error) {
	if !rating.IsValid() {
		return ApplyResult{}, nil, ErrInvalidRating
	}
	params := hlrParamsFrom(cfg)
	s := parseSettings(cfg)

	phase := blobPhase(in.State)
	step := blobInt(in.State, "step", 0)

	var elapsedDays float64
	if in.LastReviewAt != nil {
		elapsedDays = now.Sub(*in.LastReviewAt).Hours() / 24.0
	}

	// Learn first, then schedule with the updated weights.
	x := a.features(in, elapsedDays)
	weights := params.sgdStep(x, elapsedDays, rating)
	params.weights = weights
	halfLife := params.halfLife(x)

	out := transitionSteps(phase, step, rating, s)
	interval := out.interval
	if out.computeReview {
		days := halfLife * math.Log2(1/s.retention)
		switch rating {
		case Hard:
			days *= 0.8
		case Easy:
			days *= 1.2
		}
		interval = daysDuration(days)
	}
	interval = s.boundInterval(interval)

	state := StateBlob{
		"phase":    string(out.phase),
		"step":     out.step,
		"halfLife": halfLife,
	}
	res := ApplyResult{
		State:            state,
		NextReviewAt:     now.Add(interval),
		LastReviewAt:     now,
		ReviewCountDelta: 1,
	}
	return res, weights, nil
}

// PreviewIntervals implements Algorithm.
func (a *HalfLifeRegression) PreviewIntervals(in ApplyInput, now time.Time, cfg Config) (map[Rating]time.Time, error) {
	return previewWith(a, in, now, cfg)
}

// ToCanonical implements Algorithm. Half-life maps to stability directly;
// difficulty is neutral since this model has no explicit difficulty axis.
func (a *HalfLifeRegression) ToCanonical(state StateBlob) CanonicalProgress {
	return CanonicalProgress{
		Difficulty:    0.5,
		StabilityDays: math.Max(blobFloat(state, "halfLife", 0), 0.001),
	}
}

// FromCanonical implements Algorithm.
func (a *HalfLifeRegression) FromCanonical(p CanonicalProgress, cfg Config) StateBlob {
	params := hlrParamsFrom(cfg)
	h := p.StabilityDays
	if h < params.minHalfLife {
		h = params.minHalfLife
	}
	if h > params.maxHalfLife {
		h = params.maxHalfLife
	}
	return StateBlob{
		"phase":    string(PhaseReview),
		"step":     0,
		"halfLife": h,
	}
}
