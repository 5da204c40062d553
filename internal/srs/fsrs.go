package srs

import (
	"math"
	"time"
)

// AlgorithmFSRS is the registry id of the two-factor exponential model.
const AlgorithmFSRS = "fsrs_v6"

// defaultFSRSWeights is the fallback 21-element parameter vector
// (py-fsrs / fsrs4anki FSRS-6 defaults).
var defaultFSRSWeights = [21]float64{
	0.212, 1.2931, 2.3065, 8.2956, // w[0..3]  initial stability S₀(G)
	6.4133, 0.8334, 3.0194, 0.001, // w[4..7]  difficulty params
	1.8722, 0.1666, 0.796, 1.4835, // w[8..11] recall stability params
	0.0614, 0.2629, 1.6483, 0.6014, // w[12..15] forget stability params
	1.8729, 0.5425, 0.0912, 0.0658, // w[16..19] easy/short-term params
	0.1542, // w[20] decay exponent
}

const minStability = 0.1

// TwoFactorExponential schedules with the FSRS v6 model: a stability/
// difficulty pair evolved per review, with retrievability
// R(t,S) = (1 + f·t/S)^(-w20).
type TwoFactorExponential struct{}

// NewTwoFactorExponential returns the fsrs_v6 algorithm.
func NewTwoFactorExponential() *TwoFactorExponential {
	return &TwoFactorExponential{}
}

// ID implements Algorithm.
func (a *TwoFactorExponential) ID() string { return AlgorithmFSRS }

// fsrsParams holds the weight vector with precomputed decay constants.
type fsrsParams struct {
	w      [21]float64
	decay  float64 // -w20
	factor float64 // 0.9^(1/decay) - 1
}

func fsrsParamsFrom(cfg Config) fsrsParams {
	w := defaultFSRSWeights
	if raw := cfg.Floats("weights"); len(raw) > 0 {
		for i := 0; i < len(raw) && i < len(w); i++ {
			w[i] = raw[i]
		}
	}
	// w20 bounds the decay exponent; keep it away from zero so the
	// 1/decay inversions stay finite.
	if w[20] < 0.1 {
		w[20] = 0.1
	}
	if w[20] > 0.8 {
		w[20] = 0.8
	}
	decay := -w[20]
	return fsrsParams{
		w:      w,
		decay:  decay,
		factor: math.Pow(0.9, 1.0/decay) - 1.0,
	}
}

func (p fsrsParams) retrievability(elapsedDays, stability float64) float64 {
	if stability < minStability {
		stability = minStability
	}
	return math.Pow(1+p.factor*elapsedDays/stability, p.decay)
}

// intervalDays inverts R at the target retention.
func (p fsrsParams) intervalDays(stability, retention float64) float64 {
	return stability / p.factor * (math.Pow(retention, 1.0/p.decay) - 1)
}

func (p fsrsParams) initStability(r Rating) float64 {
	return math.Max(p.w[r-1], minStability)
}

// initDifficulty computes D₀(G) = w4 - e^(w5·(G-1)) + 1.
func (p fsrsParams) initDifficulty(r Rating, clamp bool) float64 {
	d := p.w[4] - math.Exp(p.w[5]*float64(r-1)) + 1
	if clamp {
		return clampDifficulty(d)
	}
	return d
}

// nextDifficulty applies linear damping then mean reversion toward the
// easy-graded initial difficulty, weighted by w7.
func (p fsrsParams) nextDifficulty(d float64, r Rating) float64 {
	deltaD := -p.w[6] * (float64(r) - 3)
	dPrime := clampDifficulty(d + deltaD*(10-d)/9)
	return clampDifficulty(p.w[7]*p.initDifficulty(Easy, false) + (1-p.w[7])*dPrime)
}

// shortTermStability bumps stability for a same-day re-review.
func (p fsrsParams) shortTermStability(s float64, r Rating) float64 {
	inc := math.Exp(p.w[17]*(float64(r)-3+p.w[18])) * math.Pow(s, -p.w[19])
	if r.Success() {
		inc = math.Max(inc, 1.0)
	}
	return math.Max(s*inc, minStability)
}

// recallStability grows stability after a successful cross-day recall.
func (p fsrsParams) recallStability(d, s, retr float64, r Rating) float64 {
	hardMul := 1.0
	if r == Hard {
		hardMul = p.w[15]
	}
	easyMul := 1.0
	if r == Easy {
		easyMul = p.w[16]
	}
	next := s * (1 + math.Exp(p.w[8])*
		(11-d)*
		math.Pow(s, -p.w[9])*
		(math.Exp(p.w[10]*(1-retr))-1)*
		hardMul*easyMul)
	return math.Max(next, minStability)
}

// forgetStability computes the fresh post-lapse stability.
func (p fsrsParams) forgetStability(d, s, retr float64) float64 {
	next := p.w[11] *
		math.Pow(d, -p.w[12]) *
		(math.Pow(s+1, p.w[13]) - 1) *
		math.Exp(p.w[14]*(1-retr))
	return math.Max(next, minStability)
}

func clampDifficulty(d float64) float64 {
	return math.Min(math.Max(d, 1), 10)
}

// InitialState implements Algorithm. Stability and difficulty are not set
// until the first review seeds them from the rating.
func (a *TwoFactorExponential) InitialState(cfg Config) StateBlob {
	return StateBlob{
		"phase": string(PhaseLearning),
		"step":  0,
	}
}

// Apply implements Algorithm.
func (a *TwoFactorExponential) Apply(in ApplyInput, rating Rating, now time.Time, cfg Config) (ApplyResult, error) {
	if !rating.IsValid() {
		return ApplyResult{}, ErrInvalidRating
	}
	params := fsrsParamsFrom(cfg)
	s := parseSettings(cfg)

	phase := blobPhase(in.State)
	step := blobInt(in.State, "step", 0)
	stability := blobFloat(in.State, "stability", 0)
	difficulty := blobFloat(in.State, "difficulty", 0)

	var elapsedDays float64
	if in.LastReviewAt != nil {
		elapsedDays = now.Sub(*in.LastReviewAt).Hours() / 24.0
	}

	if stability <= 0 {
		stability = params.initStability(rating)
		difficulty = params.initDifficulty(rating, true)
	} else if elapsedDays < 1 {
		stability = params.shortTermStability(stability, rating)
		difficulty = params.nextDifficulty(difficulty, rating)
	} else {
		retr := params.retrievability(elapsedDays, stability)
		if rating == Again {
			stability = params.forgetStability(difficulty, stability, retr)
		} else {
			stability = params.recallStability(difficulty, stability, retr, rating)
		}
		difficulty = params.nextDifficulty(difficulty, rating)
	}

	out := transitionSteps(phase, step, rating, s)
	interval := out.interval
	if out.computeReview {
		interval = daysDuration(params.intervalDays(stability, s.retention))
	}
	interval = s.boundInterval(interval)

	state := StateBlob{
		"phase":      string(out.phase),
		"step":       out.step,
		"stability":  stability,
		"difficulty": difficulty,
	}
	return ApplyResult{
		State:            state,
		NextReviewAt:     now.Add(interval),
		LastReviewAt:     now,
		ReviewCountDelta: 1,
	}, nil
}

// PreviewIntervals implements Algorithm.
func (a *TwoFactorExponential) PreviewIntervals(in ApplyInput, now time.Time, cfg Config) (map[Rating]time.Time, error) {
	return previewWith(a, in, now, cfg)
}

// Retrievability returns the modeled recall probability for a stored state
// at the given time. Returns 0 for never-reviewed cards.
func (a *TwoFactorExponential) Retrievability(state StateBlob, lastReviewAt *time.Time, now time.Time, cfg Config) float64 {
	stability := blobFloat(state, "stability", 0)
	if stability <= 0 || lastReviewAt == nil {
		return 0
	}
	elapsed := now.Sub(*lastReviewAt).Hours() / 24.0
	return fsrsParamsFrom(cfg).retrievability(elapsed, stability)
}

// ToCanonical implements Algorithm: difficulty maps linearly from [1,10] to
// [0,1], stability passes through.
func (a *TwoFactorExponential) ToCanonical(state StateBlob) CanonicalProgress {
	return CanonicalProgress{
		Difficulty:    clamp01((blobFloat(state, "difficulty", 1) - 1) / 9),
		StabilityDays: math.Max(blobFloat(state, "stability", 0), minStability),
	}
}

// FromCanonical implements Algorithm.
func (a *TwoFactorExponential) FromCanonical(p CanonicalProgress, cfg Config) StateBlob {
	return StateBlob{
		"phase":      string(PhaseReview),
		"step":       0,
		"stability":  math.Max(p.StabilityDays, minStability),
		"difficulty": clampDifficulty(1 + 9*clamp01(p.Difficulty)),
	}
}
