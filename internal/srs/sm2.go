package srs

import (
	"math"
	"time"
)

// AlgorithmSM2 is the registry id of the classic ease-factor model.
const AlgorithmSM2 = "sm2"

const (
	sm2DefaultEase    = 2.5
	sm2MaxEase        = 3.0
	sm2DefaultMinEase = 1.3
	// canonicalIntervalScale relates interval days to stability days when
	// bridging algorithm switches: a review interval targets ~90% recall.
	canonicalIntervalScale = 0.9
)

// EaseFactor schedules with the classic SM-2 recipe: a per-card ease factor
// grown or shrunk by review quality, multiplied into the previous interval.
type EaseFactor struct{}

// NewEaseFactor returns the sm2 algorithm.
func NewEaseFactor() *EaseFactor {
	return &EaseFactor{}
}

// ID implements Algorithm.
func (a *EaseFactor) ID() string { return AlgorithmSM2 }

type sm2Params struct {
	startingEase     float64
	minEase          float64
	intervalModifier float64
	hardFactor       float64
	easyBonus        float64
}

func sm2ParamsFrom(cfg Config) sm2Params {
	p := sm2Params{
		startingEase:     cfg.Float("startingEase", sm2DefaultEase),
		minEase:          cfg.Float("minEase", sm2DefaultMinEase),
		intervalModifier: cfg.Float("intervalModifier", 1.0),
		hardFactor:       cfg.Float("hardFactor", 1.2),
		easyBonus:        cfg.Float("easyBonus", 1.3),
	}
	if p.minEase <= 0 {
		p.minEase = sm2DefaultMinEase
	}
	if p.startingEase < p.minEase {
		p.startingEase = p.minEase
	}
	if p.hardFactor <= 0 {
		p.hardFactor = 1.2
	}
	if p.intervalModifier <= 0 {
		p.intervalModifier = 1.0
	}
	return p
}

// InitialState implements Algorithm.
func (a *EaseFactor) InitialState(cfg Config) StateBlob {
	p := sm2ParamsFrom(cfg)
	return StateBlob{
		"phase":        string(PhaseLearning),
		"step":         0,
		"easeFactor":   p.startingEase,
		"intervalDays": 0.0,
		"repetitions":  0,
		"lapses":       0,
	}
}

// Apply implements Algorithm.
func (a *EaseFactor) Apply(in ApplyInput, rating Rating, now time.Time, cfg Config) (ApplyResult, error) {
	if !rating.IsValid() {
		return ApplyResult{}, ErrInvalidRating
	}
	p := sm2ParamsFrom(cfg)
	s := parseSettings(cfg)

	phase := blobPhase(in.State)
	step := blobInt(in.State, "step", 0)
	ease := blobFloat(in.State, "easeFactor", p.startingEase)
	intervalDays := blobFloat(in.State, "intervalDays", 0)
	repetitions := blobInt(in.State, "repetitions", 0)
	lapses := blobInt(in.State, "lapses", 0)

	if ease < p.minEase {
		ease = p.minEase
	}

	out := transitionSteps(phase, step, rating, s)

	if out.lapsed {
		lapses++
		ease = math.Max(p.minEase, ease-0.2)
	}

	interval := out.interval
	switch {
	case out.leftRelearning:
		// Exiting relearning halves the previous interval rather than
		// resetting it.
		intervalDays = math.Max(1, math.Round(intervalDays/2))
		interval = daysDuration(intervalDays)
	case out.computeReview:
		if rating == Again {
			// No relearning steps configured: lapse stays in review on a
			// halved interval.
			intervalDays = math.Max(1, math.Round(intervalDays/2))
		} else {
			ease = nextEase(ease, rating, p.minEase)
			intervalDays = a.nextIntervalDays(intervalDays, repetitions, ease, rating, p)
			repetitions++
		}
		interval = daysDuration(intervalDays)
	case out.graduated:
		// The step machine resolved the graduating or easy interval.
		repetitions = 1
		intervalDays = interval.Hours() / 24.0
	}
	interval = s.boundInterval(interval)

	state := StateBlob{
		"phase":        string(out.phase),
		"step":         out.step,
		"easeFactor":   ease,
		"intervalDays": intervalDays,
		"repetitions":  repetitions,
		"lapses":       lapses,
	}
	return ApplyResult{
		State:            state,
		NextReviewAt:     now.Add(interval),
		LastReviewAt:     now,
		ReviewCountDelta: 1,
	}, nil
}

// nextEase maps the rating to a quality score q ∈ {3,4,5} and applies the
// SM-2 update EF' = EF + 0.1 - (5-q)·(0.08 + (5-q)·0.02), floored at minEase.
func nextEase(ease float64, rating Rating, minEase float64) float64 {
	q := float64(rating.Grade() + 1) // Hard→3, Good→4, Easy→5
	next := ease + 0.1 - (5-q)*(0.08+(5-q)*0.02)
	return math.Max(next, minEase)
}

// nextIntervalDays applies the SM-2 growth schedule: fixed 1-day and 6-day
// intervals for the first two repetitions, multiplicative growth afterwards.
func (a *EaseFactor) nextIntervalDays(prev float64, repetitions int, ease float64, rating Rating, p sm2Params) float64 {
	var days float64
	switch {
	case repetitions <= 0:
		days = 1
	case repetitions == 1:
		days = 6
	default:
		days = prev * ease * p.intervalModifier
	}
	switch rating {
	case Hard:
		days /= p.hardFactor
	case Easy:
		days *= p.easyBonus
	}
	return math.Max(days, 1)
}

// PreviewIntervals implements Algorithm.
func (a *EaseFactor) PreviewIntervals(in ApplyInput, now time.Time, cfg Config) (map[Rating]time.Time, error) {
	return previewWith(a, in, now, cfg)
}

// ToCanonical implements Algorithm: EF ∈ [1.3, 3.0] remaps linearly to
// difficulty ∈ [0, 1] (lower EF is harder) and interval days scale to
// stability days by a fixed 0.9 factor, so progress stays comparable
// across algorithm switches.
func (a *EaseFactor) ToCanonical(state StateBlob) CanonicalProgress {
	ease := blobFloat(state, "easeFactor", sm2DefaultEase)
	if ease < sm2DefaultMinEase {
		ease = sm2DefaultMinEase
	}
	if ease > sm2MaxEase {
		ease = sm2MaxEase
	}
	return CanonicalProgress{
		Difficulty:    clamp01((sm2MaxEase - ease) / (sm2MaxEase - sm2DefaultMinEase)),
		StabilityDays: blobFloat(state, "intervalDays", 0) * canonicalIntervalScale,
	}
}

// FromCanonical implements Algorithm. Migrated cards restart phase
// bookkeeping at repetitions=1, step 0.
func (a *EaseFactor) FromCanonical(p CanonicalProgress, cfg Config) StateBlob {
	params := sm2ParamsFrom(cfg)
	ease := sm2MaxEase - clamp01(p.Difficulty)*(sm2MaxEase-sm2DefaultMinEase)
	if ease < params.minEase {
		ease = params.minEase
	}
	return StateBlob{
		"phase":        string(PhaseReview),
		"step":         0,
		"easeFactor":   ease,
		"intervalDays": math.Max(p.StabilityDays/canonicalIntervalScale, 0),
		"repetitions":  1,
		"lapses":       0,
	}
}
