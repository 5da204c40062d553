package srs

// CanonicalProgress is the algorithm-neutral summary of a card's learning
// progress. It exists only as an interchange value while a deck switches
// algorithms and is never persisted.
type CanonicalProgress struct {
	// Difficulty is normalized to [0, 1]; 0 is easiest.
	Difficulty float64
	// StabilityDays is the expected days until recall probability decays
	// to roughly 90% (model definitions vary).
	StabilityDays float64
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
