package srs

import "errors"

// Sentinel errors for the srs package.
// Use errors.Is to check: errors.Is(err, srs.ErrUnknownAlgorithm).
var (
	ErrInvalidRating      = errors.New("srs: invalid rating")
	ErrInvalidPhase       = errors.New("srs: invalid phase")
	ErrUnknownAlgorithm   = errors.New("srs: algorithm not registered")
	ErrDuplicateAlgorithm = errors.New("srs: algorithm already registered")
	ErrMalformedState     = errors.New("srs: malformed state blob")
)
