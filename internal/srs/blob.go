package srs

// Accessors for the algorithm-owned state documents. Blobs travel through
// JSON persistence, so numbers may come back as float64 even when written
// as ints.

func blobString(b StateBlob, key, def string) string {
	if b == nil {
		return def
	}
	s, ok := b[key].(string)
	if !ok {
		return def
	}
	return s
}

func blobFloat(b StateBlob, key string, def float64) float64 {
	if b == nil {
		return def
	}
	v, ok := toFloat(b[key])
	if !ok {
		return def
	}
	return v
}

func blobInt(b StateBlob, key string, def int) int {
	if b == nil {
		return def
	}
	v, ok := toFloat(b[key])
	if !ok {
		return def
	}
	return int(v)
}

func blobPhase(b StateBlob) Phase {
	p, err := ParsePhase(blobString(b, "phase", ""))
	if err != nil {
		return PhaseLearning
	}
	return p
}
