package srs

import (
	"time"
)

// Config is an effective algorithm configuration: the algorithm's stored
// defaults deep-merged with a deck's override document. Values follow JSON
// conventions (float64 numbers, []any arrays, map[string]any objects).
type Config map[string]any

// Merge deep-merges override on top of defaults and returns a new document.
// Override wins on key collision; nested objects merge recursively; arrays
// are replaced wholesale, never concatenated. Neither input is mutated.
func Merge(defaults, override map[string]any) Config {
	if defaults == nil && override == nil {
		return Config{}
	}
	out := make(Config, len(defaults)+len(override))
	for k, v := range defaults {
		out[k] = cloneValue(v)
	}
	for k, v := range override {
		if sub, ok := v.(map[string]any); ok {
			if base, ok := out[k].(map[string]any); ok {
				out[k] = map[string]any(Merge(base, sub))
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Clone returns a deep copy of the config document.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	return Config(cloneValue(map[string]any(c)).(map[string]any))
}

// Float returns the numeric value at key, or def when absent or non-numeric.
func (c Config) Float(key string, def float64) float64 {
	v, ok := toFloat(c[key])
	if !ok {
		return def
	}
	return v
}

// Int returns the integer value at key, or def when absent or non-numeric.
func (c Config) Int(key string, def int) int {
	v, ok := toFloat(c[key])
	if !ok {
		return def
	}
	return int(v)
}

// Bool returns the boolean value at key, or def when absent.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

// String returns the string value at key, or def when absent.
func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return def
}

// Floats returns the numeric array at key, or nil when absent. Entries that
// are not numbers are skipped.
func (c Config) Floats(key string) []float64 {
	raw, ok := c[key].([]any)
	if !ok {
		if typed, ok := c[key].([]float64); ok {
			out := make([]float64, len(typed))
			copy(out, typed)
			return out
		}
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, e := range raw {
		if f, ok := toFloat(e); ok {
			out = append(out, f)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// Config keys shared by all algorithms.
const (
	keyLearningSteps    = "learningStepsMinutes"
	keyRelearningSteps  = "relearningStepsMinutes"
	keyGraduatingDays   = "graduatingIntervalDays"
	keyEasyDays         = "easyIntervalDays"
	keyMinIntervalMin   = "minIntervalMinutes"
	keyMaxIntervalDays  = "maxIntervalDays"
	keyDesiredRetention = "desiredRetention"
)

// settings is the parsed, bounded view of the shared scheduling keys.
type settings struct {
	learningSteps   []time.Duration
	relearningSteps []time.Duration
	graduating      time.Duration
	easy            time.Duration
	minInterval     time.Duration
	maxInterval     time.Duration
	retention       float64
}

func parseSettings(cfg Config) settings {
	s := settings{
		learningSteps:   stepDurations(cfg, keyLearningSteps, []time.Duration{time.Minute, 10 * time.Minute}),
		relearningSteps: stepDurations(cfg, keyRelearningSteps, []time.Duration{10 * time.Minute}),
		graduating:      daysDuration(cfg.Float(keyGraduatingDays, 1)),
		easy:            daysDuration(cfg.Float(keyEasyDays, 4)),
		minInterval:     time.Duration(cfg.Float(keyMinIntervalMin, 1) * float64(time.Minute)),
		maxInterval:     daysDuration(cfg.Float(keyMaxIntervalDays, 36500)),
		retention:       cfg.Float(keyDesiredRetention, 0.9),
	}
	if s.retention <= 0 || s.retention >= 1 {
		s.retention = 0.9
	}
	if s.minInterval < time.Minute {
		s.minInterval = time.Minute
	}
	if s.maxInterval < s.minInterval {
		s.maxInterval = s.minInterval
	}
	return s
}

// stepDurations reads a minutes array; a missing key falls back to def while
// an explicitly empty array means "no steps configured".
func stepDurations(cfg Config, key string, def []time.Duration) []time.Duration {
	if _, present := cfg[key]; !present {
		return def
	}
	mins := cfg.Floats(key)
	out := make([]time.Duration, 0, len(mins))
	for _, m := range mins {
		if m <= 0 {
			continue
		}
		out = append(out, time.Duration(m*float64(time.Minute)))
	}
	return out
}

// daysDuration converts fractional days to a duration rounded to whole seconds.
func daysDuration(days float64) time.Duration {
	secs := days * 24 * 3600
	return time.Duration(secs+0.5) * time.Second
}

// boundInterval clamps an interval to the configured floor and ceiling.
func (s settings) boundInterval(ivl time.Duration) time.Duration {
	if ivl < s.minInterval {
		ivl = s.minInterval
	}
	if ivl > s.maxInterval {
		ivl = s.maxInterval
	}
	return ivl
}
