package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration such as "90s" or "1m30s" for the
// config key path. Blank is zero; negative values are errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for a
// blank or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// MinutesOrDefault validates a minutes value; zero selects def.
func MinutesOrDefault(path string, v, def float64) (float64, error) {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return 0, fmt.Errorf("%s: must be a finite number", path)
	case v < 0:
		return 0, fmt.Errorf("%s: must be >= 0", path)
	case v == 0:
		return def, nil
	}
	return v, nil
}
