package config

import (
	"fmt"
	"strings"
	"time"
)

// Timeouts and retention windows stay strings in the decoded config and are
// parsed where they are consumed, so a typo surfaces with its field path
// ("broadcast.status_ttl: ...") instead of a bare unmarshal error.

// ParseDurationField parses one duration-valued config field. An empty value
// is not an error; it reports 0 and the consumer picks its own default.
func ParseDurationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration (want e.g. \"30s\", \"10m\", \"24h\")", field, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0, got %q", field, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with the consumer's default
// substituted for an omitted or zero value.
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(field, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
