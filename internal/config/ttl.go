package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ttlPattern = regexp.MustCompile(`^(\d+)\s*(m|min|minute|minutes|h|hour|hours|d|day|days)$`)

// TTL is a token lifetime written as <integer><unit>, unit being minutes,
// hours or days: "15m", "12h", "7d", "30minutes".
type TTL time.Duration

func (t TTL) Duration() time.Duration {
	return time.Duration(t)
}

func (t *TTL) UnmarshalText(text []byte) error {
	d, err := ParseTTL(string(text))
	if err != nil {
		return err
	}
	*t = TTL(d)
	return nil
}

func ParseTTL(value string) (time.Duration, error) {
	match := ttlPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(value)))
	if match == nil {
		return 0, fmt.Errorf("ttl %q must look like <integer><m|h|d>", value)
	}

	n, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ttl %q: %w", value, err)
	}

	var unit time.Duration
	switch match[2][0] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	default:
		unit = 24 * time.Hour
	}

	if n > int64(maxDuration/unit) {
		return 0, fmt.Errorf("ttl %q is too large", value)
	}
	return time.Duration(n) * unit, nil
}

const maxDuration = time.Duration(1<<63 - 1)
