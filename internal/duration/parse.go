// Package duration reads free-form window lengths such as "1h 30m" or "50m".
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var tokenPattern = regexp.MustCompile(`(\d+)\s*(h|m)`)

// Parse sums every <integer><unit> token in text, where unit is h (hours) or
// m (minutes). Other characters are ignored, so the result is 0 when nothing
// matches. Tokens whose value overflows are skipped.
func Parse(text string) time.Duration {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	var total time.Duration
	for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		unit := time.Minute
		if m[2] == "h" {
			unit = time.Hour
		}
		if n > int64(maxDuration/unit) {
			continue
		}
		step := time.Duration(n) * unit
		if total > maxDuration-step {
			return maxDuration
		}
		total += step
	}
	return total
}

// Millis is Parse expressed in milliseconds.
func Millis(text string) int64 {
	return Parse(text).Milliseconds()
}

// Format renders d as hours and minutes ("3h", "1h 30m", "45m").
func Format(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int64(d / time.Hour)
	m := int64((d % time.Hour) / time.Minute)
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

const maxDuration = time.Duration(1<<63 - 1)
