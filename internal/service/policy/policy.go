// Package policy holds the antiban rules that keep automated sending inside
// the chat gateway's informal abuse thresholds: rolling send-window limits,
// quiet hours, and human-looking jitter between consecutive sends.
package policy

import (
	"math/rand"
	"time"

	"github.com/classpilot/school-api/internal/model"
)

// SendWindow is the tenant's recent send history, counted from queue entries
// with status sent inside the trailing hour and minute.
type SendWindow struct {
	LastHour   int
	LastMinute int
}

// CanSendNow decides whether a tenant may send at this moment. now must
// already be in the tenant's local timezone so the quiet-hours check works.
// It is pure: no side effects, no clock or database access.
func CanSendNow(window SendWindow, limits model.TenantLimits, now time.Time) bool {
	if limits.MaxPerHour > 0 && window.LastHour >= limits.MaxPerHour {
		return false
	}
	if limits.MaxPerMinute > 0 && window.LastMinute >= limits.MaxPerMinute {
		return false
	}
	return !inQuietHours(now.Hour(), limits.QuietStartHour, limits.QuietEndHour)
}

// inQuietHours treats [start, end) as a local-hour window; start > end wraps
// past midnight (e.g. 22 -> 7 covers 22:00-06:59).
func inQuietHours(hour int, start, end *int) bool {
	if start == nil || end == nil || *start == *end {
		return false
	}
	if *start < *end {
		return hour >= *start && hour < *end
	}
	return hour >= *start || hour < *end
}

// JitterDelay returns a uniformly random pause in
// [MinDelaySeconds, MaxDelaySeconds] used between consecutive sends. A timing
// hint only; correctness never depends on it.
func JitterDelay(limits model.TenantLimits) time.Duration {
	min := limits.MinDelaySeconds
	max := limits.MaxDelaySeconds
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	if max == min {
		return time.Duration(min) * time.Second
	}
	spread := time.Duration(max-min) * time.Second
	return time.Duration(min)*time.Second + time.Duration(rand.Int63n(int64(spread)+1))
}
