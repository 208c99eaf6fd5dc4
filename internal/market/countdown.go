package market

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Keys that may hold a relative countdown (text, number or object).
var countdownKeys = []string{
	"countdown", "countDown", "countdownText", "countdown_text",
	"timeLeft", "time_left", "remaining", "remainingTime", "remaining_time",
	"expiresIn", "expires_in", "timer", "timerText",
}

// Date-like keys inside a structured countdown object.
var countdownDateKeys = []string{"date", "endDate", "endTime", "endsAt", "end"}

// Absolute end-date keys on the listing itself.
var absoluteEndKeys = []string{
	"countdown_end", "countdownEnd", "auction_end", "auctionEnd",
	"endDate", "endTime", "endsAt", "expiresAt", "expiryDate", "deadline",
}

var durationPattern = regexp.MustCompile(`(?i)^\s*(?:(\d+)\s*d)?\s*(?:(\d+)\s*h)?\s*(?:(\d+)\s*m)?\s*(?:(\d+)\s*s)?\s*$`)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// maxEpochMs bounds resolvable end times to the range of a JavaScript Date,
// far inside int64 milliseconds. Anything beyond it is unresolvable.
const maxEpochMs = 8.64e15

// ResolveEndTimestamp derives the absolute countdown end, in epoch
// milliseconds, from whatever encoding the record carries. Relative
// encodings are anchored at now. It reports false when nothing resolves or
// the end falls outside the representable range.
func ResolveEndTimestamp(r Record, now time.Time) (int64, bool) {
	nowMs := now.UnixMilli()

	raw := firstPresent(r, countdownKeys)
	switch t := raw.(type) {
	case string:
		if ms, ok := parseDurationText(t); ok {
			return offsetMs(nowMs, ms)
		}
		if n, ok := toNumber(t); ok {
			return offsetMs(nowMs, relativeMs(n))
		}
	case json.Number, float64, int, int64:
		if n, ok := toNumber(t); ok {
			return offsetMs(nowMs, relativeMs(n))
		}
	case map[string]interface{}:
		obj := wrap(t)
		if secs, ok := structuredSeconds(t); ok {
			return offsetMs(nowMs, secs*1000)
		}
		if end, ok := absoluteMs(firstPresent(obj, countdownDateKeys)); ok {
			return end, true
		}
	}

	if end, ok := absoluteMs(firstPresent(r, absoluteEndKeys)); ok {
		return end, true
	}
	return 0, false
}

func firstPresent(r Record, keys []string) any {
	for _, k := range keys {
		if v := lookup(r, k); present(v) {
			return v
		}
	}
	return nil
}

// offsetMs adds deltaMs to nowMs, rejecting ends outside ±maxEpochMs.
func offsetMs(nowMs int64, deltaMs float64) (int64, bool) {
	return epochMs(float64(nowMs) + math.Round(deltaMs))
}

func epochMs(ms float64) (int64, bool) {
	if math.IsNaN(ms) || ms > maxEpochMs || ms < -maxEpochMs {
		return 0, false
	}
	return int64(ms), true
}

// parseDurationText reads "2d 3h 10m 5s" with every component optional and
// returns the total in milliseconds.
func parseDurationText(s string) (float64, bool) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	unitsMs := []float64{86400000, 3600000, 60000, 1000}
	var total float64
	matched := false
	for i, unit := range unitsMs {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, false
		}
		total += n * unit
		matched = true
	}
	return total, matched
}

// relativeMs treats large numbers as milliseconds and small ones as seconds.
func relativeMs(n float64) float64 {
	if n > 100000 {
		return n
	}
	return n * 1000
}

// structuredSeconds totals a {days,hours,minutes,seconds} object, or reads a
// plain seconds/secs/s field when no larger unit is given.
func structuredSeconds(obj map[string]interface{}) (float64, bool) {
	_, hasDays := obj["days"]
	_, hasHours := obj["hours"]
	_, hasMinutes := obj["minutes"]
	if hasDays || hasHours || hasMinutes {
		total := 0.0
		for _, part := range []struct {
			key    string
			factor float64
		}{{"days", 86400}, {"hours", 3600}, {"minutes", 60}, {"seconds", 1}} {
			v, ok := obj[part.key]
			if !ok || v == nil {
				continue
			}
			n, ok := toNumber(v)
			if !ok {
				return 0, false
			}
			total += n * part.factor
		}
		return total, true
	}
	for _, key := range []string{"seconds", "secs", "s"} {
		if v, ok := obj[key]; ok && v != nil {
			return toNumber(v)
		}
	}
	return 0, false
}

// absoluteMs resolves an end date given as epoch seconds, epoch
// milliseconds, a numeric string or a date/time string.
func absoluteMs(v any) (int64, bool) {
	if !present(v) {
		return 0, false
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return epochMs(float64(ts.UnixMilli()))
			}
		}
	}
	n, ok := toNumber(v)
	if !ok {
		return 0, false
	}
	if n < 1e12 {
		n *= 1000
	}
	return epochMs(math.Round(n))
}

// FormatRemaining renders the time left between nowMs and endMs. Days are
// shown only when non-zero; a past end renders as zero.
func FormatRemaining(endMs, nowMs int64) string {
	remaining := endMs - nowMs
	if remaining < 0 {
		remaining = 0
	}
	total := remaining / 1000
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}

// Expired reports whether the countdown has reached zero, after which the
// rendering layer stops ticking.
func Expired(endMs, nowMs int64) bool { return endMs <= nowMs }

// CountdownCache pins the first resolved end time per listing id for one
// browsing session, so a refreshed list with the same items keeps ticking
// from where it was.
type CountdownCache struct {
	mu      sync.RWMutex
	entries map[string]int64
}

// NewCountdownCache returns an empty cache.
func NewCountdownCache() *CountdownCache {
	return &CountdownCache{entries: make(map[string]int64)}
}

// Resolve returns the pinned end time for id, resolving and pinning it from
// r on first sight. Records without a countdown are not pinned so a later
// payload may still supply one.
func (c *CountdownCache) Resolve(id string, r Record, now time.Time) (int64, bool) {
	c.mu.RLock()
	end, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return end, true
	}

	end, ok = ResolveEndTimestamp(r, now)
	if !ok {
		return 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pinned, exists := c.entries[id]; exists {
		return pinned, true
	}
	c.entries[id] = end
	return end, true
}

// Len returns the number of pinned ids.
func (c *CountdownCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
