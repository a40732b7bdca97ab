// Package cooldown tracks a short backoff after the upstream Messages API
// returns 429 or 5xx, so a burst of failing requests doesn't hammer it
// while it recovers. There is exactly one upstream endpoint, so the whole
// package tracks one implicit key rather than per-account state.
package cooldown

import (
	"log"
	"math"
	"strconv"
	"sync"
	"time"
)

const (
	baseCooldownSec      = 15
	maxCooldownSec       = 300
	defaultRetryAfterSec = 60
)

type entry struct {
	until               time.Time
	reason              string
	consecutiveFailures int
}

var (
	mu       sync.RWMutex
	cooldown *entry
)

// Set records an upstream failure and starts (or extends) the cooldown.
// retryAfterSec, when positive, overrides the exponential backoff with the
// duration the upstream itself asked for.
func Set(reason string, retryAfterSec int) {
	mu.Lock()
	defer mu.Unlock()

	failures := 1
	if cooldown != nil {
		failures = cooldown.consecutiveFailures + 1
	}

	var durationSec int
	if retryAfterSec > 0 {
		durationSec = retryAfterSec
	} else {
		durationSec = int(math.Min(
			float64(baseCooldownSec)*math.Pow(2, float64(failures-1)),
			float64(maxCooldownSec),
		))
	}

	cooldown = &entry{
		until:               time.Now().Add(time.Duration(durationSec) * time.Second),
		reason:              reason,
		consecutiveFailures: failures,
	}

	log.Printf("[cooldown] upstream cooled down for %ds (%s, failures=%d)", durationSec, reason, failures)
}

// Active reports whether the upstream is currently in cooldown, and until when.
func Active() (bool, time.Time) {
	mu.RLock()
	e := cooldown
	mu.RUnlock()

	if e == nil {
		return false, time.Time{}
	}
	if time.Now().After(e.until) {
		mu.Lock()
		if cooldown == e {
			cooldown = nil
		}
		mu.Unlock()
		return false, time.Time{}
	}
	return true, e.until
}

// Clear clears the cooldown after a successful upstream response.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	cooldown = nil
}

// ParseRetryAfter parses a Retry-After header value to seconds.
func ParseRetryAfter(headerValue string) int {
	if headerValue == "" {
		return 0
	}

	if n, err := strconv.Atoi(headerValue); err == nil && n > 0 {
		return n
	}

	if t, err := time.Parse(time.RFC1123, headerValue); err == nil {
		sec := int(time.Until(t).Seconds())
		if sec > 0 {
			return sec
		}
		return defaultRetryAfterSec
	}

	return defaultRetryAfterSec
}
