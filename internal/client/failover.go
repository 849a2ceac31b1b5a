package client

import (
	"sync"
	"time"

	"dexstats/internal/pkg/metrics"
)

// failoverSelector picks between a primary and a fallback base URL. After
// the primary exhausts its retry budget the selector trips to the fallback
// and stays there for the cooldown window, measured on an injectable clock
// so tests can drive it.
type failoverSelector struct {
	mu            sync.Mutex
	primary       string
	fallback      string
	cooldown      time.Duration
	fallbackUntil time.Time
	now           func() time.Time
}

func newFailoverSelector(primary, fallback string, cooldown time.Duration, now func() time.Time) *failoverSelector {
	if now == nil {
		now = time.Now
	}
	return &failoverSelector{
		primary:  primary,
		fallback: fallback,
		cooldown: cooldown,
		now:      now,
	}
}

// current returns the base URL requests should use right now.
func (f *failoverSelector) current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fallback != "" && f.now().Before(f.fallbackUntil) {
		return f.fallback
	}
	return f.primary
}

// trip switches to the fallback for one cooldown window. A trip while the
// fallback is already active extends the window.
func (f *failoverSelector) trip() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fallback == "" {
		return
	}
	f.fallbackUntil = f.now().Add(f.cooldown)
	metrics.IndexerFailovers.Inc()
}

// onFallback reports whether the selector is currently serving the fallback.
func (f *failoverSelector) onFallback() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fallback != "" && f.now().Before(f.fallbackUntil)
}
