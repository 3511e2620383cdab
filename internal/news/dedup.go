package news

import (
	"sync"
	"time"
)

// dedupWindow suppresses repeat tickers within a rolling interval: the
// pipeline emits at most one TickerEvent per ticker per window.
type dedupWindow struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func newDedupWindow(window time.Duration) *dedupWindow {
	return &dedupWindow{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// allow reports whether ticker should be emitted now: true if it has
// not been seen within the window, false (and no state change) if it
// has. Lazily evicts expired entries it happens to touch rather than
// running a separate sweep goroutine.
func (d *dedupWindow) allow(ticker string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.seen[ticker]
	if ok && now.Sub(last) < d.window {
		return false
	}
	d.seen[ticker] = now
	return true
}
