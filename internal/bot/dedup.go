// internal/bot/dedup.go
package bot

import (
	"sync"
	"time"

	"vaste-chatbot/internal/clock"
)

const DefaultDedupWindow = 5 * time.Minute

// Deduper remembers message keys for a bounded window. It is per process, so
// two runners that both believe they hold a lease can still both reply; the
// lease is what prevents that, this only catches redelivery to one process.
type Deduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	clock  clock.Clock
}

func NewDeduper(window time.Duration, clk clock.Clock) *Deduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Deduper{seen: make(map[string]time.Time), window: window, clock: clk}
}

// FirstSeen records key and reports whether it was not already seen within the window.
func (d *Deduper) FirstSeen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}

	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = now
	return true
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
