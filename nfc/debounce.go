package nfc

import (
	"sync"
	"time"
)

// Debouncer remembers when each card was last accepted. A card is accepted again once the window has passed since
// its last accepted scan. Every reader instance owns its own Debouncer.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	last   map[string]time.Time
}

func NewDebouncer(window time.Duration, now func() time.Time) *Debouncer {
	if now == nil {
		now = time.Now
	}
	return &Debouncer{
		window: window,
		now:    now,
		last:   make(map[string]time.Time),
	}
}

// Accept reports whether a scan of id should be passed on, and records it if so.
func (d *Debouncer) Accept(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, seen := d.last[id]; seen && now.Sub(last) < d.window {
		return false
	}
	d.last[id] = now
	return true
}

func (d *Debouncer) Window() time.Duration {
	return d.window
}

// Reset forgets every card seen so far.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.last = make(map[string]time.Time)
	d.mu.Unlock()
}
