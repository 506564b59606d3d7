package worker

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of triggers into one call of action, fired once
// the triggers have been quiet for the configured delay.
type Debouncer struct {
	mu     sync.Mutex
	timer  *time.Timer
	delay  time.Duration
	action func()
	gen    uint64         // bumped per Trigger; stale timers see a newer value
	wg     sync.WaitGroup // pending and running actions
}

// NewDebouncer creates a debouncer.
func NewDebouncer(delay time.Duration, action func()) *Debouncer {
	return &Debouncer{delay: delay, action: action}
}

// Trigger (re)starts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.gen++
	gen := d.gen

	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.mu.Lock()
		if d.gen != gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		d.action()
	})
}

// Cancel drops a pending action. An action already running is not waited for.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// CancelAndWait drops a pending action and waits for a running one.
func (d *Debouncer) CancelAndWait() {
	d.Cancel()
	d.wg.Wait()
}

// stopLocked must be called with d.mu held.
func (d *Debouncer) stopLocked() {
	if d.timer != nil && d.timer.Stop() {
		d.wg.Done()
	}
	d.timer = nil
}
