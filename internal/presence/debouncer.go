package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDebounceDelay absorbs page reloads and short network blips.
const DefaultDebounceDelay = 5 * time.Second

type pendingTimer struct {
	timer *time.Timer
	gen   uint64
}

// Debouncer holds at most one cancellable offline timer per user.
// A timer whose generation is no longer current never runs its callback,
// so Cancel followed by Schedule cannot be overtaken by the old timer.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timers  map[uuid.UUID]*pendingTimer
	seq     uint64
	stopped bool
}

func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{
		delay:  delay,
		timers: make(map[uuid.UUID]*pendingTimer),
	}
}

func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Schedule arms fn to run after the delay, replacing any pending timer
// for userID.
func (d *Debouncer) Schedule(userID uuid.UUID, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if p, ok := d.timers[userID]; ok {
		p.timer.Stop()
	}

	d.seq++
	gen := d.seq
	p := &pendingTimer{gen: gen}
	p.timer = time.AfterFunc(d.delay, func() {
		d.fire(userID, gen, fn)
	})
	d.timers[userID] = p
}

func (d *Debouncer) fire(userID uuid.UUID, gen uint64, fn func()) {
	d.mu.Lock()
	p, ok := d.timers[userID]
	if !ok || p.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.timers, userID)
	d.mu.Unlock()

	fn()
}

// Cancel stops the pending timer of userID. It reports whether one was
// pending. If the timer already started firing, its callback still runs.
func (d *Debouncer) Cancel(userID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.timers[userID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.timers, userID)
	return true
}

func (d *Debouncer) Pending(userID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[userID]
	return ok
}

func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels every pending timer; later Schedule calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, p := range d.timers {
		p.timer.Stop()
		delete(d.timers, id)
	}
	d.stopped = true
}
