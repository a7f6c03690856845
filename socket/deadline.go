package socket

import (
	"sync"
	"time"
)

// deadline is a resettable timer whose wait channel closes once it expires.
type deadline struct {
	mu     sync.Mutex
	timer  *time.Timer
	cancel chan struct{}
}

func newDeadline() *deadline {
	return &deadline{cancel: make(chan struct{})}
}

// set moves the deadline. A zero t clears it, a past t expires it now.
func (d *deadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// wait for a firing timer to close cancel
	if d.timer != nil && !d.timer.Stop() {
		<-d.cancel
	}

	d.timer = nil

	closed := isClosed(d.cancel)

	if t.IsZero() {
		if closed {
			d.cancel = make(chan struct{})
		}

		return
	}

	if dur := time.Until(t); dur > 0 {
		if closed {
			d.cancel = make(chan struct{})
		}

		cancel := d.cancel
		d.timer = time.AfterFunc(dur, func() {
			close(cancel)
		})

		return
	}

	if !closed {
		close(d.cancel)
	}
}

func (d *deadline) wait() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cancel
}

func isClosed(c chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
