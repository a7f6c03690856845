package loop

import (
	"sync"
)

const maxIdleTicks = 100000

var _ Scheduler = (*Manual)(nil)

// Manual is a Scheduler driven by its owner, one Tick at a time.
type Manual struct {
	mu    sync.Mutex
	queue []func()
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// Tick runs the tasks queued before it was called and returns how many ran.
func (m *Manual) Tick() int {
	m.mu.Lock()
	batch := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, fn := range batch {
		fn()
	}

	return len(batch)
}

// RunUntilIdle ticks until the queue is empty and returns the number of ticks.
func (m *Manual) RunUntilIdle() int {
	ticks := 0

	for m.Pending() > 0 {
		if ticks >= maxIdleTicks {
			panic("loop.Manual: tasks keep rescheduling themselves")
		}

		m.Tick()
		ticks++
	}

	return ticks
}

func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queue)
}
