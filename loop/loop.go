// Package loop provides the single-threaded scheduler every stream, adapter
// and handle in this module is confined to.
//
// A task posted with Post never runs inside the call that posted it. Tasks run
// in posting order, one batch per tick: a task posted while a tick is running
// waits for the next tick.
package loop

import (
	"context"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-util/errors"
	"github.com/go-pantheon/fabrica-util/xsync"
)

// Scheduler defers a callback to a later turn of the loop.
type Scheduler interface {
	Post(fn func())
}

var ErrLoopStopped = errors.New("loop is stopped")

var _ Scheduler = (*Loop)(nil)

// Loop runs posted tasks on one goroutine.
type Loop struct {
	xsync.Stoppable

	log *log.Helper

	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
	done  chan struct{}
}

type Option func(l *Loop)

func WithLogger(logger log.Logger) Option {
	return func(l *Loop) {
		l.log = log.NewHelper(logger)
	}
}

func New(c conf.Loop, opts ...Option) *Loop {
	l := &Loop{
		Stoppable: xsync.NewStopper(c.StopTimeout),
		log:       log.NewHelper(log.DefaultLogger),
		tasks:     make([]func(), 0, 64),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	for _, o := range opts {
		o(l)
	}

	return l
}

// Start runs the loop until ctx is done or Stop is called. Panics raised by
// tasks are not recovered: they signal broken callers.
func (l *Loop) Start(ctx context.Context) error {
	if l.OnStopping() {
		return ErrLoopStopped
	}

	go func() {
		defer close(l.done)

		if err := l.run(ctx); err != nil && !errors.Is(err, xsync.ErrStopByTrigger) && !errors.Is(err, context.Canceled) {
			l.log.Errorf("[loop.Loop] %+v", err)
		}
	}()

	return nil
}

func (l *Loop) run(ctx context.Context) error {
	for {
		select {
		case <-l.StopTriggered():
			return xsync.ErrStopByTrigger
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	l.mu.Lock()
	batch := l.tasks
	l.tasks = make([]func(), 0, cap(batch))
	l.mu.Unlock()

	for _, fn := range batch {
		fn()
	}

	l.mu.Lock()
	more := len(l.tasks) > 0
	l.mu.Unlock()

	if more {
		l.signal()
	}
}

// Post queues fn for a later tick. It is safe to call from any goroutine.
// Tasks posted after Stop are dropped.
func (l *Loop) Post(fn func()) {
	if l.OnStopping() {
		l.log.Debugf("[loop.Loop] task dropped, loop is stopping")
		return
	}

	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the loop goroutine has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) Stop(ctx context.Context) error {
	return l.TurnOff(func() error {
		l.mu.Lock()
		dropped := len(l.tasks)
		l.tasks = nil
		l.mu.Unlock()

		if dropped > 0 {
			l.log.Warnf("[loop.Loop] stopped with %d pending tasks", dropped)
		}

		return nil
	})
}
