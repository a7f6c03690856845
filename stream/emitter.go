package stream

import (
	"slices"
)

// Subscription detaches a listener. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// Emitter is a loop-confined list of listeners for one event.
type Emitter[T any] struct {
	listeners []*listener[T]
}

type listener[T any] struct {
	owner     *Emitter[T]
	fn        func(T)
	once      bool
	cancelled bool
}

func (l *listener[T]) Cancel() {
	if l.cancelled {
		return
	}

	l.cancelled = true
	l.owner.remove(l)
}

// On registers fn for every emission.
func (e *Emitter[T]) On(fn func(T)) Subscription {
	return e.add(fn, false)
}

// Once registers fn for the next emission only.
func (e *Emitter[T]) Once(fn func(T)) Subscription {
	return e.add(fn, true)
}

func (e *Emitter[T]) add(fn func(T), once bool) Subscription {
	l := &listener[T]{owner: e, fn: fn, once: once}
	e.listeners = append(e.listeners, l)

	return l
}

func (e *Emitter[T]) remove(l *listener[T]) {
	if i := slices.Index(e.listeners, l); i >= 0 {
		e.listeners = slices.Delete(e.listeners, i, i+1)
	}
}

// Emit calls the listeners registered before the call. A listener cancelled
// by an earlier one during the same emission is skipped.
func (e *Emitter[T]) Emit(v T) int {
	if len(e.listeners) == 0 {
		return 0
	}

	called := 0

	for _, l := range slices.Clone(e.listeners) {
		if l.cancelled {
			continue
		}

		if l.once {
			l.Cancel()
		}

		l.fn(v)
		called++
	}

	return called
}

func (e *Emitter[T]) Len() int {
	return len(e.listeners)
}
