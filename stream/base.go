package stream

import (
	"github.com/go-pantheon/fabrica-stream/loop"
)

type inboxItem struct {
	chunk    any
	consumed func(err error)
}

// Base carries the event emitters and the readable side of a Duplex:
// pause/resume and the chunks held back while paused. Implementations embed
// it and feed it with Push and PushEnd.
//
// A Base starts paused.
type Base struct {
	sched loop.Scheduler

	data  Emitter[any]
	end   Emitter[struct{}]
	errs  Emitter[error]
	drain Emitter[struct{}]

	objectMode bool
	readable   bool
	paused     bool
	flushing   bool
	destroyed  bool
	endQueued  bool
	inbox      []inboxItem
}

func NewBase(sched loop.Scheduler) *Base {
	return &Base{
		sched:    sched,
		readable: true,
		paused:   true,
	}
}

func (b *Base) OnData(fn func(chunk any)) Subscription {
	return b.data.On(fn)
}

func (b *Base) OnEnd(fn func()) Subscription {
	return b.end.On(func(struct{}) { fn() })
}

func (b *Base) OnError(fn func(err error)) Subscription {
	return b.errs.On(fn)
}

func (b *Base) OnDrain(fn func()) Subscription {
	return b.drain.On(func(struct{}) { fn() })
}

func (b *Base) OnceDrain(fn func()) Subscription {
	return b.drain.Once(func(struct{}) { fn() })
}

func (b *Base) EmitError(err error) {
	b.errs.Emit(err)
}

func (b *Base) EmitDrain() {
	b.drain.Emit(struct{}{})
}

func (b *Base) Readable() bool {
	return b.readable && !b.destroyed
}

func (b *Base) ObjectMode() bool {
	return b.objectMode
}

// SetObjectMode marks the stream as producing structured chunks.
func (b *Base) SetObjectMode(on bool) {
	b.objectMode = on
}

func (b *Base) IsPaused() bool {
	return b.paused
}

func (b *Base) Pause() {
	b.paused = true
}

// Resume restarts delivery. Held-back chunks are delivered on a later tick.
func (b *Base) Resume() {
	if !b.paused {
		return
	}

	b.paused = false

	if len(b.inbox) > 0 || b.endQueued {
		b.scheduleFlush()
	}
}

// Push delivers a chunk to the data listeners, or holds it while paused.
func (b *Base) Push(chunk any) {
	b.PushWith(chunk, nil)
}

// PushWith is Push with a callback fired once the chunk has been delivered
// or dropped.
func (b *Base) PushWith(chunk any, consumed func(err error)) {
	if b.destroyed || b.endQueued || !b.readable {
		if consumed != nil {
			consumed(ErrDestroyed)
		}

		return
	}

	if b.paused || len(b.inbox) > 0 {
		b.inbox = append(b.inbox, inboxItem{chunk: chunk, consumed: consumed})
		return
	}

	b.deliver(inboxItem{chunk: chunk, consumed: consumed})
}

// PushEnd signals end of the readable side after every held-back chunk.
func (b *Base) PushEnd() {
	if b.destroyed || b.endQueued || !b.readable {
		return
	}

	b.endQueued = true

	if !b.paused && len(b.inbox) == 0 {
		b.emitEnd()
	}
}

func (b *Base) deliver(item inboxItem) {
	b.data.Emit(item.chunk)

	if item.consumed != nil {
		item.consumed(nil)
	}
}

func (b *Base) emitEnd() {
	b.readable = false
	b.end.Emit(struct{}{})
}

func (b *Base) scheduleFlush() {
	if b.flushing {
		return
	}

	b.flushing = true
	b.sched.Post(b.flush)
}

func (b *Base) flush() {
	b.flushing = false

	for !b.paused && !b.destroyed && len(b.inbox) > 0 {
		item := b.inbox[0]
		b.inbox = b.inbox[1:]
		b.deliver(item)
	}

	if !b.paused && !b.destroyed && len(b.inbox) == 0 && b.endQueued && b.readable {
		b.emitEnd()
	}
}

// destroyRead drops held-back chunks and closes the readable side.
func (b *Base) destroyRead() {
	if b.destroyed {
		return
	}

	b.destroyed = true
	b.readable = false

	inbox := b.inbox
	b.inbox = nil

	for _, item := range inbox {
		if item.consumed != nil {
			item.consumed(ErrDestroyed)
		}
	}
}
