// Package stream defines the push-based duplex byte stream the wrap adapter
// drives, and two implementations of it: an in-memory Pipe and a NetStream
// pumping a net.Conn.
//
// Streams are confined to their loop.Scheduler: every method and every
// listener runs on the loop goroutine.
package stream

import (
	"github.com/go-pantheon/fabrica-util/errors"
)

var (
	ErrWriteAfterEnd = errors.New("write after end")
	ErrDestroyed     = errors.New("stream destroyed")
)

// Events are the signals a Duplex emits.
type Events interface {
	// OnData receives chunks. Byte streams emit []byte; anything else means
	// the stream is in object mode.
	OnData(fn func(chunk any)) Subscription
	OnEnd(fn func()) Subscription
	OnError(fn func(err error)) Subscription
	// OnDrain fires once buffered outgoing data has been flushed after a
	// Write reported backpressure.
	OnDrain(fn func()) Subscription
	OnceDrain(fn func()) Subscription
}

// Duplex is an abstract full-duplex stream with flow control on both sides.
type Duplex interface {
	Events

	Readable() bool
	Writable() bool
	ObjectMode() bool

	Pause()
	Resume()
	IsPaused() bool

	// Cork buffers writes until the matching Uncork so they can be flushed
	// together.
	Cork()
	Uncork()

	// Write queues chunk and calls cb once it has been handed to the
	// underlying resource. It returns false when the buffered amount reached
	// the high-water mark; the caller should wait for drain.
	Write(chunk []byte, cb func(err error)) bool
	// End flushes pending writes, closes the write side and calls cb.
	End(cb func())
	Destroy(err error)
}
