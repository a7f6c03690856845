// Package wrap drives a push-based stream.Duplex through a request/completion
// Handle, so layers written against handles can run over any stream.
//
// The Adapter keeps at most one write and one shutdown in flight. Every
// completion is posted to the scheduler and observed on a later tick than the
// call that caused it. Closing resolves whatever is still pending with
// errcode.ECANCELED, so each accepted request completes exactly once.
package wrap

import (
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-stream/errcode"
	"github.com/go-pantheon/fabrica-stream/internal/metrics"
	"github.com/go-pantheon/fabrica-stream/loop"
	"github.com/go-pantheon/fabrica-stream/stream"
)

var adapterID atomic.Uint64

// writeOp is the adapter-side state of the pending write.
type writeOp struct {
	req  *WriteRequest
	size int

	// pending counts segment completions still outstanding.
	pending int
	// waitDrain is set when a segment hit the high-water mark and no drain
	// was seen since.
	waitDrain bool
	settled   bool
	drainSub  stream.Subscription
}

type Adapter struct {
	id       uint64
	sched    loop.Scheduler
	stream   stream.Duplex
	log      *log.Helper
	registry *Registry

	shim *handle
	// handle is dropped on close; reads are forwarded only while it is set.
	handle *handle

	errs  stream.Emitter[error]
	drain stream.Emitter[struct{}]

	dataSub      stream.Subscription
	badShape     bool
	eof          bool
	pendingWrite *writeOp

	pendingShutdown    *ShutdownRequest
	shutdownDispatched bool
	shutdownDrainSub   stream.Subscription

	awaitingDrain bool
	closed        bool

	stats counters
}

// New wraps s and pauses it until ReadStart. recv gets the bytes and the EOF
// read from s. The adapter and the stream must share sched.
func New(sched loop.Scheduler, s stream.Duplex, recv Receiver, opts ...Option) *Adapter {
	o := NewOptions(opts...)

	if recv == nil {
		recv = ReceiverFuncs{}
	}

	a := &Adapter{
		id:       adapterID.Add(1),
		sched:    sched,
		stream:   s,
		log:      log.NewHelper(o.logger),
		registry: o.registry,
	}

	a.shim = &handle{a: a, recv: recv}
	a.handle = a.shim

	s.Pause()
	s.OnError(a.onStreamError)
	s.OnDrain(a.onStreamDrain)
	a.dataSub = s.OnData(a.onData)
	s.OnEnd(a.onEnd)

	if a.registry != nil {
		a.registry.Put(a)
	}

	metrics.AdapterOpened()

	return a
}

func (a *Adapter) ID() uint64 {
	return a.id
}

// Handle returns the operation set of this adapter.
func (a *Adapter) Handle() Handle {
	return a.shim
}

func (a *Adapter) Stream() stream.Duplex {
	return a.stream
}

// OnError receives stream errors and ErrStreamWrap.
func (a *Adapter) OnError(fn func(err error)) stream.Subscription {
	return a.errs.On(fn)
}

// OnDrain fires after the stream recovered from backpressure.
func (a *Adapter) OnDrain(fn func()) stream.Subscription {
	return a.drain.On(func(struct{}) { fn() })
}

func (a *Adapter) Stats() Stats {
	return a.stats.snapshot(a.id)
}

func (a *Adapter) IsClosing() bool {
	return a.closed || !a.stream.Readable() || !a.stream.Writable()
}

func (a *Adapter) onStreamError(err error) {
	a.stats.failed.Add(1)
	metrics.ObserveError("stream")
	a.emitError(err)
}

func (a *Adapter) emitError(err error) {
	if a.errs.Emit(err) == 0 {
		a.log.Errorf("[wrap.Adapter] %d unhandled error. %+v", a.id, err)
	}
}

func (a *Adapter) onStreamDrain() {
	a.awaitingDrain = false
	a.drain.Emit(struct{}{})
}

func (a *Adapter) onData(chunk any) {
	if a.badShape {
		return
	}

	buf, ok := chunk.([]byte)
	if !ok || a.stream.ObjectMode() {
		a.badShape = true
		a.stream.Pause()
		a.dataSub.Cancel()

		a.log.Errorf("[wrap.Adapter] %d stream emitted %s, reading stopped", a.id, describe(chunk))
		a.stats.failed.Add(1)
		metrics.ObserveError("stream_wrap")
		a.emitError(ErrStreamWrap)

		return
	}

	a.stats.bytesIn.Add(uint64(len(buf)))

	if a.handle != nil {
		a.handle.recv.OnRead(buf)
	}
}

func (a *Adapter) onEnd() {
	if a.eof {
		return
	}

	a.eof = true

	if a.handle != nil {
		a.handle.recv.OnEOF()
	}
}

func (a *Adapter) readStart() errcode.Code {
	if !a.badShape {
		a.stream.Resume()
	}

	return errcode.OK
}

func (a *Adapter) readStop() errcode.Code {
	a.stream.Pause()
	return errcode.OK
}

func (a *Adapter) write(req *WriteRequest, bufs [][]byte) errcode.Code {
	if req == nil {
		violate("nil write request")
	}

	if a.closed {
		return errcode.EBADF
	}

	if a.pendingWrite != nil {
		violate("write issued while another write is pending. adapter=%d", a.id)
	}

	if a.pendingShutdown != nil {
		violate("write issued while a shutdown is pending. adapter=%d", a.id)
	}

	req.issue()

	op := &writeOp{req: req, pending: len(bufs)}
	for _, b := range bufs {
		op.size += len(b)
	}

	a.pendingWrite = op
	a.stats.writes.Add(1)

	if len(bufs) == 0 {
		a.settleWrite(op, nil)
		return errcode.OK
	}

	// A drain seen before every segment settled means the stream already
	// recovered from this write's backpressure.
	op.drainSub = a.stream.OnceDrain(func() {
		op.waitDrain = false
	})

	a.stream.Cork()

	for _, b := range bufs {
		if !a.stream.Write(b, func(err error) { a.onSegment(op, err) }) {
			op.waitDrain = true
		}
	}

	a.stream.Uncork()

	return errcode.OK
}

func (a *Adapter) onSegment(op *writeOp, err error) {
	if op.settled {
		return
	}

	if err == nil {
		op.pending--
		if op.pending > 0 {
			return
		}
	}

	a.settleWrite(op, err)
}

// settleWrite runs once per write, on the first segment error or after the
// last segment. Delivery happens on the next tick.
func (a *Adapter) settleWrite(op *writeOp, err error) {
	op.settled = true
	op.pending = 0

	if op.drainSub != nil {
		op.drainSub.Cancel()
	}

	if op.waitDrain && a.pendingWrite == op {
		a.awaitingDrain = true
		a.stats.backpressure.Add(1)
		metrics.ObserveBackpressure()
	}

	code := errcode.FromError(err)
	if err != nil {
		a.log.Debugf("[wrap.Adapter] %d write failed with %s. %+v", a.id, code, err)
	}

	a.sched.Post(func() {
		a.deliverWrite(op, code)
	})
}

func (a *Adapter) deliverWrite(op *writeOp, code errcode.Code) {
	// cancelled by close
	if a.pendingWrite != op {
		return
	}

	a.pendingWrite = nil
	a.completeWrite(op, code)

	if a.pendingShutdown == nil || a.shutdownDispatched {
		return
	}

	if a.awaitingDrain {
		a.waitDrainForShutdown()
		return
	}

	a.dispatchShutdown()
}

func (a *Adapter) completeWrite(op *writeOp, code errcode.Code) {
	switch code {
	case errcode.OK:
		a.stats.bytesOut.Add(uint64(op.size))
	case errcode.ECANCELED:
		a.stats.cancelled.Add(1)
	}

	metrics.ObserveRequest(metrics.OpWrite, code)
	op.req.complete(code)
}

func (a *Adapter) shutdown(req *ShutdownRequest) errcode.Code {
	if req == nil {
		violate("nil shutdown request")
	}

	if a.closed {
		return errcode.EBADF
	}

	if a.pendingShutdown != nil {
		violate("shutdown issued while another shutdown is pending. adapter=%d", a.id)
	}

	req.issue()

	a.pendingShutdown = req
	a.stats.shutdowns.Add(1)

	switch {
	case a.pendingWrite == nil:
		a.dispatchShutdown()
	case a.awaitingDrain:
		a.waitDrainForShutdown()
	}

	return errcode.OK
}

// waitDrainForShutdown dispatches the pending shutdown on the next drain,
// unless a write is still pending then: its delivery dispatches instead.
func (a *Adapter) waitDrainForShutdown() {
	if a.shutdownDrainSub != nil {
		return
	}

	a.shutdownDrainSub = a.drain.Once(func(struct{}) {
		a.shutdownDrainSub = nil

		if a.pendingWrite == nil {
			a.dispatchShutdown()
		}
	})
}

func (a *Adapter) cancelShutdownDrain() {
	if a.shutdownDrainSub != nil {
		a.shutdownDrainSub.Cancel()
		a.shutdownDrainSub = nil
	}
}

func (a *Adapter) dispatchShutdown() {
	if a.pendingShutdown == nil || a.shutdownDispatched || a.pendingWrite != nil || a.closed {
		return
	}

	a.cancelShutdownDrain()
	a.shutdownDispatched = true

	req := a.pendingShutdown

	a.sched.Post(func() {
		a.stream.End(func() {
			a.sched.Post(func() {
				a.finishShutdown(req, errcode.OK)
			})
		})
	})
}

func (a *Adapter) finishShutdown(req *ShutdownRequest, code errcode.Code) {
	// cancelled by close
	if a.pendingShutdown != req {
		return
	}

	a.pendingShutdown = nil
	a.shutdownDispatched = false

	if code == errcode.ECANCELED {
		a.stats.cancelled.Add(1)
	}

	metrics.ObserveRequest(metrics.OpShutdown, code)
	req.complete(code)
}

func (a *Adapter) close(onDone func()) {
	a.handle = nil

	if !a.closed {
		a.closed = true
		a.stats.closed.Store(true)
		a.cancelShutdownDrain()

		if op := a.pendingWrite; op != nil && op.drainSub != nil {
			op.drainSub.Cancel()
		}

		if a.registry != nil {
			a.registry.Del(a.id)
		}

		metrics.AdapterClosed()
	}

	a.sched.Post(func() {
		if op := a.pendingWrite; op != nil {
			a.pendingWrite = nil
			a.completeWrite(op, errcode.ECANCELED)
		}

		if req := a.pendingShutdown; req != nil {
			a.finishShutdown(req, errcode.ECANCELED)
		}

		if onDone != nil {
			onDone()
		}
	})
}
