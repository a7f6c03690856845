package stream

import (
	"slices"

	"github.com/go-pantheon/fabrica-stream/loop"
)

const defaultHighWaterMark = 16 * 1024

var _ Duplex = (*PipeEnd)(nil)

type pendingWrite struct {
	buf []byte
	cb  func(err error)
}

// PipeEnd is one side of an in-memory duplex pair. Bytes written to one end
// are emitted as data by the other. A write completes once the peer has
// delivered it, so a paused peer builds backpressure.
type PipeEnd struct {
	*Base

	sched loop.Scheduler
	peer  *PipeEnd
	hwm   int

	writable  bool
	buffered  int
	needDrain bool
	corked    int
	corkq     []pendingWrite
	ending    bool
	finished  bool
	endCbs    []func()
}

// Pipe returns two connected ends sharing sched. A highWaterMark <= 0 uses
// the default of 16KiB.
func Pipe(sched loop.Scheduler, highWaterMark int) (*PipeEnd, *PipeEnd) {
	if highWaterMark <= 0 {
		highWaterMark = defaultHighWaterMark
	}

	a := newPipeEnd(sched, highWaterMark)
	b := newPipeEnd(sched, highWaterMark)
	a.peer, b.peer = b, a

	return a, b
}

func newPipeEnd(sched loop.Scheduler, hwm int) *PipeEnd {
	return &PipeEnd{
		Base:     NewBase(sched),
		sched:    sched,
		hwm:      hwm,
		writable: true,
	}
}

func (p *PipeEnd) Writable() bool {
	return p.writable && !p.destroyed
}

// Buffered is the number of written bytes the peer has not delivered yet.
func (p *PipeEnd) Buffered() int {
	return p.buffered
}

func (p *PipeEnd) HighWaterMark() int {
	return p.hwm
}

func (p *PipeEnd) Write(chunk []byte, cb func(err error)) bool {
	if !p.Writable() {
		p.sched.Post(func() {
			if cb != nil {
				cb(ErrWriteAfterEnd)
			}
		})

		return false
	}

	w := pendingWrite{buf: slices.Clone(chunk), cb: cb}
	p.buffered += len(w.buf)

	if p.corked > 0 {
		p.corkq = append(p.corkq, w)
	} else {
		p.transmit(w)
	}

	ok := p.buffered < p.hwm
	if !ok {
		p.needDrain = true
	}

	return ok
}

func (p *PipeEnd) transmit(w pendingWrite) {
	p.sched.Post(func() {
		p.peer.PushWith(w.buf, func(err error) {
			p.sched.Post(func() {
				p.afterWrite(w, err)
			})
		})
	})
}

func (p *PipeEnd) afterWrite(w pendingWrite, err error) {
	p.buffered -= len(w.buf)

	if w.cb != nil {
		w.cb(err)
	}

	if p.needDrain && p.buffered == 0 && !p.destroyed {
		p.needDrain = false
		p.EmitDrain()
	}

	p.maybeFinish()
}

func (p *PipeEnd) Cork() {
	p.corked++
}

func (p *PipeEnd) Uncork() {
	if p.corked == 0 {
		return
	}

	p.corked--

	if p.corked == 0 {
		p.flushCork()
	}
}

func (p *PipeEnd) flushCork() {
	q := p.corkq
	p.corkq = nil

	for _, w := range q {
		p.transmit(w)
	}
}

func (p *PipeEnd) End(cb func()) {
	if cb != nil {
		if p.finished {
			p.sched.Post(cb)
			return
		}

		p.endCbs = append(p.endCbs, cb)
	}

	if p.ending {
		return
	}

	p.ending = true
	p.writable = false
	p.corked = 0
	p.flushCork()

	p.sched.Post(p.maybeFinish)
}

func (p *PipeEnd) maybeFinish() {
	if !p.ending || p.finished || p.buffered > 0 {
		return
	}

	p.finished = true
	p.peer.PushEnd()

	cbs := p.endCbs
	p.endCbs = nil

	for _, cb := range cbs {
		cb()
	}
}

// Destroy tears down this end and ends the peer's readable side. Chunks the
// peer wrote but this end did not deliver complete with ErrDestroyed, so do
// corked writes of this end. Waiting End callbacks run on the next tick.
func (p *PipeEnd) Destroy(err error) {
	if p.destroyed {
		return
	}

	p.writable = false
	p.destroyRead()

	q := p.corkq
	p.corkq = nil
	p.corked = 0

	for _, w := range q {
		p.sched.Post(func() {
			p.afterWrite(w, ErrDestroyed)
		})
	}

	if !p.finished {
		p.finished = true
		p.peer.PushEnd()
	}

	cbs := p.endCbs
	p.endCbs = nil

	for _, cb := range cbs {
		p.sched.Post(cb)
	}

	if err != nil {
		p.EmitError(err)
	}
}
