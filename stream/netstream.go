package stream

import (
	"context"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-stream/internal/bufpool"
	"github.com/go-pantheon/fabrica-stream/internal/metrics"
	"github.com/go-pantheon/fabrica-stream/internal/util"
	"github.com/go-pantheon/fabrica-stream/loop"
	"github.com/go-pantheon/fabrica-util/errors"
	"github.com/go-pantheon/fabrica-util/xsync"
	"golang.org/x/sync/errgroup"
)

var ErrStreamStarted = errors.New("stream already started")

var streamID atomic.Uint64

// WriteHalfCloser is implemented by connections that can close their write
// side while reads continue, like *net.TCPConn.
type WriteHalfCloser interface {
	CloseWrite() error
}

var _ Duplex = (*NetStream)(nil)

type outItem struct {
	buf []byte
	cb  func(err error)
	end bool
}

// NetStream is a Duplex over a net.Conn. A read pump and a write pump run on
// their own goroutines and hand every result back to the scheduler, so the
// stream itself stays loop-confined.
type NetStream struct {
	*Base

	id    uint64
	sched loop.Scheduler
	conn  net.Conn
	conf  conf.Stream
	log   *log.Helper

	started atomic.Bool
	cancel  context.CancelFunc
	gate    *gate

	outMu   sync.Mutex
	outq    []outItem
	outWake chan struct{}

	writable      bool
	buffered      int
	needDrain     bool
	corked        int
	corkq         []outItem
	ending        bool
	finished      bool
	readEOF       bool
	endCbs        []func()
	torndown      bool
	closeWriteErr error
}

type NetStreamOption func(s *NetStream)

func WithLogger(logger log.Logger) NetStreamOption {
	return func(s *NetStream) {
		s.log = log.NewHelper(logger)
	}
}

func NewNetStream(sched loop.Scheduler, conn net.Conn, c conf.Stream, opts ...NetStreamOption) *NetStream {
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = defaultHighWaterMark
	}

	if c.ReadBufSize <= 0 {
		c.ReadBufSize = conf.Default().Stream.ReadBufSize
	}

	s := &NetStream{
		Base:     NewBase(sched),
		id:       streamID.Add(1),
		sched:    sched,
		conn:     conn,
		conf:     c,
		log:      log.NewHelper(log.DefaultLogger),
		gate:     newGate(),
		outWake:  make(chan struct{}, 1),
		writable: true,
		cancel:   func() {},
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// Start launches the pumps. The stream stays paused until Resume.
func (s *NetStream) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrStreamStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	xsync.Go(fmt.Sprintf("stream.NetStream.run-%d", s.id), func() error {
		err := s.run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debugf("[stream.NetStream] %d pumps stopped. %+v", s.id, err)
		}

		return nil
	})

	return nil
}

func (s *NetStream) run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	util.CloseOnCancel(ctx, s.conn, fmt.Sprintf("stream=%d", s.id))

	eg.Go(func() error {
		return xsync.Run(func() error {
			return s.readLoop(ctx)
		})
	})
	eg.Go(func() error {
		return xsync.Run(func() error {
			return s.writeLoop(ctx)
		})
	})

	return eg.Wait()
}

func (s *NetStream) readLoop(ctx context.Context) error {
	buf := bufpool.Alloc(s.conf.ReadBufSize)
	defer bufpool.Free(buf)

	for {
		if err := s.gate.wait(ctx); err != nil {
			return err
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := slices.Clone(buf[:n])
			metrics.ObserveBytes(metrics.DirectionIn, n)

			s.sched.Post(func() {
				s.Push(chunk)
			})
		}

		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			s.sched.Post(s.onReadEOF)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.sched.Post(func() {
			s.fail(errors.Wrapf(err, "read failed. stream=%d", s.id))
		})

		return err
	}
}

func (s *NetStream) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.outWake:
		}

		batches := splitBatches(s.takeOut())

		for i, batch := range batches {
			if batch.end {
				err := s.closeWrite()
				s.sched.Post(func() {
					s.onFinish(err)
				})

				continue
			}

			if err := s.writeBatch(batch.items); err != nil {
				rest := flatten(batches[i+1:])
				werr := errors.Wrapf(err, "write failed. stream=%d", s.id)

				s.sched.Post(func() {
					s.failPending(append(rest, s.takeOut()...), werr)
					s.fail(werr)
				})

				return err
			}
		}
	}
}

func flatten(batches []batch) []outItem {
	var items []outItem

	for _, b := range batches {
		if b.end {
			items = append(items, outItem{end: true})
			continue
		}

		items = append(items, b.items...)
	}

	return items
}

// failPending completes writes that will never reach the connection.
func (s *NetStream) failPending(items []outItem, err error) {
	for _, it := range items {
		if it.end {
			continue
		}

		s.afterWrite(it, err)
	}
}

type batch struct {
	items []outItem
	end   bool
}

// splitBatches groups consecutive data items so they go out in one writev.
func splitBatches(items []outItem) []batch {
	var (
		batches []batch
		cur     []outItem
	)

	for _, it := range items {
		if it.end {
			if len(cur) > 0 {
				batches = append(batches, batch{items: cur})
				cur = nil
			}

			batches = append(batches, batch{end: true})

			continue
		}

		cur = append(cur, it)
	}

	if len(cur) > 0 {
		batches = append(batches, batch{items: cur})
	}

	return batches
}

func (s *NetStream) writeBatch(items []outItem) error {
	bufs := make(net.Buffers, 0, len(items))
	total := 0

	for _, it := range items {
		bufs = append(bufs, it.buf)
		total += len(it.buf)
	}

	_, err := bufs.WriteTo(s.conn)
	if err == nil {
		metrics.ObserveBytes(metrics.DirectionOut, total)
	}

	s.sched.Post(func() {
		for _, it := range items {
			s.afterWrite(it, err)
		}
	})

	return err
}

func (s *NetStream) closeWrite() error {
	if hc, ok := s.conn.(WriteHalfCloser); ok {
		if err := hc.CloseWrite(); err != nil {
			return errors.Wrapf(err, "close write failed. stream=%d", s.id)
		}
	}

	return nil
}

func (s *NetStream) takeOut() []outItem {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	items := s.outq
	s.outq = nil

	return items
}

func (s *NetStream) enqueue(items ...outItem) {
	s.outMu.Lock()
	s.outq = append(s.outq, items...)
	s.outMu.Unlock()

	select {
	case s.outWake <- struct{}{}:
	default:
	}
}

func (s *NetStream) Conn() net.Conn {
	return s.conn
}

func (s *NetStream) ID() uint64 {
	return s.id
}

func (s *NetStream) Writable() bool {
	return s.writable && !s.destroyed
}

func (s *NetStream) Pause() {
	s.Base.Pause()
	s.gate.close()
}

func (s *NetStream) Resume() {
	s.Base.Resume()
	s.gate.open()
}

func (s *NetStream) Write(chunk []byte, cb func(err error)) bool {
	if !s.Writable() {
		s.sched.Post(func() {
			if cb != nil {
				cb(ErrWriteAfterEnd)
			}
		})

		return false
	}

	it := outItem{buf: slices.Clone(chunk), cb: cb}
	s.buffered += len(it.buf)

	if s.corked > 0 {
		s.corkq = append(s.corkq, it)
	} else {
		s.enqueue(it)
	}

	ok := s.buffered < s.conf.HighWaterMark
	if !ok {
		s.needDrain = true
	}

	return ok
}

func (s *NetStream) afterWrite(it outItem, err error) {
	s.buffered -= len(it.buf)

	if it.cb != nil {
		it.cb(err)
	}

	if err == nil && s.needDrain && s.buffered == 0 && !s.destroyed {
		s.needDrain = false
		s.EmitDrain()
	}
}

func (s *NetStream) Cork() {
	s.corked++
}

func (s *NetStream) Uncork() {
	if s.corked == 0 {
		return
	}

	s.corked--

	if s.corked == 0 && len(s.corkq) > 0 {
		q := s.corkq
		s.corkq = nil
		s.enqueue(q...)
	}
}

// End flushes queued writes and closes the write side. On a destroyed stream
// cb runs on the next tick.
func (s *NetStream) End(cb func()) {
	if cb != nil {
		if s.finished || s.destroyed {
			s.sched.Post(cb)
			return
		}

		s.endCbs = append(s.endCbs, cb)
	}

	if s.ending || s.destroyed {
		return
	}

	s.ending = true
	s.writable = false
	s.corked = 0

	q := s.corkq
	s.corkq = nil
	s.enqueue(append(q, outItem{end: true})...)
}

func (s *NetStream) onFinish(err error) {
	s.finished = true
	s.closeWriteErr = err

	if err != nil {
		metrics.ObserveError("close_write")
		s.log.Warnf("[stream.NetStream] %d %+v", s.id, err)
	}

	cbs := s.endCbs
	s.endCbs = nil

	for _, cb := range cbs {
		cb()
	}

	s.maybeTeardown()
}

func (s *NetStream) onReadEOF() {
	s.readEOF = true
	s.PushEnd()
	s.maybeTeardown()
}

// maybeTeardown releases the connection once both directions are done.
func (s *NetStream) maybeTeardown() {
	if s.readEOF && s.finished && !s.torndown {
		s.torndown = true
		s.cancel()
	}
}

func (s *NetStream) fail(err error) {
	if s.destroyed {
		return
	}

	metrics.ObserveError("stream")
	s.Destroy(err)
}

// Destroy closes the connection and stops the pumps. Queued writes that did
// not reach the connection complete with ErrDestroyed and waiting End
// callbacks run on the next tick.
func (s *NetStream) Destroy(err error) {
	if s.destroyed {
		return
	}

	s.writable = false
	s.destroyRead()
	s.torndown = true

	pending := append(s.corkq, s.takeOut()...)
	s.corkq = nil
	s.failPending(pending, ErrDestroyed)
	s.releaseEnd()
	s.cancel()
	s.gate.open()

	if !s.started.Load() {
		if closeErr := s.conn.Close(); closeErr != nil {
			s.log.Debugf("[stream.NetStream] %d close failed. %+v", s.id, closeErr)
		}
	}

	if err != nil {
		s.EmitError(err)
	}
}

// releaseEnd settles End callbacks the write pump will never reach.
func (s *NetStream) releaseEnd() {
	s.finished = true

	cbs := s.endCbs
	s.endCbs = nil

	for _, cb := range cbs {
		s.sched.Post(cb)
	}
}

// gate blocks the read pump while the stream is paused.
type gate struct {
	mu     sync.Mutex
	opened bool
	ch     chan struct{}
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

func (g *gate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.opened {
		g.opened = true
		close(g.ch)
	}
}

func (g *gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.opened {
		g.opened = false
		g.ch = make(chan struct{})
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
