// Package socket exposes a wrapped stream as a blocking net.Conn, so crypto/tls,
// smux and anything else written against net.Conn can run over any
// stream.Duplex.
//
// Conn methods may be called from any goroutine. They hand the work to the
// loop that owns the adapter and wait for the completion.
package socket

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-stream/errcode"
	"github.com/go-pantheon/fabrica-stream/loop"
	"github.com/go-pantheon/fabrica-stream/stream"
	"github.com/go-pantheon/fabrica-stream/wrap"
	"github.com/go-pantheon/fabrica-util/errors"
)

var ErrWriteShutdown = errors.New("write side is shut down")

var (
	_ net.Conn               = (*Conn)(nil)
	_ stream.WriteHalfCloser = (*Conn)(nil)
	_ wrap.Receiver          = (*receiver)(nil)
)

// Addr names a stream that has no network address.
type Addr string

func (a Addr) Network() string {
	return "stream"
}

func (a Addr) String() string {
	return string(a)
}

type Conn struct {
	sched loop.Scheduler
	a     *wrap.Adapter
	h     wrap.Handle
	log   *log.Helper
	limit int

	localAddr  net.Addr
	remoteAddr net.Addr

	mu          sync.Mutex
	rq          [][]byte
	rsize       int
	rerr        error
	werr        error
	readStopped bool
	readable    chan struct{}

	wmu      sync.Mutex
	wshut    bool
	inflight chan errcode.Code

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}

	readDeadline  *deadline
	writeDeadline *deadline
}

type receiver struct {
	c *Conn
}

// New wraps s and starts reading. It must run on the loop of sched.
func New(sched loop.Scheduler, s stream.Duplex, c conf.Socket, opts ...Option) *Conn {
	o := NewOptions(opts...)

	if c.ReadBufferLimit <= 0 {
		c.ReadBufferLimit = conf.Default().Socket.ReadBufferLimit
	}

	conn := &Conn{
		sched:         sched,
		log:           log.NewHelper(o.logger),
		limit:         c.ReadBufferLimit,
		readable:      make(chan struct{}, 1),
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
		readDeadline:  newDeadline(),
		writeDeadline: newDeadline(),
	}

	conn.a = wrap.New(sched, s, &receiver{c: conn}, o.wrapOptions()...)
	conn.h = conn.a.Handle()
	conn.localAddr, conn.remoteAddr = addrs(conn.a, o)

	conn.a.OnError(conn.onError)
	conn.h.ReadStart()

	return conn
}

// Open is New for callers outside the loop.
func Open(ctx context.Context, sched loop.Scheduler, s stream.Duplex, c conf.Socket, opts ...Option) (*Conn, error) {
	ch := make(chan *Conn, 1)

	sched.Post(func() {
		ch <- New(sched, s, c, opts...)
	})

	select {
	case conn := <-ch:
		return conn, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "open socket failed")
	}
}

func addrs(a *wrap.Adapter, o *Options) (local, remote net.Addr) {
	local, remote = o.localAddr, o.remoteAddr

	if nc, ok := a.Stream().(interface{ Conn() net.Conn }); ok {
		if local == nil {
			local = nc.Conn().LocalAddr()
		}

		if remote == nil {
			remote = nc.Conn().RemoteAddr()
		}
	}

	if local == nil {
		local = Addr(fmt.Sprintf("adapter-%d", a.ID()))
	}

	if remote == nil {
		remote = Addr(fmt.Sprintf("adapter-%d-peer", a.ID()))
	}

	return local, remote
}

func (c *Conn) Adapter() *wrap.Adapter {
	return c.a
}

// Done is closed once Close has resolved every pending request.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (r *receiver) OnRead(buf []byte) {
	c := r.c

	c.mu.Lock()
	c.rq = append(c.rq, buf)
	c.rsize += len(buf)
	stop := c.rsize >= c.limit && !c.readStopped

	if stop {
		c.readStopped = true
	}
	c.mu.Unlock()

	if stop {
		c.h.ReadStop()
	}

	c.notify()
}

func (r *receiver) OnEOF() {
	r.c.mu.Lock()
	if r.c.rerr == nil {
		r.c.rerr = io.EOF
	}
	r.c.mu.Unlock()

	r.c.notify()
}

func (c *Conn) onError(err error) {
	c.log.Debugf("[socket.Conn] adapter %d failed. %+v", c.a.ID(), err)

	c.mu.Lock()
	if c.rerr == nil {
		c.rerr = err
	}

	if c.werr == nil {
		c.werr = err
	}
	c.mu.Unlock()

	c.notify()
}

func (c *Conn) notify() {
	select {
	case c.readable <- struct{}{}:
	default:
	}
}

func (c *Conn) Read(p []byte) (int, error) {
	for {
		if isClosed(c.closing) {
			return 0, net.ErrClosed
		}

		if n, ok, err := c.tryRead(p); ok {
			return n, err
		}

		select {
		case <-c.readable:
		case <-c.closing:
			return 0, net.ErrClosed
		case <-c.readDeadline.wait():
			return 0, os.ErrDeadlineExceeded
		}
	}
}

func (c *Conn) tryRead(p []byte) (n int, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.rq) == 0 {
		if c.rerr != nil {
			return 0, true, c.rerr
		}

		return 0, len(p) == 0, nil
	}

	for len(c.rq) > 0 && n < len(p) {
		m := copy(p[n:], c.rq[0])
		n += m

		if m == len(c.rq[0]) {
			c.rq[0] = nil
			c.rq = c.rq[1:]
		} else {
			c.rq[0] = c.rq[0][m:]
		}
	}

	c.rsize -= n

	if len(c.rq) > 0 || c.rerr != nil {
		c.notify()
	}

	if c.readStopped && c.rsize <= c.limit/2 {
		c.readStopped = false
		c.sched.Post(func() {
			c.h.ReadStart()
		})
	}

	return n, true, nil
}

// Write blocks until the adapter completed the write. After a write deadline
// expires the write may still complete; the next Write waits for it first.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.writeState(); err != nil {
		return 0, err
	}

	if len(p) == 0 {
		return 0, nil
	}

	if c.inflight != nil {
		code, err := c.await(c.inflight)
		if err != nil {
			return 0, err
		}

		c.inflight = nil

		if !code.OK() {
			return 0, opError("write", code)
		}
	}

	buf := make([]byte, len(p))
	copy(buf, p)

	ch := make(chan errcode.Code, 1)

	c.sched.Post(func() {
		req := wrap.NewWriteRequest(func(code errcode.Code) {
			ch <- code
		})

		if code := c.h.Write(req, [][]byte{buf}); !code.OK() {
			ch <- code
		}
	})

	code, err := c.await(ch)
	if err != nil {
		c.inflight = ch
		return 0, err
	}

	if !code.OK() {
		return 0, opError("write", code)
	}

	return len(p), nil
}

func (c *Conn) writeState() error {
	if isClosed(c.closing) {
		return net.ErrClosed
	}

	if c.wshut {
		return ErrWriteShutdown
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.werr != nil {
		return errors.Wrapf(c.werr, "write failed")
	}

	return nil
}

func (c *Conn) await(ch <-chan errcode.Code) (errcode.Code, error) {
	select {
	case code := <-ch:
		return code, nil
	case <-c.closing:
		return errcode.ECANCELED, net.ErrClosed
	case <-c.writeDeadline.wait():
		return errcode.ETIMEDOUT, os.ErrDeadlineExceeded
	}
}

// CloseWrite shuts the write side down once pending writes completed. Reads
// continue until the peer ends its side.
func (c *Conn) CloseWrite() error {
	c.wmu.Lock()

	if isClosed(c.closing) {
		c.wmu.Unlock()
		return net.ErrClosed
	}

	if c.wshut {
		c.wmu.Unlock()
		return nil
	}

	c.wshut = true

	ch := make(chan errcode.Code, 1)

	c.sched.Post(func() {
		req := wrap.NewShutdownRequest(func(code errcode.Code) {
			ch <- code
		})

		if code := c.h.Shutdown(req); !code.OK() {
			ch <- code
		}
	})

	c.wmu.Unlock()

	select {
	case code := <-ch:
		if !code.OK() {
			return opError("shutdown", code)
		}

		return nil
	case <-c.closing:
		return net.ErrClosed
	}
}

// Close closes the handle and destroys the stream. Pending requests complete
// with errcode.ECANCELED; Done is closed after that.
func (c *Conn) Close() error {
	err := net.ErrClosed

	c.closeOnce.Do(func() {
		err = nil
		close(c.closing)

		c.sched.Post(func() {
			c.h.Close(func() {
				c.a.Stream().Destroy(nil)
				close(c.done)
			})
		})
	})

	return err
}

func (c *Conn) LocalAddr() net.Addr {
	return c.localAddr
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

func (c *Conn) SetDeadline(t time.Time) error {
	if isClosed(c.closing) {
		return net.ErrClosed
	}

	c.readDeadline.set(t)
	c.writeDeadline.set(t)

	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	if isClosed(c.closing) {
		return net.ErrClosed
	}

	c.readDeadline.set(t)

	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	if isClosed(c.closing) {
		return net.ErrClosed
	}

	c.writeDeadline.set(t)

	return nil
}

func opError(op string, code errcode.Code) error {
	return &net.OpError{Op: op, Net: "stream", Err: code.Err()}
}
