package wrap

import (
	"testing"

	"github.com/go-pantheon/fabrica-stream/errcode"
	"github.com/go-pantheon/fabrica-stream/loop"
	"github.com/go-pantheon/fabrica-stream/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ stream.Duplex = (*fakeStream)(nil)

type fakeWrite struct {
	buf []byte
	cb  func(err error)
}

// fakeStream is a Duplex whose write completions, drain and end are fired by
// the test.
type fakeStream struct {
	*stream.Base

	hwm      int
	writable bool
	buffered int
	corked   int
	writes   []fakeWrite
	ended    bool
	endCb    func()
	log      *[]string
}

func newFakeStream(sched loop.Scheduler, hwm int, log *[]string) *fakeStream {
	return &fakeStream{
		Base:     stream.NewBase(sched),
		hwm:      hwm,
		writable: true,
		log:      log,
	}
}

func (f *fakeStream) Writable() bool {
	return f.writable
}

func (f *fakeStream) Cork() {
	f.corked++
}

func (f *fakeStream) Uncork() {
	f.corked--
}

func (f *fakeStream) Write(chunk []byte, cb func(err error)) bool {
	f.writes = append(f.writes, fakeWrite{buf: chunk, cb: cb})
	f.buffered += len(chunk)

	return f.buffered < f.hwm
}

func (f *fakeStream) End(cb func()) {
	f.ended = true
	f.writable = false
	f.endCb = cb

	if f.log != nil {
		*f.log = append(*f.log, "end")
	}
}

func (f *fakeStream) Destroy(error) {}

func (f *fakeStream) settle(i int, err error) {
	w := f.writes[i]
	f.buffered -= len(w.buf)
	w.cb(err)
}

func (f *fakeStream) finishEnd() {
	f.endCb()
}

type recorder struct {
	events []string
}

func (r *recorder) add(event string) {
	r.events = append(r.events, event)
}

func (r *recorder) write(name string) *WriteRequest {
	return NewWriteRequest(func(code errcode.Code) {
		r.add(name + ":" + code.Name())
	})
}

func (r *recorder) shutdown(name string) *ShutdownRequest {
	return NewShutdownRequest(func(code errcode.Code) {
		r.add(name + ":" + code.Name())
	})
}

type fixture struct {
	m    *loop.Manual
	f    *fakeStream
	a    *Adapter
	h    Handle
	rec  *recorder
	read []byte
	eofs int
}

func newFixture(t *testing.T, hwm int, opts ...Option) *fixture {
	t.Helper()

	x := &fixture{
		m:   loop.NewManual(),
		rec: &recorder{},
	}

	x.f = newFakeStream(x.m, hwm, &x.rec.events)
	x.a = New(x.m, x.f, ReceiverFuncs{
		Read: func(buf []byte) { x.read = append(x.read, buf...) },
		EOF:  func() { x.eofs++ },
	}, opts...)
	x.h = x.a.Handle()

	require.True(t, x.f.IsPaused())

	return x
}

func requireViolation(t *testing.T, fn func()) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a contract violation")

		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrContractViolation)
	}()

	fn()
}
