package wrap

import (
	"github.com/go-pantheon/fabrica-stream/errcode"
)

// Handle is the fixed operation set a protocol layer drives. Calls return
// errcode.OK once accepted; results of Write and Shutdown arrive later through
// the request callbacks, never inside the call that issued them.
//
// A Handle is confined to the loop of its Adapter.
type Handle interface {
	// Close tears the handle down. Pending requests complete with
	// errcode.ECANCELED before onDone runs.
	Close(onDone func())
	// IsClosing reports whether the stream is no longer both readable and
	// writable, or the handle was closed.
	IsClosing() bool
	ReadStart() errcode.Code
	ReadStop() errcode.Code
	// Write issues bufs as one request. Issuing it while another write or a
	// shutdown is pending panics with ErrContractViolation.
	Write(req *WriteRequest, bufs [][]byte) errcode.Code
	// Shutdown ends the write side once the pending write, if any, has
	// completed. A second shutdown while one is pending panics.
	Shutdown(req *ShutdownRequest) errcode.Code
}

// Receiver consumes what the handle reads from the stream.
type Receiver interface {
	OnRead(buf []byte)
	OnEOF()
}

var _ Handle = (*handle)(nil)

type handle struct {
	a    *Adapter
	recv Receiver
}

func (h *handle) Close(onDone func()) {
	h.a.close(onDone)
}

func (h *handle) IsClosing() bool {
	return h.a.IsClosing()
}

func (h *handle) ReadStart() errcode.Code {
	return h.a.readStart()
}

func (h *handle) ReadStop() errcode.Code {
	return h.a.readStop()
}

func (h *handle) Write(req *WriteRequest, bufs [][]byte) errcode.Code {
	return h.a.write(req, bufs)
}

func (h *handle) Shutdown(req *ShutdownRequest) errcode.Code {
	return h.a.shutdown(req)
}

// ReceiverFuncs adapts two functions to a Receiver.
type ReceiverFuncs struct {
	Read func(buf []byte)
	EOF  func()
}

var _ Receiver = ReceiverFuncs{}

func (r ReceiverFuncs) OnRead(buf []byte) {
	if r.Read != nil {
		r.Read(buf)
	}
}

func (r ReceiverFuncs) OnEOF() {
	if r.EOF != nil {
		r.EOF()
	}
}
