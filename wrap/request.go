package wrap

import (
	"github.com/go-pantheon/fabrica-stream/errcode"
)

// WriteRequest is the token of one write. Its callback runs exactly once, on
// the loop, with the write's status.
type WriteRequest struct {
	onDone func(code errcode.Code)

	issued bool
	done   bool
	code   errcode.Code
}

func NewWriteRequest(onDone func(code errcode.Code)) *WriteRequest {
	return &WriteRequest{onDone: onDone}
}

// Done reports whether the request has been completed.
func (r *WriteRequest) Done() bool {
	return r.done
}

// Code is the completion status, OK until Done.
func (r *WriteRequest) Code() errcode.Code {
	return r.code
}

func (r *WriteRequest) issue() {
	if r.issued {
		violate("write request issued twice")
	}

	r.issued = true
}

func (r *WriteRequest) complete(code errcode.Code) bool {
	if r.done {
		return false
	}

	r.done = true
	r.code = code

	if r.onDone != nil {
		r.onDone(code)
	}

	return true
}

// ShutdownRequest is the token of one shutdown.
type ShutdownRequest struct {
	onDone func(code errcode.Code)

	issued bool
	done   bool
	code   errcode.Code
}

func NewShutdownRequest(onDone func(code errcode.Code)) *ShutdownRequest {
	return &ShutdownRequest{onDone: onDone}
}

func (r *ShutdownRequest) Done() bool {
	return r.done
}

func (r *ShutdownRequest) Code() errcode.Code {
	return r.code
}

func (r *ShutdownRequest) issue() {
	if r.issued {
		violate("shutdown request issued twice")
	}

	r.issued = true
}

func (r *ShutdownRequest) complete(code errcode.Code) bool {
	if r.done {
		return false
	}

	r.done = true
	r.code = code

	if r.onDone != nil {
		r.onDone(code)
	}

	return true
}
