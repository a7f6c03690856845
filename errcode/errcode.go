// Package errcode is the numeric status space reported by handle operations
// and request completions. Zero is success, failures are negative errno-style
// values using the Linux numbering on every platform.
package errcode

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/go-pantheon/fabrica-util/errors"
)

type Code int

const (
	OK           Code = 0
	EBADF        Code = -9
	EAGAIN       Code = -11
	ENOMEM       Code = -12
	EINVAL       Code = -22
	EPIPE        Code = -32
	EPROTO       Code = -71
	ECONNABORTED Code = -103
	ECONNRESET   Code = -104
	ENOBUFS      Code = -105
	ENOTCONN     Code = -107
	ETIMEDOUT    Code = -110
	ECONNREFUSED Code = -111
	ECANCELED    Code = -125
	EOF          Code = -4095
)

var names = map[Code]string{
	OK:           "OK",
	EBADF:        "EBADF",
	EAGAIN:       "EAGAIN",
	ENOMEM:       "ENOMEM",
	EINVAL:       "EINVAL",
	EPIPE:        "EPIPE",
	EPROTO:       "EPROTO",
	ECONNABORTED: "ECONNABORTED",
	ECONNRESET:   "ECONNRESET",
	ENOBUFS:      "ENOBUFS",
	ENOTCONN:     "ENOTCONN",
	ETIMEDOUT:    "ETIMEDOUT",
	ECONNREFUSED: "ECONNREFUSED",
	ECANCELED:    "ECANCELED",
	EOF:          "EOF",
}

var messages = map[Code]string{
	EBADF:        "bad file descriptor",
	EAGAIN:       "resource temporarily unavailable",
	ENOMEM:       "not enough memory",
	EINVAL:       "invalid argument",
	EPIPE:        "broken pipe",
	EPROTO:       "protocol error",
	ECONNABORTED: "software caused connection abort",
	ECONNRESET:   "connection reset by peer",
	ENOBUFS:      "no buffer space available",
	ENOTCONN:     "socket is not connected",
	ETIMEDOUT:    "connection timed out",
	ECONNREFUSED: "connection refused",
	ECANCELED:    "operation canceled",
	EOF:          "end of file",
}

var errnos = []struct {
	errno syscall.Errno
	code  Code
}{
	{syscall.EPIPE, EPIPE},
	{syscall.ECONNRESET, ECONNRESET},
	{syscall.ECONNABORTED, ECONNABORTED},
	{syscall.ECONNREFUSED, ECONNREFUSED},
	{syscall.ENOTCONN, ENOTCONN},
	{syscall.ETIMEDOUT, ETIMEDOUT},
	{syscall.EBADF, EBADF},
	{syscall.EAGAIN, EAGAIN},
	{syscall.EINVAL, EINVAL},
	{syscall.ENOBUFS, ENOBUFS},
	{syscall.ENOMEM, ENOMEM},
}

// Name returns the symbolic name, e.g. "EPIPE".
func (c Code) Name() string {
	if n, ok := names[c]; ok {
		return n
	}

	return fmt.Sprintf("E%d", -int(c))
}

func (c Code) String() string {
	return c.Name()
}

func (c Code) OK() bool {
	return c == OK
}

// Err converts a status back into a Go error. It returns nil for OK.
func (c Code) Err() error {
	if c == OK {
		return nil
	}

	return &Error{Code: c}
}

// Lookup resolves a symbolic name like "EPIPE".
func Lookup(name string) (Code, bool) {
	for c, n := range names {
		if n == name {
			return c, true
		}
	}

	return OK, false
}

// Error is a failed status carried as a Go error.
type Error struct {
	Code Code
}

func (e *Error) Error() string {
	if msg, ok := messages[e.Code]; ok {
		return e.Code.Name() + ": " + msg
	}

	return e.Code.Name()
}

// Is lets errors.Is match the equivalent io and net sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Code == e.Code
	}

	switch e.Code {
	case EOF:
		return target == io.EOF
	case ECANCELED:
		return target == net.ErrClosed
	case ETIMEDOUT:
		return target == os.ErrDeadlineExceeded
	}

	return false
}

// FromError maps err into the status space. Unknown errors fall back to
// EPIPE, nil maps to OK.
func FromError(err error) Code {
	if err == nil {
		return OK
	}

	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	var named interface{ ErrorCode() string }
	if errors.As(err, &named) {
		if c, ok := Lookup(named.ErrorCode()); ok {
			return c
		}
	}

	for _, e := range errnos {
		if errors.Is(err, e.errno) {
			return e.code
		}
	}

	switch {
	case errors.Is(err, io.EOF):
		return EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return ECONNRESET
	case errors.Is(err, context.Canceled):
		return ECANCELED
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ETIMEDOUT
	case errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return EPIPE
	}

	return EPIPE
}
