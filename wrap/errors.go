package wrap

import (
	"fmt"

	"github.com/go-pantheon/fabrica-util/errors"
)

var (
	// ErrStreamWrap is emitted when the wrapped stream produces anything but
	// raw bytes. The adapter stops reading once it is reported.
	ErrStreamWrap = errors.New("stream wrap must be byte-oriented: stream produced non-byte data")

	// ErrContractViolation is the panic value raised when a caller breaks the
	// handle contract, e.g. issues a write while another one is pending.
	ErrContractViolation = errors.New("handle contract violation")
)

func violate(format string, args ...any) {
	panic(errors.Wrapf(ErrContractViolation, format, args...))
}

func describe(v any) string {
	return fmt.Sprintf("%T", v)
}
