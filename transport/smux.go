package transport

import (
	"io"

	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-util/errors"
	"github.com/xtaci/smux"
)

// SmuxConfig derives the session settings from the KCP section, which owns
// keepalive and frame sizing for every multiplexed transport.
func SmuxConfig(c conf.KCP) *smux.Config {
	sc := smux.DefaultConfig()

	if c.KeepAliveInterval > 0 {
		sc.KeepAliveInterval = c.KeepAliveInterval
	}

	if c.KeepAliveTimeout > 0 {
		sc.KeepAliveTimeout = c.KeepAliveTimeout
	}

	if c.MaxFrameSize > 0 {
		sc.MaxFrameSize = c.MaxFrameSize
	}

	if c.MaxReceiveBuffer > 0 {
		sc.MaxReceiveBuffer = c.MaxReceiveBuffer
	}

	return sc
}

// SmuxServer starts the accepting side of a session on conn.
func SmuxServer(conn io.ReadWriteCloser, c conf.KCP) (*smux.Session, error) {
	sc := SmuxConfig(c)

	if err := smux.VerifyConfig(sc); err != nil {
		return nil, errors.Wrapf(err, "invalid smux config")
	}

	sess, err := smux.Server(conn, sc)
	if err != nil {
		return nil, errors.Wrapf(err, "smux server failed")
	}

	return sess, nil
}

func SmuxClient(conn io.ReadWriteCloser, c conf.KCP) (*smux.Session, error) {
	sc := SmuxConfig(c)

	if err := smux.VerifyConfig(sc); err != nil {
		return nil, errors.Wrapf(err, "invalid smux config")
	}

	sess, err := smux.Client(conn, sc)
	if err != nil {
		return nil, errors.Wrapf(err, "smux client failed")
	}

	return sess, nil
}
