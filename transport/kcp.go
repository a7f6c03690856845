package transport

import (
	"context"
	"net"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-util/errors"
	kcpgo "github.com/xtaci/kcp-go/v5"
)

var _ net.Listener = (*kcpListener)(nil)

// ValidateKCP rejects settings kcp-go or smux would misbehave with.
func ValidateKCP(c conf.KCP) error {
	if c.MTU < 576 || c.MTU > 1500 {
		return errors.Errorf("invalid MTU: %d, must be between 576 and 1500", c.MTU)
	}

	if c.DataShards < 0 || c.DataShards > 255 {
		return errors.Errorf("invalid DataShards: %d, must be between 0 and 255", c.DataShards)
	}

	if c.ParityShards < 0 || c.ParityShards > 255 {
		return errors.Errorf("invalid ParityShards: %d, must be between 0 and 255", c.ParityShards)
	}

	if c.WindowSize[0] <= 0 || c.WindowSize[1] <= 0 {
		return errors.Errorf("invalid WindowSize: %v, both send and receive windows must be positive", c.WindowSize)
	}

	if c.KeepAliveInterval <= 0 {
		return errors.Errorf("invalid KeepAliveInterval: %v, must be positive", c.KeepAliveInterval)
	}

	if c.KeepAliveTimeout <= c.KeepAliveInterval {
		return errors.Errorf("KeepAliveTimeout (%v) must be greater than KeepAliveInterval (%v)",
			c.KeepAliveTimeout, c.KeepAliveInterval)
	}

	return nil
}

func configureKCP(sess *kcpgo.UDPSession, c conf.KCP) {
	sess.SetNoDelay(c.NoDelay[0], c.NoDelay[1], c.NoDelay[2], c.NoDelay[3])
	sess.SetWindowSize(c.WindowSize[0], c.WindowSize[1])
	sess.SetMtu(c.MTU)
	sess.SetACKNoDelay(c.ACKNoDelay)
	sess.SetWriteDelay(c.WriteDelay)
}

type kcpListener struct {
	*kcpgo.Listener

	conf conf.KCP
}

func ListenKCP(bind string, c conf.KCP) (net.Listener, error) {
	if err := ValidateKCP(c); err != nil {
		return nil, err
	}

	ln, err := kcpgo.ListenWithOptions(bind, nil, c.DataShards, c.ParityShards)
	if err != nil {
		return nil, errors.Wrapf(err, "kcp listen failed. bind=%s", bind)
	}

	log.Infof("[transport.KCP] listening on %s", ln.Addr().String())

	return &kcpListener{Listener: ln, conf: c}, nil
}

func (l *kcpListener) Accept() (net.Conn, error) {
	sess, err := l.AcceptKCP()
	if err != nil {
		return nil, errors.Wrapf(err, "kcp accept failed")
	}

	configureKCP(sess, l.conf)

	return sess, nil
}

// DialKCP opens a KCP session. UDP has no handshake, so ctx is only checked
// before dialing.
func DialKCP(ctx context.Context, target string, c conf.KCP) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "kcp dial cancelled. target=%s", target)
	}

	if err := ValidateKCP(c); err != nil {
		return nil, err
	}

	sess, err := kcpgo.DialWithOptions(target, nil, c.DataShards, c.ParityShards)
	if err != nil {
		return nil, errors.Wrapf(err, "kcp dial failed. target=%s", target)
	}

	configureKCP(sess, c)

	return sess, nil
}
