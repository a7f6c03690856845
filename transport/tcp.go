package transport

import (
	"context"
	"net"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-util/errors"
)

var _ net.Listener = (*tcpListener)(nil)

type tcpListener struct {
	*net.TCPListener

	conf conf.TCP
}

func ListenTCP(ctx context.Context, bind string, c conf.TCP) (net.Listener, error) {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", bind)
	if err != nil {
		return nil, errors.Wrapf(err, "listen failed. bind=%s", bind)
	}

	log.Infof("[transport.TCP] listening on %s", ln.Addr().String())

	return &tcpListener{TCPListener: ln.(*net.TCPListener), conf: c}, nil
}

func (l *tcpListener) Accept() (net.Conn, error) {
	conn, err := l.AcceptTCP()
	if err != nil {
		return nil, errors.Wrapf(err, "accept failed")
	}

	if err := configureTCP(conn, l.conf); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

func DialTCP(ctx context.Context, target string, c conf.TCP) (net.Conn, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, errors.Wrapf(err, "dial failed. target=%s", target)
	}

	if err := configureTCP(conn.(*net.TCPConn), c); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

func configureTCP(conn *net.TCPConn, c conf.TCP) error {
	if err := conn.SetKeepAlive(c.KeepAlive); err != nil {
		return errors.Wrapf(err, "SetKeepAlive failed v=%v", c.KeepAlive)
	}

	if c.ReadBufSize > 0 {
		if err := conn.SetReadBuffer(c.ReadBufSize); err != nil {
			return errors.Wrapf(err, "SetReadBuffer failed v=%d", c.ReadBufSize)
		}
	}

	if c.WriteBufSize > 0 {
		if err := conn.SetWriteBuffer(c.WriteBufSize); err != nil {
			return errors.Wrapf(err, "SetWriteBuffer failed v=%d", c.WriteBufSize)
		}
	}

	return nil
}
