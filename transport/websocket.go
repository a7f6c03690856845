package transport

import (
	"context"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-stream/transport/wsconn"
	"github.com/go-pantheon/fabrica-util/errors"
	"github.com/go-pantheon/fabrica-util/xsync"
	"github.com/gorilla/websocket"
)

const wsBacklog = 1024

var _ net.Listener = (*wsListener)(nil)

// wsListener accepts upgraded websocket connections on an HTTP server.
type wsListener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	conns     chan net.Conn
	closing   chan struct{}
	closeOnce sync.Once
}

func ListenWebSocket(ctx context.Context, bind string, c conf.WebSocket) (net.Listener, error) {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", bind)
	if err != nil {
		return nil, errors.Wrapf(err, "listen failed. bind=%s", bind)
	}

	l := &wsListener{
		ln:      ln,
		conns:   make(chan net.Conn, wsBacklog),
		closing: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   c.ReadBufSize,
			WriteBufferSize:  c.WriteBufSize,
			HandshakeTimeout: c.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(c.AllowOrigins) == 0 {
					return true
				}

				return slices.Contains(c.AllowOrigins, origin)
			},
		},
	}

	path := c.Path
	if path == "" {
		path = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handle)

	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: c.HandshakeTimeout,
	}

	xsync.Go("transport.WebSocket", func() error {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	log.Infof("[transport.WebSocket] listening on ws://%s%s", ln.Addr().String(), path)

	return l, nil
}

func (l *wsListener) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("[transport.WebSocket] upgrade failed: %+v", err)
		return
	}

	select {
	case l.conns <- wsconn.New(conn):
	case <-l.closing:
		_ = conn.Close()
	default:
		log.Error("[transport.WebSocket] accept backlog full, dropping connection")

		_ = conn.Close()
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closing:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Close() error {
	err := net.ErrClosed

	l.closeOnce.Do(func() {
		close(l.closing)
		err = l.server.Close()
	})

	return err
}

func (l *wsListener) Addr() net.Addr {
	return l.ln.Addr()
}

func DialWebSocket(ctx context.Context, url string, c conf.WebSocket) (net.Conn, error) {
	d := websocket.Dialer{
		ReadBufferSize:   c.ReadBufSize,
		WriteBufferSize:  c.WriteBufSize,
		HandshakeTimeout: c.HandshakeTimeout,
	}

	conn, resp, err := d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, errors.Wrapf(err, "websocket dial failed. url=%s", url)
	}

	return wsconn.New(conn), nil
}
