package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-stream/example/message"
	"github.com/go-pantheon/fabrica-stream/http/health"
	"github.com/go-pantheon/fabrica-stream/internal/certutil"
	"github.com/go-pantheon/fabrica-stream/loop"
	"github.com/go-pantheon/fabrica-stream/socket"
	"github.com/go-pantheon/fabrica-stream/stream"
	"github.com/go-pantheon/fabrica-stream/transport"
	"github.com/go-pantheon/fabrica-stream/wrap"
	"github.com/go-pantheon/fabrica-util/errors"
	"github.com/go-pantheon/fabrica-util/xsync"
	"github.com/xtaci/smux"
)

var (
	kind = flag.String("kind", "kcp", "transport: tcp, kcp or websocket")
	bind = flag.String("bind", "0.0.0.0:17201", "listen address")
)

var config = conf.Default()

func main() {
	flag.Parse()

	k, err := transport.ParseKind(*kind)
	if err != nil {
		panic(err)
	}

	cert, _, err := certutil.SelfSigned("localhost")
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := loop.New(config.Loop)
	if err := l.Start(ctx); err != nil {
		panic(err)
	}

	defer func() {
		if err := l.Stop(context.Background()); err != nil {
			log.Errorf("stop loop failed. %+v", err)
		}
	}()

	registry := wrap.NewRegistry(config.Registry)

	hs := health.NewServer(config.Health, registry)
	xsync.Go("tlsecho.health", func() error {
		return hs.Start(ctx)
	})

	defer func() {
		if err := hs.Stop(context.Background()); err != nil {
			log.Errorf("stop health server failed. %+v", err)
		}
	}()

	ln, err := transport.Listen(ctx, k, *bind, config)
	if err != nil {
		panic(err)
	}

	defer ln.Close()

	e := &echoServer{
		sched:    l,
		registry: registry,
		tls: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
	}

	xsync.Go("tlsecho.accept", func() error {
		return e.acceptLoop(ctx, ln)
	})

	log.Infof("tls echo server started. kind=%s bind=%s", k, *bind)

	c := make(chan os.Signal, 1)

	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case <-c:
	case <-ctx.Done():
	}

	log.Infof("tls echo server stopped")
}

type echoServer struct {
	sched    loop.Scheduler
	registry *wrap.Registry
	tls      *tls.Config
	ids      atomic.Uint64
}

func (e *echoServer) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return err
		}

		id := e.ids.Add(1)

		xsync.Go(fmt.Sprintf("tlsecho.serve.%d", id), func() error {
			if err := e.serve(ctx, conn); err != nil {
				log.Errorf("[tlsecho] conn %d %+v", id, err)
			}

			return nil
		})
	}
}

// serve runs TLS and smux on the wrapped connection and echoes every stream.
func (e *echoServer) serve(ctx context.Context, conn net.Conn) error {
	ns := stream.NewNetStream(e.sched, conn, config.Stream)
	if err := ns.Start(ctx); err != nil {
		return err
	}

	sc, err := socket.Open(ctx, e.sched, ns, config.Socket, socket.WithRegistry(e.registry))
	if err != nil {
		return err
	}

	defer sc.Close()

	tc := tls.Server(sc, e.tls)
	if err := tc.HandshakeContext(ctx); err != nil {
		return errors.Wrapf(err, "tls handshake failed")
	}

	sess, err := transport.SmuxServer(tc, config.KCP)
	if err != nil {
		return err
	}

	defer sess.Close()

	for {
		st, err := sess.AcceptStream()
		if err != nil {
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
				return nil
			}

			return errors.Wrapf(err, "accept stream failed")
		}

		xsync.Go(fmt.Sprintf("tlsecho.stream.%d", st.ID()), func() error {
			return echo(st)
		})
	}
}

func echo(st *smux.Stream) error {
	defer st.Close()

	codec := message.NewCodec(st)

	for {
		m, err := codec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		if err := codec.Encode(m); err != nil {
			return err
		}
	}
}
