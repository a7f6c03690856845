package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-stream/example/message"
	"github.com/go-pantheon/fabrica-stream/loop"
	"github.com/go-pantheon/fabrica-stream/socket"
	"github.com/go-pantheon/fabrica-stream/stream"
	"github.com/go-pantheon/fabrica-stream/transport"
	"github.com/go-pantheon/fabrica-util/errors"
)

var (
	kind   = flag.String("kind", "kcp", "transport: tcp, kcp or websocket")
	target = flag.String("target", "127.0.0.1:17201", "server address")
	count  = flag.Int("count", 10, "messages to send")
)

var config = conf.Default()

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Errorf("tls echo client failed. %+v", err)
		return
	}

	log.Infof("tls echo client finished")
}

func run(ctx context.Context) error {
	k, err := transport.ParseKind(*kind)
	if err != nil {
		return err
	}

	l := loop.New(config.Loop)
	if err := l.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := l.Stop(context.Background()); err != nil {
			log.Errorf("stop loop failed. %+v", err)
		}
	}()

	conn, err := transport.Dial(ctx, k, *target, config)
	if err != nil {
		return err
	}

	ns := stream.NewNetStream(l, conn, config.Stream)
	if err := ns.Start(ctx); err != nil {
		return err
	}

	sc, err := socket.Open(ctx, l, ns, config.Socket)
	if err != nil {
		return err
	}

	defer sc.Close()

	// the server presents a throwaway self-signed certificate
	tc := tls.Client(sc, &tls.Config{
		ServerName:         "localhost",
		InsecureSkipVerify: true, //nolint:gosec
		MinVersion:         tls.VersionTLS12,
	})

	if err := tc.HandshakeContext(ctx); err != nil {
		return errors.Wrapf(err, "tls handshake failed")
	}

	sess, err := transport.SmuxClient(tc, config.KCP)
	if err != nil {
		return err
	}

	defer sess.Close()

	st, err := sess.OpenStream()
	if err != nil {
		return errors.Wrapf(err, "open stream failed")
	}

	defer st.Close()

	codec := message.NewCodec(st)

	for i := range *count {
		seq := int32(i + 1)

		if err := codec.Encode(message.NewEcho(seq, []byte(fmt.Sprintf("hello %d", seq)))); err != nil {
			return err
		}

		m, err := codec.Decode()
		if err != nil {
			return err
		}

		log.Infof("[tlsecho] recv seq=%d data=%s", m.Seq, m.Data)
	}

	log.Infof("adapter stats: %+v", sc.Adapter().Stats())

	return nil
}
