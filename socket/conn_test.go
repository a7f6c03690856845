package socket

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-stream/internal/certutil"
	"github.com/go-pantheon/fabrica-stream/loop"
	"github.com/go-pantheon/fabrica-stream/stream"
	"github.com/go-pantheon/fabrica-stream/wrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/smux"
)

const testTimeout = 10 * time.Second

func startLoop(t *testing.T) *loop.Loop {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New(conf.Default().Loop)
	require.NoError(t, l.Start(ctx))

	t.Cleanup(func() {
		_ = l.Stop(context.Background())
		cancel()
	})

	return l
}

// pipePair returns two Conns joined by an in-memory stream pair.
func pipePair(t *testing.T, hwm int, c conf.Socket, opts ...Option) (*Conn, *Conn) {
	t.Helper()

	l := startLoop(t)
	a, b := stream.Pipe(l, hwm)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	ca, err := Open(ctx, l, a, c, opts...)
	require.NoError(t, err)

	cb, err := Open(ctx, l, b, c, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = ca.Close()
		_ = cb.Close()
	})

	return ca, cb
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

func TestConnRoundTrip(t *testing.T) {
	t.Parallel()

	ca, cb := pipePair(t, 0, conf.Default().Socket)

	n, err := ca.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = cb.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	_, err = cb.Write([]byte("pong"))
	require.NoError(t, err)

	n, err = io.ReadFull(ca, buf[:4])
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	assert.Equal(t, "stream", ca.LocalAddr().Network())
	assert.NotEqual(t, ca.LocalAddr().String(), ca.RemoteAddr().String())
}

func TestConnCloseWrite(t *testing.T) {
	t.Parallel()

	ca, cb := pipePair(t, 0, conf.Default().Socket)

	payload := randomBytes(t, 100_000)

	go func() {
		_, _ = ca.Write(payload)
		_ = ca.CloseWrite()
	}()

	got, err := io.ReadAll(cb)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = ca.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrWriteShutdown)
	assert.NoError(t, ca.CloseWrite())

	// the other direction still works
	_, err = cb.Write([]byte("still open"))
	require.NoError(t, err)

	buf := make([]byte, 32)
	n, err := ca.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "still open", string(buf[:n]))
}

func TestConnReadFlowControl(t *testing.T) {
	t.Parallel()

	ca, cb := pipePair(t, 64, conf.Socket{ReadBufferLimit: 128})

	payload := randomBytes(t, 64*1024)
	errc := make(chan error, 1)

	go func() {
		for off := 0; off < len(payload); off += 1000 {
			end := min(off+1000, len(payload))
			if _, err := ca.Write(payload[off:end]); err != nil {
				errc <- err
				return
			}
		}

		errc <- ca.CloseWrite()
	}()

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 7)

	for {
		n, err := cb.Read(buf)
		got = append(got, buf[:n]...)

		if err == io.EOF {
			break
		}

		require.NoError(t, err)
	}

	assert.Equal(t, payload, got)
	assert.NoError(t, <-errc)
}

func TestConnDeadlines(t *testing.T) {
	t.Parallel()

	ca, cb := pipePair(t, 0, conf.Default().Socket)

	require.NoError(t, ca.SetReadDeadline(time.Now().Add(-time.Second)))

	_, err := ca.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	require.NoError(t, ca.SetReadDeadline(time.Now().Add(20*time.Millisecond)))

	start := time.Now()
	_, err = ca.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	require.NoError(t, ca.SetDeadline(time.Time{}))

	_, err = cb.Write([]byte("x"))
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = ca.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf))
}

func TestConnClose(t *testing.T) {
	t.Parallel()

	ca, cb := pipePair(t, 0, conf.Default().Socket)

	readErr := make(chan error, 1)

	go func() {
		_, err := ca.Read(make([]byte, 1))
		readErr <- err
	}()

	require.NoError(t, ca.Close())
	assert.ErrorIs(t, ca.Close(), net.ErrClosed)

	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(testTimeout):
		t.Fatal("read was not released by close")
	}

	select {
	case <-ca.Done():
	case <-time.After(testTimeout):
		t.Fatal("close did not finish")
	}

	_, err := ca.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.ErrorIs(t, ca.SetDeadline(time.Now()), net.ErrClosed)

	// the peer sees end of stream
	_, err = cb.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnRegistry(t *testing.T) {
	t.Parallel()

	r := wrap.NewRegistry(conf.Default().Registry)
	ca, _ := pipePair(t, 0, conf.Default().Socket, WithRegistry(r))

	assert.Equal(t, 2, r.Len())

	_, err := ca.Write([]byte("count me"))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), ca.Adapter().Stats().BytesOut)

	require.NoError(t, ca.Close())

	select {
	case <-ca.Done():
	case <-time.After(testTimeout):
		t.Fatal("close did not finish")
	}

	assert.Equal(t, 1, r.Len())
}

func TestConnOverNetStream(t *testing.T) {
	t.Parallel()

	l := startLoop(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer ln.Close()

	accepted := make(chan net.Conn, 1)

	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	defer raw.Close()

	var srv net.Conn

	select {
	case srv = <-accepted:
	case <-time.After(testTimeout):
		t.Fatal("accept timed out")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ns := stream.NewNetStream(l, srv, conf.Default().Stream)
	require.NoError(t, ns.Start(ctx))

	c, err := Open(ctx, l, ns, conf.Default().Socket)
	require.NoError(t, err)

	defer c.Close()

	assert.Equal(t, srv.LocalAddr(), c.LocalAddr())
	assert.Equal(t, srv.RemoteAddr(), c.RemoteAddr())

	_, err = raw.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	_, err = c.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, c.CloseWrite())

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(testTimeout)))

	got, err := io.ReadAll(raw)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))
}

func TestConnCloseWriteAfterWriteFailure(t *testing.T) {
	t.Parallel()

	l := startLoop(t)

	c1, c2 := net.Pipe()
	require.NoError(t, c2.Close())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	ns := stream.NewNetStream(l, c1, conf.Default().Stream)
	require.NoError(t, ns.Start(ctx))

	c, err := Open(ctx, l, ns, conf.Default().Socket)
	require.NoError(t, err)

	defer c.Close()

	_, err = c.Write([]byte("lost"))
	require.Error(t, err)

	done := make(chan error, 1)

	go func() {
		done <- c.CloseWrite()
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("close write did not complete on a failed stream")
	}
}

// TLS over a wrapped stream: the client sends three high-water marks plus
// one byte, then ends its side.
func TestTLSOverWrappedStream(t *testing.T) {
	t.Parallel()

	const hwm = 16 * 1024

	cert, pool, err := certutil.SelfSigned("localhost")
	require.NoError(t, err)

	ca, cb := pipePair(t, hwm, conf.Default().Socket)

	server := tls.Server(cb, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	client := tls.Client(ca, &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
		MinVersion: tls.VersionTLS12,
	})

	payload := bytes.Repeat([]byte{'a'}, 3*hwm+1)

	type result struct {
		data []byte
		err  error
	}

	received := make(chan result, 1)

	go func() {
		data, err := io.ReadAll(server)
		if err == nil {
			_, err = server.Write([]byte("done"))
		}

		if err == nil {
			err = server.Close()
		}

		received <- result{data: data, err: err}
	}()

	_, err = client.Write(payload)
	require.NoError(t, err)
	require.NoError(t, client.CloseWrite())

	var res result

	select {
	case res = <-received:
	case <-time.After(testTimeout):
		t.Fatal("server did not finish")
	}

	require.NoError(t, res.err)
	assert.Len(t, res.data, len(payload))
	assert.Equal(t, payload, res.data)

	reply, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "done", string(reply))
}

// smux writes frames well above the stream high-water mark.
func TestSmuxOverWrappedStream(t *testing.T) {
	t.Parallel()

	ca, cb := pipePair(t, 1024, conf.Default().Socket)

	cfg := smux.DefaultConfig()
	cfg.MaxFrameSize = 32 * 1024

	sess, err := smux.Server(cb, cfg)
	require.NoError(t, err)

	defer sess.Close()

	cli, err := smux.Client(ca, cfg)
	require.NoError(t, err)

	defer cli.Close()

	go func() {
		st, err := sess.AcceptStream()
		if err != nil {
			return
		}

		defer st.Close()

		_, _ = io.Copy(st, st)
	}()

	st, err := cli.OpenStream()
	require.NoError(t, err)

	defer st.Close()

	payload := randomBytes(t, 256*1024)

	go func() {
		_, _ = st.Write(payload)
	}()

	require.NoError(t, st.SetReadDeadline(time.Now().Add(testTimeout)))

	got := make([]byte, len(payload))
	_, err = io.ReadFull(st, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
