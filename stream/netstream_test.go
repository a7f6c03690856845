package stream

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-stream/loop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpPair(t *testing.T) (server, client *net.TCPConn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer ln.Close()

	accepted := make(chan net.Conn, 1)

	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}

		accepted <- c
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	s, ok := <-accepted
	require.True(t, ok)

	return s.(*net.TCPConn), c.(*net.TCPConn)
}

func TestNetStreamEcho(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := loop.New(conf.Default().Loop)
	require.NoError(t, l.Start(ctx))

	server, client := tcpPair(t)
	defer client.Close()

	ns := NewNetStream(l, server, conf.Stream{HighWaterMark: 8})
	require.NoError(t, ns.Start(ctx))
	assert.ErrorIs(t, ns.Start(ctx), ErrStreamStarted)

	finished := make(chan struct{})

	l.Post(func() {
		var received []byte

		ns.OnData(func(chunk any) {
			received = append(received, chunk.([]byte)...)
		})
		ns.OnEnd(func() {
			ns.Cork()
			ns.Write(received[:len(received)/2], nil)
			ns.Write(received[len(received)/2:], nil)
			ns.Uncork()
			ns.End(func() { close(finished) })
		})
		ns.Resume()
	})

	payload := []byte("the quick brown fox jumps over the lazy dog")

	_, err := client.Write(payload)
	require.NoError(t, err)
	require.NoError(t, client.CloseWrite())

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))

	echoed, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, payload, echoed)

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("end callback did not run")
	}
}

func TestNetStreamPeerClose(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := loop.New(conf.Default().Loop)
	require.NoError(t, l.Start(ctx))

	server, client := tcpPair(t)

	ns := NewNetStream(l, server, conf.Default().Stream)
	require.NoError(t, ns.Start(ctx))

	ended := make(chan struct{})

	l.Post(func() {
		ns.OnEnd(func() { close(ended) })
		ns.Resume()
	})

	require.NoError(t, client.Close())

	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("end was not emitted")
	}
}

func TestNetStreamDestroyBeforeStart(t *testing.T) {
	t.Parallel()

	m := loop.NewManual()
	c1, c2 := net.Pipe()

	ns := NewNetStream(m, c1, conf.Default().Stream)

	var writeErr error

	ns.Destroy(nil)
	assert.False(t, ns.Write([]byte("x"), func(err error) { writeErr = err }))
	m.RunUntilIdle()

	assert.ErrorIs(t, writeErr, ErrWriteAfterEnd)

	_, err := c2.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestNetStreamDestroyFailsQueuedWrites(t *testing.T) {
	t.Parallel()

	m := loop.NewManual()
	c1, c2 := net.Pipe()

	defer c2.Close()

	ns := NewNetStream(m, c1, conf.Default().Stream)

	var errs []error

	ns.Cork()
	ns.Write([]byte("a"), func(err error) { errs = append(errs, err) })
	ns.Write([]byte("b"), func(err error) { errs = append(errs, err) })
	ns.Destroy(nil)

	assert.Equal(t, []error{ErrDestroyed, ErrDestroyed}, errs)
}

func TestNetStreamDestroyReleasesEnd(t *testing.T) {
	t.Parallel()

	m := loop.NewManual()
	c1, c2 := net.Pipe()

	defer c2.Close()

	ns := NewNetStream(m, c1, conf.Default().Stream)

	ended := 0

	// no pump runs, so only Destroy can settle this End
	ns.End(func() { ended++ })
	m.RunUntilIdle()
	assert.Zero(t, ended)

	ns.Destroy(nil)
	m.RunUntilIdle()
	assert.Equal(t, 1, ended)

	ns.End(func() { ended++ })
	m.RunUntilIdle()
	assert.Equal(t, 2, ended)
}

func TestNetStreamEndAfterWriteFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := loop.New(conf.Default().Loop)
	require.NoError(t, l.Start(ctx))

	c1, c2 := net.Pipe()
	require.NoError(t, c2.Close())

	ns := NewNetStream(l, c1, conf.Default().Stream)
	require.NoError(t, ns.Start(ctx))

	writeErr := make(chan error, 1)
	ended := make(chan struct{})

	l.Post(func() {
		ns.Write([]byte("x"), func(err error) { writeErr <- err })
	})

	select {
	case err := <-writeErr:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write did not complete")
	}

	l.Post(func() {
		ns.End(func() { close(ended) })
	})

	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("end callback was not called")
	}
}

func TestSplitBatches(t *testing.T) {
	t.Parallel()

	items := []outItem{
		{buf: []byte("a")},
		{buf: []byte("b")},
		{end: true},
		{buf: []byte("c")},
	}

	batches := splitBatches(items)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].items, 2)
	assert.True(t, batches[1].end)
	assert.Len(t, batches[2].items, 1)

	assert.Equal(t, items, flatten(batches))
	assert.Empty(t, splitBatches(nil))
}
