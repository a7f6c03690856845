// Package transport opens the network connections that stream.NetStream
// wraps. TCP, KCP and WebSocket all end up as a plain net.Conn, and smux
// sessions can be layered on top of any of them.
package transport

import (
	"context"
	"net"
	"strings"

	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-util/errors"
)

var ErrUnknownKind = errors.New("unknown transport kind")

type Kind string

const (
	TCP       Kind = "tcp"
	KCP       Kind = "kcp"
	WebSocket Kind = "websocket"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case TCP, KCP, WebSocket:
		return k, nil
	case "ws":
		return WebSocket, nil
	default:
		return "", errors.Wrapf(ErrUnknownKind, "kind=%s", s)
	}
}

// Listen opens a listener of the given kind on bind.
func Listen(ctx context.Context, kind Kind, bind string, c conf.Config) (net.Listener, error) {
	switch kind {
	case TCP:
		return ListenTCP(ctx, bind, c.TCP)
	case KCP:
		return ListenKCP(bind, c.KCP)
	case WebSocket:
		return ListenWebSocket(ctx, bind, c.WebSocket)
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "kind=%s", kind)
	}
}

// Dial connects to target. For WebSocket, target is a host:port and the
// configured path is appended.
func Dial(ctx context.Context, kind Kind, target string, c conf.Config) (net.Conn, error) {
	switch kind {
	case TCP:
		return DialTCP(ctx, target, c.TCP)
	case KCP:
		return DialKCP(ctx, target, c.KCP)
	case WebSocket:
		return DialWebSocket(ctx, "ws://"+target+c.WebSocket.Path, c.WebSocket)
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "kind=%s", kind)
	}
}
