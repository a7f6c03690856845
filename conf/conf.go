package conf

import (
	"time"
)

type Config struct {
	Loop      Loop
	Stream    Stream
	Socket    Socket
	Registry  Registry
	TCP       TCP
	KCP       KCP
	WebSocket WebSocket
	Health    Health
}

type Loop struct {
	StopTimeout time.Duration
}

// Stream configures the buffering of a stream.Duplex.
type Stream struct {
	// HighWaterMark is the number of buffered outgoing bytes above which
	// Write reports backpressure.
	HighWaterMark int
	ReadBufSize   int
}

type Socket struct {
	// ReadBufferLimit is the number of unread bytes above which the socket
	// stops reading from its handle.
	ReadBufferLimit int
}

// Registry shards the set of live adapters. BucketSize must be a power of two.
type Registry struct {
	BucketSize int
}

type TCP struct {
	KeepAlive    bool
	ReadBufSize  int
	WriteBufSize int
}

type KCP struct {
	DataShards   int
	ParityShards int
	NoDelay      [4]int
	WindowSize   [2]int
	MTU          int
	ACKNoDelay   bool
	WriteDelay   bool

	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	MaxFrameSize      int
	MaxReceiveBuffer  int
}

type WebSocket struct {
	Path             string
	ReadBufSize      int
	WriteBufSize     int
	HandshakeTimeout time.Duration
	AllowOrigins     []string
}

type Health struct {
	Addr string
}

func Default() Config {
	loop := Loop{
		StopTimeout: time.Second * 3,
	}

	stream := Stream{
		HighWaterMark: 16 * 1024,
		ReadBufSize:   32 * 1024,
	}

	socket := Socket{
		ReadBufferLimit: 256 * 1024,
	}

	tcp := TCP{
		KeepAlive:    true,
		ReadBufSize:  30000,
		WriteBufSize: 30000,
	}

	kcp := KCP{
		DataShards:        10,
		ParityShards:      3,
		NoDelay:           [4]int{1, 10, 2, 1},
		WindowSize:        [2]int{1024, 1024},
		MTU:               1400,
		ACKNoDelay:        true,
		WriteDelay:        false,
		KeepAliveInterval: time.Second * 10,
		KeepAliveTimeout:  time.Second * 30,
		MaxFrameSize:      32768,
		MaxReceiveBuffer:  4 * 1024 * 1024,
	}

	ws := WebSocket{
		Path:             "/stream",
		ReadBufSize:      4096,
		WriteBufSize:     4096,
		HandshakeTimeout: time.Second * 10,
	}

	return Config{
		Loop:      loop,
		Stream:    stream,
		Socket:    socket,
		Registry: Registry{
			BucketSize: 64,
		},
		TCP:       tcp,
		KCP:       kcp,
		WebSocket: ws,
		Health: Health{
			Addr: "0.0.0.0:17180",
		},
	}
}
