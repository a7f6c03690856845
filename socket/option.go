package socket

import (
	"net"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-pantheon/fabrica-stream/wrap"
)

type Option func(o *Options)

type Options struct {
	logger     log.Logger
	registry   *wrap.Registry
	localAddr  net.Addr
	remoteAddr net.Addr
}

func NewOptions(opts ...Option) *Options {
	o := &Options{
		logger: log.DefaultLogger,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

func WithRegistry(r *wrap.Registry) Option {
	return func(o *Options) {
		o.registry = r
	}
}

// WithAddrs overrides the addresses reported by the Conn. By default they
// come from the net.Conn under the stream, if there is one.
func WithAddrs(local, remote net.Addr) Option {
	return func(o *Options) {
		o.localAddr = local
		o.remoteAddr = remote
	}
}

func (o *Options) wrapOptions() []wrap.Option {
	opts := []wrap.Option{wrap.WithLogger(o.logger)}

	if o.registry != nil {
		opts = append(opts, wrap.WithRegistry(o.registry))
	}

	return opts
}
