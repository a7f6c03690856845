package wrap

import (
	"github.com/go-kratos/kratos/v2/log"
)

type Option func(o *Options)

type Options struct {
	logger   log.Logger
	registry *Registry
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

// WithRegistry lists the adapter in r until it is closed.
func WithRegistry(r *Registry) Option {
	return func(o *Options) {
		o.registry = r
	}
}
