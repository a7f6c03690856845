package wrap

import (
	"sync/atomic"

	"github.com/go-pantheon/fabrica-stream/conf"
	"github.com/go-pantheon/fabrica-stream/internal/registry"
)

// Registry holds the live adapters of a process.
type Registry = registry.Registry[*Adapter]

func NewRegistry(c conf.Registry) *Registry {
	return registry.New[*Adapter](c)
}

// Stats is a point-in-time copy of an adapter's counters. It is safe to take
// from any goroutine.
type Stats struct {
	ID           uint64 `json:"id"`
	BytesIn      uint64 `json:"bytes_in"`
	BytesOut     uint64 `json:"bytes_out"`
	Writes       uint64 `json:"writes"`
	Shutdowns    uint64 `json:"shutdowns"`
	Cancelled    uint64 `json:"cancelled"`
	Backpressure uint64 `json:"backpressure"`
	Failed       uint64 `json:"failed"`
	Closed       bool   `json:"closed"`
}

type counters struct {
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
	writes       atomic.Uint64
	shutdowns    atomic.Uint64
	cancelled    atomic.Uint64
	backpressure atomic.Uint64
	failed       atomic.Uint64
	closed       atomic.Bool
}

func (c *counters) snapshot(id uint64) Stats {
	return Stats{
		ID:           id,
		BytesIn:      c.bytesIn.Load(),
		BytesOut:     c.bytesOut.Load(),
		Writes:       c.writes.Load(),
		Shutdowns:    c.shutdowns.Load(),
		Cancelled:    c.cancelled.Load(),
		Backpressure: c.backpressure.Load(),
		Failed:       c.failed.Load(),
		Closed:       c.closed.Load(),
	}
}
