// Package registry keeps the live adapters of a process, sharded by id so the
// debug endpoint can walk them while adapters come and go on other loops.
package registry

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/go-pantheon/fabrica-stream/conf"
)

type Entry interface {
	ID() uint64
}

type Registry[T Entry] struct {
	buckets    []*sync.Map
	size       atomic.Int64
	shardCount uint64
}

// New rounds the bucket size up to a power of two.
func New[T Entry](c conf.Registry) *Registry[T] {
	shards := uint64(1)
	if c.BucketSize > 1 {
		shards = 1 << bits.Len64(uint64(c.BucketSize-1))
	}

	r := &Registry[T]{
		buckets:    make([]*sync.Map, shards),
		shardCount: shards,
	}

	for i := range r.shardCount {
		r.buckets[i] = &sync.Map{}
	}

	return r
}

func (r *Registry[T]) Get(id uint64) (e T, ok bool) {
	v, ok := r.getBucket(id).Load(id)
	if !ok {
		return e, false
	}

	return v.(T), true
}

// Put stores e unless its id is taken, in which case the existing entry is
// returned with loaded set.
func (r *Registry[T]) Put(e T) (old T, loaded bool) {
	v, loaded := r.getBucket(e.ID()).LoadOrStore(e.ID(), e)
	if loaded {
		return v.(T), true
	}

	r.size.Add(1)

	return old, false
}

func (r *Registry[T]) Del(id uint64) {
	if _, loaded := r.getBucket(id).LoadAndDelete(id); loaded {
		r.size.Add(-1)
	}
}

func (r *Registry[T]) Len() int {
	return int(r.size.Load())
}

// Walk visits entries until f returns false.
func (r *Registry[T]) Walk(f func(e T) bool) {
	continued := true

	for _, b := range r.buckets {
		b.Range(func(_, value any) bool {
			v, ok := value.(T)
			if !ok {
				return true
			}

			continued = f(v)

			return continued
		})

		if !continued {
			break
		}
	}
}

func (r *Registry[T]) getBucket(id uint64) *sync.Map {
	return r.buckets[bucketKey(id, r.shardCount)]
}

func bucketKey(id uint64, shardCount uint64) uint64 {
	return wyhash(id) & (shardCount - 1)
}

// wyhash generates a 64-bit hash for the given 64-bit key using wyhash algorithm.
func wyhash(key uint64) uint64 {
	x := key
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33

	return x
}
