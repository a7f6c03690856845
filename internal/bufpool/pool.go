// Package bufpool keeps scratch buffers for the stream read pumps.
package bufpool

import (
	"slices"
	"sort"
	"sync"

	"github.com/go-pantheon/fabrica-util/errors"
)

var (
	// ErrThresholdsRequired is returned when the thresholds are required
	ErrThresholdsRequired = errors.New("thresholds must not be empty")
	// ErrThresholdsNotSorted is returned when the thresholds are not sorted in ascending order
	ErrThresholdsNotSorted = errors.New("thresholds must be sorted in ascending order")
)

var defaultPool = mustNew([]int{4 << 10, 16 << 10, 32 << 10, 64 << 10})

// Pool is a sync.Pool based slab allocator. Each threshold is one size
// class; requests above the largest class are allocated directly.
type Pool struct {
	pools      []sync.Pool
	thresholds []int
}

func New(thresholds []int) (*Pool, error) {
	if len(thresholds) == 0 {
		return nil, ErrThresholdsRequired
	}

	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, ErrThresholdsNotSorted
		}
	}

	p := &Pool{
		pools:      make([]sync.Pool, len(thresholds)),
		thresholds: slices.Clone(thresholds),
	}

	for i, size := range p.thresholds {
		p.pools[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}

	return p, nil
}

func mustNew(thresholds []int) *Pool {
	p, err := New(thresholds)
	if err != nil {
		panic("bufpool: " + err.Error())
	}

	return p
}

func (p *Pool) class(size int) int {
	return sort.SearchInts(p.thresholds, size)
}

// Alloc returns a buffer of len size.
func (p *Pool) Alloc(size int) []byte {
	if size <= 0 {
		return make([]byte, 0)
	}

	i := p.class(size)
	if i >= len(p.pools) {
		return make([]byte, size)
	}

	return (*p.pools[i].Get().(*[]byte))[:size]
}

// Free returns a buffer obtained from Alloc. Buffers whose capacity is not
// exactly a size class are left to the garbage collector.
func (p *Pool) Free(buf []byte) {
	i := p.class(cap(buf))
	if i >= len(p.pools) || p.thresholds[i] != cap(buf) {
		return
	}

	buf = buf[:cap(buf)]
	p.pools[i].Put(&buf)
}

func Alloc(size int) []byte {
	return defaultPool.Alloc(size)
}

func Free(buf []byte) {
	defaultPool.Free(buf)
}
