package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.ErrorIs(t, err, ErrThresholdsRequired)

	_, err = New([]int{64, 64})
	assert.ErrorIs(t, err, ErrThresholdsNotSorted)

	p, err := New([]int{64, 256})
	require.NoError(t, err)
	assert.Len(t, p.pools, 2)
}

func TestAllocFree(t *testing.T) {
	t.Parallel()

	p, err := New([]int{64, 256, 1024})
	require.NoError(t, err)

	tests := []struct {
		size    int
		wantCap int
	}{
		{0, 0},
		{1, 64},
		{64, 64},
		{65, 256},
		{1024, 1024},
		{4096, 4096},
	}

	for _, tt := range tests {
		buf := p.Alloc(tt.size)
		assert.Len(t, buf, tt.size)
		assert.Equal(t, tt.wantCap, cap(buf))
		p.Free(buf)
	}

	buf := p.Alloc(100)
	buf[0] = 0x7f
	p.Free(buf)

	again := p.Alloc(200)
	assert.Equal(t, 256, cap(again))
}

func TestDefault(t *testing.T) {
	t.Parallel()

	buf := Alloc(32 << 10)
	assert.Len(t, buf, 32<<10)
	Free(buf)
}
