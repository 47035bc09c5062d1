package nvxinlet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeChunk(t *testing.T, n int) Chunk {
	t.Helper()
	layout := Layout{EEGCount: 2, AuxCount: 1}
	c := make(Chunk, 0, n)
	for i := 0; i < n; i++ {
		raw := EncodeSample([]int32{int32(i), int32(-i)}, []int32{int32(100 + i)}, NewStatusWord(uint8(i), 0), uint32(10+i))
		s, err := NewSample(raw, layout)
		require.NoError(t, err)
		c = append(c, s)
	}
	return c
}

func TestChunkMatrix(t *testing.T) {
	c := makeChunk(t, 3)
	m := c.Matrix()
	require.NotNil(t, m)
	rows, cols := m.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 3, cols)
	for i := 0; i < 3; i++ {
		if m.At(i, 0) != float64(i) || m.At(i, 1) != float64(-i) || m.At(i, 2) != float64(100+i) {
			t.Errorf("row %d = %v, want [%d %d %d]", i, []float64{m.At(i, 0), m.At(i, 1), m.At(i, 2)}, i, -i, 100+i)
		}
	}
	assert.Nil(t, Chunk{}.Matrix())
}

func TestChunkAccessors(t *testing.T) {
	c := makeChunk(t, 4)
	assert.Equal(t, []uint32{10, 11, 12, 13}, c.Counters())
	assert.Equal(t, []StatusWord{0, 1, 2, 3}, c.Statuses())
	assert.Equal(t, Layout{EEGCount: 2, AuxCount: 1}, c.Layout())
	assert.Equal(t, Layout{}, Chunk{}.Layout())
}

func TestChunkBytesRoundTrip(t *testing.T) {
	c := makeChunk(t, 5)
	raw := c.Bytes()
	require.Len(t, raw, 5*20)
	back, err := ChunkFromBytes(raw, c.Layout())
	require.NoError(t, err)
	assert.Equal(t, c.Counters(), back.Counters())

	_, err = ChunkFromBytes(raw[:len(raw)-1], c.Layout())
	if !errors.Is(err, ErrBounds) {
		t.Errorf("ChunkFromBytes with a partial sample error=%v, want ErrBounds", err)
	}
	empty, err := ChunkFromBytes(nil, c.Layout())
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}
