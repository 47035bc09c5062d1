package nvxinlet

import (
	"gonum.org/v1/gonum/mat"
)

// Chunk is the ordered (oldest first) run of samples returned by one
// Inlet.PullChunk. Each Sample owns its bytes.
type Chunk []Sample

// Len returns the number of samples.
func (c Chunk) Len() int {
	return len(c)
}

// Layout returns the layout of the samples, or the zero Layout if c is empty.
func (c Chunk) Layout() Layout {
	if len(c) == 0 {
		return Layout{}
	}
	return c[0].Layout()
}

// Counters returns the hardware sequence counter of each sample.
func (c Chunk) Counters() []uint32 {
	out := make([]uint32, len(c))
	for i, s := range c {
		out[i] = s.Counter()
	}
	return out
}

// Statuses returns the status word of each sample.
func (c Chunk) Statuses() []StatusWord {
	out := make([]StatusWord, len(c))
	for i, s := range c {
		out[i] = s.Status()
	}
	return out
}

// Matrix returns the analog channel values as a dense matrix with one row per
// sample and one column per channel, EEG channels first. It returns nil for an
// empty chunk.
func (c Chunk) Matrix() *mat.Dense {
	if len(c) == 0 {
		return nil
	}
	nchan := c.Layout().Channels()
	if nchan == 0 {
		return nil
	}
	data := make([]float64, 0, len(c)*nchan)
	for _, s := range c {
		for j := 0; j < nchan; j++ {
			data = append(data, float64(int32(s.word(j))))
		}
	}
	return mat.NewDense(len(c), nchan, data)
}

// Bytes concatenates the raw bytes of every sample.
func (c Chunk) Bytes() []byte {
	size := c.Layout().SampleSize()
	out := make([]byte, 0, len(c)*size)
	for _, s := range c {
		out = append(out, s.Bytes()...)
	}
	return out
}

// ChunkFromBytes splits raw into consecutive samples of the given layout. The
// samples alias raw. It fails with ErrBounds unless len(raw) is a whole
// number of samples.
func ChunkFromBytes(raw []byte, layout Layout) (Chunk, error) {
	size := layout.SampleSize()
	if len(raw)%size != 0 {
		_, err := NewSample(raw[:len(raw)%size], layout)
		return nil, err
	}
	c := make(Chunk, 0, len(raw)/size)
	for off := 0; off < len(raw); off += size {
		s, err := NewSample(raw[off:off+size:off+size], layout)
		if err != nil {
			return nil, err
		}
		c = append(c, s)
	}
	return c, nil
}
