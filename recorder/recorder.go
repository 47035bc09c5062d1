// Package recorder writes pulled chunks to a numpy .npy file that grows as
// chunks arrive. The array is float64 ("<f8"), one row per sample, with
// columns for every EEG channel, every AUX channel, the status word and the
// hardware counter, in that order. The header is rewritten after every
// write, so the file is a valid .npy array at all times.
package recorder

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/sbinet/npyio"
	"github.com/usnistgov/nvxinlet"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// headerLength is the fixed size of the .npy header, preamble included. It
// leaves room for a 20-digit row count.
const headerLength = 128

const (
	magic      = "\x93NUMPY"
	npyVersion = "\x01\x00"
)

// Recorder appends chunks with one layout to an open .npy file.
type Recorder struct {
	file    *os.File
	layout  nvxinlet.Layout
	columns int
	rows    int
	buf     []byte
	closed  bool
}

// Columns returns the number of values stored for each sample of layout.
func Columns(layout nvxinlet.Layout) int {
	return layout.Channels() + 2
}

// Create makes (or truncates) the file at path and writes an empty array header.
func Create(path string, layout nvxinlet.Layout) (*Recorder, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	r := &Recorder{file: file, layout: layout, columns: Columns(layout)}
	if err := r.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(0, 2); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) header() []byte {
	dict := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%d, %d), }", r.rows, r.columns)
	header := make([]byte, 0, headerLength)
	header = append(header, magic...)
	header = append(header, npyVersion...)
	header = binary.LittleEndian.AppendUint16(header, uint16(headerLength-len(magic)-len(npyVersion)-2))
	header = append(header, dict...)
	for len(header) < headerLength-1 {
		header = append(header, ' ')
	}
	return append(header, '\n')
}

func (r *Recorder) writeHeader() error {
	_, err := r.file.WriteAt(r.header(), 0)
	return err
}

// Write appends every sample in chunk and updates the header.
func (r *Recorder) Write(chunk nvxinlet.Chunk) error {
	if r.closed {
		return fmt.Errorf("recorder %s is closed: %w", r.file.Name(), nvxinlet.ErrState)
	}
	if chunk.Len() == 0 {
		return nil
	}
	if chunk.Layout() != r.layout {
		return fmt.Errorf("chunk layout %v, recorder layout %v: %w", chunk.Layout(), r.layout, nvxinlet.ErrConfiguration)
	}
	r.buf = r.buf[:0]
	appendValue := func(v float64) {
		r.buf = binary.LittleEndian.AppendUint64(r.buf, math.Float64bits(v))
	}
	for _, s := range chunk {
		for i := 0; i < r.layout.EEGCount; i++ {
			v, _ := s.EEG(i)
			appendValue(float64(v))
		}
		for i := 0; i < r.layout.AuxCount; i++ {
			v, _ := s.Aux(i)
			appendValue(float64(v))
		}
		appendValue(float64(s.Status()))
		appendValue(float64(s.Counter()))
	}
	if _, err := r.file.Write(r.buf); err != nil {
		return err
	}
	r.rows += chunk.Len()
	return r.writeHeader()
}

// Rows returns the number of samples written.
func (r *Recorder) Rows() int {
	return r.rows
}

// Name returns the file name.
func (r *Recorder) Name() string {
	return r.file.Name()
}

// Close rewrites the header and closes the file.
func (r *Recorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.writeHeader(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// ReadFile reads a 2-dimensional float64 .npy file, such as one made by a
// Recorder, into a matrix. It returns nil for an array with no rows.
func ReadFile(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npy, err := npyio.NewReader(f)
	if err != nil {
		return nil, err
	}
	shape := npy.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("%s has shape %v, want 2 dimensions", path, shape)
	}
	if npy.Header.Descr.Fortran {
		return nil, fmt.Errorf("%s is in Fortran order", path)
	}
	if shape[0] == 0 || shape[1] == 0 {
		return nil, nil
	}
	var data []float64
	if err := npy.Read(&data); err != nil {
		return nil, err
	}
	return mat.NewDense(shape[0], shape[1], data), nil
}

// ColumnSummary gives simple statistics of one column of a recording.
type ColumnSummary struct {
	Name   string
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize computes statistics for each column of m, a matrix read from a
// recording with the given layout.
func Summarize(m *mat.Dense, layout nvxinlet.Layout) ([]ColumnSummary, error) {
	if m == nil {
		return nil, nil
	}
	rows, cols := m.Dims()
	if cols != Columns(layout) {
		return nil, fmt.Errorf("matrix has %d columns, layout %v needs %d: %w",
			cols, layout, Columns(layout), nvxinlet.ErrConfiguration)
	}
	names := append(nvxinlet.ChannelNames(layout), "STATUS", "COUNTER")
	col := make([]float64, rows)
	summary := make([]ColumnSummary, cols)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, m)
		mean, std := stat.MeanStdDev(col, nil)
		lo, hi := col[0], col[0]
		for _, v := range col {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		summary[j] = ColumnSummary{Name: names[j], Mean: mean, StdDev: std, Min: lo, Max: hi}
	}
	return summary, nil
}
