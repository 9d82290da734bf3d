// Package heatmap holds class-activation saliency grids.
package heatmap

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"fundus-cam/pkg/colorutil"
)

// Heatmap is a row-major grid of saliency values in [0,1]. Row y is image row
// y, column x is image column x.
type Heatmap struct {
	grid *mat.Dense
}

// New wraps data as a rows x cols grid without copying.
func New(rows, cols int, data []float64) (*Heatmap, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid heatmap size %dx%d", rows, cols)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("heatmap data length %d does not match %dx%d", len(data), rows, cols)
	}
	return &Heatmap{grid: mat.NewDense(rows, cols, data)}, nil
}

// Filled returns a grid with every cell set to v.
func Filled(rows, cols int, v float64) (*Heatmap, error) {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = v
	}
	return New(rows, cols, data)
}

// Dims returns the number of rows and columns.
func (h *Heatmap) Dims() (rows, cols int) {
	return h.grid.Dims()
}

// At returns the value at row y, column x.
func (h *Heatmap) At(y, x int) float64 {
	return h.grid.At(y, x)
}

// Values returns the backing row-major slice. Callers must not modify it.
func (h *Heatmap) Values() []float64 {
	return h.grid.RawMatrix().Data
}

// Max returns the largest value.
func (h *Heatmap) Max() float64 {
	return floats.Max(h.Values())
}

// Min returns the smallest value.
func (h *Heatmap) Min() float64 {
	return floats.Min(h.Values())
}

// Levels quantizes the grid to 8-bit levels, clamping to [0,1] first.
func (h *Heatmap) Levels() []byte {
	vals := h.Values()
	out := make([]byte, len(vals))
	for i, v := range vals {
		out[i] = colorutil.Quantize(v)
	}
	return out
}
