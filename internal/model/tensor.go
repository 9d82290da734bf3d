// Package model adapts an opaque image classifier for gradient-weighted class
// activation mapping.
//
// A classifier is an ordered list of layers whose first element is the
// feature-extraction sub-network. The adapter splits that network at a target
// layer and exposes a single forward pass yielding both the target activation
// and the final prediction, plus the gradient of a prediction unit with respect
// to that activation.
package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a dense activation for a single image in height x width x channel
// order. Vectors are represented with H = W = 1.
type Tensor struct {
	H, W, C int
	Data    []float64
}

// NewTensor allocates a zero tensor.
func NewTensor(h, w, c int) *Tensor {
	return &Tensor{H: h, W: w, C: c, Data: make([]float64, h*w*c)}
}

// NewVector allocates a zero 1x1xn tensor.
func NewVector(n int) *Tensor {
	return NewTensor(1, 1, n)
}

// TensorFrom wraps data without copying. The length must match the shape.
func TensorFrom(h, w, c int, data []float64) (*Tensor, error) {
	if h <= 0 || w <= 0 || c <= 0 {
		return nil, fmt.Errorf("invalid tensor shape %dx%dx%d", h, w, c)
	}
	if len(data) != h*w*c {
		return nil, fmt.Errorf("tensor data length %d does not match shape %dx%dx%d", len(data), h, w, c)
	}
	return &Tensor{H: h, W: w, C: c, Data: data}, nil
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Shape returns the dimensions as a Shape.
func (t *Tensor) Shape() Shape {
	return Shape{H: t.H, W: t.W, C: t.C}
}

// At returns the value at row y, column x, channel c.
func (t *Tensor) At(y, x, c int) float64 {
	return t.Data[(y*t.W+x)*t.C+c]
}

// Set stores the value at row y, column x, channel c.
func (t *Tensor) Set(y, x, c int, v float64) {
	t.Data[(y*t.W+x)*t.C+c] = v
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{H: t.H, W: t.W, C: t.C, Data: make([]float64, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// Matrix returns a (H*W) x C view sharing the tensor's storage. Each row is a
// spatial location, each column a channel.
func (t *Tensor) Matrix() *mat.Dense {
	return mat.NewDense(t.H*t.W, t.C, t.Data)
}

// Shape describes tensor dimensions.
type Shape struct {
	H, W, C int
}

// Len returns the number of elements a tensor of this shape holds.
func (s Shape) Len() int {
	return s.H * s.W * s.C
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.H, s.W, s.C)
}
