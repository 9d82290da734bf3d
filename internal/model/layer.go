package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports a network that cannot be adapted: a missing
	// target layer, no convolution to auto-select, or a malformed manifest.
	ErrConfiguration = errors.New("configuration error")

	// ErrComputation reports a failure during the forward or backward pass.
	ErrComputation = errors.New("computation error")
)

// Kind tags a layer with the capability the adapter queries for.
type Kind int

const (
	// KindOther is any layer that is not a 2D convolution.
	KindOther Kind = iota
	// KindConv2D is a 2D convolution producing spatial feature maps.
	KindConv2D
)

func (k Kind) String() string {
	switch k {
	case KindConv2D:
		return "Conv2D"
	default:
		return "Other"
	}
}

// Layer is one named stage of a network.
type Layer interface {
	Name() string
	Kind() Kind
	Forward(in *Tensor) (*Tensor, error)
}

// Differentiable is a layer that can propagate gradients to its input.
// Backward receives the input and output of a previous Forward call together
// with the gradient of the loss with respect to out, and returns the gradient
// with respect to in.
type Differentiable interface {
	Layer
	Backward(in, out, gradOut *Tensor) (*Tensor, error)
}

// Container is a layer composed of an ordered list of sub-layers.
type Container interface {
	Layer
	Layers() []Layer
}

// Network is anything exposing its layers in declaration order.
type Network interface {
	Layers() []Layer
}

// Sequential chains layers in order. It is used as the feature-extraction
// sub-network of a Classifier.
type Sequential struct {
	name   string
	layers []Layer
}

// NewSequential creates a named chain of layers.
func NewSequential(name string, layers ...Layer) *Sequential {
	return &Sequential{name: name, layers: layers}
}

func (s *Sequential) Name() string    { return s.name }
func (s *Sequential) Kind() Kind      { return KindOther }
func (s *Sequential) Layers() []Layer { return s.layers }

// Forward runs every sub-layer in order.
func (s *Sequential) Forward(in *Tensor) (*Tensor, error) {
	return runLayers(s.layers, in)
}

// Classifier is a feature extractor followed by a linear sequence of head
// layers.
type Classifier struct {
	features *Sequential
	head     []Layer
}

// NewClassifier assembles a classifier from its feature extractor and head.
func NewClassifier(features *Sequential, head ...Layer) *Classifier {
	return &Classifier{features: features, head: head}
}

// Layers returns the feature extractor followed by the head layers.
func (c *Classifier) Layers() []Layer {
	out := make([]Layer, 0, len(c.head)+1)
	out = append(out, c.features)
	return append(out, c.head...)
}

// Features returns the feature-extraction sub-network.
func (c *Classifier) Features() *Sequential {
	return c.features
}

// Predict runs the whole classifier.
func (c *Classifier) Predict(in *Tensor) (*Tensor, error) {
	return runLayers(c.Layers(), in)
}

// Close releases resources held by layers such as ONNX sessions.
func (c *Classifier) Close() error {
	var errs []error
	for _, l := range flatten(c.Layers()) {
		if closer, ok := l.(interface{ Close() error }); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

func runLayers(layers []Layer, in *Tensor) (*Tensor, error) {
	x := in
	for _, l := range layers {
		out, err := l.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", l.Name(), err)
		}
		x = out
	}
	return x, nil
}

// flatten expands containers recursively into their leaf layers.
func flatten(layers []Layer) []Layer {
	var out []Layer
	for _, l := range layers {
		if c, ok := l.(Container); ok {
			out = append(out, flatten(c.Layers())...)
			continue
		}
		out = append(out, l)
	}
	return out
}
