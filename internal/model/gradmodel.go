package model

import (
	"fmt"
	"log/slog"
)

// GradModel is the dual-output view of a classifier: one forward pass yields
// the target layer's activation together with the final prediction, and the
// recorded pass can be differentiated back to that activation.
type GradModel struct {
	target Layer
	prefix []Layer          // feature layers up to and including the target
	suffix []Differentiable // remaining feature layers followed by the head
}

// NewGradModel splits net at targetLayer. The first element of net.Layers()
// must be the feature-extraction container. When targetLayer is empty the last
// convolution among the container's direct layers is used.
func NewGradModel(net Network, targetLayer string, logger *slog.Logger) (*GradModel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	layers := net.Layers()
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: network has no layers", ErrConfiguration)
	}
	features, ok := layers[0].(Container)
	if !ok {
		return nil, fmt.Errorf("%w: first layer %s is not a feature extractor", ErrConfiguration, layers[0].Name())
	}

	featureLayers := features.Layers()
	idx, err := selectTarget(featureLayers, targetLayer)
	if err != nil {
		return nil, err
	}

	rest := make([]Layer, 0, len(featureLayers)-idx-1+len(layers)-1)
	rest = append(rest, featureLayers[idx+1:]...)
	rest = append(rest, layers[1:]...)

	suffix := make([]Differentiable, 0, len(rest))
	for _, l := range flatten(rest) {
		d, ok := l.(Differentiable)
		if !ok {
			return nil, fmt.Errorf("%w: layer %s after target %s is not differentiable",
				ErrConfiguration, l.Name(), featureLayers[idx].Name())
		}
		suffix = append(suffix, d)
	}

	gm := &GradModel{
		target: featureLayers[idx],
		prefix: featureLayers[:idx+1],
		suffix: suffix,
	}
	logger.Info("using target layer", "layer", gm.target.Name(), "kind", gm.target.Kind())
	return gm, nil
}

func selectTarget(layers []Layer, name string) (int, error) {
	if name != "" {
		for i, l := range layers {
			if l.Name() == name {
				return i, nil
			}
		}
		return -1, fmt.Errorf("%w: target layer %q not found", ErrConfiguration, name)
	}
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i].Kind() == KindConv2D {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: no convolutional layer in feature extractor", ErrConfiguration)
}

// TargetLayer returns the name of the layer whose activation is exposed.
func (g *GradModel) TargetLayer() string {
	return g.target.Name()
}

// Trace is one recorded forward pass.
type Trace struct {
	Activation *Tensor
	Prediction *Tensor
	steps      []step
}

type step struct {
	layer   Differentiable
	in, out *Tensor
}

// Forward runs the network once, recording what Gradient needs.
func (g *GradModel) Forward(x *Tensor) (*Trace, error) {
	act, err := runLayers(g.prefix, x)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrComputation, err)
	}
	return g.forwardFrom(act)
}

func (g *GradModel) forwardFrom(act *Tensor) (*Trace, error) {
	t := &Trace{Activation: act, steps: make([]step, 0, len(g.suffix))}
	cur := act
	for _, l := range g.suffix {
		out, err := l.Forward(cur)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %s: %w", ErrComputation, l.Name(), err)
		}
		t.steps = append(t.steps, step{layer: l, in: cur, out: out})
		cur = out
	}
	t.Prediction = cur
	return t, nil
}

// Gradient returns d Prediction[classIndex] / d Activation.
func (t *Trace) Gradient(classIndex int) (*Tensor, error) {
	if classIndex < 0 || classIndex >= t.Prediction.Len() {
		return nil, fmt.Errorf("%w: class index %d out of range [0,%d)", ErrComputation, classIndex, t.Prediction.Len())
	}
	grad := NewTensor(t.Prediction.H, t.Prediction.W, t.Prediction.C)
	grad.Data[classIndex] = 1

	for i := len(t.steps) - 1; i >= 0; i-- {
		s := t.steps[i]
		g, err := s.layer.Backward(s.in, s.out, grad)
		if err != nil {
			return nil, fmt.Errorf("%w: backward %s: %w", ErrComputation, s.layer.Name(), err)
		}
		grad = g
	}
	if grad.Len() != t.Activation.Len() {
		return nil, fmt.Errorf("%w: gradient shape %s does not match activation %s",
			ErrComputation, grad.Shape(), t.Activation.Shape())
	}
	return grad, nil
}
