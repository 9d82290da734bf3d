package model

import (
	"fmt"
	"math"
	"strings"
)

// ActivationFunc is an elementwise or channelwise nonlinearity.
type ActivationFunc int

const (
	Linear ActivationFunc = iota
	ReLU
	ReLU6
	Sigmoid
	Softmax // over channels at each spatial location
)

func (a ActivationFunc) String() string {
	switch a {
	case ReLU:
		return "relu"
	case ReLU6:
		return "relu6"
	case Sigmoid:
		return "sigmoid"
	case Softmax:
		return "softmax"
	default:
		return "linear"
	}
}

// ParseActivation maps a manifest name to an ActivationFunc. An empty name is
// linear.
func ParseActivation(name string) (ActivationFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "linear", "none":
		return Linear, nil
	case "relu":
		return ReLU, nil
	case "relu6":
		return ReLU6, nil
	case "sigmoid":
		return Sigmoid, nil
	case "softmax":
		return Softmax, nil
	default:
		return Linear, fmt.Errorf("%w: unknown activation %q", ErrConfiguration, name)
	}
}

// apply computes the activation of pre in place.
func (a ActivationFunc) apply(pre *Tensor) {
	switch a {
	case ReLU:
		for i, v := range pre.Data {
			if v < 0 {
				pre.Data[i] = 0
			}
		}
	case ReLU6:
		for i, v := range pre.Data {
			pre.Data[i] = math.Min(math.Max(v, 0), 6)
		}
	case Sigmoid:
		for i, v := range pre.Data {
			pre.Data[i] = 1 / (1 + math.Exp(-v))
		}
	case Softmax:
		for p := 0; p < pre.H*pre.W; p++ {
			row := pre.Data[p*pre.C : (p+1)*pre.C]
			maxV := math.Inf(-1)
			for _, v := range row {
				maxV = math.Max(maxV, v)
			}
			var sum float64
			for i, v := range row {
				row[i] = math.Exp(v - maxV)
				sum += row[i]
			}
			for i := range row {
				row[i] /= sum
			}
		}
	}
}

// backward converts the gradient with respect to the activation output into
// the gradient with respect to its input. pre is the activation input and out
// the activation output.
func (a ActivationFunc) backward(pre, out, gradOut *Tensor) *Tensor {
	g := gradOut.Clone()
	switch a {
	case ReLU:
		for i, v := range pre.Data {
			if v <= 0 {
				g.Data[i] = 0
			}
		}
	case ReLU6:
		for i, v := range pre.Data {
			if v <= 0 || v >= 6 {
				g.Data[i] = 0
			}
		}
	case Sigmoid:
		for i, y := range out.Data {
			g.Data[i] *= y * (1 - y)
		}
	case Softmax:
		for p := 0; p < out.H*out.W; p++ {
			y := out.Data[p*out.C : (p+1)*out.C]
			gy := gradOut.Data[p*out.C : (p+1)*out.C]
			var dot float64
			for i := range y {
				dot += y[i] * gy[i]
			}
			for i := range y {
				g.Data[p*out.C+i] = y[i] * (gy[i] - dot)
			}
		}
	}
	return g
}

// Activation is a standalone nonlinearity layer.
type Activation struct {
	name string
	fn   ActivationFunc
}

// NewActivation creates an activation layer.
func NewActivation(name string, fn ActivationFunc) *Activation {
	return &Activation{name: name, fn: fn}
}

func (a *Activation) Name() string { return a.name }
func (a *Activation) Kind() Kind   { return KindOther }

func (a *Activation) Forward(in *Tensor) (*Tensor, error) {
	out := in.Clone()
	a.fn.apply(out)
	return out, nil
}

func (a *Activation) Backward(in, out, gradOut *Tensor) (*Tensor, error) {
	if gradOut.Len() != out.Len() {
		return nil, fmt.Errorf("gradient length %d does not match output %d", gradOut.Len(), out.Len())
	}
	return a.fn.backward(in, out, gradOut), nil
}
