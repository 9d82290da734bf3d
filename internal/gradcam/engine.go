// Package gradcam computes gradient-weighted class activation maps.
package gradcam

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"fundus-cam/internal/heatmap"
	"fundus-cam/internal/model"
)

// epsilon replaces a zero maximum so an all-zero map normalizes to zeros.
const epsilon = 1e-10

// Engine produces raw heatmaps from a dual-output model.
type Engine struct {
	model *model.GradModel
}

// NewEngine creates an engine around an adapted model.
func NewEngine(m *model.GradModel) *Engine {
	return &Engine{model: m}
}

// TargetLayer returns the layer the heatmaps are computed at.
func (e *Engine) TargetLayer() string {
	return e.model.TargetLayer()
}

// Result is the output of one Grad-CAM evaluation.
type Result struct {
	Heatmap     *heatmap.Heatmap // activation resolution, values in [0,1]
	Probability float64
	ClassIndex  int
}

// Compute evaluates x and explains the predicted class: unit 0 for a single
// sigmoid output, otherwise the argmax.
func (e *Engine) Compute(x *model.Tensor) (*Result, error) {
	return e.compute(x, -1)
}

// ComputeClass explains the given output unit.
func (e *Engine) ComputeClass(x *model.Tensor, classIndex int) (*Result, error) {
	if classIndex < 0 {
		return nil, fmt.Errorf("%w: negative class index %d", model.ErrComputation, classIndex)
	}
	return e.compute(x, classIndex)
}

func (e *Engine) compute(x *model.Tensor, classIndex int) (*Result, error) {
	trace, err := e.model.Forward(x)
	if err != nil {
		return nil, err
	}
	pred := trace.Prediction.Data
	if len(pred) == 0 {
		return nil, fmt.Errorf("%w: empty prediction", model.ErrComputation)
	}
	if classIndex < 0 {
		classIndex = 0
		if len(pred) > 1 {
			classIndex = floats.MaxIdx(pred)
		}
	}

	grads, err := trace.Gradient(classIndex)
	if err != nil {
		return nil, err
	}

	act := trace.Activation
	weights := poolGradients(grads)

	// raw[p] = sum_c A[p,c] * weight[c] for every spatial location p.
	var raw mat.VecDense
	raw.MulVec(act.Matrix(), weights)

	values := make([]float64, act.H*act.W)
	for i := range values {
		values[i] = raw.AtVec(i)
	}
	normalize(values)

	hm, err := heatmap.New(act.H, act.W, values)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrComputation, err)
	}
	return &Result{Heatmap: hm, Probability: pred[classIndex], ClassIndex: classIndex}, nil
}

// poolGradients averages the gradient of each channel over both spatial axes.
func poolGradients(grads *model.Tensor) *mat.VecDense {
	g := grads.Matrix()
	rows, cols := g.Dims()
	weights := mat.NewVecDense(cols, nil)
	col := make([]float64, rows)
	for c := 0; c < cols; c++ {
		mat.Col(col, c, g)
		weights.SetVec(c, floats.Sum(col)/float64(rows))
	}
	return weights
}

// normalize keeps positive evidence only and scales the peak to 1.
func normalize(values []float64) {
	for i, v := range values {
		if v < 0 {
			values[i] = 0
		}
	}
	maxV := floats.Max(values)
	if maxV == 0 {
		maxV = epsilon
	}
	floats.Scale(1/maxV, values)
}
