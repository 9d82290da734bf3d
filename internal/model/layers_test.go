package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func randomTensor(rng *rand.Rand, h, w, c int) *Tensor {
	t := NewTensor(h, w, c)
	for i := range t.Data {
		t.Data[i] = rng.Float64()*2 - 1
	}
	return t
}

func randomSlice(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.Float64()*2 - 1
	}
	return out
}

func TestConv2DSamePadding(t *testing.T) {
	conv, err := NewConv2D("conv", Conv2DConfig{KernelH: 3, KernelW: 3, InChannels: 1, Filters: 1, Padding: PaddingSame}, ones(9), nil)
	if err != nil {
		t.Fatal(err)
	}
	in, _ := TensorFrom(3, 3, 1, ones(9))
	out, err := conv.Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{4, 6, 4, 6, 9, 6, 4, 6, 4}
	if diff := cmp.Diff(want, out.Data); diff != "" {
		t.Errorf("same-padded sum mismatch (-want +got):\n%s", diff)
	}
	if got := out.Shape(); got != (Shape{H: 3, W: 3, C: 1}) {
		t.Errorf("shape = %s", got)
	}
}

func TestConv2DValidStride(t *testing.T) {
	conv, err := NewConv2D("conv", Conv2DConfig{KernelH: 2, KernelW: 2, InChannels: 1, Filters: 1, Stride: 2}, ones(4), []float64{0.5})
	if err != nil {
		t.Fatal(err)
	}
	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i)
	}
	in, _ := TensorFrom(4, 4, 1, data)
	out, err := conv.Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{10.5, 18.5, 42.5, 50.5}
	if diff := cmp.Diff(want, out.Data); diff != "" {
		t.Errorf("strided sum mismatch (-want +got):\n%s", diff)
	}
}

func TestConv2DRejectsChannelMismatch(t *testing.T) {
	conv, err := NewConv2D("conv", Conv2DConfig{KernelH: 1, KernelW: 1, InChannels: 2, Filters: 1}, ones(2), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conv.Forward(NewTensor(2, 2, 3)); err == nil {
		t.Fatal("expected channel mismatch error")
	}
}

func TestNewConv2DWeightCount(t *testing.T) {
	_, err := NewConv2D("conv", Conv2DConfig{KernelH: 3, KernelW: 3, InChannels: 1, Filters: 2}, ones(9), nil)
	if err == nil {
		t.Fatal("expected kernel size error")
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	act := NewActivation("softmax", Softmax)
	in, _ := TensorFrom(1, 1, 3, []float64{1, 2, 3})
	out, err := act.Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, v := range out.Data {
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("softmax sum = %v", sum)
	}
	if !(out.Data[2] > out.Data[1] && out.Data[1] > out.Data[0]) {
		t.Errorf("softmax not monotone: %v", out.Data)
	}
}

// checkGradient compares Backward against central finite differences of the
// scalar loss sum(out * weights).
func checkGradient(t *testing.T, l Differentiable, in *Tensor, rng *rand.Rand) {
	t.Helper()
	out, err := l.Forward(in)
	if err != nil {
		t.Fatal(err)
	}
	weights := randomSlice(rng, out.Len())
	seed := out.Clone()
	copy(seed.Data, weights)

	got, err := l.Backward(in, out, seed)
	if err != nil {
		t.Fatal(err)
	}

	loss := func(x *Tensor) float64 {
		y, err := l.Forward(x)
		if err != nil {
			t.Fatal(err)
		}
		var s float64
		for i, v := range y.Data {
			s += v * weights[i]
		}
		return s
	}

	const h = 1e-6
	want := make([]float64, in.Len())
	for i := range in.Data {
		plus := in.Clone()
		plus.Data[i] += h
		minus := in.Clone()
		minus.Data[i] -= h
		want[i] = (loss(plus) - loss(minus)) / (2 * h)
	}
	if diff := cmp.Diff(want, got.Data, cmpopts.EquateApprox(0, 1e-5)); diff != "" {
		t.Errorf("%s gradient mismatch (-numeric +analytic):\n%s", l.Name(), diff)
	}
}

func TestLayerGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	conv, err := NewConv2D("conv", Conv2DConfig{KernelH: 3, KernelW: 3, InChannels: 2, Filters: 3, Stride: 2, Padding: PaddingSame},
		randomSlice(rng, 3*3*2*3), randomSlice(rng, 3))
	if err != nil {
		t.Fatal(err)
	}
	convSigmoid, err := NewConv2D("conv_sigmoid", Conv2DConfig{KernelH: 2, KernelW: 2, InChannels: 2, Filters: 2, Activation: Sigmoid},
		randomSlice(rng, 2*2*2*2), nil)
	if err != nil {
		t.Fatal(err)
	}
	bn, err := NewBatchNorm("bn", []float64{1.5, 0.5}, []float64{0.1, -0.2}, []float64{0.3, 0}, []float64{2, 0.5}, 1e-3)
	if err != nil {
		t.Fatal(err)
	}
	dense, err := NewDense("dense", 5*5*2, 3, randomSlice(rng, 5*5*2*3), randomSlice(rng, 3), Sigmoid)
	if err != nil {
		t.Fatal(err)
	}
	denseSoftmax, err := NewDense("dense_softmax", 5*5*2, 4, randomSlice(rng, 5*5*2*4), nil, Softmax)
	if err != nil {
		t.Fatal(err)
	}

	layers := []Differentiable{
		conv,
		convSigmoid,
		bn,
		dense,
		denseSoftmax,
		NewActivation("sigmoid", Sigmoid),
		NewActivation("softmax", Softmax),
		NewGlobalAveragePool("gap"),
		NewDropout("dropout"),
	}
	for _, l := range layers {
		t.Run(l.Name(), func(t *testing.T) {
			checkGradient(t, l, randomTensor(rng, 5, 5, 2), rng)
		})
	}
}

func TestReLUBackwardMasksInactive(t *testing.T) {
	for _, fn := range []ActivationFunc{ReLU, ReLU6} {
		t.Run(fn.String(), func(t *testing.T) {
			act := NewActivation(fn.String(), fn)
			in, _ := TensorFrom(1, 1, 4, []float64{-1, 0.5, 3, 7})
			out, err := act.Forward(in)
			if err != nil {
				t.Fatal(err)
			}
			g, err := act.Backward(in, out, &Tensor{H: 1, W: 1, C: 4, Data: ones(4)})
			if err != nil {
				t.Fatal(err)
			}
			want := []float64{0, 1, 1, 1}
			if fn == ReLU6 {
				want[3] = 0
			}
			if diff := cmp.Diff(want, g.Data); diff != "" {
				t.Errorf("mask mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseActivation(t *testing.T) {
	cases := map[string]ActivationFunc{
		"":        Linear,
		"relu":    ReLU,
		"ReLU6":   ReLU6,
		"sigmoid": Sigmoid,
		"softmax": Softmax,
	}
	for name, want := range cases {
		got, err := ParseActivation(name)
		if err != nil {
			t.Fatalf("ParseActivation(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("ParseActivation(%q) = %s, want %s", name, got, want)
		}
	}
	if _, err := ParseActivation("gelu"); err == nil {
		t.Error("expected error for unknown activation")
	}
}
