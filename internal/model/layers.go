package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Padding selects how a convolution treats image borders.
type Padding int

const (
	PaddingValid Padding = iota
	PaddingSame
)

func (p Padding) String() string {
	if p == PaddingSame {
		return "same"
	}
	return "valid"
}

// ParsePadding maps a manifest name to a Padding. An empty name is valid.
func ParsePadding(name string) (Padding, error) {
	switch name {
	case "", "valid":
		return PaddingValid, nil
	case "same":
		return PaddingSame, nil
	default:
		return PaddingValid, fmt.Errorf("%w: unknown padding %q", ErrConfiguration, name)
	}
}

// Conv2DConfig holds the hyperparameters of a 2D convolution.
type Conv2DConfig struct {
	KernelH    int
	KernelW    int
	InChannels int
	Filters    int
	Stride     int
	Padding    Padding
	Activation ActivationFunc
}

// Conv2D is a 2D convolution with an optional fused activation.
type Conv2D struct {
	name   string
	cfg    Conv2DConfig
	kernel *mat.Dense // (KernelH*KernelW*InChannels) x Filters
	bias   []float64
}

// NewConv2D creates a convolution. kernel is laid out as
// [KernelH][KernelW][InChannels][Filters]; bias may be nil.
func NewConv2D(name string, cfg Conv2DConfig, kernel, bias []float64) (*Conv2D, error) {
	if cfg.Stride <= 0 {
		cfg.Stride = 1
	}
	if cfg.KernelH <= 0 || cfg.KernelW <= 0 || cfg.InChannels <= 0 || cfg.Filters <= 0 {
		return nil, fmt.Errorf("%w: conv %s has invalid shape %+v", ErrConfiguration, name, cfg)
	}
	rows := cfg.KernelH * cfg.KernelW * cfg.InChannels
	if len(kernel) != rows*cfg.Filters {
		return nil, fmt.Errorf("%w: conv %s kernel has %d weights, want %d", ErrConfiguration, name, len(kernel), rows*cfg.Filters)
	}
	if bias != nil && len(bias) != cfg.Filters {
		return nil, fmt.Errorf("%w: conv %s bias has %d values, want %d", ErrConfiguration, name, len(bias), cfg.Filters)
	}
	return &Conv2D{
		name:   name,
		cfg:    cfg,
		kernel: mat.NewDense(rows, cfg.Filters, kernel),
		bias:   bias,
	}, nil
}

func (c *Conv2D) Name() string { return c.name }
func (c *Conv2D) Kind() Kind   { return KindConv2D }

// OutputShape returns the shape produced for an input of the given size.
func (c *Conv2D) OutputShape(in Shape) Shape {
	oh, ow, _, _ := c.geometry(in.H, in.W)
	return Shape{H: oh, W: ow, C: c.cfg.Filters}
}

// geometry returns output size and leading padding, following the
// TensorFlow convention of putting the odd padding pixel at the end.
func (c *Conv2D) geometry(h, w int) (outH, outW, padTop, padLeft int) {
	s := c.cfg.Stride
	if c.cfg.Padding == PaddingValid {
		return (h-c.cfg.KernelH)/s + 1, (w-c.cfg.KernelW)/s + 1, 0, 0
	}
	outH = (h + s - 1) / s
	outW = (w + s - 1) / s
	padH := max((outH-1)*s+c.cfg.KernelH-h, 0)
	padW := max((outW-1)*s+c.cfg.KernelW-w, 0)
	return outH, outW, padH / 2, padW / 2
}

// im2col gathers every receptive field into one row of a patch matrix.
func (c *Conv2D) im2col(in *Tensor, outH, outW, padTop, padLeft int) *mat.Dense {
	k := c.cfg.KernelH * c.cfg.KernelW * c.cfg.InChannels
	patches := mat.NewDense(outH*outW, k, nil)
	raw := patches.RawMatrix()
	for oy := 0; oy < outH; oy++ {
		for ox := 0; ox < outW; ox++ {
			row := raw.Data[(oy*outW+ox)*raw.Stride:]
			col := 0
			for ky := 0; ky < c.cfg.KernelH; ky++ {
				iy := oy*c.cfg.Stride + ky - padTop
				for kx := 0; kx < c.cfg.KernelW; kx++ {
					ix := ox*c.cfg.Stride + kx - padLeft
					if iy >= 0 && iy < in.H && ix >= 0 && ix < in.W {
						base := (iy*in.W + ix) * in.C
						copy(row[col:col+in.C], in.Data[base:base+in.C])
					}
					col += in.C
				}
			}
		}
	}
	return patches
}

func (c *Conv2D) Forward(in *Tensor) (*Tensor, error) {
	if in.C != c.cfg.InChannels {
		return nil, fmt.Errorf("conv %s expects %d input channels, got %d", c.name, c.cfg.InChannels, in.C)
	}
	outH, outW, padTop, padLeft := c.geometry(in.H, in.W)
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("conv %s input %dx%d smaller than kernel", c.name, in.H, in.W)
	}

	patches := c.im2col(in, outH, outW, padTop, padLeft)
	var pre mat.Dense
	pre.Mul(patches, c.kernel)

	out := NewTensor(outH, outW, c.cfg.Filters)
	for p := 0; p < outH*outW; p++ {
		for f := 0; f < c.cfg.Filters; f++ {
			v := pre.At(p, f)
			if c.bias != nil {
				v += c.bias[f]
			}
			out.Data[p*c.cfg.Filters+f] = v
		}
	}
	c.cfg.Activation.apply(out)
	return out, nil
}

func (c *Conv2D) Backward(in, out, gradOut *Tensor) (*Tensor, error) {
	if gradOut.Len() != out.Len() {
		return nil, fmt.Errorf("conv %s gradient length %d does not match output %d", c.name, gradOut.Len(), out.Len())
	}
	gPre := fusedBackward(c.cfg.Activation, out, gradOut)

	var gPatches mat.Dense
	gPatches.Mul(gPre.Matrix(), c.kernel.T())

	outH, outW, padTop, padLeft := c.geometry(in.H, in.W)
	gIn := NewTensor(in.H, in.W, in.C)
	for oy := 0; oy < outH; oy++ {
		for ox := 0; ox < outW; ox++ {
			row := gPatches.RawRowView(oy*outW + ox)
			col := 0
			for ky := 0; ky < c.cfg.KernelH; ky++ {
				iy := oy*c.cfg.Stride + ky - padTop
				for kx := 0; kx < c.cfg.KernelW; kx++ {
					ix := ox*c.cfg.Stride + kx - padLeft
					if iy >= 0 && iy < in.H && ix >= 0 && ix < in.W {
						base := (iy*in.W + ix) * in.C
						for ch := 0; ch < in.C; ch++ {
							gIn.Data[base+ch] += row[col+ch]
						}
					}
					col += in.C
				}
			}
		}
	}
	return gIn, nil
}

// fusedBackward undoes a fused activation given only its output. For ReLU and
// ReLU6 the output identifies the inactive region as well as the input does.
func fusedBackward(fn ActivationFunc, out, gradOut *Tensor) *Tensor {
	if fn == Linear {
		return gradOut
	}
	return fn.backward(out, out, gradOut)
}

// BatchNorm applies inference-time batch normalization per channel.
type BatchNorm struct {
	name  string
	scale []float64
	shift []float64
}

// NewBatchNorm folds gamma, beta, moving mean and moving variance into a
// per-channel affine transform.
func NewBatchNorm(name string, gamma, beta, mean, variance []float64, epsilon float64) (*BatchNorm, error) {
	n := len(gamma)
	if n == 0 || len(beta) != n || len(mean) != n || len(variance) != n {
		return nil, fmt.Errorf("%w: batchnorm %s parameter lengths differ", ErrConfiguration, name)
	}
	bn := &BatchNorm{name: name, scale: make([]float64, n), shift: make([]float64, n)}
	for c := 0; c < n; c++ {
		bn.scale[c] = gamma[c] / math.Sqrt(variance[c]+epsilon)
		bn.shift[c] = beta[c] - mean[c]*bn.scale[c]
	}
	return bn, nil
}

func (b *BatchNorm) Name() string { return b.name }
func (b *BatchNorm) Kind() Kind   { return KindOther }

func (b *BatchNorm) Forward(in *Tensor) (*Tensor, error) {
	if in.C != len(b.scale) {
		return nil, fmt.Errorf("batchnorm %s expects %d channels, got %d", b.name, len(b.scale), in.C)
	}
	out := in.Clone()
	for i := range out.Data {
		c := i % in.C
		out.Data[i] = out.Data[i]*b.scale[c] + b.shift[c]
	}
	return out, nil
}

func (b *BatchNorm) Backward(in, out, gradOut *Tensor) (*Tensor, error) {
	if gradOut.Len() != in.Len() {
		return nil, fmt.Errorf("batchnorm %s gradient length %d does not match input %d", b.name, gradOut.Len(), in.Len())
	}
	g := gradOut.Clone()
	for i := range g.Data {
		g.Data[i] *= b.scale[i%in.C]
	}
	return g, nil
}

// GlobalAveragePool averages each channel over all spatial locations.
type GlobalAveragePool struct {
	name string
}

// NewGlobalAveragePool creates a pooling layer.
func NewGlobalAveragePool(name string) *GlobalAveragePool {
	return &GlobalAveragePool{name: name}
}

func (g *GlobalAveragePool) Name() string { return g.name }
func (g *GlobalAveragePool) Kind() Kind   { return KindOther }

func (g *GlobalAveragePool) Forward(in *Tensor) (*Tensor, error) {
	out := NewVector(in.C)
	n := float64(in.H * in.W)
	for i, v := range in.Data {
		out.Data[i%in.C] += v
	}
	for c := range out.Data {
		out.Data[c] /= n
	}
	return out, nil
}

func (g *GlobalAveragePool) Backward(in, out, gradOut *Tensor) (*Tensor, error) {
	if gradOut.Len() != in.C {
		return nil, fmt.Errorf("pool %s gradient length %d does not match channels %d", g.name, gradOut.Len(), in.C)
	}
	gIn := NewTensor(in.H, in.W, in.C)
	n := float64(in.H * in.W)
	for i := range gIn.Data {
		gIn.Data[i] = gradOut.Data[i%in.C] / n
	}
	return gIn, nil
}

// Dense is a fully connected layer over the flattened input.
type Dense struct {
	name   string
	kernel *mat.Dense // inputs x units
	bias   []float64
	act    ActivationFunc
}

// NewDense creates a fully connected layer. kernel is laid out as
// [inputs][units]; bias may be nil.
func NewDense(name string, inputs, units int, kernel, bias []float64, act ActivationFunc) (*Dense, error) {
	if inputs <= 0 || units <= 0 {
		return nil, fmt.Errorf("%w: dense %s has invalid shape %dx%d", ErrConfiguration, name, inputs, units)
	}
	if len(kernel) != inputs*units {
		return nil, fmt.Errorf("%w: dense %s kernel has %d weights, want %d", ErrConfiguration, name, len(kernel), inputs*units)
	}
	if bias != nil && len(bias) != units {
		return nil, fmt.Errorf("%w: dense %s bias has %d values, want %d", ErrConfiguration, name, len(bias), units)
	}
	return &Dense{name: name, kernel: mat.NewDense(inputs, units, kernel), bias: bias, act: act}, nil
}

func (d *Dense) Name() string { return d.name }
func (d *Dense) Kind() Kind   { return KindOther }

// Units returns the output width.
func (d *Dense) Units() int {
	_, u := d.kernel.Dims()
	return u
}

func (d *Dense) Forward(in *Tensor) (*Tensor, error) {
	inputs, units := d.kernel.Dims()
	if in.Len() != inputs {
		return nil, fmt.Errorf("dense %s expects %d inputs, got %d", d.name, inputs, in.Len())
	}
	x := mat.NewVecDense(inputs, in.Data)
	var y mat.VecDense
	y.MulVec(d.kernel.T(), x)

	out := NewVector(units)
	for u := 0; u < units; u++ {
		out.Data[u] = y.AtVec(u)
		if d.bias != nil {
			out.Data[u] += d.bias[u]
		}
	}
	d.act.apply(out)
	return out, nil
}

func (d *Dense) Backward(in, out, gradOut *Tensor) (*Tensor, error) {
	inputs, units := d.kernel.Dims()
	if gradOut.Len() != units {
		return nil, fmt.Errorf("dense %s gradient length %d does not match units %d", d.name, gradOut.Len(), units)
	}
	gPre := fusedBackward(d.act, out, gradOut)
	var gx mat.VecDense
	gx.MulVec(d.kernel, mat.NewVecDense(units, gPre.Data))

	gIn := NewTensor(in.H, in.W, in.C)
	for i := 0; i < inputs; i++ {
		gIn.Data[i] = gx.AtVec(i)
	}
	return gIn, nil
}

// Dropout is the identity at inference time.
type Dropout struct {
	name string
}

// NewDropout creates an inference-time dropout layer.
func NewDropout(name string) *Dropout {
	return &Dropout{name: name}
}

func (d *Dropout) Name() string { return d.name }
func (d *Dropout) Kind() Kind   { return KindOther }

func (d *Dropout) Forward(in *Tensor) (*Tensor, error) {
	return in, nil
}

func (d *Dropout) Backward(in, out, gradOut *Tensor) (*Tensor, error) {
	return gradOut, nil
}
