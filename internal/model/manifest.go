package model

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest describes a classifier: the feature-extraction layers, the head
// layers, and a little-endian float32 weight blob consumed in layer order.
type Manifest struct {
	Name     string      `yaml:"name"`
	Input    []int       `yaml:"input"` // [height, width, channels]
	Weights  string      `yaml:"weights"`
	Features FeatureSpec `yaml:"features"`
	Head     []LayerSpec `yaml:"head"`
}

// FeatureSpec is the feature-extraction sub-network.
type FeatureSpec struct {
	Name   string      `yaml:"name"`
	Layers []LayerSpec `yaml:"layers"`
}

// LayerSpec describes one layer. Which fields apply depends on Type.
type LayerSpec struct {
	Name       string  `yaml:"name"`
	Type       string  `yaml:"type"` // conv2d | batchnorm | activation | global_avg_pool | dense | dropout | onnx
	Kernel     []int   `yaml:"kernel,omitempty"`
	Filters    int     `yaml:"filters,omitempty"`
	Stride     int     `yaml:"stride,omitempty"`
	Padding    string  `yaml:"padding,omitempty"`
	Activation string  `yaml:"activation,omitempty"`
	UseBias    *bool   `yaml:"use_bias,omitempty"`
	Units      int     `yaml:"units,omitempty"`
	Epsilon    float64 `yaml:"epsilon,omitempty"`

	// onnx blocks
	Path        string `yaml:"path,omitempty"`
	InputName   string `yaml:"input_name,omitempty"`
	OutputName  string `yaml:"output_name,omitempty"`
	OutputShape []int  `yaml:"output_shape,omitempty"`
}

func (s LayerSpec) useBias() bool {
	return s.UseBias == nil || *s.UseBias
}

// LoadManifest reads a YAML manifest and its weight blob and builds the
// classifier. Relative paths are resolved against the manifest's directory.
func LoadManifest(path string) (*Classifier, Shape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Shape{}, fmt.Errorf("%w: read model manifest: %w", ErrConfiguration, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, Shape{}, fmt.Errorf("%w: parse model manifest: %w", ErrConfiguration, err)
	}
	input, err := m.InputShape()
	if err != nil {
		return nil, Shape{}, err
	}
	baseDir := filepath.Dir(path)

	var weights io.Reader = eofReader{}
	if m.Weights != "" {
		f, err := os.Open(resolve(baseDir, m.Weights))
		if err != nil {
			return nil, Shape{}, fmt.Errorf("%w: open weights: %w", ErrConfiguration, err)
		}
		defer f.Close()
		weights = f
	}

	c, err := m.Build(baseDir, weights)
	if err != nil {
		return nil, Shape{}, err
	}
	return c, input, nil
}

// InputShape returns the declared model input shape.
func (m *Manifest) InputShape() (Shape, error) {
	s, err := shapeOf(m.Input)
	if err != nil {
		return Shape{}, fmt.Errorf("%w: manifest input: %w", ErrConfiguration, err)
	}
	return s, nil
}

// Build constructs the classifier, reading weights from r in layer order.
// Every weight must be consumed.
func (m *Manifest) Build(baseDir string, r io.Reader) (*Classifier, error) {
	shape, err := m.InputShape()
	if err != nil {
		return nil, err
	}
	wr := &weightReader{r: bufio.NewReader(r)}

	features := make([]Layer, 0, len(m.Features.Layers))
	for _, spec := range m.Features.Layers {
		l, out, err := buildLayer(spec, shape, baseDir, wr)
		if err != nil {
			return nil, err
		}
		features = append(features, l)
		shape = out
	}
	head := make([]Layer, 0, len(m.Head))
	for _, spec := range m.Head {
		l, out, err := buildLayer(spec, shape, baseDir, wr)
		if err != nil {
			return nil, err
		}
		head = append(head, l)
		shape = out
	}

	if _, err := wr.r.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: weight blob has unused trailing data", ErrConfiguration)
	}
	name := m.Features.Name
	if name == "" {
		name = "features"
	}
	return NewClassifier(NewSequential(name, features...), head...), nil
}

// buildLayer creates one layer for an input of shape in and returns it with
// its output shape.
func buildLayer(spec LayerSpec, in Shape, baseDir string, wr *weightReader) (Layer, Shape, error) {
	if spec.Name == "" {
		return nil, Shape{}, fmt.Errorf("%w: %s layer without a name", ErrConfiguration, spec.Type)
	}
	act, err := ParseActivation(spec.Activation)
	if err != nil {
		return nil, Shape{}, fmt.Errorf("layer %s: %w", spec.Name, err)
	}

	switch spec.Type {
	case "conv2d":
		if len(spec.Kernel) != 2 {
			return nil, Shape{}, fmt.Errorf("%w: conv %s needs kernel [h, w]", ErrConfiguration, spec.Name)
		}
		padding, err := ParsePadding(spec.Padding)
		if err != nil {
			return nil, Shape{}, fmt.Errorf("layer %s: %w", spec.Name, err)
		}
		cfg := Conv2DConfig{
			KernelH:    spec.Kernel[0],
			KernelW:    spec.Kernel[1],
			InChannels: in.C,
			Filters:    spec.Filters,
			Stride:     spec.Stride,
			Padding:    padding,
			Activation: act,
		}
		kernel, err := wr.next(cfg.KernelH * cfg.KernelW * cfg.InChannels * cfg.Filters)
		if err != nil {
			return nil, Shape{}, fmt.Errorf("%w: conv %s kernel: %w", ErrConfiguration, spec.Name, err)
		}
		var bias []float64
		if spec.useBias() {
			if bias, err = wr.next(cfg.Filters); err != nil {
				return nil, Shape{}, fmt.Errorf("%w: conv %s bias: %w", ErrConfiguration, spec.Name, err)
			}
		}
		conv, err := NewConv2D(spec.Name, cfg, kernel, bias)
		if err != nil {
			return nil, Shape{}, err
		}
		out := conv.OutputShape(in)
		if out.H <= 0 || out.W <= 0 {
			return nil, Shape{}, fmt.Errorf("%w: conv %s input %s smaller than kernel", ErrConfiguration, spec.Name, in)
		}
		return conv, out, nil

	case "batchnorm":
		params := make([][]float64, 4) // gamma, beta, moving mean, moving variance
		for i := range params {
			if params[i], err = wr.next(in.C); err != nil {
				return nil, Shape{}, fmt.Errorf("%w: batchnorm %s: %w", ErrConfiguration, spec.Name, err)
			}
		}
		eps := spec.Epsilon
		if eps == 0 {
			eps = 1e-3
		}
		bn, err := NewBatchNorm(spec.Name, params[0], params[1], params[2], params[3], eps)
		if err != nil {
			return nil, Shape{}, err
		}
		return bn, in, nil

	case "activation":
		return NewActivation(spec.Name, act), in, nil

	case "global_avg_pool":
		return NewGlobalAveragePool(spec.Name), Shape{H: 1, W: 1, C: in.C}, nil

	case "dense":
		kernel, err := wr.next(in.Len() * spec.Units)
		if err != nil {
			return nil, Shape{}, fmt.Errorf("%w: dense %s kernel: %w", ErrConfiguration, spec.Name, err)
		}
		var bias []float64
		if spec.useBias() {
			if bias, err = wr.next(spec.Units); err != nil {
				return nil, Shape{}, fmt.Errorf("%w: dense %s bias: %w", ErrConfiguration, spec.Name, err)
			}
		}
		d, err := NewDense(spec.Name, in.Len(), spec.Units, kernel, bias, act)
		if err != nil {
			return nil, Shape{}, err
		}
		return d, Shape{H: 1, W: 1, C: d.Units()}, nil

	case "dropout":
		return NewDropout(spec.Name), in, nil

	case "onnx":
		out, err := shapeOf(spec.OutputShape)
		if err != nil {
			return nil, Shape{}, fmt.Errorf("%w: onnx %s output_shape: %w", ErrConfiguration, spec.Name, err)
		}
		block, err := NewOnnxBlock(spec.Name, OnnxBlockConfig{
			Path:        resolve(baseDir, spec.Path),
			InputName:   spec.InputName,
			OutputName:  spec.OutputName,
			InputShape:  in,
			OutputShape: out,
		})
		if err != nil {
			return nil, Shape{}, err
		}
		return block, block.OutputShape(), nil

	default:
		return nil, Shape{}, fmt.Errorf("%w: layer %s has unknown type %q", ErrConfiguration, spec.Name, spec.Type)
	}
}

func shapeOf(dims []int) (Shape, error) {
	if len(dims) != 3 {
		return Shape{}, fmt.Errorf("want [height, width, channels], got %v", dims)
	}
	s := Shape{H: dims[0], W: dims[1], C: dims[2]}
	if s.H <= 0 || s.W <= 0 || s.C <= 0 {
		return Shape{}, fmt.Errorf("dimensions must be positive, got %v", dims)
	}
	return s, nil
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// weightReader decodes consecutive little-endian float32 values.
type weightReader struct {
	r *bufio.Reader
}

func (w *weightReader) next(n int) ([]float64, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(w.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("weight blob too short")
		}
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
	}
	return out, nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
