package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInit struct {
	once sync.Once
	err  error
}

// initONNXRuntime loads the onnxruntime shared library once per process.
func initONNXRuntime(searchDir string) error {
	ortInit.once.Do(func() {
		libPath := resolveSharedLibraryPath(searchDir)
		if libPath == "" {
			ortInit.err = fmt.Errorf("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				ortInit.err = fmt.Errorf("initialize onnxruntime: %w", err)
			}
		}
	})
	return ortInit.err
}

// resolveSharedLibraryPath locates the onnxruntime library. The environment
// variable wins; otherwise common names are probed next to the model.
func resolveSharedLibraryPath(dir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	names := []string{
		"libonnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dll",
	}
	for _, d := range []string{dir, filepath.Join(dir, "lib")} {
		for _, n := range names {
			p := filepath.Join(d, n)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

// OnnxBlock runs an exported sub-graph as one opaque, forward-only layer. It
// is meant for the early part of a feature extractor that precedes the target
// layer, so it never needs to propagate gradients.
type OnnxBlock struct {
	name     string
	inShape  Shape
	outShape Shape

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// OnnxBlockConfig describes the exported graph. Tensors use NHWC layout with
// a batch of one.
type OnnxBlockConfig struct {
	Path        string
	InputName   string
	OutputName  string
	InputShape  Shape
	OutputShape Shape
}

// NewOnnxBlock opens an ONNX session for the sub-graph.
func NewOnnxBlock(name string, cfg OnnxBlockConfig) (*OnnxBlock, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("%w: onnx block %s: %w", ErrConfiguration, name, err)
	}
	if cfg.InputShape.Len() == 0 || cfg.OutputShape.Len() == 0 {
		return nil, fmt.Errorf("%w: onnx block %s needs input and output shapes", ErrConfiguration, name)
	}
	if err := initONNXRuntime(filepath.Dir(cfg.Path)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	in, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.InputShape.H), int64(cfg.InputShape.W), int64(cfg.InputShape.C)))
	if err != nil {
		return nil, fmt.Errorf("allocate onnx input tensor: %w", err)
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.OutputShape.H), int64(cfg.OutputShape.W), int64(cfg.OutputShape.C)))
	if err != nil {
		in.Destroy()
		return nil, fmt.Errorf("allocate onnx output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		cfg.Path,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{in},
		[]ort.Value{out},
		nil,
	)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return nil, fmt.Errorf("%w: create onnx session for %s: %w", ErrConfiguration, name, err)
	}

	return &OnnxBlock{
		name:     name,
		inShape:  cfg.InputShape,
		outShape: cfg.OutputShape,
		session:  session,
		input:    in,
		output:   out,
	}, nil
}

func (b *OnnxBlock) Name() string { return b.name }
func (b *OnnxBlock) Kind() Kind   { return KindOther }

// OutputShape returns the fixed shape the block produces.
func (b *OnnxBlock) OutputShape() Shape {
	return b.outShape
}

func (b *OnnxBlock) Forward(in *Tensor) (*Tensor, error) {
	if in.Shape() != b.inShape {
		return nil, fmt.Errorf("onnx block %s expects input %s, got %s", b.name, b.inShape, in.Shape())
	}
	dst := b.input.GetData()
	for i, v := range in.Data {
		dst[i] = float32(v)
	}
	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	src := b.output.GetData()
	out := NewTensor(b.outShape.H, b.outShape.W, b.outShape.C)
	for i, v := range src {
		out.Data[i] = float64(v)
	}
	return out, nil
}

// Close destroys the session and its tensors.
func (b *OnnxBlock) Close() error {
	var err error
	if b.session != nil {
		err = b.session.Destroy()
		b.session = nil
	}
	if b.input != nil {
		b.input.Destroy()
		b.input = nil
	}
	if b.output != nil {
		b.output.Destroy()
		b.output = nil
	}
	return err
}
