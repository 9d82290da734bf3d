package model

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

const testManifest = `name: tiny
input: [4, 4, 3]
weights: tiny.bin
features:
  name: backbone
  layers:
    - {name: conv_1, type: conv2d, kernel: [3, 3], filters: 2, padding: same, activation: relu}
    - {name: conv_1_bn, type: batchnorm}
head:
  - {name: gap, type: global_avg_pool}
  - {name: drop, type: dropout}
  - {name: out, type: dense, units: 1, activation: sigmoid}
`

// tiny.bin: conv kernel 3*3*3*2 + bias 2, batchnorm 4*2, dense 2 + bias 1.
const tinyWeights = 54 + 2 + 8 + 2 + 1

func writeWeights(t *testing.T, path string, n int) {
	t.Helper()
	buf := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		v := float32(0.01 * float64(i%7+1))
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "model.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeWeights(t, filepath.Join(dir, "tiny.bin"), tinyWeights)
	c, input, err := LoadManifest(writeManifest(t, dir, testManifest))
	if err != nil {
		t.Fatal(err)
	}
	if input != (Shape{H: 4, W: 4, C: 3}) {
		t.Errorf("input = %s", input)
	}
	if got := c.Features().Name(); got != "backbone" {
		t.Errorf("features name = %q", got)
	}
	if got := len(c.Layers()); got != 4 {
		t.Errorf("len(Layers()) = %d, want 4", got)
	}

	out, err := c.Predict(NewTensor(4, 4, 3))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 || out.Data[0] <= 0 || out.Data[0] >= 1 {
		t.Errorf("prediction = %v, want one sigmoid unit", out.Data)
	}

	gm, err := NewGradModel(c, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if gm.TargetLayer() != "conv_1" {
		t.Errorf("target = %s", gm.TargetLayer())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	cases := []struct {
		name     string
		manifest string
		weights  int
	}{
		{name: "short blob", manifest: testManifest, weights: tinyWeights - 1},
		{name: "trailing data", manifest: testManifest, weights: tinyWeights + 3},
		{name: "unknown layer type", manifest: "input: [4, 4, 3]\nweights: tiny.bin\nfeatures:\n  layers:\n    - {name: x, type: lstm}\n", weights: 0},
		{name: "bad input shape", manifest: "input: [4, 4]\nfeatures:\n  layers: []\n", weights: 0},
		{name: "unnamed layer", manifest: "input: [4, 4, 3]\nfeatures:\n  layers:\n    - {type: dropout}\n", weights: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeWeights(t, filepath.Join(dir, "tiny.bin"), tc.weights)
			_, _, err := LoadManifest(writeManifest(t, dir, tc.manifest))
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("err = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, _, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}
