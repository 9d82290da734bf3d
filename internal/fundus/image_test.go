package fundus

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func writeFile(t *testing.T, path string, encode func(f *os.File) error) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := encode(f); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFormats(t *testing.T) {
	dir := t.TempDir()
	src := solid(12, 8, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	files := map[string]func(f *os.File) error{
		"a.png":  func(f *os.File) error { return png.Encode(f, src) },
		"b.bmp":  func(f *os.File) error { return bmp.Encode(f, src) },
		"c.tiff": func(f *os.File) error { return tiff.Encode(f, src, nil) },
	}
	for name, enc := range files {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, name)
			writeFile(t, p, enc)
			img, err := Load(p)
			if err != nil {
				t.Fatal(err)
			}
			if img.Width() != 12 || img.Height() != 8 {
				t.Errorf("size = %dx%d, want 12x8", img.Width(), img.Height())
			}
			if got := img.RGBA.RGBAAt(3, 3); got != (color.RGBA{R: 200, G: 100, B: 50, A: 255}) {
				t.Errorf("pixel = %+v", got)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.png")
	if err := os.WriteFile(corrupt, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{filepath.Join(dir, "missing.jpg"), corrupt} {
		if _, err := Load(p); !errors.Is(err, ErrInput) {
			t.Errorf("Load(%s) err = %v, want ErrInput", filepath.Base(p), err)
		}
	}
}

func TestPreprocess(t *testing.T) {
	img := FromImage("eye.png", solid(50, 30, color.RGBA{R: 255, G: 51, B: 0, A: 255}))
	x, err := img.Preprocess(16)
	if err != nil {
		t.Fatal(err)
	}
	if x.H != 16 || x.W != 16 || x.C != 3 {
		t.Fatalf("shape = %dx%dx%d", x.H, x.W, x.C)
	}
	for y := 0; y < 16; y++ {
		for xx := 0; xx < 16; xx++ {
			r, g, b := x.At(y, xx, 0), x.At(y, xx, 1), x.At(y, xx, 2)
			if math.Abs(r-1) > 1e-9 || math.Abs(g-0.2) > 1e-9 || b != 0 {
				t.Fatalf("pixel (%d,%d) = %v %v %v", xx, y, r, g, b)
			}
		}
	}
	if _, err := img.Preprocess(0); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestPreprocessDownscaleSamplesTwoTaps(t *testing.T) {
	// Linear resize at 8x reads columns 8i+3 and 8i+4 only, so narrow
	// stripes there survive at full strength instead of being averaged.
	src := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{A: 255}
			if m := x % 8; m == 3 || m == 4 {
				c.R = 255
			}
			src.SetRGBA(x, y, c)
		}
	}
	x, err := FromImage("stripes.png", src).Preprocess(8)
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 8; y++ {
		for xx := 0; xx < 8; xx++ {
			r, g, b := x.At(y, xx, 0), x.At(y, xx, 1), x.At(y, xx, 2)
			if r != 1 || g != 0 || b != 0 {
				t.Fatalf("pixel (%d,%d) = %v %v %v, want 1 0 0", xx, y, r, g, b)
			}
		}
	}
}

func TestBGRMatChannelOrder(t *testing.T) {
	img := FromImage("eye.png", solid(4, 3, color.RGBA{R: 10, G: 20, B: 30, A: 255}))
	m, err := img.BGRMat()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if m.Rows() != 3 || m.Cols() != 4 || m.Channels() != 3 {
		t.Fatalf("mat = %dx%dx%d", m.Rows(), m.Cols(), m.Channels())
	}
	v := m.GetVecbAt(1, 2)
	if v[0] != 30 || v[1] != 20 || v[2] != 10 {
		t.Errorf("BGR = %v, want [30 20 10]", v)
	}
}

func TestNames(t *testing.T) {
	img := FromImage(filepath.Join("data", "paciente_01.JPG"), solid(1, 1, color.RGBA{A: 255}))
	if got := img.BaseName(); got != "paciente_01" {
		t.Errorf("BaseName() = %q", got)
	}
	for name, want := range map[string]bool{
		"a.jpg": true, "b.JPEG": true, "c.png": true, "d.bmp": true, "e.tiff": true,
		"f.tif": false, "notes.txt": false, "noext": false,
	} {
		if got := IsImageFile(name); got != want {
			t.Errorf("IsImageFile(%q) = %v, want %v", name, got, want)
		}
	}
}
