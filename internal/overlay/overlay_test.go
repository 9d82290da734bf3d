package overlay

import (
	"image"
	"image/color"
	"testing"

	"fundus-cam/internal/fundus"
	"fundus-cam/internal/heatmap"
	"fundus-cam/internal/zone"
)

func blackImage(w, h int) *fundus.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return fundus.FromImage("black.png", img)
}

// hotSquare is a 60x60 map that is 1 inside [20,40]x[20,40] and 0 elsewhere.
func hotSquare(t *testing.T) *heatmap.Heatmap {
	t.Helper()
	data := make([]float64, 60*60)
	for y := 20; y <= 40; y++ {
		for x := 20; x <= 40; x++ {
			data[y*60+x] = 1
		}
	}
	h, err := heatmap.New(60, 60, data)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestRenderColorsAndMarkers(t *testing.T) {
	hm := hotSquare(t)
	z, err := zone.Analyze(hm, zone.DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions().WithAlpha(1).WithCircleRadius(5)
	r, err := Render(blackImage(60, 60), hm, z, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	out := r.Overlay()
	if b := out.Bounds(); b.Dx() != 60 || b.Dy() != 60 {
		t.Fatalf("overlay bounds = %v", b)
	}

	hot := out.RGBAAt(25, 25)
	if hot.R <= hot.B || hot.R <= hot.G {
		t.Errorf("hot pixel not red dominant: %+v", hot)
	}
	cold := out.RGBAAt(5, 5)
	if cold.B <= cold.R || cold.B <= cold.G {
		t.Errorf("cold pixel not blue dominant: %+v", cold)
	}
	if got := out.RGBAAt(35, 30); got != opts.CircleColor {
		t.Errorf("circle pixel = %+v, want %+v", got, opts.CircleColor)
	}
	if got := out.RGBAAt(20, 30); got != opts.BoxColor {
		t.Errorf("box pixel = %+v, want %+v", got, opts.BoxColor)
	}

	// The pure heatmap carries no annotations.
	pure := r.Heatmap()
	if got := pure.RGBAAt(35, 30); got == opts.CircleColor {
		t.Error("pure heatmap contains the centroid marker")
	}
}

func TestRenderEmptyZoneHasNoMarkers(t *testing.T) {
	hm, err := heatmap.Filled(40, 30, 0)
	if err != nil {
		t.Fatal(err)
	}
	z, err := zone.Analyze(hm, zone.DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	r, err := Render(blackImage(30, 40), hm, z, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	out := r.Overlay()
	b := out.Bounds()
	if b.Dx() != 30 || b.Dy() != 40 {
		t.Fatalf("overlay bounds = %v", b)
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if c := out.RGBAAt(x, y); c == opts.CircleColor || c == opts.BoxColor {
				t.Fatalf("unexpected marker color at (%d,%d)", x, y)
			}
		}
	}
}

func TestRenderBlendsOriginal(t *testing.T) {
	hm, err := heatmap.Filled(10, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	r, err := Render(fundus.FromImage("gray.png", src), hm, nil, DefaultOptions().WithAlpha(0))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if got := r.Overlay().RGBAAt(4, 4); got != (color.RGBA{R: 200, G: 200, B: 200, A: 255}) {
		t.Errorf("alpha 0 overlay = %+v, want original pixel", got)
	}
}

func TestRenderErrors(t *testing.T) {
	hm, err := heatmap.Filled(10, 10, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Render(blackImage(12, 10), hm, nil, DefaultOptions()); err == nil {
		t.Error("expected size mismatch error")
	}
	if _, err := Render(blackImage(10, 10), hm, nil, DefaultOptions().WithAlpha(1.5)); err == nil {
		t.Error("expected alpha range error")
	}
}
