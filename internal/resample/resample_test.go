package resample

import (
	"fmt"
	"math"
	"testing"

	"fundus-cam/internal/heatmap"
)

func TestResampleShape(t *testing.T) {
	cases := []struct{ srcRows, srcCols, rows, cols int }{
		{7, 7, 224, 224},
		{7, 7, 480, 640},
		{1, 1, 10, 10},
		{3, 5, 17, 9},
		{7, 7, 7, 7},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%dx%d_to_%dx%d", tc.srcRows, tc.srcCols, tc.rows, tc.cols), func(t *testing.T) {
			data := make([]float64, tc.srcRows*tc.srcCols)
			for i := range data {
				data[i] = float64(i%3) / 2
			}
			src, err := heatmap.New(tc.srcRows, tc.srcCols, data)
			if err != nil {
				t.Fatal(err)
			}
			out, err := Heatmap(src, tc.rows, tc.cols)
			if err != nil {
				t.Fatal(err)
			}
			rows, cols := out.Dims()
			if rows != tc.rows || cols != tc.cols {
				t.Fatalf("Dims() = %dx%d, want %dx%d", rows, cols, tc.rows, tc.cols)
			}
			if out.Min() < 0 || out.Max() > 1 {
				t.Errorf("values outside [0,1]: min %v max %v", out.Min(), out.Max())
			}
		})
	}
}

func TestResampleClampsOvershoot(t *testing.T) {
	// A single hot cell next to zeros makes cubic interpolation ring below 0.
	data := make([]float64, 49)
	data[24] = 1
	src, err := heatmap.New(7, 7, data)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Heatmap(src, 70, 70)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range out.Values() {
		if v < 0 || v > 1 || math.IsNaN(v) {
			t.Fatalf("value %v outside [0,1]", v)
		}
	}
}

func TestResampleConstant(t *testing.T) {
	src, err := heatmap.Filled(7, 7, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Heatmap(src, 20, 30)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range out.Values() {
		if math.Abs(v-0.8) > 1e-5 {
			t.Fatalf("constant map changed to %v", v)
		}
	}
}

func TestResampleRejectsBadTarget(t *testing.T) {
	src, err := heatmap.Filled(2, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Heatmap(src, 0, 4); err == nil {
		t.Error("expected error for zero rows")
	}
}
