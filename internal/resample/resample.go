// Package resample scales heatmaps from activation resolution to image
// resolution.
package resample

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"runtime"

	"gocv.io/x/gocv"

	"fundus-cam/internal/heatmap"
	"fundus-cam/pkg/colorutil"
)

// Heatmap upscales h to rows x cols with bicubic interpolation and clamps
// the result to [0,1], since cubic kernels overshoot near sharp edges.
func Heatmap(h *heatmap.Heatmap, rows, cols int) (*heatmap.Heatmap, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid resample target %dx%d", rows, cols)
	}

	srcRows, srcCols := h.Dims()
	buf := floatBytes(h)
	src, err := gocv.NewMatFromBytes(srcRows, srcCols, gocv.MatTypeCV32F, buf)
	if err != nil {
		return nil, fmt.Errorf("heatmap to mat: %w", err)
	}
	defer src.Close()
	defer runtime.KeepAlive(buf)

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(cols, rows), 0, 0, gocv.InterpolationCubic)
	if dst.Rows() != rows || dst.Cols() != cols {
		return nil, fmt.Errorf("resize produced %dx%d, want %dx%d", dst.Rows(), dst.Cols(), rows, cols)
	}

	vals, err := dst.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read resized heatmap: %w", err)
	}
	data := make([]float64, rows*cols)
	for i, v := range vals[:rows*cols] {
		data[i] = colorutil.Clamp01(float64(v))
	}
	return heatmap.New(rows, cols, data)
}

// floatBytes encodes the grid as native-endian float32 for OpenCV.
func floatBytes(h *heatmap.Heatmap) []byte {
	vals := h.Values()
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.NativeEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
	}
	return buf
}
