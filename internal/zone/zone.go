// Package zone derives the active zone of a heatmap: the pixels whose
// saliency reaches a clinical threshold, with their extent, centroid and
// bounding box.
package zone

import (
	"fmt"
	"math"

	"fundus-cam/internal/heatmap"
	"fundus-cam/pkg/geometry"
)

// DefaultThreshold is the saliency level at which a pixel counts as active.
// Lowering it grows the zone and trades specificity for sensitivity.
const DefaultThreshold = 0.7

// Sentinel coordinates used by the tabular record when no pixel is active.
var (
	SentinelCentroid = geometry.Point2D{X: -1, Y: -1}
	SentinelBox      = geometry.BoxInt{XMin: -1, YMin: -1, XMax: -1, YMax: -1}
)

// Mask is a boolean grid the size of the analyzed heatmap.
type Mask struct {
	Rows, Cols int
	Bits       []bool // row-major
}

// At reports whether pixel (x, y) is active.
func (m *Mask) At(x, y int) bool {
	return m.Bits[y*m.Cols+x]
}

// Count returns the number of active pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Zone describes the active region. Centroid and BBox are nil exactly when
// no pixel is active.
type Zone struct {
	AreaRatio float64
	Centroid  *geometry.Point2D
	BBox      *geometry.BoxInt
	Mask      *Mask
}

// Empty reports whether no pixel reached the threshold.
func (z *Zone) Empty() bool {
	return z.Centroid == nil
}

// CentroidOrSentinel returns the centroid, or (-1,-1) for an empty zone.
func (z *Zone) CentroidOrSentinel() geometry.Point2D {
	if z.Centroid == nil {
		return SentinelCentroid
	}
	return *z.Centroid
}

// BBoxOrSentinel returns the bounding box, or (-1,-1,-1,-1) for an empty zone.
func (z *Zone) BBoxOrSentinel() geometry.BoxInt {
	if z.BBox == nil {
		return SentinelBox
	}
	return *z.BBox
}

// Analyze thresholds h (active where value >= threshold) and measures the
// resulting region.
func Analyze(h *heatmap.Heatmap, threshold float64) (*Zone, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold %v outside [0,1]", threshold)
	}
	rows, cols := h.Dims()
	mask := &Mask{Rows: rows, Cols: cols, Bits: make([]bool, rows*cols)}

	var (
		count      int
		sumX, sumY float64
		box        geometry.BoxInt
	)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if h.At(y, x) < threshold {
				continue
			}
			mask.Bits[y*cols+x] = true
			if count == 0 {
				box = geometry.BoxInt{XMin: x, YMin: y, XMax: x, YMax: y}
			} else {
				box = box.Extend(x, y)
			}
			count++
			sumX += float64(x)
			sumY += float64(y)
		}
	}

	z := &Zone{Mask: mask}
	if total := rows * cols; total > 0 {
		z.AreaRatio = float64(count) / float64(total)
	}
	if count == 0 {
		return z, nil
	}
	centroid := geometry.NewPoint2D(sumX/float64(count), sumY/float64(count))
	z.Centroid = &centroid
	z.BBox = &box
	return z, nil
}
