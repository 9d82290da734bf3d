// Package overlay renders a heatmap and its active zone on top of the
// original photograph.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"runtime"
	"sync"

	"gocv.io/x/gocv"

	"fundus-cam/internal/fundus"
	"fundus-cam/internal/heatmap"
	"fundus-cam/internal/zone"
	"fundus-cam/pkg/colorutil"
)

// Options controls blending and annotation.
type Options struct {
	Alpha           float64    // Heatmap weight in the blend, in [0,1]
	CircleRadius    int        // Radius of the centroid marker in pixels
	CircleThickness int        // Stroke width of the centroid marker
	BoxThickness    int        // Stroke width of the bounding box
	CircleColor     color.RGBA // Centroid marker
	BoxColor        color.RGBA // Bounding box
}

// DefaultOptions returns the standard rendering parameters.
func DefaultOptions() Options {
	return Options{
		Alpha:           0.45,
		CircleRadius:    25,
		CircleThickness: 3,
		BoxThickness:    2,
		CircleColor:     colorutil.Yellow,
		BoxColor:        colorutil.White,
	}
}

// WithAlpha returns a copy with a different blend weight.
func (o Options) WithAlpha(alpha float64) Options {
	o.Alpha = alpha
	return o
}

// WithCircleRadius returns a copy with a different marker radius.
func (o Options) WithCircleRadius(r int) Options {
	o.CircleRadius = r
	return o
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.Alpha < 0 || o.Alpha > 1 {
		return fmt.Errorf("alpha %v outside [0,1]", o.Alpha)
	}
	if o.CircleRadius < 0 {
		return fmt.Errorf("negative circle radius %d", o.CircleRadius)
	}
	return nil
}

// Rendering holds the annotated overlay and the colorized heatmap, both in
// BGR order. Close releases the native buffers.
type Rendering struct {
	OverlayBGR gocv.Mat
	HeatmapBGR gocv.Mat
}

// Close frees both Mats.
func (r *Rendering) Close() error {
	if r == nil {
		return nil
	}
	r.OverlayBGR.Close()
	r.HeatmapBGR.Close()
	return nil
}

// Overlay returns the annotated overlay as an RGBA image.
func (r *Rendering) Overlay() *image.RGBA {
	return matToImage(r.OverlayBGR)
}

// Heatmap returns the colorized heatmap as an RGBA image.
func (r *Rendering) Heatmap() *image.RGBA {
	return matToImage(r.HeatmapBGR)
}

// Render colorizes hm with the jet palette, blends it over img and, when the
// zone is not empty, marks its centroid and bounding box. hm must already be
// at the image resolution.
func Render(img *fundus.Image, hm *heatmap.Heatmap, z *zone.Zone, opts Options) (*Rendering, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	rows, cols := hm.Dims()
	if rows != img.Height() || cols != img.Width() {
		return nil, fmt.Errorf("heatmap %dx%d does not match image %dx%d", rows, cols, img.Height(), img.Width())
	}

	levels := hm.Levels()
	gray, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, levels)
	if err != nil {
		return nil, fmt.Errorf("failed to create heatmap mat: %w", err)
	}
	defer gray.Close()
	defer runtime.KeepAlive(levels)

	colored := gocv.NewMat()
	gocv.ApplyColorMap(gray, &colored, gocv.ColormapJet)

	orig, err := img.BGRMat()
	if err != nil {
		colored.Close()
		return nil, err
	}
	defer orig.Close()

	blended := gocv.NewMat()
	gocv.AddWeighted(colored, opts.Alpha, orig, 1.0-opts.Alpha, 0, &blended)

	if z != nil && !z.Empty() {
		center := z.Centroid.Round().ImagePoint()
		gocv.Circle(&blended, center, opts.CircleRadius, opts.CircleColor, opts.CircleThickness)
		gocv.Rectangle(&blended, z.BBox.Rectangle(), opts.BoxColor, opts.BoxThickness)
	}

	return &Rendering{OverlayBGR: blended, HeatmapBGR: colored}, nil
}

// matToImage converts an 8-bit BGR Mat to RGBA, one stripe of rows per CPU.
func matToImage(m gocv.Mat) *image.RGBA {
	h, w := m.Rows(), m.Cols()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stride := img.Stride

	numWorkers := runtime.NumCPU()
	rowsPerWorker := (h + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for worker := 0; worker < numWorkers; worker++ {
		startY := worker * rowsPerWorker
		endY := min(startY+rowsPerWorker, h)
		if startY >= h {
			break
		}

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			for y := yStart; y < yEnd; y++ {
				row := y * stride
				for x := 0; x < w; x++ {
					o := row + x*4
					img.Pix[o+0] = m.GetUCharAt(y, x*3+2)
					img.Pix[o+1] = m.GetUCharAt(y, x*3+1)
					img.Pix[o+2] = m.GetUCharAt(y, x*3+0)
					img.Pix[o+3] = 255
				}
			}
		}(startY, endY)
	}
	wg.Wait()
	return img
}
