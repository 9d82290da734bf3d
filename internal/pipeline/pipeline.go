// Package pipeline runs the full analysis for one fundus image or a folder
// of them: preprocessing, Grad-CAM, resampling, active zone, urgency,
// rendering and persistence.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"fundus-cam/internal/detection"
	"fundus-cam/internal/fundus"
	"fundus-cam/internal/gradcam"
	"fundus-cam/internal/overlay"
	"fundus-cam/internal/resample"
	"fundus-cam/internal/store"
	"fundus-cam/internal/urgency"
	"fundus-cam/internal/zone"
)

// Options configures a Detector.
type Options struct {
	Threshold  float64 // Active-zone saliency threshold in [0,1]
	InputSize  int     // Square model input side
	OutputRoot string  // Folder holding one subfolder per image
	SaveImages bool    // Write overlay and heatmap PNGs
	Overlay    overlay.Options
}

// DefaultOptions returns the standard analysis settings.
func DefaultOptions() Options {
	return Options{
		Threshold:  zone.DefaultThreshold,
		InputSize:  fundus.DefaultInputSize,
		OutputRoot: "resultados",
		SaveImages: true,
		Overlay:    overlay.DefaultOptions(),
	}
}

// Recorder appends finished results to a log.
type Recorder interface {
	Append(ctx context.Context, r detection.Result, at time.Time) (int64, error)
}

// Detector analyzes images with a fixed engine and settings. It is meant for
// one caller at a time.
type Detector struct {
	engine   *gradcam.Engine
	store    *store.Store
	recorder Recorder
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Detector.
type Option func(*Detector)

// WithRecorder appends every successful result to rec.
func WithRecorder(rec Recorder) Option {
	return func(d *Detector) { d.recorder = rec }
}

// WithLogger sets the logger used for batch progress.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock overrides the timestamp source for recorded results.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector validates opts and builds a detector.
func NewDetector(engine *gradcam.Engine, opts Options, options ...Option) (*Detector, error) {
	if engine == nil {
		return nil, fmt.Errorf("nil engine")
	}
	if math.IsNaN(opts.Threshold) || opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v outside [0,1]", opts.Threshold)
	}
	if opts.InputSize <= 0 {
		return nil, fmt.Errorf("invalid input size %d", opts.InputSize)
	}
	if err := opts.Overlay.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		engine: engine,
		store:  store.New(opts.OutputRoot, opts.SaveImages),
		opts:   opts,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range options {
		o(d)
	}
	return d, nil
}

// ProcessImage analyzes one image and persists its artifacts. Nothing is
// written when any analysis stage fails. A failed history append is logged
// and the saved result is still returned.
func (d *Detector) ProcessImage(ctx context.Context, path string) (detection.Result, error) {
	if err := ctx.Err(); err != nil {
		return detection.Result{}, err
	}
	img, err := fundus.Load(path)
	if err != nil {
		return detection.Result{}, err
	}
	x, err := img.Preprocess(d.opts.InputSize)
	if err != nil {
		return detection.Result{}, err
	}

	cam, err := d.engine.Compute(x)
	if err != nil {
		return detection.Result{}, fmt.Errorf("grad-cam for %s: %w", path, err)
	}
	full, err := resample.Heatmap(cam.Heatmap, img.Height(), img.Width())
	if err != nil {
		return detection.Result{}, fmt.Errorf("resample heatmap for %s: %w", path, err)
	}
	z, err := zone.Analyze(full, d.opts.Threshold)
	if err != nil {
		return detection.Result{}, err
	}
	assessment := urgency.Assess(cam.Probability, z.AreaRatio)
	res := detection.New(path, cam.Probability, z, assessment)

	var rendering *overlay.Rendering
	if d.opts.SaveImages {
		rendering, err = overlay.Render(img, full, z, d.opts.Overlay)
		if err != nil {
			return detection.Result{}, fmt.Errorf("render overlay for %s: %w", path, err)
		}
		defer rendering.Close()
	}

	res, err = d.store.Save(res, rendering)
	if err != nil {
		return detection.Result{}, err
	}
	if d.recorder != nil {
		if _, err := d.recorder.Append(ctx, res, d.now()); err != nil {
			d.logger.Warn("failed to record result", "file", path, "err", err)
		}
	}
	return res, nil
}

// ProcessFolder analyzes every image in dir in file-name order. Images that
// fail are logged and skipped; only a folder that cannot be listed is an
// error.
func (d *Detector) ProcessFolder(ctx context.Context, dir string) ([]detection.Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %w", fundus.ErrInput, dir, err)
	}
	if err := os.MkdirAll(d.opts.OutputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}

	var results []detection.Result
	for _, e := range entries {
		if e.IsDir() || !fundus.IsImageFile(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		path := filepath.Join(dir, e.Name())
		res, err := d.ProcessImage(ctx, path)
		if err != nil {
			d.logger.Warn("skipping image", "file", path, "err", err)
			continue
		}
		d.logger.Info("processed image", "file", path, "overlay", res.OverlayPath,
			"urgency", res.Urgency, "label", res.Label)
		results = append(results, res)
	}
	return results, nil
}
