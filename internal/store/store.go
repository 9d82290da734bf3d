// Package store writes per-image detection artifacts: one folder per image
// holding the rendered overlay, the colorized heatmap and a one-row record.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"fundus-cam/internal/detection"
	"fundus-cam/internal/overlay"
)

// ErrNotFound is returned when a detection folder does not exist.
var ErrNotFound = errors.New("detection folder not found")

// Artifact file suffixes.
const (
	OverlaySuffix = "_overlay.png"
	HeatmapSuffix = "_heatmap_puro.png"
	RecordSuffix  = "_datos.csv"
)

// Store lays out detection folders under Root.
type Store struct {
	Root       string
	SaveImages bool
}

// New returns a store rooted at root.
func New(root string, saveImages bool) *Store {
	return &Store{Root: root, SaveImages: saveImages}
}

// Dir returns the folder used for an image base name.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.Root, name)
}

// Save writes the artifacts for r and returns r with its artifact paths
// filled in. The rendering is only needed when SaveImages is set. A folder
// created by a failed Save is removed again.
func (s *Store) Save(r detection.Result, rendering *overlay.Rendering) (detection.Result, error) {
	if s.SaveImages && rendering == nil {
		return r, fmt.Errorf("no rendering to save for %s", r.Image)
	}
	name := r.Name()
	dir := s.Dir(name)

	_, statErr := os.Stat(dir)
	created := errors.Is(statErr, os.ErrNotExist)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return r, fmt.Errorf("failed to create output folder: %w", err)
	}

	out, err := s.write(r, rendering, dir, name)
	if err != nil && created {
		os.RemoveAll(dir)
	}
	return out, err
}

func (s *Store) write(r detection.Result, rendering *overlay.Rendering, dir, name string) (detection.Result, error) {
	r.Dir = dir
	r.OverlayPath = ""
	r.HeatmapPath = ""
	if s.SaveImages {
		overlayPath := filepath.Join(dir, name+OverlaySuffix)
		if !gocv.IMWrite(overlayPath, rendering.OverlayBGR) {
			return r, fmt.Errorf("failed to write %s", overlayPath)
		}
		heatmapPath := filepath.Join(dir, name+HeatmapSuffix)
		if !gocv.IMWrite(heatmapPath, rendering.HeatmapBGR) {
			return r, fmt.Errorf("failed to write %s", heatmapPath)
		}
		r.OverlayPath = overlayPath
		r.HeatmapPath = heatmapPath
	}

	csvPath := filepath.Join(dir, name+RecordSuffix)
	if err := writeRecord(csvPath, r); err != nil {
		return r, err
	}
	r.CSVPath = csvPath
	return r, nil
}

func writeRecord(path string, r detection.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(detection.Header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write record header: %w", err)
	}
	if err := w.Write(r.Record()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush record: %w", err)
	}
	return f.Close()
}

// ReadRecord reads back a per-image record file as header and row.
func ReadRecord(path string) (header, row []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open record: %w", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse record %s: %w", path, err)
	}
	if len(rows) != 2 {
		return nil, nil, fmt.Errorf("record %s has %d rows, want 2", path, len(rows))
	}
	return rows[0], rows[1], nil
}

// RemoveDetection deletes a detection folder and everything in it.
func RemoveDetection(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}
