// Package detection defines the per-image outcome of the pipeline, its
// tabular record and batch aggregates.
package detection

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"fundus-cam/internal/urgency"
	"fundus-cam/internal/zone"
	"fundus-cam/pkg/geometry"
)

// DetectedThreshold is the probability at which an image counts as a
// positive detection in batch summaries.
const DetectedThreshold = 0.5

// Result is the immutable outcome for one image. Centroid and BBox are nil
// when the active zone is empty.
type Result struct {
	Image       string            `json:"image"`
	Probability float64           `json:"probability"`
	AreaRatio   float64           `json:"area_ratio"`
	Centroid    *geometry.Point2D `json:"centroid,omitempty"`
	BBox        *geometry.BoxInt  `json:"bbox,omitempty"`
	Urgency     float64           `json:"urgency"`
	Label       urgency.Label     `json:"label"`

	// Artifact locations, empty when not written.
	Dir         string `json:"dir,omitempty"`
	OverlayPath string `json:"overlay_path,omitempty"`
	HeatmapPath string `json:"heatmap_path,omitempty"`
	CSVPath     string `json:"csv_path,omitempty"`
}

// New assembles a result from the analysis stages.
func New(image string, probability float64, z *zone.Zone, a urgency.Assessment) Result {
	return Result{
		Image:       image,
		Probability: probability,
		AreaRatio:   z.AreaRatio,
		Centroid:    z.Centroid,
		BBox:        z.BBox,
		Urgency:     a.Score,
		Label:       a.Label,
	}
}

// Name returns the image base name without extension.
func (r Result) Name() string {
	base := filepath.Base(r.Image)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CentroidOrSentinel returns the centroid, or (-1,-1) for an empty zone.
func (r Result) CentroidOrSentinel() geometry.Point2D {
	if r.Centroid == nil {
		return zone.SentinelCentroid
	}
	return *r.Centroid
}

// BBoxOrSentinel returns the bounding box, or (-1,-1,-1,-1) for an empty zone.
func (r Result) BBoxOrSentinel() geometry.BoxInt {
	if r.BBox == nil {
		return zone.SentinelBox
	}
	return *r.BBox
}

// Header is the column order of the per-image record.
var Header = []string{
	"nombre_imagen",
	"probabilidad",
	"centro_x",
	"centro_y",
	"bbox_xmin",
	"bbox_ymin",
	"bbox_xmax",
	"bbox_ymax",
	"tamano_zona_activa",
	"nivel_urgencia",
	"nivel_urgencia_label",
}

// Record formats the result as one row matching Header. Empty zones are
// written with -1 coordinates.
func (r Result) Record() []string {
	c := r.CentroidOrSentinel()
	b := r.BBoxOrSentinel()
	return []string{
		filepath.Base(r.Image),
		formatFloat(r.Probability),
		formatFloat(c.X),
		formatFloat(c.Y),
		strconv.Itoa(b.XMin),
		strconv.Itoa(b.YMin),
		strconv.Itoa(b.XMax),
		strconv.Itoa(b.YMax),
		formatFloat(r.AreaRatio),
		formatFloat(r.Urgency),
		string(r.Label),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SortByUrgency orders results by urgency, highest first. Ties keep their
// input order.
func SortByUrgency(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Urgency > results[j].Urgency
	})
}
