package detection

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"fundus-cam/internal/heatmap"
	"fundus-cam/internal/urgency"
	"fundus-cam/internal/zone"
	"fundus-cam/pkg/geometry"
)

func TestRecordEmptyZoneUsesSentinels(t *testing.T) {
	h, err := heatmap.Filled(4, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	z, err := zone.Analyze(h, zone.DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	r := New("/data/ojo.png", 0.25, z, urgency.Assess(0.25, z.AreaRatio))

	want := []string{"ojo.png", "0.25", "-1", "-1", "-1", "-1", "-1", "-1", "0", "0.125", "BAJA"}
	if diff := cmp.Diff(want, r.Record()); diff != "" {
		t.Errorf("Record() mismatch (-want +got):\n%s", diff)
	}
	if len(Header) != len(want) {
		t.Errorf("header has %d columns, record %d", len(Header), len(want))
	}
}

func TestRecordActiveZone(t *testing.T) {
	c := geometry.NewPoint2D(4.5, 2)
	b := geometry.BoxInt{XMin: 1, YMin: 0, XMax: 8, YMax: 4}
	r := Result{
		Image:       "a/b/paciente.jpg",
		Probability: 0.9,
		AreaRatio:   0.6,
		Centroid:    &c,
		BBox:        &b,
		Urgency:     0.75,
		Label:       urgency.High,
	}
	want := []string{"paciente.jpg", "0.9", "4.5", "2", "1", "0", "8", "4", "0.6", "0.75", "ALTA"}
	if diff := cmp.Diff(want, r.Record()); diff != "" {
		t.Errorf("Record() mismatch (-want +got):\n%s", diff)
	}
	if r.Name() != "paciente" {
		t.Errorf("Name() = %q", r.Name())
	}
}

func TestSortByUrgency(t *testing.T) {
	results := []Result{
		{Image: "a", Urgency: 0.2},
		{Image: "b", Urgency: 0.9},
		{Image: "c", Urgency: 0.5},
		{Image: "d", Urgency: 0.9},
	}
	SortByUrgency(results)
	var got []string
	for _, r := range results {
		got = append(got, r.Image)
	}
	if diff := cmp.Diff([]string{"b", "d", "c", "a"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize(t *testing.T) {
	results := []Result{
		{Probability: 0.9, Urgency: 0.8, Label: urgency.High},
		{Probability: 0.7, Urgency: 0.6, Label: urgency.Medium},
		{Probability: 0.3, Urgency: 0.2, Label: urgency.Low},
		{Probability: 0.5, Urgency: 0.4, Label: urgency.Low},
	}
	want := Summary{
		Total:          4,
		Detected:       3,
		High:           1,
		Medium:         1,
		Low:            2,
		MinUrgency:     0.2,
		MinProbability: 0.3,
	}
	got := Summarize(results)
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(Summary{}, Summarize(nil)); diff != "" {
		t.Errorf("empty batch mismatch (-want +got):\n%s", diff)
	}
}
