// Package urgency turns a prediction and its active-zone extent into a
// triage score.
package urgency

import "fmt"

// Label is the discrete triage level. The values are the ones written to
// the tabular records.
type Label string

const (
	High   Label = "ALTA"
	Medium Label = "MEDIA"
	Low    Label = "BAJA"
)

// Label boundaries; each is the inclusive lower bound of its level.
const (
	HighThreshold   = 0.75
	MediumThreshold = 0.5
)

// ParseLabel accepts the three record values.
func ParseLabel(s string) (Label, error) {
	switch Label(s) {
	case High, Medium, Low:
		return Label(s), nil
	default:
		return "", fmt.Errorf("unknown urgency label %q", s)
	}
}

// Assessment is a score with its label.
type Assessment struct {
	Score float64 `json:"score"`
	Label Label   `json:"label"`
}

// Score blends model confidence with the spatial extent of the activation.
// A confident prediction over a tiny region scores lower than one where both
// are high.
func Score(probability, areaRatio float64) float64 {
	return (probability + areaRatio) / 2.0
}

// LabelFor maps a score to its level.
func LabelFor(score float64) Label {
	switch {
	case score >= HighThreshold:
		return High
	case score >= MediumThreshold:
		return Medium
	default:
		return Low
	}
}

// Assess scores and labels a prediction.
func Assess(probability, areaRatio float64) Assessment {
	s := Score(probability, areaRatio)
	return Assessment{Score: s, Label: LabelFor(s)}
}
