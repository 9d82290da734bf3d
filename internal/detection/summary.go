package detection

import (
	"fmt"
	"math"

	"fundus-cam/internal/urgency"
)

// Summary aggregates a batch of results.
type Summary struct {
	Total    int
	Detected int // probability >= DetectedThreshold
	High     int
	Medium   int
	Low      int

	// MinUrgency and MinProbability are the batch minimums, 0 for an empty
	// batch.
	MinUrgency     float64
	MinProbability float64
}

// Summarize counts results per label and detection status.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	if len(results) == 0 {
		return s
	}
	s.MinUrgency = math.Inf(1)
	s.MinProbability = math.Inf(1)
	for _, r := range results {
		if r.Probability >= DetectedThreshold {
			s.Detected++
		}
		switch r.Label {
		case urgency.High:
			s.High++
		case urgency.Medium:
			s.Medium++
		case urgency.Low:
			s.Low++
		}
		s.MinUrgency = math.Min(s.MinUrgency, r.Urgency)
		s.MinProbability = math.Min(s.MinProbability, r.Probability)
	}
	return s
}

// String renders the one-line batch report.
func (s Summary) String() string {
	return fmt.Sprintf("Processed: %d | Detected>=%.1f: %d | %s: %d | %s: %d | %s: %d | min urgency: %.3f | min prob: %.3f",
		s.Total, DetectedThreshold, s.Detected,
		urgency.High, s.High, urgency.Medium, s.Medium, urgency.Low, s.Low,
		s.MinUrgency, s.MinProbability)
}
