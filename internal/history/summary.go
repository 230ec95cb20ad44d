package history

import (
	"time"

	"github.com/example/pneumoscan/internal/classifier"
)

// Summary aggregates the entries currently held in the log.
type Summary struct {
	Total             int                         `json:"total"`
	Categories        map[classifier.Category]int `json:"categories"`
	AverageConfidence float64                     `json:"average_confidence"`
	LatestAt          *time.Time                  `json:"latest_at,omitempty"`
}

// Summarize counts entries per category and averages their confidence.
func Summarize(log Log) Summary {
	summary := Summary{
		Total: len(log),
		Categories: map[classifier.Category]int{
			classifier.Normal:             0,
			classifier.ViralPneumonia:     0,
			classifier.BacterialPneumonia: 0,
		},
	}
	if len(log) == 0 {
		return summary
	}

	var sum float64
	for _, entry := range log {
		summary.Categories[classifier.Classify(entry.Prediction)]++
		sum += entry.Confidence
	}
	summary.AverageConfidence = sum / float64(len(log))

	latest := log[0].Timestamp
	summary.LatestAt = &latest
	return summary
}
