package classifier

import "strings"

// Category is the closed set of outcomes a prediction label maps to.
type Category string

const (
	Normal             Category = "normal"
	ViralPneumonia     Category = "viral_pneumonia"
	BacterialPneumonia Category = "bacterial_pneumonia"
)

// Label returns the human readable name of the category.
func (c Category) Label() string {
	switch c {
	case Normal:
		return "Normal"
	case ViralPneumonia:
		return "Viral Pneumonia"
	default:
		return "Bacterial Pneumonia"
	}
}

// Variant returns the confidence gauge colour for the category.
func (c Category) Variant() string {
	switch c {
	case Normal:
		return "success"
	case ViralPneumonia:
		return "warning"
	default:
		return "destructive"
	}
}

// Result is the classified view of one prediction. It is never mutated after
// construction.
type Result struct {
	Prediction        string   `json:"prediction"`
	Category          Category `json:"category"`
	Label             string   `json:"label"`
	Variant           string   `json:"variant"`
	Confidence        float64  `json:"confidence"`
	ConfidencePercent float64  `json:"confidence_percent"`
}

// Classify maps a raw prediction label to a category. Matching is a
// case-insensitive substring test: "normal" wins over "viral", and anything
// else, including an empty or unknown label, is BacterialPneumonia.
func Classify(prediction string) Category {
	lower := strings.ToLower(prediction)
	switch {
	case strings.Contains(lower, "normal"):
		return Normal
	case strings.Contains(lower, "viral"):
		return ViralPneumonia
	default:
		return BacterialPneumonia
	}
}

// NewResult classifies prediction and scales confidence to a percentage.
func NewResult(prediction string, confidence float64) Result {
	category := Classify(prediction)
	return Result{
		Prediction:        prediction,
		Category:          category,
		Label:             category.Label(),
		Variant:           category.Variant(),
		Confidence:        confidence,
		ConfidencePercent: confidence * 100,
	}
}
