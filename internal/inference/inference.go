package inference

import (
	"context"
	"errors"

	"github.com/example/pneumoscan/internal/ingest"
)

var (
	// ErrNetworkOrServer covers transport failures and non-success statuses
	// alike; callers do not distinguish between the two.
	ErrNetworkOrServer = errors.New("inference service unavailable")
	// ErrMalformedResponse is returned when a successful response does not
	// carry a string prediction and a confidence in [0, 1].
	ErrMalformedResponse = errors.New("malformed inference response")
)

// Prediction is the validated payload returned by the inference service.
type Prediction struct {
	Label      string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// Client exposes the subset of functionality used by the analysis flow.
type Client interface {
	Predict(ctx context.Context, file *ingest.File) (*Prediction, error)
}
