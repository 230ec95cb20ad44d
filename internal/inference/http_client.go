package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/example/pneumoscan/internal/ingest"
	"github.com/example/pneumoscan/internal/logging"
)

// FileField is the multipart field the image is bound to.
const FileField = "file"

const maxResponseSize = 1 << 20

// HTTPClient submits images to the prediction endpoint of the inference
// service. It never retries and relies on the supplied http.Client and the
// caller's context for timeouts.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

type predictResponse struct {
	Prediction *string  `json:"prediction" validate:"required"`
	Confidence *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
}

var responseValidator = validator.New()

// NewHTTPClient returns a client posting to baseURL + "/predict".
func NewHTTPClient(baseURL string, client *http.Client, logger *zap.Logger) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/predict",
		client:   client,
		logger:   logger.Named("inference_client"),
	}
}

// Endpoint returns the resolved prediction URL.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// Predict issues exactly one multipart request carrying the file.
func (c *HTTPClient) Predict(ctx context.Context, file *ingest.File) (*Prediction, error) {
	body, contentType, err := buildMultipartBody(file)
	if err != nil {
		return nil, logging.NewOperationError("inference.build_request", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, logging.NewOperationError("inference.build_request", "", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("inference request failed", zap.Error(err), zap.String("endpoint", c.endpoint))
		return nil, logging.NewOperationError("inference.predict", "", fmt.Errorf("%w: %w", ErrNetworkOrServer, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("inference service returned error status", zap.Int("status", resp.StatusCode))
		return nil, logging.NewOperationError("inference.predict", "", fmt.Errorf("%w: status %d", ErrNetworkOrServer, resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, logging.NewOperationError("inference.read_response", "", fmt.Errorf("%w: %w", ErrNetworkOrServer, err))
	}

	prediction, err := decodePrediction(raw)
	if err != nil {
		c.logger.Warn("inference response rejected", zap.Error(err))
		return nil, logging.NewOperationError("inference.decode_response", "", err)
	}
	return prediction, nil
}

func buildMultipartBody(file *ingest.File) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := file.Name
	if filename == "" {
		filename = "upload"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FileField, filename))
	if file.ContentType != "" {
		header.Set("Content-Type", file.ContentType)
	}

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func decodePrediction(raw []byte) (*Prediction, error) {
	var payload predictResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if err := responseValidator.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return &Prediction{Label: *payload.Prediction, Confidence: *payload.Confidence}, nil
}
