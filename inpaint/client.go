package inpaint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"fluxfill/core"
	"fluxfill/logging"

	"go.uber.org/zap"
)

// Predictor submits one inpainting job and returns the URL of the result.
//
// Implementations must be safe for concurrent use: the batch coordinator
// calls Predict from every worker.
type Predictor interface {
	Predict(ctx context.Context, req PredictionRequest) (string, error)
}

// PredictionRequest names the inputs of one inpainting call.
type PredictionRequest struct {
	Prompt    string
	ImagePath string // exported RGBA layer
	MaskPath  string // white = fill, black = keep
}

// predictionPayload is the JSON body sent to the endpoint.
type predictionPayload struct {
	Input predictionInput `json:"input"`
}

type predictionInput struct {
	Image  string `json:"image"`
	Mask   string `json:"mask"`
	Prompt string `json:"prompt"`
}

// PredictionResponse is the subset of the endpoint's reply that is used.
// Output is either a URL string or a list of URLs.
type PredictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// URL extracts the result URL: a string output as-is, or the first element
// of a list. A null, missing or empty output is ErrNoOutputURL.
func (r *PredictionResponse) URL() (string, error) {
	raw := bytes.TrimSpace(r.Output)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", r.noOutput()
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return "", r.noOutput()
		}
		return single, nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", fmt.Errorf("%w: unexpected output %s", ErrNoOutputURL, truncateBody(raw))
	}
	if len(list) == 0 {
		return "", r.noOutput()
	}
	var first string
	if err := json.Unmarshal(list[0], &first); err != nil || first == "" {
		return "", fmt.Errorf("%w: first output is %s", ErrNoOutputURL, truncateBody(list[0]))
	}
	return first, nil
}

func (r *PredictionResponse) noOutput() error {
	msg := bytes.TrimSpace(r.Error)
	if len(msg) > 0 && !bytes.Equal(msg, []byte("null")) {
		return fmt.Errorf("%w (status %q, error %s)", ErrNoOutputURL, r.Status, truncateBody(msg))
	}
	return ErrNoOutputURL
}

// ReplicateConfig configures a ReplicateClient.
type ReplicateConfig struct {
	// Endpoint is the predictions URL of the model.
	// Default: core.DefaultReplicateEndpoint
	Endpoint string

	// Token is the Replicate API token (required)
	Token string

	// Timeout bounds the whole call, including the server-side wait.
	// Default: 180 seconds
	Timeout time.Duration

	// HTTPClient is used for requests (optional)
	HTTPClient *http.Client
}

// ReplicateClient calls a Replicate model synchronously, asking the server
// to hold the connection until the prediction finishes.
//
// Thread Safety: ReplicateClient is safe for concurrent use.
type ReplicateClient struct {
	endpoint string
	token    string
	timeout  time.Duration
	client   *http.Client
	logger   *logging.Logger
}

// NewReplicateClient creates a client for the flux-fill endpoint.
func NewReplicateClient(cfg ReplicateConfig, logger *logging.Logger) (*ReplicateClient, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, core.ErrMissingAuth(core.ProviderReplicate)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = core.DefaultReplicateEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = core.DefaultRequestTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ReplicateClient{
		endpoint: cfg.Endpoint,
		token:    strings.TrimSpace(cfg.Token),
		timeout:  cfg.Timeout,
		client:   cfg.HTTPClient,
		logger:   logger.Named("replicate"),
	}, nil
}

// Predict posts the image, mask and prompt and returns the output URL.
//
// Errors:
//   - *StatusError for statuses other than 200/201
//   - ErrNoOutputURL when the reply carries no usable output
//   - ErrRequestFailed for encoding, network and timeout failures
func (c *ReplicateClient) Predict(ctx context.Context, req PredictionRequest) (string, error) {
	image, err := dataURI(req.ImagePath)
	if err != nil {
		return "", fmt.Errorf("%w: read image: %v", ErrRequestFailed, err)
	}
	mask, err := dataURI(req.MaskPath)
	if err != nil {
		return "", fmt.Errorf("%w: read mask: %v", ErrRequestFailed, err)
	}
	body, err := json.Marshal(predictionPayload{Input: predictionInput{
		Image:  image,
		Mask:   mask,
		Prompt: req.Prompt,
	}})
	if err != nil {
		return "", fmt.Errorf("%w: encode payload: %v", ErrRequestFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	httpReq.Header.Set("Authorization", "Token "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Prefer", "wait")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", fmt.Errorf("%w: timed out after %s", ErrRequestFailed, c.timeout)
		}
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrRequestFailed, err)
	}

	c.logger.Debug("Prediction response",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", newStatusError(resp.StatusCode, raw)
	}

	var pred PredictionResponse
	if err := json.Unmarshal(raw, &pred); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrRequestFailed, err)
	}
	return pred.URL()
}

func newStatusError(code int, body []byte) *StatusError {
	se := &StatusError{Code: code, Body: truncateBody(body)}
	var detail struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil {
		se.Detail = detail.Detail
	}
	return se
}

// dataURI reads a PNG file into a base64 data URI.
func dataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

var _ Predictor = (*ReplicateClient)(nil)
