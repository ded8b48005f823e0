package inpaint

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"fluxfill/core"
	"fluxfill/logging"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAIEditClient.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required)
	APIKey string

	// BaseURL is the API endpoint (default: https://api.openai.com/v1)
	BaseURL string

	// Model is the image edit model (default: dall-e-2)
	Model string

	// Timeout bounds one edit call (default: 180 seconds)
	Timeout time.Duration

	// HTTPClient is used for requests (optional)
	HTTPClient *http.Client
}

// OpenAIEditClient inpaints through the OpenAI image edit endpoint. OpenAI
// reads the regions to fill from the transparency of the uploaded image, so
// the exported layer is sent as-is and the generated mask is not uploaded.
//
// Thread Safety: OpenAIEditClient is safe for concurrent use.
type OpenAIEditClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

// NewOpenAIEditClient creates an edit client.
func NewOpenAIEditClient(cfg OpenAIConfig, logger *logging.Logger) (*OpenAIEditClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.ErrMissingAuth(core.ProviderOpenAI)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = core.DefaultRequestTimeout
	}
	if cfg.Model == "" {
		cfg.Model = openai.CreateImageModelDallE2
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIEditClient{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger.Named("openai"),
	}, nil
}

// Predict uploads the exported layer with the prompt and returns the URL
// of the first edited image.
func (c *OpenAIEditClient) Predict(ctx context.Context, req PredictionRequest) (string, error) {
	img, err := os.Open(req.ImagePath)
	if err != nil {
		return "", fmt.Errorf("%w: read image: %v", ErrRequestFailed, err)
	}
	defer img.Close()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          img,
		Prompt:         req.Prompt,
		Model:          c.model,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("%w: OpenAI image edit: %v", ErrRequestFailed, err)
	}

	c.logger.Debug("Image edit response",
		zap.Int("images", len(resp.Data)),
		zap.Duration("duration", time.Since(start)),
	)

	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", ErrNoOutputURL
	}
	return resp.Data[0].URL, nil
}

var _ Predictor = (*OpenAIEditClient)(nil)
