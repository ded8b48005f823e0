package core

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Provider names accepted by INPAINT_PROVIDER.
const (
	ProviderReplicate = "replicate"
	ProviderOpenAI    = "openai"
)

// DefaultReplicateEndpoint is the flux-fill-pro predictions endpoint.
const DefaultReplicateEndpoint = "https://api.replicate.com/v1/models/black-forest-labs/flux-fill-pro/predictions"

// DefaultRequestTimeout bounds both the inpaint request and the result
// download.
const DefaultRequestTimeout = 180 * time.Second

// Config holds all configuration values
type Config struct {
	// Remote service
	Provider          string // replicate (default) or openai
	ReplicateAPIToken string
	Endpoint          string // Replicate predictions URL
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIImageModel  string
	RequestTimeout    time.Duration

	// Batch behaviour
	Workers     string // "auto" or a positive integer
	KeepTemp    bool   // keep export/mask/result artifacts for debugging
	TempDir     string
	LayerSuffix string // appended to the source layer name
	FitToCanvas bool   // rescale results to the canvas size before insert

	// Ambient
	HistoryDB            string // empty disables run history
	LogFile              string
	LogLevel             string
	DevMode              bool
	AllowSelfSignedCerts bool
}

// LoadConfig reads configuration from the environment. Call godotenv.Load
// beforehand to pick up a .env file. Nothing is required here: credentials
// and prompts are checked per run by ValidateRun, since CLI flags may still
// supply them.
func LoadConfig() (*Config, error) {
	provider := strings.ToLower(GetEnvOrDefault("INPAINT_PROVIDER", ProviderReplicate))
	if provider != ProviderReplicate && provider != ProviderOpenAI {
		return nil, &ConfigError{
			Code:    ErrCodeInvalidValue,
			Message: fmt.Sprintf("Unknown INPAINT_PROVIDER %q", provider),
			Action:  "Set INPAINT_PROVIDER to replicate or openai",
		}
	}

	timeoutSeconds := ParseIntEnv("FLUX_REQUEST_TIMEOUT", int(DefaultRequestTimeout/time.Second))
	if timeoutSeconds < 1 {
		return nil, &ConfigError{
			Code:    ErrCodeInvalidValue,
			Message: fmt.Sprintf("FLUX_REQUEST_TIMEOUT must be at least 1 second, got %d", timeoutSeconds),
			Action:  "Set FLUX_REQUEST_TIMEOUT to a positive number of seconds",
		}
	}

	// Legacy name used by the original plugin settings.
	token := os.Getenv("REPLICATE_API_TOKEN")
	if token == "" {
		token = os.Getenv("FLUX_API_TOKEN")
	}

	return &Config{
		Provider:          provider,
		ReplicateAPIToken: strings.TrimSpace(token),
		Endpoint:          GetEnvOrDefault("FLUX_ENDPOINT", DefaultReplicateEndpoint),
		OpenAIAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:     GetEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIImageModel:  GetEnvOrDefault("OPENAI_IMAGE_MODEL", "dall-e-2"),
		RequestTimeout:    time.Duration(timeoutSeconds) * time.Second,

		Workers:     GetEnvOrDefault("FLUX_WORKERS", "auto"),
		KeepTemp:    ParseBoolEnv("FLUX_KEEP_TEMP", false),
		TempDir:     GetEnvOrDefault("FLUX_TEMP_DIR", os.TempDir()),
		LayerSuffix: GetEnvOrDefault("FLUX_LAYER_SUFFIX", " FLUX"),
		FitToCanvas: ParseBoolEnv("FLUX_FIT_TO_CANVAS", false),

		HistoryDB:            os.Getenv("FLUX_HISTORY_DB"),
		LogFile:              GetEnvOrDefault("FLUX_LOG_FILE", "fluxfill.log"),
		LogLevel:             os.Getenv("FLUX_LOG_LEVEL"),
		DevMode:              ParseBoolEnv("DEV_MODE", false),
		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),
	}, nil
}

// Credential returns the secret for the configured provider.
func (c *Config) Credential() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIAPIKey
	}
	return c.ReplicateAPIToken
}

// ValidateRun checks the per-run inputs that must be present before a batch
// may start.
func (c *Config) ValidateRun(prompt string) error {
	if strings.TrimSpace(c.Credential()) == "" {
		return ErrMissingAuth(c.Provider)
	}
	if strings.TrimSpace(prompt) == "" {
		return ErrMissingPrompt()
	}
	return nil
}

// GetHTTPClient returns an HTTP client with the given timeout that honours
// AllowSelfSignedCerts.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg != nil && cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}
