package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable LoadConfig reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"INPAINT_PROVIDER", "REPLICATE_API_TOKEN", "FLUX_API_TOKEN", "FLUX_ENDPOINT",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_IMAGE_MODEL", "FLUX_REQUEST_TIMEOUT",
		"FLUX_WORKERS", "FLUX_KEEP_TEMP", "FLUX_TEMP_DIR", "FLUX_LAYER_SUFFIX",
		"FLUX_FIT_TO_CANVAS", "FLUX_HISTORY_DB", "FLUX_LOG_FILE", "FLUX_LOG_LEVEL",
		"DEV_MODE", "ALLOW_SELF_SIGNED_CERTS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Provider != ProviderReplicate {
		t.Errorf("Provider = %q, want %q", cfg.Provider, ProviderReplicate)
	}
	if cfg.Endpoint != DefaultReplicateEndpoint {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.RequestTimeout != 180*time.Second {
		t.Errorf("RequestTimeout = %v, want 180s", cfg.RequestTimeout)
	}
	if cfg.Workers != "auto" {
		t.Errorf("Workers = %q, want auto", cfg.Workers)
	}
	if cfg.LayerSuffix != " FLUX" {
		t.Errorf("LayerSuffix = %q, want %q", cfg.LayerSuffix, " FLUX")
	}
	if cfg.KeepTemp || cfg.FitToCanvas || cfg.AllowSelfSignedCerts {
		t.Error("boolean options should default to false")
	}
	if cfg.TempDir == "" {
		t.Error("TempDir should default to the system temp dir")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLUX_API_TOKEN", "  legacy-token ")
	t.Setenv("FLUX_REQUEST_TIMEOUT", "30")
	t.Setenv("FLUX_WORKERS", "3")
	t.Setenv("FLUX_KEEP_TEMP", "yes")
	t.Setenv("INPAINT_PROVIDER", "OpenAI")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ReplicateAPIToken != "legacy-token" {
		t.Errorf("ReplicateAPIToken = %q", cfg.ReplicateAPIToken)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.Workers != "3" || !cfg.KeepTemp {
		t.Errorf("Workers = %q KeepTemp = %v", cfg.Workers, cfg.KeepTemp)
	}
	if cfg.Provider != ProviderOpenAI {
		t.Errorf("Provider = %q", cfg.Provider)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown provider", "INPAINT_PROVIDER", "midjourney"},
		{"zero timeout", "FLUX_REQUEST_TIMEOUT", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := LoadConfig()
			if GetErrorCode(err) != ErrCodeInvalidValue {
				t.Errorf("error = %v, want code %s", err, ErrCodeInvalidValue)
			}
		})
	}
}

func TestValidateRun(t *testing.T) {
	cfg := &Config{Provider: ProviderReplicate, ReplicateAPIToken: "r8_x"}

	if err := cfg.ValidateRun("a red barn"); err != nil {
		t.Errorf("ValidateRun() error = %v", err)
	}
	if code := GetErrorCode(cfg.ValidateRun("   ")); code != ErrCodeMissingPrompt {
		t.Errorf("blank prompt code = %q", code)
	}

	cfg.ReplicateAPIToken = " "
	if code := GetErrorCode(cfg.ValidateRun("a red barn")); code != ErrCodeMissingAuth {
		t.Errorf("blank token code = %q", code)
	}

	openai := &Config{Provider: ProviderOpenAI, ReplicateAPIToken: "r8_x"}
	if code := GetErrorCode(openai.ValidateRun("x")); code != ErrCodeMissingAuth {
		t.Errorf("openai without key code = %q", code)
	}
}

func TestIsConfigError_Wrapped(t *testing.T) {
	err := fmt.Errorf("batch: %w", ErrNoSelection(true))
	configErr, ok := IsConfigError(err)
	if !ok || configErr.Code != ErrCodeNoSelection {
		t.Errorf("IsConfigError(%v) = %v, %v", err, configErr, ok)
	}
	if _, ok := IsConfigError(errors.New("plain")); ok {
		t.Error("plain error reported as ConfigError")
	}
}

func TestGetHTTPClient(t *testing.T) {
	client := GetHTTPClient(&Config{}, 5*time.Second)
	if client.Timeout != 5*time.Second || client.Transport != nil {
		t.Errorf("unexpected default client: %+v", client)
	}
	insecure := GetHTTPClient(&Config{AllowSelfSignedCerts: true}, time.Second)
	if insecure.Transport == nil {
		t.Error("expected custom transport for self-signed certs")
	}
}

func TestExitCodeName(t *testing.T) {
	if ExitCodeName(ExitCodePartial) != "partial failure" {
		t.Errorf("ExitCodeName(ExitCodePartial) = %q", ExitCodeName(ExitCodePartial))
	}
	if ExitCodeName(42) != "unknown" {
		t.Errorf("ExitCodeName(42) = %q", ExitCodeName(42))
	}
}

func TestLayerErrors(t *testing.T) {
	amb := ErrAmbiguousLayer("Sky", []string{"a1", "b2"})
	if amb.Code != ErrCodeUnknownLayer || !strings.Contains(amb.Message, "a1, b2") {
		t.Errorf("ErrAmbiguousLayer = %+v", amb)
	}
	locked := ErrWorkspaceLocked("/tmp/ws")
	if GetErrorCode(locked) != ErrCodeWorkspaceLocked || !strings.Contains(locked.Error(), "/tmp/ws") {
		t.Errorf("ErrWorkspaceLocked = %v", locked)
	}
}
