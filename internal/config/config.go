package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/spf13/viper"
)

// Inference providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Classification modes.
const (
	ClassifyLocal  = "local"
	ClassifyRemote = "remote"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MaxUploadSize  string        `mapstructure:"MAX_UPLOAD_SIZE"`
	UploadDir      string        `mapstructure:"UPLOAD_DIR"`

	InferenceProvider string        `mapstructure:"INFERENCE_PROVIDER"`
	GeminiAPIKey      string        `mapstructure:"GEMINI_API_KEY"`
	OpenAIAPIKey      string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `mapstructure:"OPENAI_BASE_URL"`
	InferenceModel    string        `mapstructure:"INFERENCE_MODEL"`
	InferenceTimeout  time.Duration `mapstructure:"INFERENCE_TIMEOUT"`
	InferenceRPS      float64       `mapstructure:"INFERENCE_RPS"`
	InferenceBurst    int           `mapstructure:"INFERENCE_BURST"`

	EnrichConcurrency int    `mapstructure:"ENRICH_CONCURRENCY"`
	EnrichRetries     int    `mapstructure:"ENRICH_RETRIES"`
	ClassifyMode      string `mapstructure:"CLASSIFY_MODE"`

	OCRLanguage      string `mapstructure:"OCR_LANGUAGE"`
	OCRDPI           int    `mapstructure:"OCR_DPI"`
	OCRConcurrency   int    `mapstructure:"OCR_CONCURRENCY"`
	UniPDFLicenseKey string `mapstructure:"UNIPDF_LICENSE_KEY"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"MAX_UPLOAD_SIZE", "UPLOAD_DIR",
	"INFERENCE_PROVIDER", "GEMINI_API_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL",
	"INFERENCE_MODEL", "INFERENCE_TIMEOUT", "INFERENCE_RPS", "INFERENCE_BURST",
	"ENRICH_CONCURRENCY", "ENRICH_RETRIES", "CLASSIFY_MODE",
	"OCR_LANGUAGE", "OCR_DPI", "OCR_CONCURRENCY", "UNIPDF_LICENSE_KEY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "120s")
	v.SetDefault("MAX_UPLOAD_SIZE", "20M")
	v.SetDefault("INFERENCE_PROVIDER", "") // auto-detect from API keys
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("INFERENCE_TIMEOUT", "60s")
	v.SetDefault("INFERENCE_RPS", 5)
	v.SetDefault("INFERENCE_BURST", 5)
	v.SetDefault("ENRICH_CONCURRENCY", 4)
	v.SetDefault("ENRICH_RETRIES", 1)
	v.SetDefault("CLASSIFY_MODE", ClassifyLocal)
	v.SetDefault("OCR_LANGUAGE", "eng")
	v.SetDefault("OCR_DPI", 300)
	v.SetDefault("OCR_CONCURRENCY", 2)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// MaxUploadBytes parses MAX_UPLOAD_SIZE ("20M", "512K", plain bytes).
func (c *Config) MaxUploadBytes() (int64, error) {
	n, err := bytes.Parse(c.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("MAX_UPLOAD_SIZE: %w", err)
	}
	return n, nil
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedProvider returns the effective inference provider. If
// INFERENCE_PROVIDER is set it wins, otherwise the first configured API key
// decides:
//   - GEMINI_API_KEY set → "gemini"
//   - OPENAI_API_KEY set → "openai"
//   - Otherwise          → "none" (analysis runs degraded)
func (c *Config) ResolvedProvider() string {
	if c.InferenceProvider != "" {
		return strings.ToLower(c.InferenceProvider)
	}
	if c.GeminiAPIKey != "" {
		return ProviderGemini
	}
	if c.OpenAIAPIKey != "" {
		return ProviderOpenAI
	}
	return ProviderNone
}

// ResolvedModel returns INFERENCE_MODEL or the provider's default model.
func (c *Config) ResolvedModel() string {
	if c.InferenceModel != "" {
		return c.InferenceModel
	}
	switch c.ResolvedProvider() {
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	}
	return ""
}

// Validate checks that the configuration is usable. An explicitly selected
// provider must have its credentials; numeric knobs must be positive.
func (c *Config) Validate() error {
	switch c.ResolvedProvider() {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when INFERENCE_PROVIDER is %q", ProviderGemini)
		}
	case ProviderOpenAI:
		// Local OpenAI-compatible servers (ollama, vllm) run without a key,
		// so only the base URL is mandatory.
		if c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_BASE_URL is required when INFERENCE_PROVIDER is %q", ProviderOpenAI)
		}
	case ProviderNone:
	default:
		return fmt.Errorf("INFERENCE_PROVIDER must be \"gemini\", \"openai\", or \"none\", got %q", c.InferenceProvider)
	}

	if c.ClassifyMode != ClassifyLocal && c.ClassifyMode != ClassifyRemote {
		return fmt.Errorf("CLASSIFY_MODE must be %q or %q, got %q", ClassifyLocal, ClassifyRemote, c.ClassifyMode)
	}
	if c.EnrichConcurrency < 1 {
		return fmt.Errorf("ENRICH_CONCURRENCY must be at least 1, got %d", c.EnrichConcurrency)
	}
	if c.EnrichRetries < 0 {
		return fmt.Errorf("ENRICH_RETRIES must not be negative, got %d", c.EnrichRetries)
	}
	if c.OCRDPI < 72 {
		return fmt.Errorf("OCR_DPI must be at least 72, got %d", c.OCRDPI)
	}
	if c.OCRConcurrency < 1 {
		return fmt.Errorf("OCR_CONCURRENCY must be at least 1, got %d", c.OCRConcurrency)
	}
	if c.InferenceRPS <= 0 {
		return fmt.Errorf("INFERENCE_RPS must be positive, got %v", c.InferenceRPS)
	}
	if n, err := c.MaxUploadBytes(); err != nil {
		return err
	} else if n <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %q", c.MaxUploadSize)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
