// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.docqa/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive fields (API keys) are masked in MarshalJSON and String.
// Validation is fail-fast: Load returns an error for out-of-range values.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation, checked with errors.Is.
var (
	// ErrMissingAPIKey indicates GEMINI_API_KEY is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidChunking indicates chunk size/overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidTopK indicates top_k is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidThreshold indicates the relevance threshold is out of [0,1].
	ErrInvalidThreshold = errors.New("invalid relevance threshold")

	// ErrInvalidQdrantAddr indicates the Qdrant host or port is invalid.
	ErrInvalidQdrantAddr = errors.New("invalid qdrant address")

	// ErrInvalidHistoryTurns indicates max_history_turns is out of range.
	ErrInvalidHistoryTurns = errors.New("invalid max history turns")
)

// Defaults for the retrieval pipeline. These are tunable constants, not
// contracts: deployments adjust them via config file or environment.
const (
	DefaultModelName     = "gemini-2.5-flash"
	DefaultEmbedderModel = "gemini-embedding-001"

	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultTopK         = 5

	// DefaultRelevanceThreshold is the minimum similarity score for a
	// retrieved passage to count as usable context. Below it (or with an
	// empty retrieval set) a question is answered in general mode.
	DefaultRelevanceThreshold = 0.45

	// DefaultMaxHistoryTurns caps the per-conversation history passed to
	// the model (turns, i.e. individual messages).
	DefaultMaxHistoryTurns = 10

	MaxTopK         = 100
	MaxHistoryTurns = 1000
	MaxChunkSize    = 1 << 20
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; when adding new
// secrets, update that method.
type Config struct {
	// AI model configuration
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Qdrant vector store
	QdrantHost   string `mapstructure:"qdrant_host" json:"qdrant_host"`
	QdrantPort   int    `mapstructure:"qdrant_port" json:"qdrant_port"`
	QdrantAPIKey string `mapstructure:"qdrant_api_key" json:"qdrant_api_key"` // SENSITIVE: masked in MarshalJSON
	QdrantUseTLS bool   `mapstructure:"qdrant_use_tls" json:"qdrant_use_tls"`
	Collection   string `mapstructure:"collection" json:"collection"`

	// Retrieval pipeline tuning
	ChunkSize          int     `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap       int     `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	TopK               int     `mapstructure:"top_k" json:"top_k"`
	RelevanceThreshold float32 `mapstructure:"relevance_threshold" json:"relevance_threshold"`
	MaxHistoryTurns    int     `mapstructure:"max_history_turns" json:"max_history_turns"`

	// HTTP server
	ServerAddr  string   `mapstructure:"server_addr" json:"server_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Observability: OTLP HTTP trace endpoint ("" = tracing disabled)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	v.SetDefault("qdrant_host", "localhost")
	v.SetDefault("qdrant_port", 6334)
	v.SetDefault("qdrant_use_tls", false)
	v.SetDefault("collection", "docqa")

	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("relevance_threshold", DefaultRelevanceThreshold)
	v.SetDefault("max_history_turns", DefaultMaxHistoryTurns)

	v.SetDefault("server_addr", "127.0.0.1:8000")
	// React dev servers, matching the bundled frontend.
	v.SetDefault("cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("otlp_endpoint", "")
}

// bindEnvVariables binds environment overrides explicitly.
//
// NOTE: GEMINI_API_KEY is read directly by the Genkit googlegenai plugin,
// not via Viper; Validate only checks its presence.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("qdrant_api_key", "QDRANT_API_KEY")
	mustBind("qdrant_host", "DOCQA_QDRANT_HOST")
	mustBind("qdrant_port", "DOCQA_QDRANT_PORT")
	mustBind("collection", "DOCQA_COLLECTION")
	mustBind("model_name", "DOCQA_MODEL_NAME")
	mustBind("embedder_model", "DOCQA_EMBEDDER_MODEL")
	mustBind("server_addr", "DOCQA_SERVER_ADDR")
	mustBind("cors_origins", "DOCQA_CORS_ORIGINS")
	mustBind("otlp_endpoint", "DOCQA_OTLP_ENDPOINT")
}

// Validate performs fail-fast range checks on the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model_name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder_model is empty", ErrInvalidModelName)
	}
	if c.QdrantHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidQdrantAddr)
	}
	if c.QdrantPort < 1 || c.QdrantPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidQdrantAddr, c.QdrantPort)
	}
	if c.ChunkSize < 1 || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: chunk_size %d out of range [1, %d]", ErrInvalidChunking, c.ChunkSize, MaxChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.TopK < 1 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k %d out of range [1, %d]", ErrInvalidTopK, c.TopK, MaxTopK)
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("%w: %v not in [0, 1]", ErrInvalidThreshold, c.RelevanceThreshold)
	}
	if c.MaxHistoryTurns < 1 || c.MaxHistoryTurns > MaxHistoryTurns {
		return fmt.Errorf("%w: %d out of range [1, %d]", ErrInvalidHistoryTurns, c.MaxHistoryTurns, MaxHistoryTurns)
	}
	return nil
}

// ValidateServe performs the additional checks needed before serving:
// the Gemini API key must be present for the Genkit plugin to work.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "googleai/gemini-2.5-flash". A name already containing "/" is
// returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return "googleai/" + c.ModelName
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked; longer ones keep the first and last two characters for
// debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.QdrantAPIKey = maskSecret(a.QdrantAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
