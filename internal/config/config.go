// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.stelwijs/config.yaml, or ./config.yaml)
//  3. Default values
//
// Sensitive values (postgres password, scraper API key) are masked in
// MarshalJSON and String, so a Config can be logged safely.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidModelName indicates the generation model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidTopK indicates retrieval.top_k is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidMinSimilarity indicates retrieval.min_similarity is out of range.
	ErrInvalidMinSimilarity = errors.New("invalid min_similarity")

	// ErrInvalidChunking indicates the chunking parameters cannot make progress.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRetrievalTimeout indicates retrieval_timeout_ms is negative.
	ErrInvalidRetrievalTimeout = errors.New("invalid retrieval timeout")
)

// DefaultEmbedderModel is the default Gemini embedder. gemini-embedding-001
// supports truncation to 768 dimensions via OutputDimensionality, matching
// the vector column width in the chunks table.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON. When
// adding a secret field, update MarshalJSON too.
type Config struct {
	// Generation model (provider-qualified via FullModelName).
	ModelName string `mapstructure:"model_name" json:"model_name"`

	// Embedding model for ingestion and retrieval.
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Embedding provider rate limit; 0 disables client-side limiting.
	EmbedRequestsPerMinute int `mapstructure:"embed_requests_per_minute" json:"embed_requests_per_minute"`

	// Scraping service (optional; empty base URL means readability-only).
	ScraperBaseURL string `mapstructure:"scraper_base_url" json:"scraper_base_url"`
	ScraperAPIKey  string `mapstructure:"scraper_api_key" json:"scraper_api_key"` // SENSITIVE: masked in MarshalJSON

	// Chunking parameters, in runes. A zero overlap disables overlap.
	ChunkMaxSize int `mapstructure:"chunk_max_size" json:"chunk_max_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval tuning. Retrieval sits on the chat critical path, so the
	// timeout bounds it independently of generation; 0 disables the bound.
	TopK               int     `mapstructure:"top_k" json:"top_k"`
	MinSimilarity      float64 `mapstructure:"min_similarity" json:"min_similarity"`
	RetrievalTimeoutMs int     `mapstructure:"retrieval_timeout_ms" json:"retrieval_timeout_ms"`

	// Storage configuration.
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve mode.
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".stelwijs")
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
		// A missing config file is fine; defaults and env cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embed_requests_per_minute", 0)

	v.SetDefault("scraper_base_url", "")

	v.SetDefault("chunk_max_size", 512)
	v.SetDefault("chunk_overlap", 50)

	v.SetDefault("top_k", 5)
	v.SetDefault("min_similarity", 0.3)
	v.SetDefault("retrieval_timeout_ms", 5000)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "stelwijs")
	v.SetDefault("postgres_password", "stelwijs_dev_password")
	v.SetDefault("postgres_db_name", "stelwijs")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("cors_origins", []string{"http://localhost:4200"})
}

// bindEnvVariables binds environment overrides explicitly. GEMINI_API_KEY is
// read directly by genkit, not via viper.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "STELWIJS_MODEL_NAME")
	mustBind("embedder_model", "STELWIJS_EMBEDDER_MODEL")
	mustBind("scraper_base_url", "FIRECRAWL_BASE_URL")
	mustBind("scraper_api_key", "FIRECRAWL_API_KEY")
	mustBind("listen_addr", "STELWIJS_LISTEN_ADDR")
	mustBind("cors_origins", "STELWIJS_CORS_ORIGINS")
}

// Validate fails fast on configuration that cannot work.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return ErrInvalidModelName
	}
	if c.EmbedderModel == "" {
		return ErrInvalidEmbedderModel
	}
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return ErrInvalidPostgresDBName
	}
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d (must be 1-100)", ErrInvalidTopK, c.TopK)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("%w: %f (must be 0-1)", ErrInvalidMinSimilarity, c.MinSimilarity)
	}
	if c.RetrievalTimeoutMs < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetrievalTimeout, c.RetrievalTimeoutMs)
	}
	if c.ChunkMaxSize < 1 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxSize {
		return fmt.Errorf("%w: max_size=%d overlap=%d", ErrInvalidChunking, c.ChunkMaxSize, c.ChunkOverlap)
	}
	return nil
}

// FullModelName returns the provider-qualified model name for genkit, e.g.
// "googleai/gemini-2.5-flash". A name that already contains a "/" is
// returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return "googleai/" + c.ModelName
}

// RetrievalTimeout returns the retrieval bound as a duration. Zero means no
// bound.
func (c *Config) RetrievalTimeout() time.Duration {
	return time.Duration(c.RetrievalTimeoutMs) * time.Millisecond
}

// MarshalJSON implements json.Marshaler with explicit secret masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.ScraperAPIKey = maskSecret(a.ScraperAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer so accidental printing never leaks secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// maskedValue uses full-width blocks so a masked value can never be a
// substring of the real secret.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}
