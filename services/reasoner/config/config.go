// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads reasoner configuration.
//
// Precedence, lowest to highest: built-in defaults, the YAML file,
// environment variables. The result is defaulted once more and validated.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianClimate/pkg/logging"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/search"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/semantic"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/store"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/telemetry"
	"github.com/AleutianAI/AleutianClimate/services/reasoner/worldmodel"
)

// MaxConfigSize bounds the configuration file.
const MaxConfigSize = 256 * 1024

// Embedding providers.
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete reasoner configuration.
type Config struct {
	Server       ServerConfig     `yaml:"server"`
	ManifestPath string           `yaml:"manifest_path"`
	Cache        CacheConfig      `yaml:"cache"`
	Store        StoreConfig      `yaml:"store"`
	Search       SearchConfig     `yaml:"search"`
	Embedding    EmbeddingConfig  `yaml:"embedding"`
	Weaviate     WeaviateConfig   `yaml:"weaviate"`
	Telemetry    telemetry.Config `yaml:"telemetry"`
	Log          LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port    int    `yaml:"port" validate:"gte=1,lte=65535"`
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
}

// CacheConfig configures the World Model snapshot cache.
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl" validate:"gt=0"`
	WatchManifest bool          `yaml:"watch_manifest"`
}

// StoreConfig configures the tenant database.
type StoreConfig struct {
	// DSN is a modernc.org/sqlite data source name.
	DSN string `yaml:"dsn" validate:"required"`

	// SeedDemo loads the demo tenants on startup. Only valid for empty databases.
	SeedDemo bool `yaml:"seed_demo"`

	// CandidatePoolSize bounds the tenants loaded for similarity ranking.
	CandidatePoolSize int `yaml:"candidate_pool_size" validate:"gte=1,lte=100000"`
}

// SearchConfig configures the hybrid search reasoner.
type SearchConfig struct {
	SourceTimeout time.Duration `yaml:"source_timeout" validate:"gt=0"`
}

// EmbeddingConfig configures the embedding oracle.
type EmbeddingConfig struct {
	// Provider is "http", "openai" or "none". Empty infers it from the
	// other fields.
	Provider string `yaml:"provider" validate:"omitempty,oneof=http openai none"`

	// ServiceURL is the HTTP embedding service endpoint.
	ServiceURL string `yaml:"service_url" validate:"omitempty,url"`

	// OpenAIAPIKey is read from OPENAI_API_KEY only.
	OpenAIAPIKey string `yaml:"-"`

	OpenAIBaseURL string `yaml:"openai_base_url" validate:"omitempty,url"`
	Model         string `yaml:"model"`

	// CacheDir holds the embedding cache. Empty keeps it in memory.
	CacheDir string        `yaml:"cache_dir"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`

	// RateLimit is requests per second to the provider. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

// WeaviateConfig configures the vector store.
type WeaviateConfig struct {
	// URL of the Weaviate instance. Empty disables the semantic source.
	URL       string `yaml:"url" validate:"omitempty,url"`
	ClassName string `yaml:"class_name"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration before any file or
// environment overrides.
func Default() Config {
	return applyConfigDefaults(Config{Telemetry: telemetry.DefaultConfig()})
}

// Load reads configuration from path, applies environment overrides and
// validates the result.
//
// # Inputs
//
//   - path: YAML file. Empty skips the file and uses defaults plus env.
//
// # Outputs
//
//   - Config: Fully defaulted configuration.
//   - error: I/O, YAML decode (unknown fields rejected) or ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := Config{Telemetry: telemetry.DefaultConfig()}

	if path != "" {
		data, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg = applyEnvOverrides(cfg)
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidConfig, path, info.Size(), MaxConfigSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return data, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and cross-field requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.Embedding.Provider {
	case ProviderHTTP:
		if c.Embedding.ServiceURL == "" {
			return fmt.Errorf("%w: embedding provider http requires service_url", ErrInvalidConfig)
		}
	case ProviderOpenAI:
		if c.Embedding.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: embedding provider openai requires OPENAI_API_KEY", ErrInvalidConfig)
		}
	}
	return nil
}

// SemanticEnabled reports whether the semantic source has both collaborators.
func (c Config) SemanticEnabled() bool {
	return c.Weaviate.URL != "" && c.Embedding.Provider != ProviderNone
}

// LoggingConfig converts LogConfig into a pkg/logging configuration.
func (c Config) LoggingConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Log.Dir,
		Service: service,
		JSON:    c.Log.JSON,
	}
}

// =============================================================================
// Defaults
// =============================================================================

// applyConfigDefaults fills zero values. It never overrides a set field,
// except that an unset DSN selects a seeded in-memory database.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 12220
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = worldmodel.DefaultCacheTTL
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = ":memory:"
		cfg.Store.SeedDemo = true
	}
	if cfg.Store.CandidatePoolSize == 0 {
		cfg.Store.CandidatePoolSize = store.DefaultTenantLimit
	}
	if cfg.Search.SourceTimeout == 0 {
		cfg.Search.SourceTimeout = search.DefaultSourceTimeout
	}
	if cfg.Embedding.Provider == "" {
		switch {
		case cfg.Embedding.OpenAIAPIKey != "":
			cfg.Embedding.Provider = ProviderOpenAI
		case cfg.Embedding.ServiceURL != "":
			cfg.Embedding.Provider = ProviderHTTP
		default:
			cfg.Embedding.Provider = ProviderNone
		}
	}
	if cfg.Embedding.Model == "" && cfg.Embedding.Provider == ProviderOpenAI {
		cfg.Embedding.Model = semantic.DefaultOpenAIModel
	}
	if cfg.Embedding.CacheTTL == 0 {
		cfg.Embedding.CacheTTL = semantic.DefaultEmbeddingCacheTTL
	}
	if cfg.Weaviate.ClassName == "" {
		cfg.Weaviate.ClassName = semantic.DefaultClassName
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "reasoner"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return cfg
}

// =============================================================================
// Environment
// =============================================================================

// applyEnvOverrides lets environment variables win over the file.
func applyEnvOverrides(cfg Config) Config {
	cfg.Server.Port = getEnvInt("REASONER_PORT", cfg.Server.Port)
	cfg.Server.GinMode = getEnvString("GIN_MODE", cfg.Server.GinMode)
	cfg.ManifestPath = getEnvString("REASONER_MANIFEST_PATH", cfg.ManifestPath)

	cfg.Cache.TTL = getEnvDuration("REASONER_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.WatchManifest = getEnvBool("REASONER_WATCH_MANIFEST", cfg.Cache.WatchManifest)

	cfg.Store.DSN = getEnvString("REASONER_DB_DSN", cfg.Store.DSN)
	cfg.Store.SeedDemo = getEnvBool("REASONER_SEED_DEMO", cfg.Store.SeedDemo)
	cfg.Store.CandidatePoolSize = getEnvInt("REASONER_CANDIDATE_POOL", cfg.Store.CandidatePoolSize)

	cfg.Search.SourceTimeout = getEnvDuration("REASONER_SOURCE_TIMEOUT", cfg.Search.SourceTimeout)

	cfg.Embedding.Provider = getEnvString("REASONER_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.ServiceURL = getEnvString("EMBEDDING_SERVICE_URL", cfg.Embedding.ServiceURL)
	cfg.Embedding.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", cfg.Embedding.OpenAIAPIKey)
	cfg.Embedding.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", cfg.Embedding.OpenAIBaseURL)
	cfg.Embedding.Model = getEnvString("REASONER_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.CacheDir = getEnvString("REASONER_EMBEDDING_CACHE_DIR", cfg.Embedding.CacheDir)
	cfg.Embedding.RateLimit = getEnvFloat("REASONER_EMBEDDING_RPS", cfg.Embedding.RateLimit)
	cfg.Embedding.Burst = getEnvInt("REASONER_EMBEDDING_BURST", cfg.Embedding.Burst)

	cfg.Weaviate.URL = getEnvString("WEAVIATE_SERVICE_URL", cfg.Weaviate.URL)
	cfg.Weaviate.ClassName = getEnvString("REASONER_WEAVIATE_CLASS", cfg.Weaviate.ClassName)

	cfg.Telemetry.Environment = getEnvString("ALEUTIAN_ENV", cfg.Telemetry.Environment)
	cfg.Telemetry.TraceExporter = getEnvString("OTEL_TRACES_EXPORTER", cfg.Telemetry.TraceExporter)
	cfg.Telemetry.MetricExporter = getEnvString("OTEL_METRICS_EXPORTER", cfg.Telemetry.MetricExporter)
	cfg.Telemetry.OTLPEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)

	cfg.Log.Level = getEnvString("REASONER_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Dir = getEnvString("REASONER_LOG_DIR", cfg.Log.Dir)
	cfg.Log.JSON = getEnvBool("REASONER_LOG_JSON", cfg.Log.JSON)
	return cfg
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvString returns an environment variable as string, or defaultVal if not set.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool returns an environment variable as bool, or defaultVal if not set/invalid.
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvFloat returns an environment variable as float64, or defaultVal if not set/invalid.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration returns an environment variable as a duration, or defaultVal if not set/invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
