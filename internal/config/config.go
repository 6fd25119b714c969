package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DriverRedis  = "redis"
	DriverValkey = "valkey"
	DriverQdrant = "qdrant"
	DriverBadger = "badger"
)

// Config holds the ragflow service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Query     QueryConfig     `yaml:"query"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds vector index connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey, qdrant (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	URL              string   `yaml:"url"` // qdrant REST endpoint
	APIKey           string   `yaml:"api_key"`
	Collection       string   `yaml:"collection"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	RequestTimeout   int      `yaml:"request_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider     string      `yaml:"provider"`
	APIKey       string      `yaml:"api_key"`
	BaseURL      string      `yaml:"base_url"`
	Model        string      `yaml:"model"`
	Dimensions   int         `yaml:"dimensions"`
	MaxBatchSize int         `yaml:"max_batch_size"`
	Cache        CacheConfig `yaml:"cache"`
}

// CacheConfig holds embedding cache settings. The cache needs a Redis/Valkey
// database driver.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled"`
	TTLHours int  `yaml:"ttl_hours"` // 0 = no expiry
}

// LLMConfig holds chat model settings.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// ChunkingConfig holds document extraction and splitting settings.
type ChunkingConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	PdftotextPath string `yaml:"pdftotext_path"`
}

// QueryConfig holds retrieval defaults.
type QueryConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// WorkflowConfig holds run execution settings.
type WorkflowConfig struct {
	PoolSize    int         `yaml:"pool_size"`
	QueueSize   int         `yaml:"queue_size"`
	RunTTLHours int         `yaml:"run_ttl_hours"`
	Runs        string      `yaml:"runs"` // redis (shares database.addrs) or badger
	BadgerPath  string      `yaml:"badger_path"`
	Retry       RetryConfig `yaml:"retry"`
}

// RetryConfig holds the default step retry policy.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory, if any, is loaded first; variables
// already set in the environment win.
func Load(env string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit YAML path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
//
//nolint:gocyclo // flat list of defaults
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 30
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverRedis
	}
	if c.Database.Collection == "" {
		c.Database.Collection = "docs"
	}
	if c.Database.HNSWM <= 0 {
		c.Database.HNSWM = 16
	}
	if c.Database.HNSWEFConstruct <= 0 {
		c.Database.HNSWEFConstruct = 200
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.RequestTimeout <= 0 {
		c.Database.RequestTimeout = 30
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-large"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 3072
	}
	if c.Embedding.MaxBatchSize <= 0 {
		c.Embedding.MaxBatchSize = 256
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = c.Embedding.Provider
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = c.Embedding.APIKey
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = c.Embedding.BaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}

	if c.Chunking.ChunkSize <= 0 {
		c.Chunking.ChunkSize = 1024
	}
	if c.Chunking.ChunkOverlap <= 0 {
		c.Chunking.ChunkOverlap = 80
	}
	if c.Chunking.PdftotextPath == "" {
		c.Chunking.PdftotextPath = "pdftotext"
	}

	if c.Query.DefaultTopK <= 0 {
		c.Query.DefaultTopK = 5
	}
	if c.Query.MaxTopK <= 0 {
		c.Query.MaxTopK = 100
	}

	if c.Workflow.RunTTLHours <= 0 {
		c.Workflow.RunTTLHours = 24 * 7
	}
	if c.Workflow.Runs == "" {
		if c.Database.Driver == DriverQdrant {
			c.Workflow.Runs = DriverBadger
		} else {
			c.Workflow.Runs = DriverRedis
		}
	}
	if c.Workflow.BadgerPath == "" {
		c.Workflow.BadgerPath = "data/runs"
	}
	if c.Workflow.Retry.MaxAttempts <= 0 {
		c.Workflow.Retry.MaxAttempts = 3
	}
	if c.Workflow.Retry.InitialBackoffMs <= 0 {
		c.Workflow.Retry.InitialBackoffMs = 500
	}
	if c.Workflow.Retry.MaxBackoffMs <= 0 {
		c.Workflow.Retry.MaxBackoffMs = 10_000
	}
	if c.Workflow.Retry.Multiplier < 1 {
		c.Workflow.Retry.Multiplier = 2
	}
}

// Validate checks the configuration for correctness.
//
//nolint:gocyclo // flat list of checks
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Database.Driver {
	case DriverRedis, DriverValkey:
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	case DriverQdrant:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be redis, valkey or qdrant, got %q", c.Database.Driver)
	}

	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap (%d) must be smaller than chunking.chunk_size (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Query.MaxTopK > 100 {
		return fmt.Errorf("query.max_top_k must be at most 100, got %d", c.Query.MaxTopK)
	}
	if c.Query.DefaultTopK > c.Query.MaxTopK {
		return fmt.Errorf("query.default_top_k (%d) exceeds query.max_top_k (%d)",
			c.Query.DefaultTopK, c.Query.MaxTopK)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2], got %g", c.LLM.Temperature)
	}

	switch c.Workflow.Runs {
	case DriverRedis, DriverValkey:
		if c.Database.Driver == DriverQdrant {
			return fmt.Errorf("workflow.runs %q needs a redis/valkey database driver", c.Workflow.Runs)
		}
	case DriverBadger:
	default:
		return fmt.Errorf("workflow.runs must be redis or badger, got %q", c.Workflow.Runs)
	}

	if c.Embedding.Cache.Enabled && c.Database.Driver == DriverQdrant {
		return fmt.Errorf("embedding.cache needs a redis/valkey database driver")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
