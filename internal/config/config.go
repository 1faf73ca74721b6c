// Package config loads the recall command configuration:
// defaults, then a YAML or TOML file chosen by extension, then environment variables.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aretw0/recall/internal/runtime"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	LogLevel string        `yaml:"log_level" toml:"log_level"`
	Server   ServerConfig  `yaml:"server" toml:"server"`
	Model    ModelConfig   `yaml:"model" toml:"model"`
	Store    StoreConfig   `yaml:"store" toml:"store"`
	Memory   MemoryConfig  `yaml:"memory" toml:"memory"`
	Engine   EngineConfig  `yaml:"engine" toml:"engine"`
	Retry    RetryConfig   `yaml:"retry" toml:"retry"`
	Tools    ToolsConfig   `yaml:"tools" toml:"tools"`
	Lock     LockConfig    `yaml:"lock" toml:"lock"`
	Tracing  TracingConfig `yaml:"tracing" toml:"tracing"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr" toml:"addr"`
	Metrics bool   `yaml:"metrics" toml:"metrics"`
}

type ModelConfig struct {
	// Name selects the provider by prefix: gpt*, claude*, ollama-<name>, groq-<name>.
	Name          string  `yaml:"name" toml:"name"`
	Temperature   float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens     int64   `yaml:"max_tokens" toml:"max_tokens"`
	OpenAIKey     string  `yaml:"openai_api_key" toml:"openai_api_key"`
	AnthropicKey  string  `yaml:"anthropic_api_key" toml:"anthropic_api_key"`
	GroqKey       string  `yaml:"groq_api_key" toml:"groq_api_key"`
	OllamaBaseURL string  `yaml:"ollama_base_url" toml:"ollama_base_url"`
	GroqBaseURL   string  `yaml:"groq_base_url" toml:"groq_base_url"`
	OpenAIBaseURL string  `yaml:"openai_base_url" toml:"openai_base_url"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend" toml:"backend"`
	RedisAddr   string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPass   string `yaml:"redis_password" toml:"redis_password"`
	RedisDB     int    `yaml:"redis_db" toml:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix" toml:"redis_prefix"`
	// TTLSeconds expires idle Redis checkpoints; 0 keeps them forever.
	TTLSeconds  int    `yaml:"ttl_seconds" toml:"ttl_seconds"`
	SQLitePath  string `yaml:"sqlite_path" toml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" toml:"postgres_dsn"`

	// EncryptionKey (base64, 32 bytes) enables AES-256-GCM encryption of checkpoint state.
	EncryptionKey string   `yaml:"encryption_key" toml:"encryption_key"`
	// FallbackKeys decrypt checkpoints written before a key rotation.
	FallbackKeys  []string `yaml:"fallback_keys" toml:"fallback_keys"`
}

// MemoryConfig selects the long-term memory backend. An empty backend follows Store.
type MemoryConfig struct {
	Backend      string `yaml:"backend" toml:"backend"`
	SearchWindow int64  `yaml:"search_window" toml:"search_window"`

	// RedactPII masks PII in memories before they are saved.
	RedactPII   bool     `yaml:"redact_pii" toml:"redact_pii"`
	// PIIPatterns replace the default PII patterns when set.
	PIIPatterns []string `yaml:"pii_patterns" toml:"pii_patterns"`
}

type EngineConfig struct {
	CheckpointPolicy  string `yaml:"checkpoint_policy" toml:"checkpoint_policy"`
	MaxToolRounds     int    `yaml:"max_tool_rounds" toml:"max_tool_rounds"`
	MaxParallelTools  int    `yaml:"max_parallel_tools" toml:"max_parallel_tools"`
	RecallLimit       int    `yaml:"recall_limit" toml:"recall_limit"`
	RecallTokenBudget int    `yaml:"recall_token_budget" toml:"recall_token_budget"`
	SystemPrompt      string `yaml:"system_prompt" toml:"system_prompt"`
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms" toml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms" toml:"max_delay_ms"`
}

type ToolsConfig struct {
	TavilyKey  string `yaml:"tavily_api_key" toml:"tavily_api_key"`
	MaxResults int    `yaml:"web_max_results" toml:"web_max_results"`
}

type LockConfig struct {
	// Distributed enables Redis locking across replicas (requires the redis backend).
	Distributed bool `yaml:"distributed" toml:"distributed"`
	TTLSeconds  int  `yaml:"ttl_seconds" toml:"ttl_seconds"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	ServiceName string `yaml:"service_name" toml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server:   ServerConfig{Addr: ":8080", Metrics: true},
		Model: ModelConfig{
			Name:          "gpt-4o-mini",
			Temperature:   0.7,
			MaxTokens:     4096,
			OllamaBaseURL: "http://localhost:11434/v1/",
			GroqBaseURL:   "https://api.groq.com/openai/v1/",
		},
		Store: StoreConfig{
			Backend:     BackendMemory,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "recall:",
			SQLitePath:  "recall.db",
		},
		Memory: MemoryConfig{SearchWindow: 200},
		Engine: EngineConfig{
			CheckpointPolicy:  "per_step",
			MaxToolRounds:     8,
			MaxParallelTools:  4,
			RecallLimit:       3,
			RecallTokenBudget: 2048,
		},
		Retry:   RetryConfig{MaxAttempts: 3, BaseDelayMS: 500, MaxDelayMS: 10000},
		Tools:   ToolsConfig{MaxResults: 1},
		Lock:    LockConfig{TTLSeconds: 30},
		Tracing: TracingConfig{ServiceName: "recall"},
	}
}

// Load reads config: defaults -> file (.yaml/.yml or .toml) -> env vars (env wins).
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, names ...string) {
		for _, name := range names {
			if v := os.Getenv(name); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, name string) {
		if v, err := strconv.Atoi(os.Getenv(name)); err == nil {
			*dst = v
		}
	}
	setBool := func(dst *bool, name string) {
		if v, err := strconv.ParseBool(os.Getenv(name)); err == nil {
			*dst = v
		}
	}

	setString(&cfg.LogLevel, "RECALL_LOG_LEVEL")
	setString(&cfg.Server.Addr, "RECALL_ADDR")
	setBool(&cfg.Server.Metrics, "RECALL_METRICS")

	setString(&cfg.Model.Name, "RECALL_MODEL")
	setString(&cfg.Model.OpenAIKey, "RECALL_OPENAI_API_KEY", "OPENAI_API_KEY")
	setString(&cfg.Model.AnthropicKey, "RECALL_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	setString(&cfg.Model.GroqKey, "RECALL_GROQ_API_KEY", "GROQ_API_KEY")
	setString(&cfg.Model.OllamaBaseURL, "RECALL_OLLAMA_BASE_URL")
	setString(&cfg.Model.OpenAIBaseURL, "RECALL_OPENAI_BASE_URL")

	setString(&cfg.Store.Backend, "RECALL_STORE")
	setString(&cfg.Store.RedisAddr, "RECALL_REDIS_ADDR")
	setString(&cfg.Store.RedisPass, "RECALL_REDIS_PASSWORD")
	setInt(&cfg.Store.RedisDB, "RECALL_REDIS_DB")
	setString(&cfg.Store.SQLitePath, "RECALL_SQLITE_PATH")
	setString(&cfg.Store.PostgresDSN, "RECALL_POSTGRES_DSN")
	setString(&cfg.Store.EncryptionKey, "RECALL_ENCRYPTION_KEY")
	setString(&cfg.Memory.Backend, "RECALL_MEMORY_STORE")
	setBool(&cfg.Memory.RedactPII, "RECALL_REDACT_PII")

	setString(&cfg.Engine.CheckpointPolicy, "RECALL_CHECKPOINT_POLICY")
	setInt(&cfg.Engine.MaxToolRounds, "RECALL_MAX_TOOL_ROUNDS")

	setString(&cfg.Tools.TavilyKey, "RECALL_TAVILY_API_KEY", "TAVILY_API_KEY")
	setBool(&cfg.Lock.Distributed, "RECALL_DISTRIBUTED_LOCK")

	setBool(&cfg.Tracing.Enabled, "RECALL_TRACING")
	setString(&cfg.Tracing.Endpoint, "RECALL_OTLP_ENDPOINT")
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if !validBackend(c.Store.Backend) {
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Memory.Backend != "" && !validBackend(c.Memory.Backend) {
		errs = append(errs, fmt.Errorf("memory.backend: unknown backend %q", c.Memory.Backend))
	}
	if (c.Store.Backend == BackendPostgres || c.Memory.Backend == BackendPostgres) && c.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
	}
	if c.Store.EncryptionKey != "" {
		if _, _, err := c.Store.Keys(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Lock.Distributed && c.Store.Backend != BackendRedis {
		errs = append(errs, errors.New("lock.distributed requires the redis store backend"))
	}
	if _, err := runtime.ParseCheckpointPolicy(c.Engine.CheckpointPolicy); err != nil {
		errs = append(errs, fmt.Errorf("engine.checkpoint_policy: %w", err))
	}
	if c.Engine.MaxToolRounds < 1 {
		errs = append(errs, errors.New("engine.max_tool_rounds must be at least 1"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	return errors.Join(errs...)
}

// MemoryBackend returns the effective memory backend.
func (c Config) MemoryBackend() string {
	if c.Memory.Backend != "" {
		return c.Memory.Backend
	}
	return c.Store.Backend
}

// BaseDelay returns the retry base delay.
func (r RetryConfig) BaseDelay() time.Duration { return time.Duration(r.BaseDelayMS) * time.Millisecond }

// MaxDelay returns the retry delay cap.
func (r RetryConfig) MaxDelay() time.Duration { return time.Duration(r.MaxDelayMS) * time.Millisecond }

// TTL returns the checkpoint TTL (0 = none).
func (s StoreConfig) TTL() time.Duration { return time.Duration(s.TTLSeconds) * time.Second }

// Keys decodes the active and fallback encryption keys. Both are nil when encryption is off.
func (s StoreConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	decode := func(field, v string) ([]byte, error) {
		k, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid base64: %w", field, err)
		}
		if len(k) != 32 {
			return nil, fmt.Errorf("%s: key must decode to 32 bytes, got %d", field, len(k))
		}
		return k, nil
	}
	if active, err = decode("store.encryption_key", s.EncryptionKey); err != nil {
		return nil, nil, err
	}
	for i, v := range s.FallbackKeys {
		k, err := decode(fmt.Sprintf("store.fallback_keys[%d]", i), v)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, k)
	}
	return active, fallback, nil
}

// TTL returns the distributed lock TTL.
func (l LockConfig) TTL() time.Duration { return time.Duration(l.TTLSeconds) * time.Second }

func validBackend(b string) bool {
	switch b {
	case BackendMemory, BackendRedis, BackendSQLite, BackendPostgres:
		return true
	}
	return false
}
