package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/recall"
	"github.com/aretw0/recall/internal/config"
	"github.com/aretw0/recall/internal/runtime"
	"github.com/aretw0/recall/pkg/adapters/anthropic"
	"github.com/aretw0/recall/pkg/adapters/memory"
	"github.com/aretw0/recall/pkg/adapters/openai"
	"github.com/aretw0/recall/pkg/adapters/postgres"
	redisAdapter "github.com/aretw0/recall/pkg/adapters/redis"
	"github.com/aretw0/recall/pkg/adapters/sqlite"
	"github.com/aretw0/recall/pkg/persistence/middleware"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/aretw0/recall/pkg/retry"
	"github.com/aretw0/recall/pkg/tools"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

// backends holds the opened persistence adapters and what it takes to close them.
type backends struct {
	store  ports.CheckpointStore
	memory ports.MemoryStore
	locker ports.DistributedLocker

	closers []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackends connects the checkpoint store, the memory store and (optionally) the
// distributed locker. Backends named twice share one connection.
func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	var (
		rdb  *goredis.Client
		lite *sqlite.Store
		pool *pgxpool.Pool
	)
	redisClient := func() *goredis.Client {
		if rdb == nil {
			rdb = goredis.NewClient(&goredis.Options{
				Addr:     cfg.Store.RedisAddr,
				Password: cfg.Store.RedisPass,
				DB:       cfg.Store.RedisDB,
			})
			b.closers = append(b.closers, rdb.Close)
		}
		return rdb
	}
	sqliteStore := func() (*sqlite.Store, error) {
		if lite == nil {
			s := sqlite.New(cfg.Store.SQLitePath,
				sqlite.WithLogger(logger),
				sqlite.WithSearchWindow(int(cfg.Memory.SearchWindow)),
			)
			b.closers = append(b.closers, s.Close)
			if err := s.Init(ctx); err != nil {
				return nil, fmt.Errorf("sqlite: %w", err)
			}
			lite = s
		}
		return lite, nil
	}
	pgPool := func() (*pgxpool.Pool, error) {
		if pool == nil {
			p, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
			if err != nil {
				return nil, fmt.Errorf("postgres: %w", err)
			}
			b.closers = append(b.closers, func() error { p.Close(); return nil })
			pool = p
		}
		return pool, nil
	}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		b.store = memory.NewStore()
	case config.BackendRedis:
		b.store = redisAdapter.NewFromClient(redisClient(),
			redisAdapter.WithPrefix(cfg.Store.RedisPrefix),
			redisAdapter.WithTTL(cfg.Store.TTL()),
		)
	case config.BackendSQLite:
		s, err := sqliteStore()
		if err != nil {
			return nil, err
		}
		b.store = s
	case config.BackendPostgres:
		p, err := pgPool()
		if err != nil {
			return nil, err
		}
		s := postgres.New(p)
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.store = s
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	switch backend := cfg.MemoryBackend(); backend {
	case config.BackendMemory:
		b.memory = memory.NewRecallStore()
	case config.BackendRedis:
		b.memory = redisAdapter.NewRecallStore(redisClient(),
			redisAdapter.WithRecallPrefix(cfg.Store.RedisPrefix),
			redisAdapter.WithSearchWindow(cfg.Memory.SearchWindow),
		)
	case config.BackendSQLite:
		s, err := sqliteStore()
		if err != nil {
			return nil, err
		}
		b.memory = s
	case config.BackendPostgres:
		p, err := pgPool()
		if err != nil {
			return nil, err
		}
		s := postgres.NewRecallStore(p)
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.memory = s
	default:
		return nil, fmt.Errorf("unknown memory backend %q", backend)
	}

	if err := decorate(cfg, b); err != nil {
		return nil, err
	}

	if cfg.Lock.Distributed {
		b.locker = redisAdapter.NewLocker(redisClient(), cfg.Store.RedisPrefix)
	}

	logger.Debug("backends opened", "store", cfg.Store.Backend, "memory", cfg.MemoryBackend(), "distributed_lock", cfg.Lock.Distributed)
	return b, nil
}

// decorate applies checkpoint encryption and memory PII redaction when configured.
func decorate(cfg config.Config, b *backends) error {
	active, fallback, err := cfg.Store.Keys()
	if err != nil {
		return err
	}
	if active != nil {
		mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			return err
		}
		b.store = middleware.Chain(b.store, mw)
	}
	if cfg.Memory.RedactPII {
		patterns := cfg.Memory.PIIPatterns
		if len(patterns) == 0 {
			patterns = middleware.DefaultPIIPatterns
		}
		mem, err := middleware.NewPIIMemory(b.memory, patterns)
		if err != nil {
			return err
		}
		b.memory = mem
	}
	return nil
}

// newModel picks the provider from the model name prefix:
// gpt*/o1*/o3*/o4* (OpenAI), claude* (Anthropic), ollama-<name> and groq-<name>
// (OpenAI-compatible endpoints).
func newModel(cfg config.ModelConfig) (ports.LanguageModel, error) {
	name := strings.TrimSpace(cfg.Name)
	openaiOpts := func(model, baseURL, key string) func(*openai.Options) {
		return func(o *openai.Options) {
			o.Model = model
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.BaseURL = baseURL
			o.APIKey = key
		}
	}

	switch {
	case strings.HasPrefix(name, "ollama-"):
		// Ollama ignores the key, but the client refuses to send a request without one.
		return openai.New(openaiOpts(strings.TrimPrefix(name, "ollama-"), cfg.OllamaBaseURL, "ollama")), nil
	case strings.HasPrefix(name, "groq-"):
		if cfg.GroqKey == "" {
			return nil, errors.New("model: groq models need GROQ_API_KEY")
		}
		return openai.New(openaiOpts(strings.TrimPrefix(name, "groq-"), cfg.GroqBaseURL, cfg.GroqKey)), nil
	case strings.HasPrefix(name, "claude"):
		if cfg.AnthropicKey == "" {
			return nil, errors.New("model: claude models need ANTHROPIC_API_KEY")
		}
		return anthropic.New(func(o *anthropic.Options) {
			o.Model = name
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.AnthropicKey
		}), nil
	case strings.HasPrefix(name, "gpt"), strings.HasPrefix(name, "o1"),
		strings.HasPrefix(name, "o3"), strings.HasPrefix(name, "o4"):
		if cfg.OpenAIKey == "" {
			return nil, errors.New("model: openai models need OPENAI_API_KEY")
		}
		return openai.New(openaiOpts(name, cfg.OpenAIBaseURL, cfg.OpenAIKey)), nil
	}
	return nil, fmt.Errorf("model: unsupported model %q", name)
}

// agentOptions translates the engine, tools and retry settings into agent options.
func agentOptions(cfg config.Config, b *backends, logger *slog.Logger) ([]recall.Option, error) {
	policy, err := runtime.ParseCheckpointPolicy(cfg.Engine.CheckpointPolicy)
	if err != nil {
		return nil, err
	}
	opts := []recall.Option{
		recall.WithLogger(logger),
		recall.WithCheckpointStore(b.store),
		recall.WithCheckpointPolicy(policy),
		recall.WithMaxToolRounds(cfg.Engine.MaxToolRounds),
		recall.WithMaxParallelTools(cfg.Engine.MaxParallelTools),
		recall.WithRecallLimit(cfg.Engine.RecallLimit),
		recall.WithRecallTokenBudget(cfg.Engine.RecallTokenBudget),
	}
	if cfg.Engine.SystemPrompt != "" {
		opts = append(opts, recall.WithSystemPrompt(cfg.Engine.SystemPrompt))
	}
	if cfg.Tools.TavilyKey != "" {
		opts = append(opts, recall.WithWebSearch(tools.NewWebSearch(cfg.Tools.TavilyKey,
			tools.WithMaxResults(cfg.Tools.MaxResults),
		)))
	}
	return opts, nil
}

// buildAgent wires a ready agent from cfg. extra options (hooks, tracer) are applied last.
// The caller owns the returned backends.
func buildAgent(ctx context.Context, cfg config.Config, logger *slog.Logger, extra ...recall.Option) (*recall.Agent, *backends, error) {
	model, err := newModel(cfg.Model)
	if err != nil {
		return nil, nil, err
	}
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	agent, err := newAgent(cfg, b, model, logger, extra...)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return agent, b, nil
}

func newAgent(cfg config.Config, b *backends, model ports.LanguageModel, logger *slog.Logger, extra ...recall.Option) (*recall.Agent, error) {
	retryOpts := []retry.Option{
		retry.MaxAttempts(cfg.Retry.MaxAttempts),
		retry.BaseDelay(cfg.Retry.BaseDelay()),
		retry.MaxDelay(cfg.Retry.MaxDelay()),
		retry.Logger(logger),
	}
	opts, err := agentOptions(cfg, b, logger)
	if err != nil {
		return nil, err
	}
	return recall.New(
		retry.Model(model, retryOpts...),
		retry.Memory(b.memory, retryOpts...),
		append(opts, extra...)...,
	)
}
