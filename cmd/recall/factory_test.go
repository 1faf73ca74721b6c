package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/recall/internal/config"
	"github.com/aretw0/recall/internal/logging"
	"github.com/aretw0/recall/internal/testutils"
	"github.com/aretw0/recall/pkg/adapters/anthropic"
	"github.com/aretw0/recall/pkg/adapters/memory"
	"github.com/aretw0/recall/pkg/adapters/openai"
	redisAdapter "github.com/aretw0/recall/pkg/adapters/redis"
	"github.com/aretw0/recall/pkg/adapters/sqlite"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModel(t *testing.T) {
	base := config.Default().Model
	base.OpenAIKey = "sk-test"
	base.AnthropicKey = "ak-test"
	base.GroqKey = "gk-test"

	tests := []struct {
		name     string
		model    string
		wantName string
		claude   bool
	}{
		{"openai", "gpt-4o-mini", "gpt-4o-mini", false},
		{"openai reasoning", "o3-mini", "o3-mini", false},
		{"anthropic", "claude-3-5-haiku-latest", "claude-3-5-haiku-latest", true},
		{"ollama", "ollama-llama3.1", "llama3.1", false},
		{"groq", "groq-llama-3.1-8b-instant", "llama-3.1-8b-instant", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Name = tt.model
			m, err := newModel(cfg)
			require.NoError(t, err)
			if tt.claude {
				am, ok := m.(*anthropic.Model)
				require.True(t, ok, "expected anthropic model, got %T", m)
				assert.Equal(t, tt.wantName, am.Name())
				return
			}
			om, ok := m.(*openai.Model)
			require.True(t, ok, "expected openai model, got %T", m)
			assert.Equal(t, tt.wantName, om.Name())
		})
	}
}

func TestNewModel_Errors(t *testing.T) {
	cfg := config.Default().Model

	for _, name := range []string{"gpt-4o", "claude-3-5-haiku-latest", "groq-llama3"} {
		cfg.Name = name
		_, err := newModel(cfg)
		assert.Error(t, err, name)
	}

	cfg.Name = "mistral-large"
	cfg.OpenAIKey = "sk-test"
	_, err := newModel(cfg)
	assert.ErrorContains(t, err, "unsupported model")

	cfg.Name = "ollama-llama3.1"
	_, err = newModel(cfg)
	assert.NoError(t, err, "ollama needs no key")
}

func TestOpenBackends_Memory(t *testing.T) {
	b, err := openBackends(context.Background(), config.Default(), logging.NewNop())
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &memory.Store{}, b.store)
	assert.IsType(t, &memory.RecallStore{}, b.memory)
	assert.Nil(t, b.locker)
}

func TestOpenBackends_SQLiteSharesOneFile(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "recall.db")

	b, err := openBackends(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer b.Close()

	store, ok := b.store.(*sqlite.Store)
	require.True(t, ok)
	assert.Same(t, store, b.memory)
	assert.Len(t, b.closers, 1)
}

func TestOpenBackends_RedisWithLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.RedisAddr = mr.Addr()
	cfg.Lock.Distributed = true

	b, err := openBackends(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &redisAdapter.Store{}, b.store)
	assert.IsType(t, &redisAdapter.RecallStore{}, b.memory)
	require.NotNil(t, b.locker)
	assert.Len(t, b.closers, 1, "store, memory and locker share one client")

	ctx := context.Background()
	require.NoError(t, b.memory.Save(ctx, "ana", "likes tea"))
	got, err := b.memory.Search(ctx, "ana", "tea", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"likes tea"}, got)
}

func TestNewAgent_RunsThroughRetryWrappers(t *testing.T) {
	cfg := config.Default()
	b, err := openBackends(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer b.Close()

	model := testutils.NewScriptedModel(testutils.Turn{Text: []string{"Hello", " there"}})
	agent, err := newAgent(cfg, b, model, logging.NewNop())
	require.NoError(t, err)

	key := domain.ConversationKey{OwnerID: "ana", ThreadID: "t1"}
	msg, err := agent.Run(context.Background(), key, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", msg.Content)

	cp, err := b.store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cp.Turn)

	var names []string
	for _, d := range agent.Tools() {
		names = append(names, d.Name)
	}
	assert.NotContains(t, names, "web_search", "web search needs a Tavily key")
}

func TestAgentOptions_RejectsUnknownPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.CheckpointPolicy = "sometimes"
	_, err := agentOptions(cfg, &backends{store: memory.NewStore()}, logging.NewNop())
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	key, err := parseKey("ana/t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationKey{OwnerID: "ana", ThreadID: "t1"}, key)

	_, err = parseKey("ana")
	assert.ErrorIs(t, err, domain.ErrInvalidKey)

	_, err = parseKey("/t1")
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "recall version")

	out, err = execute(t, "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "load_memories")

	out, err = execute(t, "threads", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "No threads found.")

	_, err = execute(t, "threads", "show", "not-a-key")
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestOpenBackends_EncryptionAndRedaction(t *testing.T) {
	cfg := config.Default()
	cfg.Store.EncryptionKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	cfg.Memory.RedactPII = true

	b, err := openBackends(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	defer b.Close()

	_, plain := b.store.(*memory.Store)
	assert.False(t, plain, "checkpoint store must be wrapped")
	_, isLister := b.store.(ports.CheckpointLister)
	assert.True(t, isLister)

	ctx := context.Background()
	require.NoError(t, b.memory.Save(ctx, "ana", "reach me at ana@example.com about tea"))
	got, err := b.memory.Search(ctx, "ana", "tea", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"reach me at *** about tea"}, got)
}
