package middleware_test

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/recall/pkg/adapters/memory"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/persistence/middleware"
	"github.com/aretw0/recall/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func encrypted(t *testing.T, inner ports.CheckpointStore, cfg middleware.EncryptionConfig) ports.CheckpointStore {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	if err != nil {
		t.Fatalf("NewEncryptionMiddleware failed: %v", err)
	}
	return middleware.Chain(inner, mw)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	ports.RunCheckpointStoreContract(t, encrypted(t, memory.NewStore(), middleware.EncryptionConfig{ActiveKey: generateKey(t)}))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := memory.NewStore()
	secureStore := encrypted(t, underlyingStore, middleware.EncryptionConfig{ActiveKey: generateKey(t)})

	ctx := context.Background()
	key := domain.ConversationKey{OwnerID: "ana", ThreadID: "t1"}
	state := domain.ConversationState{
		Messages:       []domain.Message{domain.UserMessage("my secret sauce is paprika")},
		RecallMemories: []string{"cooks a lot"},
	}

	saved, err := secureStore.CompareAndSwap(ctx, key, 0, domain.Checkpoint{State: state, Turn: 1})
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if saved.Version != 1 || saved.State.Messages[0].Content != "my secret sauce is paprika" {
		t.Fatalf("unexpected saved checkpoint: %+v", saved)
	}

	// The inner store only sees the envelope
	stored, err := underlyingStore.Load(ctx, key)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if len(stored.State.Messages) != 1 || stored.State.Messages[0].Role != "encrypted" {
		t.Fatalf("Expected a single envelope message, got %+v", stored.State.Messages)
	}
	if strings.Contains(stored.State.Messages[0].Content, "paprika") || len(stored.State.RecallMemories) != 0 {
		t.Fatal("Expected the state to be hidden from the inner store")
	}
	if stored.Turn != 1 || stored.Version != 1 {
		t.Errorf("Expected turn and version to stay readable, got turn=%d version=%d", stored.Turn, stored.Version)
	}

	loaded, err := secureStore.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load via middleware failed: %v", err)
	}
	if loaded.State.Messages[0].Content != "my secret sauce is paprika" || loaded.State.RecallMemories[0] != "cooks a lot" {
		t.Errorf("Unexpected decrypted state: %+v", loaded.State)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	secureStoreOld := encrypted(t, underlyingStore, middleware.EncryptionConfig{ActiveKey: oldKey})

	ctx := context.Background()
	key := domain.ConversationKey{OwnerID: "ana", ThreadID: "rotation"}
	first := domain.ConversationState{Messages: []domain.Message{domain.UserMessage("encrypted with old key")}}

	if _, err := secureStoreOld.CompareAndSwap(ctx, key, 0, domain.Checkpoint{State: first}); err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}

	secureStoreNew := encrypted(t, underlyingStore, middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})
	loaded, err := secureStoreNew.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load with rotated key failed: %v", err)
	}
	if loaded.State.Messages[0].Content != "encrypted with old key" {
		t.Errorf("Decryption with fallback key failed")
	}

	second := loaded.State.Apply(domain.Append(domain.UserMessage("encrypted with new key")))
	if _, err := secureStoreNew.CompareAndSwap(ctx, key, loaded.Version, domain.Checkpoint{State: second}); err != nil {
		t.Fatalf("CompareAndSwap with new key failed: %v", err)
	}

	if _, err := secureStoreOld.Load(ctx, key); err == nil {
		t.Error("Expected failure when loading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_RejectsPlainCheckpoints(t *testing.T) {
	underlyingStore := memory.NewStore()
	ctx := context.Background()
	key := domain.ConversationKey{OwnerID: "ana", ThreadID: "plain"}
	if _, err := underlyingStore.CompareAndSwap(ctx, key, 0, domain.Checkpoint{}); err != nil {
		t.Fatal(err)
	}

	_, err := encrypted(t, underlyingStore, middleware.EncryptionConfig{ActiveKey: generateKey(t)}).Load(ctx, key)
	if !errors.Is(err, middleware.ErrNotEncrypted) {
		t.Errorf("Expected ErrNotEncrypted, got %v", err)
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	if _, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")}); err == nil {
		t.Error("Expected an error for invalid key size")
	}
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    generateKey(t),
		FallbackKeys: [][]byte{[]byte("short")},
	})
	if err == nil {
		t.Error("Expected an error for invalid fallback key size")
	}
}
