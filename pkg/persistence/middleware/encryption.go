package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
)

// envelopeRole marks the single message that carries an encrypted conversation state.
const envelopeRole domain.Role = "encrypted"

// ErrNotEncrypted is returned when a stored checkpoint is not an encryption envelope.
var ErrNotEncrypted = errors.New("checkpoint is missing its encrypted envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

// Validate checks every key length.
func (c EncryptionConfig) Validate() error {
	if len(c.ActiveKey) != 32 {
		return errors.New("active key must be 32 bytes (AES-256)")
	}
	for i, k := range c.FallbackKeys {
		if len(k) != 32 {
			return fmt.Errorf("fallback key %d must be 32 bytes (AES-256)", i)
		}
	}
	return nil
}

type encryptionMiddleware struct {
	next   ports.CheckpointStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts the conversation state of every
// checkpoint using AES-GCM. Version, turn and pending step stay readable to the inner store,
// which still performs compare-and-swap on them.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) CompareAndSwap(ctx context.Context, key domain.ConversationKey, expectedVersion int64, next domain.Checkpoint) (*domain.Checkpoint, error) {
	plainText, err := json.Marshal(next.State)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt state: %w", err)
	}

	envelope := next
	envelope.State = domain.ConversationState{
		Messages: []domain.Message{{Role: envelopeRole, Content: base64.StdEncoding.EncodeToString(ciphertext)}},
	}
	stored, err := m.next.CompareAndSwap(ctx, key, expectedVersion, envelope)
	if err != nil {
		return nil, err
	}

	out := *stored
	out.State = next.State.Clone()
	return &out, nil
}

func (m *encryptionMiddleware) Load(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error) {
	envelope, err := m.next.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	msgs := envelope.State.Messages
	if len(msgs) != 1 || msgs[0].Role != envelopeRole {
		return nil, fmt.Errorf("%w: %s", ErrNotEncrypted, key)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(msgs[0].Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	// Try Active, then Fallback
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}

	out := *envelope
	out.State = domain.ConversationState{}
	if err := json.Unmarshal(plainText, &out.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted state: %w", err)
	}
	return &out, nil
}

// List and Delete pass through when the inner store supports administration.
func (m *encryptionMiddleware) List(ctx context.Context, ownerID string) ([]domain.ConversationKey, error) {
	lister, err := listerOf(m.next)
	if err != nil {
		return nil, err
	}
	return lister.List(ctx, ownerID)
}

func (m *encryptionMiddleware) Delete(ctx context.Context, key domain.ConversationKey) error {
	lister, err := listerOf(m.next)
	if err != nil {
		return err
	}
	return lister.Delete(ctx, key)
}

func listerOf(store ports.CheckpointStore) (ports.CheckpointLister, error) {
	lister, ok := store.(ports.CheckpointLister)
	if !ok {
		return nil, fmt.Errorf("checkpoint store %T does not support listing", store)
	}
	return lister, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
