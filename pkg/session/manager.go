package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/recall/internal/logging"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
// Lockers refresh a held lock, so a turn may run longer than this.
const DefaultLockTTL = 30 * time.Second

// ErrAdminUnsupported is returned by List and Delete when the checkpoint store does not
// implement ports.CheckpointLister.
var ErrAdminUnsupported = errors.New("checkpoint store does not support listing or deletion")

var errStopped = errors.New("consumer stopped")

// Conversation is the agent surface the Manager serializes.
type Conversation interface {
	Stream(ctx context.Context, key domain.ConversationKey, question string) iter.Seq2[string, error]
	Run(ctx context.Context, key domain.ConversationKey, question string) (domain.Message, error)
	Thread(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error)
	Store() ports.CheckpointStore
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates access to conversations, ensuring one turn at a time per key.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	agent Conversation

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker   ports.DistributedLocker // Optional distributed locker
	lockTTL  time.Duration
	maxInput int
	logger   *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the distributed lock TTL (default: 30s).
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithMaxInputSize bounds the question size in bytes (default: 16KB).
func WithMaxInputSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxInput = n
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager around agent.
func NewManager(agent Conversation, opts ...Option) *Manager {
	m := &Manager{
		agent:    agent,
		locks:    make(map[string]*lockEntry),
		lockTTL:  DefaultLockTTL,
		maxInput: DefaultMaxInputSize,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// lockID escapes both parts so that keys differing only in where "/" falls never share a lock.
func lockID(key domain.ConversationKey) string {
	return url.PathEscape(key.OwnerID) + "/" + url.PathEscape(key.ThreadID)
}

// WithLock executes fn while holding the lock for key.
func (m *Manager) WithLock(ctx context.Context, key domain.ConversationKey, fn func(context.Context) error) error {
	if err := key.Validate(); err != nil {
		return err
	}
	id := lockID(key)

	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, id, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"key", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Stream runs one turn while holding the key's lock. The lock is taken when iteration
// starts and released when it ends, including when the consumer stops early.
// The question is sanitized first; a rejected question is yielded as ErrInvalidInput.
func (m *Manager) Stream(ctx context.Context, key domain.ConversationKey, question string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		question, err := SanitizeInput(question, m.maxInput)
		if err != nil {
			yield("", err)
			return
		}
		err = m.WithLock(ctx, key, func(ctx context.Context) error {
			for fragment, err := range m.agent.Stream(ctx, key, question) {
				if err != nil {
					return err
				}
				if !yield(fragment, nil) {
					return errStopped
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopped) {
			yield("", err)
		}
	}
}

// Run executes one turn while holding the key's lock.
func (m *Manager) Run(ctx context.Context, key domain.ConversationKey, question string) (domain.Message, error) {
	question, err := SanitizeInput(question, m.maxInput)
	if err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	err = m.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		msg, err = m.agent.Run(ctx, key, question)
		return err
	})
	return msg, err
}

// Thread returns the checkpoint of key. Reads do not take the lock.
func (m *Manager) Thread(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error) {
	return m.agent.Thread(ctx, key)
}

// List returns the stored conversation keys of ownerID (all owners if empty).
func (m *Manager) List(ctx context.Context, ownerID string) ([]domain.ConversationKey, error) {
	lister, ok := m.agent.Store().(ports.CheckpointLister)
	if !ok {
		return nil, ErrAdminUnsupported
	}
	return lister.List(ctx, ownerID)
}

// Delete removes the checkpoint of key once no turn is running on it.
func (m *Manager) Delete(ctx context.Context, key domain.ConversationKey) error {
	lister, ok := m.agent.Store().(ports.CheckpointLister)
	if !ok {
		return ErrAdminUnsupported
	}
	return m.WithLock(ctx, key, func(ctx context.Context) error {
		return lister.Delete(ctx, key)
	})
}
