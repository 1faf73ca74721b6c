// Package sqlite implements the checkpoint and memory ports on a local SQLite file
// using the pure-Go modernc driver. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/recall/internal/logging"
	"github.com/aretw0/recall/internal/relevance"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/google/uuid"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithSearchWindow bounds how many recent memories a search ranks (default 1000).
func WithSearchWindow(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.window = n
		}
	}
}

// Store implements ports.CheckpointStore, ports.CheckpointLister and ports.MemoryStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	window int
}

// New opens the SQLite file at dbPath. All goroutines share one connection,
// which serializes writers and makes compare-and-swap a plain conditional update.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: logging.NewNop(), window: 1000}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			owner_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			data TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (owner_id, thread_id)
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS memories_owner_idx ON memories(owner_id, created_at)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load retrieves the checkpoint of key.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM checkpoints WHERE owner_id = ? AND thread_id = ?`,
		key.OwnerID, key.ThreadID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// CompareAndSwap stores next iff the stored version equals expectedVersion.
func (s *Store) CompareAndSwap(ctx context.Context, key domain.ConversationKey, expectedVersion int64, next domain.Checkpoint) (*domain.Checkpoint, error) {
	start := time.Now()
	next.Key = key
	next.Version = expectedVersion + 1
	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO checkpoints (owner_id, thread_id, version, data, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(owner_id, thread_id) DO NOTHING`,
			key.OwnerID, key.ThreadID, next.Version, string(data), next.UpdatedAt.UnixMilli())
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE checkpoints SET version = ?, data = ?, updated_at = ?
			 WHERE owner_id = ? AND thread_id = ? AND version = ?`,
			next.Version, string(data), next.UpdatedAt.UnixMilli(), key.OwnerID, key.ThreadID, expectedVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrVersionConflict
	}

	s.logger.Debug("sqlite: checkpoint written", "key", key.String(), "version", next.Version, "duration", time.Since(start))
	return &next, nil
}

// List returns the stored keys of ownerID, or of every owner when empty.
func (s *Store) List(ctx context.Context, ownerID string) ([]domain.ConversationKey, error) {
	query := `SELECT owner_id, thread_id FROM checkpoints`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY owner_id, thread_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var keys []domain.ConversationKey
	for rows.Next() {
		var k domain.ConversationKey
		if err := rows.Scan(&k.OwnerID, &k.ThreadID); err != nil {
			return nil, fmt.Errorf("scan checkpoint key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Delete removes the checkpoint of key.
func (s *Store) Delete(ctx context.Context, key domain.ConversationKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE owner_id = ? AND thread_id = ?`, key.OwnerID, key.ThreadID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Save stores a memory for ownerID.
func (s *Store) Save(ctx context.Context, ownerID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, owner_id, content, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), ownerID, text, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// Search ranks the most recent memories of ownerID against query.
func (s *Store) Search(ctx context.Context, ownerID, query string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content, rowid FROM memories WHERE owner_id = ? ORDER BY rowid DESC LIMIT ?`,
		ownerID, s.window)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var docs []relevance.Document
	for rows.Next() {
		var d relevance.Document
		if err := rows.Scan(&d.Text, &d.Seq); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return relevance.Rank(query, docs, limit), nil
}
