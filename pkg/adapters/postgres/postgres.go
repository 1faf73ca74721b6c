// Package postgres implements the checkpoint and memory ports on PostgreSQL.
//
// Both Store and RecallStore accept an externally-owned *pgxpool.Pool; the caller
// is responsible for closing it.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/recall/internal/relevance"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements ports.CheckpointStore and ports.CheckpointLister.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store using an existing pgxpool.Pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the checkpoint table. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS recall_checkpoints (
		owner_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		version BIGINT NOT NULL,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (owner_id, thread_id)
	)`)
	if err != nil {
		return fmt.Errorf("postgres: checkpoint init: %w", err)
	}
	return nil
}

// Load retrieves the checkpoint of key.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM recall_checkpoints WHERE owner_id = $1 AND thread_id = $2`,
		key.OwnerID, key.ThreadID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load checkpoint: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("postgres: decode checkpoint: %w", err)
	}
	return &cp, nil
}

// CompareAndSwap stores next iff the stored version equals expectedVersion.
func (s *Store) CompareAndSwap(ctx context.Context, key domain.ConversationKey, expectedVersion int64, next domain.Checkpoint) (*domain.Checkpoint, error) {
	next.Key = key
	next.Version = expectedVersion + 1
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode checkpoint: %w", err)
	}

	var sql string
	args := []any{key.OwnerID, key.ThreadID, next.Version, data, next.UpdatedAt}
	if expectedVersion == 0 {
		sql = `INSERT INTO recall_checkpoints (owner_id, thread_id, version, data, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (owner_id, thread_id) DO NOTHING`
	} else {
		sql = `UPDATE recall_checkpoints SET version = $3, data = $4, updated_at = $5
			WHERE owner_id = $1 AND thread_id = $2 AND version = $6`
		args = append(args, expectedVersion)
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: write checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrVersionConflict
	}
	return &next, nil
}

// List returns the stored keys of ownerID, or of every owner when empty.
func (s *Store) List(ctx context.Context, ownerID string) ([]domain.ConversationKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner_id, thread_id FROM recall_checkpoints
		 WHERE $1 = '' OR owner_id = $1
		 ORDER BY owner_id, thread_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list checkpoints: %w", err)
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ConversationKey, error) {
		var k domain.ConversationKey
		err := row.Scan(&k.OwnerID, &k.ThreadID)
		return k, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list checkpoints: %w", err)
	}
	return keys, nil
}

// Delete removes the checkpoint of key.
func (s *Store) Delete(ctx context.Context, key domain.ConversationKey) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM recall_checkpoints WHERE owner_id = $1 AND thread_id = $2`, key.OwnerID, key.ThreadID)
	if err != nil {
		return fmt.Errorf("postgres: delete checkpoint: %w", err)
	}
	return nil
}

// RecallStore implements ports.MemoryStore with PostgreSQL full-text ranking.
type RecallStore struct {
	pool *pgxpool.Pool
}

// NewRecallStore creates a RecallStore using an existing pgxpool.Pool.
func NewRecallStore(pool *pgxpool.Pool) *RecallStore {
	return &RecallStore{pool: pool}
}

// Init creates the memory table and its text index. Safe to call multiple times.
func (s *RecallStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recall_memories (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS recall_memories_owner_idx ON recall_memories (owner_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS recall_memories_fts_idx ON recall_memories USING gin (to_tsvector('english', content))`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: memory init: %w", err)
		}
	}
	return nil
}

// Save stores a memory for ownerID.
func (s *RecallStore) Save(ctx context.Context, ownerID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recall_memories (id, owner_id, content, created_at) VALUES ($1, $2, $3, clock_timestamp())`,
		uuid.NewString(), ownerID, text)
	if err != nil {
		return fmt.Errorf("postgres: save memory: %w", err)
	}
	return nil
}

// Search ranks the memories of ownerID by full-text relevance, newest first on ties.
// Any query term may match.
func (s *RecallStore) Search(ctx context.Context, ownerID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	tsquery := strings.Join(relevance.Tokens(query), " | ")

	rows, err := s.pool.Query(ctx,
		`SELECT content FROM recall_memories
		 WHERE owner_id = $1
		 ORDER BY CASE WHEN $2 = '' THEN 0
		          ELSE ts_rank(to_tsvector('english', content), to_tsquery('english', $2)) END DESC,
		          created_at DESC
		 LIMIT $3`,
		ownerID, tsquery, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search memories: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: search memories: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
