package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/facewatch/internal/gallery"
	"github.com/andresmejia3/facewatch/internal/matchstate"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store manages the PostgreSQL pool: the gallery cache and the shared top-match row.
type Store struct {
	pool *pgxpool.Pool
}

// New connects and ensures the schema exists.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// initSchema creates the tables and the vector extension if they don't exist.
// match_state is pinned to a single row by its CHECK constraint.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			id TEXT PRIMARY KEY,
			position INT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			reference_image TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS match_state (
			slot SMALLINT PRIMARY KEY DEFAULT 1 CHECK (slot = 1),
			run_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			identity_id TEXT NOT NULL,
			name TEXT NOT NULL,
			reference_image TEXT NOT NULL,
			similarity DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ReplaceIdentities stores the gallery in order, replacing any previous cache.
// Embeddings are kept as float32, which is all the face model resolves.
func (s *Store) ReplaceIdentities(ctx context.Context, ids []gallery.Identity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM identities"); err != nil {
		return err
	}
	for i, id := range ids {
		_, err := tx.Exec(ctx, `
			INSERT INTO identities (id, position, name, reference_image, embedding, indexed_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
		`, id.ID, i, id.DisplayName, id.ReferenceImage, pgvector.NewVector(toFloat32(id.Embedding)))
		if err != nil {
			return fmt.Errorf("insert identity %q: %w", id.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// LoadIdentities returns the cached gallery in its original order.
func (s *Store) LoadIdentities(ctx context.Context) ([]gallery.Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, reference_image, embedding
		FROM identities
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []gallery.Identity
	for rows.Next() {
		var id gallery.Identity
		var vec pgvector.Vector
		if err := rows.Scan(&id.ID, &id.DisplayName, &id.ReferenceImage, &vec); err != nil {
			return nil, err
		}
		id.Embedding = toFloat64(vec.Slice())
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveTopMatch upserts the single match_state row. The WHERE clause keeps a
// late write from an older frame of the same run from replacing a newer one.
func (s *Store) SaveTopMatch(ctx context.Context, rec matchstate.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO match_state (slot, run_id, seq, identity_id, name, reference_image, similarity, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (slot) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			seq = EXCLUDED.seq,
			identity_id = EXCLUDED.identity_id,
			name = EXCLUDED.name,
			reference_image = EXCLUDED.reference_image,
			similarity = EXCLUDED.similarity,
			updated_at = EXCLUDED.updated_at
		WHERE match_state.run_id <> EXCLUDED.run_id OR match_state.seq < EXCLUDED.seq
	`, rec.RunID, int64(rec.Seq), rec.IdentityID, rec.DisplayName, rec.ReferenceImage, rec.Similarity, rec.UpdatedAt)
	return err
}

// LoadTopMatch reads the match_state row; ok is false if it was never written.
func (s *Store) LoadTopMatch(ctx context.Context) (matchstate.Record, bool, error) {
	var rec matchstate.Record
	var seq int64
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, seq, identity_id, name, reference_image, similarity, updated_at
		FROM match_state WHERE slot = 1
	`).Scan(&rec.RunID, &seq, &rec.IdentityID, &rec.DisplayName, &rec.ReferenceImage, &rec.Similarity, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return matchstate.Record{}, false, nil
	}
	if err != nil {
		return matchstate.Record{}, false, err
	}
	rec.Seq = uint64(seq)
	return rec, true, nil
}

// ClearTopMatch deletes the top-match row.
func (s *Store) ClearTopMatch(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM match_state")
	return err
}

// Reset drops all application tables. The next New recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS match_state CASCADE;
		DROP TABLE IF EXISTS identities CASCADE;
	`)
	return err
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
