// Package pgvector provides a PostgreSQL/pgvector implementation of vectorindex.Index.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/internal/model"
	"cogni-rag-go/pkg/log"
	"cogni-rag-go/pkg/vectorindex"

	_ "github.com/jackc/pgx/v5/stdlib"
	pgv "github.com/pgvector/pgvector-go"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store is a PostgreSQL-based vector index using the pgvector extension.
type Store struct {
	db        *sql.DB
	table     string
	dimension int
}

var _ vectorindex.Index = (*Store)(nil)

// NewStore opens the database and creates the table and HNSW index when missing.
func NewStore(ctx context.Context, cfg config.PGVectorConfig, dimension int) (*Store, error) {
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, table: cfg.Table, dimension: dimension}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Infof("[PGVector] 表 '%s' 就绪, 维度: %d", s.table, dimension)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			category TEXT NOT NULL DEFAULT 'default',
			source TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL DEFAULT 0,
			run_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`, s.table, s.dimension),
	}
	// pgvector 的 HNSW 索引最多支持 2000 维，更高维度退化为顺序扫描。
	if s.dimension <= 2000 {
		migrations = append(migrations, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table))
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

// Upsert inserts the batch inside a single transaction.
func (s *Store) Upsert(ctx context.Context, entries []model.IndexedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, category, source, chunk_index, run_id, created_at)
		VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8)`, s.table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if s.dimension > 0 && len(e.Vector) != s.dimension {
			return fmt.Errorf("%w: entry %s has %d, index expects %d", vectorindex.ErrDimensionMismatch, e.ID, len(e.Vector), s.dimension)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Content, pgv.NewVector(e.Vector), e.Category, e.Source, e.ChunkIndex, e.RunID, e.CreatedAt); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Search orders by cosine distance and returns content and source only.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]model.SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, source, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2`, s.table), pgv.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var hits []model.SearchHit
	for rows.Next() {
		var h model.SearchHit
		if err := rows.Scan(&h.ID, &h.Content, &h.Source, &h.Score); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count returns the number of rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}

// Reset truncates the table.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, s.table))
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
