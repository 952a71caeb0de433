// Package postgres persists bookmark metadata transitions in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poucher/metadata-worker/internal/enrich"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "bookmarks"

// Config controls the Postgres connection pool used for bookmark rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// BookmarkStore applies metadata transitions to the bookmarks table.
type BookmarkStore struct {
	pool  pool
	table string
}

// NewBookmarkStore connects a pool using cfg.
func NewBookmarkStore(ctx context.Context, cfg Config) (*BookmarkStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &BookmarkStore{pool: p, table: table}, nil
}

// NewBookmarkStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewBookmarkStoreWithPool(p pool, table string) (*BookmarkStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &BookmarkStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *BookmarkStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *BookmarkStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// SaveMetadata stores md and marks the bookmark ready. The row is locked
// while the user-owned title and description are merged.
func (s *BookmarkStore) SaveMetadata(
	ctx context.Context,
	bookmarkID string,
	pageURL string,
	md enrich.Metadata,
	updatedAt time.Time,
) error {
	payload, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	var current enrich.Fields
	selectQuery := fmt.Sprintf(
		`SELECT COALESCE(title, ''), COALESCE(description, '') FROM %s WHERE id = $1 FOR UPDATE`,
		s.table,
	)
	if err := tx.QueryRow(ctx, selectQuery, bookmarkID).Scan(&current.Title, &current.Description); err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return enrich.ErrBookmarkNotFound
		}
		return fmt.Errorf("select bookmark: %w", err)
	}

	merged := enrich.MergeFields(current, pageURL, md)
	updateQuery := fmt.Sprintf(`
UPDATE %s SET
	title = COALESCE(NULLIF($2, ''), title),
	description = COALESCE(NULLIF($3, ''), description),
	metadata = $4,
	metadata_status = $5,
	metadata_error = NULL,
	metadata_updated_at = $6
WHERE id = $1`, s.table)
	if _, err := tx.Exec(ctx, updateQuery,
		bookmarkID,
		merged.Title,
		merged.Description,
		payload,
		string(enrich.StatusReady),
		updatedAt,
	); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("update bookmark: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MarkFailed records a terminal failure on the bookmark.
func (s *BookmarkStore) MarkFailed(ctx context.Context, bookmarkID, reason string, updatedAt time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	metadata_status = $2,
	metadata_error = $3,
	metadata_updated_at = $4
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		bookmarkID,
		string(enrich.StatusFailed),
		enrich.TruncateError(reason),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return enrich.ErrBookmarkNotFound
	}
	return nil
}
