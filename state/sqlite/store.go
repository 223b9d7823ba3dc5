// Package sqlite persists records in a local SQLite database via the pure-Go
// modernc driver, so the engine stays CGO-free.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/notesmith-ai/notesmith/state"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) { s.enableWAL = enabled }
}

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (state.Record, error) {
	if strings.TrimSpace(key) == "" {
		return state.Record{}, fmt.Errorf("record key is required")
	}

	const q = `SELECT key, kind, data, created_at, updated_at FROM records WHERE key = ?;`
	var (
		record     state.Record
		dataRaw    string
		createdRaw string
		updatedRaw string
	)
	err := s.db.QueryRowContext(ctx, q, key).Scan(&record.Key, &record.Kind, &dataRaw, &createdRaw, &updatedRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Record{}, state.ErrNotFound
		}
		return state.Record{}, fmt.Errorf("failed to load record: %w", err)
	}
	return decodeRecordRow(record, dataRaw, createdRaw, updatedRaw)
}

func (s *Store) Put(ctx context.Context, record state.Record) error {
	if record.Key == "" {
		return fmt.Errorf("record key is required")
	}
	if record.Kind == "" {
		return fmt.Errorf("record kind is required")
	}
	now := time.Now().UTC()
	created := record.CreatedAt
	if created.IsZero() {
		created = now
	}

	const q = `
INSERT INTO records (key, kind, data, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  kind=excluded.kind,
  data=excluded.data,
  updated_at=excluded.updated_at;
`
	_, err := s.db.ExecContext(
		ctx,
		q,
		record.Key,
		record.Kind,
		string(record.Data),
		created.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("record key is required")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?;`, key)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return state.ErrNotFound
	}
	return nil
}

func (s *Store) Query(ctx context.Context, query state.Query) ([]state.Record, error) {
	var (
		where []string
		args  []any
	)
	if query.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, query.Kind)
	}
	if query.Prefix != "" {
		where = append(where, `key LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(query.Prefix)+"%")
	}

	sqlText := `SELECT key, kind, data, created_at, updated_at FROM records`
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += " ORDER BY key ASC"
	if query.Limit > 0 {
		sqlText += " LIMIT ?"
		args = append(args, query.Limit)
	}
	sqlText += ";"

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []state.Record
	for rows.Next() {
		var (
			record     state.Record
			dataRaw    string
			createdRaw string
			updatedRaw string
		)
		if err := rows.Scan(&record.Key, &record.Kind, &dataRaw, &createdRaw, &updatedRaw); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		decoded, err := decodeRecordRow(record, dataRaw, createdRaw, updatedRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeRecordRow(base state.Record, dataRaw, createdRaw, updatedRaw string) (state.Record, error) {
	base.Data = []byte(dataRaw)
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return state.Record{}, fmt.Errorf("failed to parse record created_at: %w", err)
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedRaw)
	if err != nil {
		return state.Record{}, fmt.Errorf("failed to parse record updated_at: %w", err)
	}
	base.CreatedAt = created.UTC()
	base.UpdatedAt = updated.UTC()
	return base, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

var _ state.Store = (*Store)(nil)
