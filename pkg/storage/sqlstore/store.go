package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

var _ storage.Store = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// rows implements storage.Rows against a querier.
type rows struct {
	q       querier
	dialect Dialect
	ids     *snowflake.Node
}

// Store implements storage.Store using database/sql.
type Store struct {
	*rows

	// db is the underlying connection pool.
	db *sql.DB

	dialect Dialect
}

// Options configures a Store.
type Options struct {
	// NodeID is the snowflake node used for generated IDs (0-1023).
	NodeID int64
}

// New wraps an open database. It does not run migrations; call Migrate.
func New(db *sql.DB, dialect Dialect, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{NodeID: 1}
	}
	node, err := snowflake.NewNode(opts.NodeID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore.New: %w", err)
	}
	return &Store{
		rows:    &rows{q: db, dialect: dialect, ids: node},
		db:      db,
		dialect: dialect,
	}, nil
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn in a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(storage.Rows) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithTx: begin: %w", err)
	}

	if err := fn(&rows{q: tx, dialect: s.dialect, ids: s.ids}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("WithTx: commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (r *rows) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.dialect.Rebind(query), args...)
}

func (r *rows) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.dialect.Rebind(query), args...)
}

func (r *rows) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.q.QueryRowContext(ctx, r.dialect.Rebind(query), args...)
}

func (r *rows) nextID() int64 {
	return r.ids.Generate().Int64()
}

// affected returns the number of changed rows.
func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeJSON stores slices as JSON text. Empty slices are stored as NULL.
func encodeJSON[T any](v []T) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON[T any](s sql.NullString) ([]T, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
