// Package sqlite provides the SQLite implementation of the memory store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-agent deployments. Vectors and related-memory lists are stored as
// JSON strings in TEXT fields.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oceanbase/memrank-go/pkg/storage/sqlstore"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file, or MemoryPath.
	DBPath string

	// NodeID is the snowflake node for generated IDs.
	NodeID int64
}

// NewClient opens (creating if needed) a SQLite database and migrates it.
//
// Parameters:
//   - cfg: Configuration containing the database path
//
// Returns:
//   - *sqlstore.Store: The migrated store
//   - error: Error if the database cannot be opened or migrated
func NewClient(cfg *Config) (*sqlstore.Store, error) {
	dsn := MemoryPath
	if cfg.DBPath != "" && cfg.DBPath != MemoryPath {
		// Create parent directory if it doesn't exist
		dbDir := filepath.Dir(cfg.DBPath)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
			}
		}
		dsn = cfg.DBPath + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	// One connection serialises writers and keeps an in-memory database alive
	// for the lifetime of the pool.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	store, err := sqlstore.New(db, sqlstore.SQLite, &sqlstore.Options{NodeID: nodeID(cfg.NodeID)})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	return store, nil
}

func nodeID(id int64) int64 {
	if id <= 0 {
		return 1
	}
	return id
}
