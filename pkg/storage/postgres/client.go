// Package postgres provides the PostgreSQL implementation of the memory store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/oceanbase/memrank-go/pkg/storage/sqlstore"
)

// Config contains PostgreSQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	NodeID   int64
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.DBName, sslMode)
}

// NewClient connects to PostgreSQL and migrates the schema.
func NewClient(cfg *Config) (*sqlstore.Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	nodeID := cfg.NodeID
	if nodeID <= 0 {
		nodeID = 1
	}
	store, err := sqlstore.New(db, sqlstore.Postgres, &sqlstore.Options{NodeID: nodeID})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	return store, nil
}
