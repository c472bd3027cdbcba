// Package oceanbase provides the OceanBase (MySQL mode) implementation of the
// memory store.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/oceanbase/memrank-go/pkg/storage/sqlstore"
)

// Config contains OceanBase configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	NodeID   int64
}

// DSN builds the go-sql-driver/mysql connection string.
//
// ClientFoundRows makes UPDATE report matched rather than changed rows, so
// "no row" and "no change" stay distinguishable.
func (c *Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = 2881
	}
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, port)
	mc.DBName = c.DBName
	mc.ParseTime = true
	mc.ClientFoundRows = true
	return mc.FormatDSN()
}

// NewClient connects to OceanBase and migrates the schema.
func NewClient(cfg *Config) (*sqlstore.Store, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	nodeID := cfg.NodeID
	if nodeID <= 0 {
		nodeID = 1
	}
	store, err := sqlstore.New(db, sqlstore.MySQL, &sqlstore.Options{NodeID: nodeID})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	return store, nil
}
