// Package sqlstore implements storage.Store on top of database/sql.
//
// A single implementation serves SQLite, PostgreSQL and OceanBase (MySQL
// protocol); the differences are confined to the Dialect: placeholder style
// and column types used by the migrations.
package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavour of the connected database.
type Dialect int

const (
	// SQLite uses ? placeholders.
	SQLite Dialect = iota

	// Postgres uses $n placeholders.
	Postgres

	// MySQL covers OceanBase in MySQL mode.
	MySQL
)

// String returns the dialect name.
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// Rebind rewrites ? placeholders into the dialect's style.
//
// Queries in this package never contain literal question marks, so a plain
// scan is enough.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// columnTypes expands the type tokens used in migration statements.
func (d Dialect) columnTypes() *strings.Replacer {
	switch d {
	case Postgres:
		return strings.NewReplacer(
			"{{text}}", "TEXT",
			"{{key}}", "VARCHAR(255)",
			"{{float}}", "DOUBLE PRECISION",
			"{{blob}}", "BYTEA",
		)
	case MySQL:
		return strings.NewReplacer(
			"{{text}}", "LONGTEXT",
			"{{key}}", "VARCHAR(255)",
			"{{float}}", "DOUBLE",
			"{{blob}}", "LONGBLOB",
		)
	default:
		return strings.NewReplacer(
			"{{text}}", "TEXT",
			"{{key}}", "TEXT",
			"{{float}}", "REAL",
			"{{blob}}", "BLOB",
		)
	}
}
