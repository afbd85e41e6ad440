// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store implements the persistence contracts over database/sql.
// Supported dialects: sqlite, postgres, mysql. Concurrency is handled by
// database-level locking (transactions), not Go mutexes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// newRowID generates a primary key for append-only tables.
func newRowID() string { return uuid.NewString() }

// DB wraps a sql.DB with its dialect so the stores can adapt placeholders
// and maintenance statements.
type DB struct {
	*sql.DB
	dialect string
}

// Open connects to the database and normalizes the dialect name.
func Open(dialect, dsn string) (*DB, error) {
	driver := dialect
	switch dialect {
	case "sqlite", "sqlite3":
		dialect = "sqlite"
		driver = "sqlite3"
	case "postgres":
	case "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect, err)
	}
	return &DB{DB: db, dialect: dialect}, nil
}

// Wrap adopts an existing connection, for tests.
func Wrap(db *sql.DB, dialect string) *DB {
	if dialect == "sqlite3" {
		dialect = "sqlite"
	}
	return &DB{DB: db, dialect: dialect}
}

func (db *DB) Dialect() string { return db.dialect }

// rebind converts ?-style placeholders to the dialect's form.
func (db *DB) rebind(query string) string {
	if db.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// initSchema executes each statement separately for SQLite compatibility.
func (db *DB) initSchema(statements []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// ============================================================================
// POOL MAINTENANCE
// ============================================================================

// ExpireIdle closes all idle connections in the pool and reports how many
// were open before. Used by the clear_stale_connections healing action.
func (db *DB) ExpireIdle(ctx context.Context) (int, error) {
	before := db.Stats().Idle

	// Dropping the idle ceiling to zero closes every idle connection;
	// restoring it lets the pool regrow on demand.
	db.SetMaxIdleConns(0)
	db.SetMaxIdleConns(2)

	return before, nil
}

// Vacuum runs the dialect's compaction/analyze maintenance. Used by the
// vacuum_databases healing action.
func (db *DB) Vacuum(ctx context.Context) error {
	var stmts []string
	switch db.dialect {
	case "sqlite":
		stmts = []string{"VACUUM", "ANALYZE"}
	case "postgres":
		stmts = []string{"VACUUM (ANALYZE)"}
	case "mysql":
		stmts = []string{"ANALYZE TABLE snapshots, healing_actions, trust_type_scores, trust_contact_scores"}
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
