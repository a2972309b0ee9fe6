// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// dsnOptions enables WAL, waits on locks instead of failing, and makes
// every transaction take the write lock up front so read-check-write
// sequences inside one transaction are serialized.
const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func openDB(dbPath string, migrate func(*sql.DB) error) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating sqlite db: %w", err)
	}
	return db, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// scopeArgs returns the arguments of the scope filter used by List and
// Query: the empty-scope check, the exact match and an escaped LIKE
// pattern for everything beneath scope.
func scopeArgs(scope string) []any {
	scope = strings.TrimRight(scope, "/")
	return []any{scope, scope, likeEscaper.Replace(scope) + "/%"}
}
