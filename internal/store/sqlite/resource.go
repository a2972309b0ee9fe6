// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viking-dev/viking/internal/store"
)

var _ store.ResourceStore = (*ResourceStore)(nil)

// ResourceStore implements store.ResourceStore backed by SQLite. Status
// changes are conditional UPDATEs, so two writers racing on the same
// resource cannot both win.
type ResourceStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewResourceStore opens (or creates) the resources database at dbPath.
func NewResourceStore(dbPath string) (*ResourceStore, error) {
	db, err := openDB(dbPath, migrateResources)
	if err != nil {
		return nil, err
	}
	return &ResourceStore{db: db, nowFunc: time.Now}, nil
}

func migrateResources(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS resources (
	uri            TEXT PRIMARY KEY,
	locator        TEXT NOT NULL,
	media_type     TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	stage          TEXT NOT NULL DEFAULT '',
	failure_kind   TEXT NOT NULL DEFAULT '',
	failure_detail TEXT NOT NULL DEFAULT '',
	attempts       INTEGER NOT NULL DEFAULT 0,
	chunk_ids      TEXT NOT NULL DEFAULT '[]',
	abstract       TEXT NOT NULL DEFAULT '',
	digest         TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resources_status ON resources(status, updated_at);
`
	_, err := db.Exec(ddl)
	return err
}

// SetNowFunc overrides the clock (for testing).
func (s *ResourceStore) SetNowFunc(fn func() time.Time) {
	s.nowFunc = fn
}

func (s *ResourceStore) Close() error {
	return s.db.Close()
}

const resourceColumns = `uri, locator, media_type, status, stage, failure_kind, failure_detail,
attempts, chunk_ids, abstract, digest, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*store.Resource, error) {
	var (
		r                    store.Resource
		kind, detail, chunks string
		createdAt, updatedAt string
	)
	if err := row.Scan(&r.URI, &r.Locator, &r.MediaType, &r.Status, &r.Stage, &kind, &detail,
		&r.Attempts, &chunks, &r.Abstract, &r.Digest, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if kind != "" {
		r.Failure = &store.Failure{Kind: store.FailureKind(kind), Detail: detail}
	}
	if err := json.Unmarshal([]byte(chunks), &r.ChunkIDs); err != nil {
		return nil, fmt.Errorf("decoding chunk ids of %s: %w", r.URI, err)
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func getResource(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, uri string) (*store.Resource, error) {
	r, err := scanResource(q.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE uri = ?`, uri))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(uri)
	}
	if err != nil {
		return nil, store.Database(err, "getting resource "+uri)
	}
	return r, nil
}

func (s *ResourceStore) PutQueued(ctx context.Context, r *store.Resource) (bool, *store.Resource, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, store.Database(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(s.nowFunc())
	const q = `INSERT INTO resources (uri, locator, media_type, status, digest, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(uri) DO NOTHING`
	res, err := tx.ExecContext(ctx, q, r.URI, r.Locator, r.MediaType, string(store.StatusQueued), r.Digest, now, now)
	if err != nil {
		return false, nil, store.Database(err, "inserting resource "+r.URI)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, store.Database(err, "inserting resource "+r.URI)
	}

	current, err := getResource(ctx, tx, r.URI)
	if err != nil {
		return false, nil, err
	}
	if err := tx.Commit(); err != nil {
		return false, nil, store.Database(err, "committing resource insert")
	}
	return n == 1, current, nil
}

func (s *ResourceStore) Transition(ctx context.Context, uri string, from, to store.Status, p store.Payload) (*store.Resource, error) {
	if !store.CanTransition(from, to) {
		return nil, store.InvalidTransition(uri, from, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Database(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := getResource(ctx, tx, uri)
	if err != nil {
		return nil, err
	}
	if rec.Status != from {
		return nil, store.Conflict(uri, from, rec.Status)
	}

	p.Apply(rec, to, s.nowFunc())

	chunkIDs, err := json.Marshal(nonNil(rec.ChunkIDs))
	if err != nil {
		return nil, store.Database(err, "encoding chunk ids")
	}
	var kind, detail string
	if rec.Failure != nil {
		kind, detail = string(rec.Failure.Kind), rec.Failure.Detail
	}

	const q = `UPDATE resources SET media_type = ?, status = ?, stage = ?, failure_kind = ?, failure_detail = ?,
attempts = ?, chunk_ids = ?, abstract = ?, digest = ?, updated_at = ?
WHERE uri = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q,
		rec.MediaType, string(rec.Status), string(rec.Stage), kind, detail,
		rec.Attempts, string(chunkIDs), rec.Abstract, rec.Digest, formatTime(rec.UpdatedAt),
		uri, string(from),
	)
	if err != nil {
		return nil, store.Database(err, "updating resource "+uri)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, store.Conflict(uri, from, "")
	}

	if err := tx.Commit(); err != nil {
		return nil, store.Database(err, "committing transition")
	}
	rec.UpdatedAt = parseTime(formatTime(rec.UpdatedAt))
	return rec, nil
}

func (s *ResourceStore) Get(ctx context.Context, uri string) (*store.Resource, error) {
	return getResource(ctx, s.db, uri)
}

func (s *ResourceStore) List(ctx context.Context, prefix string) ([]*store.Resource, error) {
	q := `SELECT ` + resourceColumns + ` FROM resources
WHERE (? = '' OR uri = ? OR uri LIKE ? ESCAPE '\')
ORDER BY uri`
	return s.query(ctx, q, scopeArgs(prefix)...)
}

func (s *ResourceStore) ListStale(ctx context.Context, statuses []store.Status, before time.Time) ([]*store.Resource, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, formatTime(before))

	q := `SELECT ` + resourceColumns + ` FROM resources
WHERE status IN (` + placeholders + `) AND updated_at < ?
ORDER BY updated_at, uri`
	return s.query(ctx, q, args...)
}

func (s *ResourceStore) query(ctx context.Context, q string, args ...any) ([]*store.Resource, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, store.Database(err, "listing resources")
	}
	defer func() { _ = rows.Close() }()

	var out []*store.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, store.Database(err, "scanning resource")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Database(err, "iterating resources")
	}
	return out, nil
}

func (s *ResourceStore) Delete(ctx context.Context, uri string, from store.Status) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Database(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := getResource(ctx, tx, uri)
	if err != nil {
		return err
	}
	if rec.Status != from {
		return store.DeleteConflict(uri, from, rec.Status)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE uri = ? AND status = ?`, uri, string(from)); err != nil {
		return store.Database(err, "deleting resource "+uri)
	}
	if err := tx.Commit(); err != nil {
		return store.Database(err, "committing delete")
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
