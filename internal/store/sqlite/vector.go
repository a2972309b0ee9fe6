// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Viking Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/viking-dev/viking/internal/store"
	vikingerr "github.com/viking-dev/viking/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

var _ store.VectorIndex = (*VectorIndex)(nil)

// VectorIndex implements store.VectorIndex on a plain SQLite table scored
// with sqlite-vec's vec_distance_cosine. Queries are exact scans, which
// lets the scope filter and the tie-break ordering live in SQL.
type VectorIndex struct {
	db         *sql.DB
	dimensions int
}

// NewVectorIndex opens (or creates) the chunk database at dbPath. An
// existing database built with different dimensions is rejected.
func NewVectorIndex(dbPath string, dimensions int) (*VectorIndex, error) {
	db, err := openDB(dbPath, migrateVectors)
	if err != nil {
		return nil, err
	}
	if err := checkStoredDimensions(db, dimensions); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &VectorIndex{db: db, dimensions: dimensions}, nil
}

func migrateVectors(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
	resource_uri TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	text         TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	embedding    BLOB NOT NULL,
	PRIMARY KEY (resource_uri, seq)
);

CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}

func checkStoredDimensions(db *sql.DB, dimensions int) error {
	want := strconv.Itoa(dimensions)
	if _, err := db.Exec(`INSERT INTO index_meta(key, value) VALUES ('dimensions', ?) ON CONFLICT(key) DO NOTHING`, want); err != nil {
		return fmt.Errorf("recording index dimensions: %w", err)
	}
	var got string
	if err := db.QueryRow(`SELECT value FROM index_meta WHERE key = 'dimensions'`).Scan(&got); err != nil {
		return fmt.Errorf("reading index dimensions: %w", err)
	}
	if got != want {
		return vikingerr.Errorf(vikingerr.CodeStoreVectorDimensionInvalid,
			"vector index was built with %s dimensions, configured embedder produces %s", got, want)
	}
	return nil
}

func (v *VectorIndex) Dimensions() int { return v.dimensions }

// Upsert deletes and re-inserts the resource's chunks in one transaction.
func (v *VectorIndex) Upsert(ctx context.Context, resourceURI string, chunks []store.Chunk) error {
	blobs := make([][]byte, len(chunks))
	for i, c := range chunks {
		if err := store.CheckDimensions(c.Vector, v.dimensions); err != nil {
			return err
		}
		blob, err := sqlite_vec.SerializeFloat32(c.Vector)
		if err != nil {
			return fmt.Errorf("serializing embedding %d of %s: %w", c.Seq, resourceURI, err)
		}
		blobs[i] = blob
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Database(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE resource_uri = ?`, resourceURI); err != nil {
		return store.Database(err, "deleting chunks of "+resourceURI)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (resource_uri, seq, text, start_offset, end_offset, embedding)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return store.Database(err, "preparing chunk insert")
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, resourceURI, c.Seq, c.Text, c.Start, c.End, blobs[i]); err != nil {
			return store.Database(err, fmt.Sprintf("inserting chunk %d of %s", c.Seq, resourceURI))
		}
	}

	if err := tx.Commit(); err != nil {
		return store.Database(err, "committing chunk upsert")
	}
	return nil
}

// Query scores every in-scope chunk. Score is 1 - cosine distance.
func (v *VectorIndex) Query(ctx context.Context, vector []float32, scope string, topK int) ([]store.Hit, error) {
	if err := store.CheckDimensions(vector, v.dimensions); err != nil {
		return nil, err
	}
	if topK <= 0 || isZero(vector) {
		return nil, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serializing query vector: %w", err)
	}

	const q = `SELECT resource_uri, seq, text, start_offset, end_offset, vec_distance_cosine(embedding, ?) AS distance
FROM chunks
WHERE (? = '' OR resource_uri = ? OR resource_uri LIKE ? ESCAPE '\')
ORDER BY distance ASC, resource_uri ASC, seq ASC
LIMIT ?`

	args := append([]any{blob}, scopeArgs(scope)...)
	args = append(args, topK)

	rows, err := v.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, store.Database(err, "searching chunks")
	}
	defer func() { _ = rows.Close() }()

	var hits []store.Hit
	for rows.Next() {
		var h store.Hit
		var distance sql.NullFloat64
		if err := rows.Scan(&h.ResourceURI, &h.Seq, &h.Text, &h.Start, &h.End, &distance); err != nil {
			return nil, store.Database(err, "scanning chunk hit")
		}
		if !distance.Valid {
			continue
		}
		h.Score = 1 - distance.Float64
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Database(err, "iterating chunk hits")
	}
	return hits, nil
}

func (v *VectorIndex) DeleteResource(ctx context.Context, resourceURI string) error {
	if _, err := v.db.ExecContext(ctx, `DELETE FROM chunks WHERE resource_uri = ?`, resourceURI); err != nil {
		return store.Database(err, "deleting chunks of "+resourceURI)
	}
	return nil
}

func (v *VectorIndex) Close() error {
	return v.db.Close()
}

func isZero(vec []float32) bool {
	for _, x := range vec {
		if x != 0 {
			return false
		}
	}
	return true
}
