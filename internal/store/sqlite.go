// Package store persists flattened scene items into SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/atlas-foundry/pvs-go-sdk/pvs"
)

const schema = `CREATE TABLE IF NOT EXISTS scene_items (
	source      TEXT    NOT NULL,
	seq         INTEGER NOT NULL,
	supplied_id TEXT    NOT NULL,
	parent_id   TEXT,
	depth       INTEGER NOT NULL,
	file_name   TEXT,
	part_id     TEXT,
	revision_id TEXT,
	transform   TEXT,
	PRIMARY KEY (source, seq)
)`

// SQLiteSink writes scene items into the scene_items table. Each Write
// replaces the rows of its source in one transaction.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create scene_items: %w", err)
	}
	return &SQLiteSink{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Write replaces all rows for source with items, preserving their order.
func (s *SQLiteSink) Write(ctx context.Context, source string, items []pvs.SceneItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scene_items WHERE source = ?`, source); err != nil {
		return fmt.Errorf("clear %s: %w", source, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scene_items
		(source, seq, supplied_id, parent_id, depth, file_name, part_id, revision_id, transform)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, it := range items {
		var fileName, partID, revisionID, transform sql.NullString
		if it.Source != nil {
			fileName = sql.NullString{String: it.Source.FileName, Valid: true}
			partID = sql.NullString{String: it.Source.SuppliedPartID, Valid: true}
			revisionID = sql.NullString{String: it.Source.SuppliedRevisionID, Valid: true}
		}
		if it.Transform != nil {
			body, err := json.Marshal(it.Transform)
			if err != nil {
				return fmt.Errorf("encode transform %s: %w", it.SuppliedID, err)
			}
			transform = sql.NullString{String: string(body), Valid: true}
		}
		var parentID sql.NullString
		if it.ParentID != nil {
			parentID = sql.NullString{String: *it.ParentID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, source, i, it.SuppliedID, parentID, it.Depth, fileName, partID, revisionID, transform); err != nil {
			return fmt.Errorf("insert %s: %w", it.SuppliedID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("scene items stored", "source", source, "items", len(items))
	return nil
}

// Items reads back the rows for source in traversal order.
func (s *SQLiteSink) Items(ctx context.Context, source string) ([]pvs.SceneItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT supplied_id, parent_id, depth, file_name, part_id, revision_id, transform
		FROM scene_items WHERE source = ? ORDER BY seq`, source)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", source, err)
	}
	defer rows.Close()

	var out []pvs.SceneItem
	for rows.Next() {
		var (
			it                                                pvs.SceneItem
			parentID, fileName, partID, revisionID, transform sql.NullString
		)
		if err := rows.Scan(&it.SuppliedID, &parentID, &it.Depth, &fileName, &partID, &revisionID, &transform); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if parentID.Valid {
			p := parentID.String
			it.ParentID = &p
		}
		if fileName.Valid {
			it.Source = &pvs.Source{FileName: fileName.String, SuppliedPartID: partID.String, SuppliedRevisionID: revisionID.String}
		}
		if transform.Valid {
			var tr pvs.Transform
			if err := json.Unmarshal([]byte(transform.String), &tr); err != nil {
				return nil, fmt.Errorf("decode transform %s: %w", it.SuppliedID, err)
			}
			it.Transform = &tr
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Sources lists the distinct sources stored.
func (s *SQLiteSink) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM scene_items ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
