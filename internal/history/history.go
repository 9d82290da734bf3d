// Package history keeps the master log of every analyzed image in a DuckDB
// table, with filtered listings, CSV export and deletion.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"fundus-cam/internal/detection"
	"fundus-cam/internal/store"
	"fundus-cam/internal/urgency"
	"fundus-cam/pkg/geometry"
)

// ErrNotFound is returned for an unknown record id.
var ErrNotFound = errors.New("history record not found")

const schema = `
CREATE SEQUENCE IF NOT EXISTS history_id_seq START 1;
CREATE TABLE IF NOT EXISTS history (
	id                   BIGINT PRIMARY KEY DEFAULT nextval('history_id_seq'),
	"timestamp"          TIMESTAMP NOT NULL,
	image                VARCHAR NOT NULL,
	overlay_path         VARCHAR,
	heatmap_puro_path    VARCHAR,
	csv_path             VARCHAR,
	probabilidad         DOUBLE NOT NULL,
	centro_x             DOUBLE NOT NULL,
	centro_y             DOUBLE NOT NULL,
	bbox_xmin            INTEGER NOT NULL,
	bbox_ymin            INTEGER NOT NULL,
	bbox_xmax            INTEGER NOT NULL,
	bbox_ymax            INTEGER NOT NULL,
	tamano_zona_activa   DOUBLE NOT NULL,
	nivel_urgencia       DOUBLE NOT NULL,
	nivel_urgencia_label VARCHAR NOT NULL
);`

const columns = `id, "timestamp", image, overlay_path, heatmap_puro_path, csv_path,
	probabilidad, centro_x, centro_y, bbox_xmin, bbox_ymin, bbox_xmax, bbox_ymax,
	tamano_zona_activa, nivel_urgencia, nivel_urgencia_label`

// Record is one history row.
type Record struct {
	ID        int64
	Timestamp time.Time
	detection.Result
}

// Folder returns the detection folder the record's artifacts live in.
func (r Record) Folder() string {
	if r.Dir != "" {
		return r.Dir
	}
	if r.CSVPath != "" {
		return filepath.Dir(r.CSVPath)
	}
	return ""
}

// Sort selects the listing order.
type Sort int

const (
	SortDateDesc Sort = iota
	SortDateAsc
	SortUrgencyDesc
	SortUrgencyAsc
)

var sortNames = map[Sort]string{
	SortDateDesc:    "date-desc",
	SortDateAsc:     "date-asc",
	SortUrgencyDesc: "urgency-desc",
	SortUrgencyAsc:  "urgency-asc",
}

// String returns the CLI name of the order.
func (s Sort) String() string {
	if n, ok := sortNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Sort(%d)", int(s))
}

// ParseSort accepts the names returned by String.
func ParseSort(name string) (Sort, error) {
	for s, n := range sortNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown sort %q", name)
}

func (s Sort) orderBy() string {
	switch s {
	case SortDateAsc:
		return `"timestamp" ASC, id ASC`
	case SortUrgencyDesc:
		return "nivel_urgencia DESC, id ASC"
	case SortUrgencyAsc:
		return "nivel_urgencia ASC, id ASC"
	default:
		return `"timestamp" DESC, id DESC`
	}
}

// Query filters and orders a listing. An empty Label lists every level.
type Query struct {
	Label urgency.Label
	Sort  Sort
}

// DB is the master history table.
type DB struct {
	db *sql.DB
}

// Open opens or creates the history database at path. An empty path opens an
// in-memory database.
func Open(path string) (*DB, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history folder: %w", err)
		}
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history table: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (h *DB) Close() error {
	return h.db.Close()
}

// Append stores a result with its timestamp and returns the new record id.
func (h *DB) Append(ctx context.Context, r detection.Result, at time.Time) (int64, error) {
	c := r.CentroidOrSentinel()
	b := r.BBoxOrSentinel()
	var id int64
	err := h.db.QueryRowContext(ctx, `INSERT INTO history (
		"timestamp", image, overlay_path, heatmap_puro_path, csv_path,
		probabilidad, centro_x, centro_y, bbox_xmin, bbox_ymin, bbox_xmax, bbox_ymax,
		tamano_zona_activa, nivel_urgencia, nivel_urgencia_label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		at.UTC(), r.Image, nullString(r.OverlayPath), nullString(r.HeatmapPath), nullString(r.CSVPath),
		r.Probability, c.X, c.Y, b.XMin, b.YMin, b.XMax, b.YMax,
		r.AreaRatio, r.Urgency, string(r.Label),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append history record: %w", err)
	}
	return id, nil
}

// List returns records matching q.
func (h *DB) List(ctx context.Context, q Query) ([]Record, error) {
	stmt := "SELECT " + columns + " FROM history"
	var args []any
	if q.Label != "" {
		stmt += " WHERE nivel_urgencia_label = ?"
		args = append(args, string(q.Label))
	}
	stmt += " ORDER BY " + q.Sort.orderBy()

	rows, err := h.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return out, nil
}

// Get returns the record with the given id.
func (h *DB) Get(ctx context.Context, id int64) (Record, error) {
	row := h.db.QueryRowContext(ctx, "SELECT "+columns+" FROM history WHERE id = ?", id)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return rec, err
}

// Delete removes the record and its detection folder. A folder that is
// already gone is not an error.
func (h *DB) Delete(ctx context.Context, id int64) (Record, error) {
	rec, err := h.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if dir := rec.Folder(); dir != "" {
		if err := store.RemoveDetection(dir); err != nil && !errors.Is(err, store.ErrNotFound) {
			return rec, err
		}
	}
	if _, err := h.db.ExecContext(ctx, "DELETE FROM history WHERE id = ?", id); err != nil {
		return rec, fmt.Errorf("failed to delete history record %d: %w", id, err)
	}
	return rec, nil
}

// ExportCSV writes the whole table, oldest first, to a CSV file with a header.
func (h *DB) ExportCSV(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export folder: %w", err)
	}
	quoted := strings.ReplaceAll(path, "'", "''")
	stmt := fmt.Sprintf(`COPY (SELECT %s FROM history ORDER BY "timestamp", id) TO '%s' (HEADER, DELIMITER ',')`,
		strings.TrimPrefix(columns, "id, "), quoted)
	if _, err := h.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to export history: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Record, error) {
	var (
		rec                      Record
		overlay, heatmap, csvCol sql.NullString
		label                    string
		c                        geometry.Point2D
		b                        geometry.BoxInt
	)
	err := s.Scan(&rec.ID, &rec.Timestamp, &rec.Image, &overlay, &heatmap, &csvCol,
		&rec.Probability, &c.X, &c.Y, &b.XMin, &b.YMin, &b.XMax, &b.YMax,
		&rec.AreaRatio, &rec.Urgency, &label)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("failed to scan history record: %w", err)
	}
	rec.OverlayPath = overlay.String
	rec.HeatmapPath = heatmap.String
	rec.CSVPath = csvCol.String
	rec.Label = urgency.Label(label)
	if rec.AreaRatio > 0 {
		rec.Centroid = &c
		rec.BBox = &b
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
