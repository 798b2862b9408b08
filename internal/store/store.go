// Package store provides the SQLite catalog for tilevault.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/wesm/tilevault/internal/grouping"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides catalog operations for tilevault. It implements
// grouping.Catalog.
type Store struct {
	db     *sql.DB
	dbPath string

	// values caches GroupableValues per item until InvalidateItem.
	values *xsync.MapOf[grouping.ItemID, grouping.ItemValues]
}

var _ grouping.Catalog = (*Store)(nil)

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// isSQLiteError checks if err is a sqlite3.Error with a message containing substr.
// Handles both value (sqlite3.Error) and pointer (*sqlite3.Error) forms.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// Open opens or creates the catalog database at the given path.
func Open(dbPath string) (*Store, error) {
	if strings.HasPrefix(dbPath, "postgresql://") || strings.HasPrefix(dbPath, "postgres://") {
		return nil, fmt.Errorf("PostgreSQL is not supported; use a SQLite path instead")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		db:     db,
		dbPath: dbPath,
		values: xsync.NewMapOf[grouping.ItemID, grouping.ItemValues](),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// queryInChunks executes a parameterized IN-query in chunks to stay within
// SQLite's parameter limit. queryTemplate must contain a single %s placeholder
// for the comma-separated "?" list. The prefix args are prepended before each
// chunk's args.
func queryInChunks[T any](ctx context.Context, db *sql.DB, ids []T, prefixArgs []interface{}, queryTemplate string, fn func(*sql.Rows) error) error {
	const chunkSize = 500
	for i := 0; i < len(ids); i += chunkSize {
		end := min(i+chunkSize, len(ids))
		chunk := ids[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, 0, len(prefixArgs)+len(chunk))
		args = append(args, prefixArgs...)
		for j, id := range chunk {
			placeholders[j] = "?"
			args = append(args, id)
		}

		query := fmt.Sprintf(queryTemplate, strings.Join(placeholders, ","))
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}

		for rows.Next() {
			if err := fn(rows); err != nil {
				rows.Close()
				return err
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

// insertInChunks executes a multi-value INSERT in chunks to stay within SQLite's
// parameter limit (999). valuesPerRow is the number of parameters in each
// VALUES tuple.
func insertInChunks(tx *sql.Tx, totalRows int, valuesPerRow int, queryPrefix string, valueBuilder func(start, end int) ([]string, []interface{})) error {
	const maxParams = 900
	chunkSize := max(maxParams/valuesPerRow, 1)

	for i := 0; i < totalRows; i += chunkSize {
		end := min(i+chunkSize, totalRows)
		values, args := valueBuilder(i, end)
		query := queryPrefix + strings.Join(values, ",")
		if _, err := tx.Exec(query, args...); err != nil {
			return err
		}
	}
	return nil
}

// InitSchema creates all tables if they don't exist and seeds the category
// pseudo-tags.
func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema.sql: %w", err)
	}
	for _, c := range grouping.Categories() {
		_, err := s.db.Exec(`
			INSERT INTO tag_names (name, display_name, category) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET display_name = excluded.display_name, category = excluded.category
		`, c.Value(), c.Label(), int(c))
		if err != nil {
			return fmt.Errorf("seed category %s: %w", c.Value(), err)
		}
	}
	return nil
}

// Stats holds catalog statistics.
type Stats struct {
	DataSourceCount int64
	FileCount       int64
	AnalyzedCount   int64
	HashSetCount    int64
	HashHitCount    int64
	TagCount        int64
	ReviewerCount   int64
	SeenGroupCount  int64
	DatabaseSize    int64
}

// GetStats returns statistics about the catalog.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM data_sources", &stats.DataSourceCount},
		{"SELECT COUNT(*) FROM files", &stats.FileCount},
		{"SELECT COUNT(*) FROM files WHERE analyzed = 1", &stats.AnalyzedCount},
		{"SELECT COUNT(*) FROM hash_sets", &stats.HashSetCount},
		{"SELECT COUNT(*) FROM files f WHERE f.md5 IS NOT NULL AND EXISTS (SELECT 1 FROM hash_set_entries e WHERE e.md5 = f.md5)", &stats.HashHitCount},
		{"SELECT COUNT(*) FROM tag_names WHERE category IS NULL", &stats.TagCount},
		{"SELECT COUNT(*) FROM reviewers", &stats.ReviewerCount},
		{"SELECT COUNT(*) FROM group_seen WHERE seen = 1", &stats.SeenGroupCount},
	}

	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			if isSQLiteError(err, "no such table") {
				continue
			}
			return nil, fmt.Errorf("get stats %q: %w", q.query, err)
		}
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}

	return stats, nil
}
