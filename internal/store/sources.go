package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DataSource is an evidence root ingested into the catalog. Its ID is the
// grouping scope of every file under it.
type DataSource struct {
	ID         int64
	Name       string
	RootPath   string
	CreatedAt  time.Time
	LastScanAt sql.NullTime
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDataSource(row rowScanner) (*DataSource, error) {
	var ds DataSource
	var createdAt string
	var lastScan sql.NullString
	if err := row.Scan(&ds.ID, &ds.Name, &ds.RootPath, &createdAt, &lastScan); err != nil {
		return nil, err
	}
	ds.CreatedAt = parseSQLiteTime(createdAt)
	if lastScan.Valid {
		ds.LastScanAt = sql.NullTime{Time: parseSQLiteTime(lastScan.String), Valid: true}
	}
	return &ds, nil
}

// parseSQLiteTime accepts the formats SQLite and the driver write.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// EnsureDataSource returns the data source named name, creating it with
// rootPath if needed. An existing source keeps its name and adopts rootPath.
func (s *Store) EnsureDataSource(name, rootPath string) (*DataSource, error) {
	_, err := s.db.Exec(`
		INSERT INTO data_sources (name, root_path) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET root_path = excluded.root_path
	`, name, rootPath)
	if err != nil {
		return nil, fmt.Errorf("upsert data source %q: %w", name, err)
	}
	return s.GetDataSource(name)
}

// GetDataSource returns the data source named name, or ErrNotFound.
func (s *Store) GetDataSource(name string) (*DataSource, error) {
	row := s.db.QueryRow(`
		SELECT id, name, root_path, created_at, last_scan_at
		FROM data_sources WHERE name = ?
	`, name)
	ds, err := scanDataSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("data source %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get data source %q: %w", name, err)
	}
	return ds, nil
}

// ListDataSources returns every data source ordered by ID.
func (s *Store) ListDataSources() ([]*DataSource, error) {
	rows, err := s.db.Query(`
		SELECT id, name, root_path, created_at, last_scan_at
		FROM data_sources ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query data sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []*DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan data source: %w", err)
		}
		sources = append(sources, ds)
	}
	return sources, rows.Err()
}

// MarkScanned records the completion time of a scan.
func (s *Store) MarkScanned(sourceID int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE data_sources SET last_scan_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), sourceID)
	if err != nil {
		return fmt.Errorf("mark data source %d scanned: %w", sourceID, err)
	}
	return nil
}

// RemoveDataSource deletes a data source and all its files. It returns the
// IDs of the removed files so callers can report them to grouping.
// CASCADE handles files and item tags; path group state is deleted here.
func (s *Store) RemoveDataSource(sourceID int64) ([]int64, error) {
	var removed []int64
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT id FROM files WHERE data_source_id = ? ORDER BY id`, sourceID)
		if err != nil {
			return fmt.Errorf("list files: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan file id: %w", err)
			}
			removed = append(removed, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM group_state WHERE attribute = 'path' AND scope = ?`, sourceID); err != nil {
			return fmt.Errorf("delete group state: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM group_seen WHERE attribute = 'path' AND scope = ?`, sourceID); err != nil {
			return fmt.Errorf("delete seen state: %w", err)
		}

		res, err := tx.Exec(`DELETE FROM data_sources WHERE id = ?`, sourceID)
		if err != nil {
			return fmt.Errorf("delete data source: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("data source %d: %w", sourceID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateAll(removed)
	return removed, nil
}

// EnsureReviewer returns the ID of the reviewer named name, creating it if
// needed.
func (s *Store) EnsureReviewer(name string) (int64, error) {
	if name == "" {
		return 0, errors.New("reviewer name is required")
	}
	var id int64
	err := s.db.QueryRow(`
		INSERT INTO reviewers (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET name = excluded.name
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure reviewer %q: %w", name, err)
	}
	return id, nil
}
