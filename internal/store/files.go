package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
	"time"
)

// File is a drawable file in a data source. ParentPath is the
// slash-separated folder relative to the data source root, always starting
// with "/".
type File struct {
	ID           int64
	DataSourceID int64
	ParentPath   string
	Name         string
	MimeType     string
	Size         int64
	ModTime      time.Time
	MD5          string
	Analyzed     bool
}

// Path returns the file's slash-separated path within its data source.
func (f *File) Path() string {
	return path.Join(f.ParentPath, f.Name)
}

// UpsertFile inserts or updates a file by (data source, parent path, name)
// and returns its ID. An update whose size or modification time changed
// clears the digest and the analyzed flag.
func (s *Store) UpsertFile(f *File) (int64, error) {
	var modTime interface{}
	if !f.ModTime.IsZero() {
		modTime = f.ModTime.UTC().Format(time.RFC3339Nano)
	}
	var id int64
	err := s.db.QueryRow(`
		INSERT INTO files (data_source_id, parent_path, name, mime_type, size, mod_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(data_source_id, parent_path, name) DO UPDATE SET
			mime_type = excluded.mime_type,
			md5 = CASE WHEN files.size = excluded.size AND files.mod_time IS excluded.mod_time
			           THEN files.md5 ELSE NULL END,
			analyzed = CASE WHEN files.size = excluded.size AND files.mod_time IS excluded.mod_time
			                THEN files.analyzed ELSE 0 END,
			size = excluded.size,
			mod_time = excluded.mod_time
		RETURNING id
	`, f.DataSourceID, f.ParentPath, f.Name, f.MimeType, f.Size, modTime).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert file %s: %w", f.Path(), err)
	}
	s.InvalidateItem(itemID(id))
	return id, nil
}

// MarkAnalyzed records the file's digest and makes it visible to grouping.
func (s *Store) MarkAnalyzed(fileID int64, md5 string) error {
	var digest interface{}
	if md5 != "" {
		digest = md5
	}
	res, err := s.db.Exec(`UPDATE files SET md5 = ?, analyzed = 1 WHERE id = ?`, digest, fileID)
	if err != nil {
		return fmt.Errorf("mark file %d analyzed: %w", fileID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %d: %w", fileID, ErrNotFound)
	}
	s.InvalidateItem(itemID(fileID))
	return nil
}

const fileColumns = `id, data_source_id, parent_path, name, mime_type, size, mod_time, md5, analyzed`

func scanFile(row rowScanner) (*File, error) {
	var f File
	var modTime, md5 sql.NullString
	if err := row.Scan(&f.ID, &f.DataSourceID, &f.ParentPath, &f.Name, &f.MimeType,
		&f.Size, &modTime, &md5, &f.Analyzed); err != nil {
		return nil, err
	}
	if modTime.Valid {
		f.ModTime = parseSQLiteTime(modTime.String)
	}
	f.MD5 = md5.String
	return &f, nil
}

// GetFile returns the file with the given ID, or ErrNotFound.
func (s *Store) GetFile(fileID int64) (*File, error) {
	f, err := scanFile(s.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE id = ?`, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %d: %w", fileID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get file %d: %w", fileID, err)
	}
	return f, nil
}

// FindFile returns the file at parentPath/name in a data source, or
// ErrNotFound.
func (s *Store) FindFile(sourceID int64, parentPath, name string) (*File, error) {
	f, err := scanFile(s.db.QueryRow(`
		SELECT `+fileColumns+` FROM files
		WHERE data_source_id = ? AND parent_path = ? AND name = ?
	`, sourceID, parentPath, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", path.Join(parentPath, name), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find file %s: %w", path.Join(parentPath, name), err)
	}
	return f, nil
}

// ListFiles returns every file of a data source ordered by folder and name.
func (s *Store) ListFiles(sourceID int64) ([]*File, error) {
	rows, err := s.db.Query(`
		SELECT `+fileColumns+` FROM files
		WHERE data_source_id = ?
		ORDER BY parent_path, name
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFiles removes files by ID. Missing IDs are ignored.
func (s *Store) DeleteFiles(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`DELETE FROM files WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.Exec(id); err != nil {
				return fmt.Errorf("delete file %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateAll(ids)
	return nil
}

// DeleteFilesUnder removes every file of a data source whose parent path is
// dir or lies below it, returning the removed IDs.
func (s *Store) DeleteFilesUnder(sourceID int64, dir string) ([]int64, error) {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	rows, err := s.db.Query(`
		SELECT id FROM files
		WHERE data_source_id = ? AND (parent_path = ? OR substr(parent_path, 1, ?) = ?)
		ORDER BY id
	`, sourceID, dir, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("query files under %s: %w", dir, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan file id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.DeleteFiles(ids); err != nil {
		return nil, err
	}
	return ids, nil
}
