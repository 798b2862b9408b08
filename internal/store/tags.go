package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/wesm/tilevault/internal/grouping"
)

// EnsureTagName creates an ordinary tag if it does not exist and returns
// it. Category pseudo-tag names are rejected.
func (s *Store) EnsureTagName(name, displayName string) (grouping.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return grouping.Tag{}, errors.New("tag name is required")
	}
	if _, err := grouping.ParseCategory(name); err == nil && strings.HasPrefix(strings.ToUpper(name), "CAT") {
		return grouping.Tag{}, fmt.Errorf("tag name %q is reserved for categories", name)
	}
	if displayName == "" {
		displayName = name
	}
	_, err := s.db.Exec(`
		INSERT INTO tag_names (name, display_name) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, displayName)
	if err != nil {
		return grouping.Tag{}, fmt.Errorf("ensure tag %q: %w", name, err)
	}
	return s.getTag(s.db, name)
}

type queryRower interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func (s *Store) getTag(q queryRower, name string) (grouping.Tag, error) {
	var tag grouping.Tag
	var category sql.NullInt64
	err := q.QueryRow(`SELECT name, display_name, category FROM tag_names WHERE name = ?`, name).
		Scan(&tag.Name, &tag.DisplayName, &category)
	if errors.Is(err, sql.ErrNoRows) {
		return grouping.Tag{}, fmt.Errorf("tag %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return grouping.Tag{}, fmt.Errorf("get tag %q: %w", name, err)
	}
	tag.Category = category.Valid
	return tag, nil
}

// AddItemTag applies an existing tag to a file. It reports whether the tag
// was newly applied.
func (s *Store) AddItemTag(fileID int64, tagName string, reviewer grouping.ReviewerID) (grouping.Tag, bool, error) {
	tag, err := s.getTag(s.db, tagName)
	if err != nil {
		return grouping.Tag{}, false, err
	}
	res, err := s.db.Exec(`
		INSERT INTO item_tags (file_id, tag_name_id, reviewer_id)
		SELECT ?, id, ? FROM tag_names WHERE name = ?
		ON CONFLICT(file_id, tag_name_id) DO NOTHING
	`, fileID, nullReviewer(reviewer), tagName)
	if err != nil {
		return grouping.Tag{}, false, fmt.Errorf("tag file %d with %q: %w", fileID, tagName, err)
	}
	n, _ := res.RowsAffected()
	s.InvalidateItem(itemID(fileID))
	return tag, n > 0, nil
}

// RemoveItemTag removes a tag from a file. It reports whether the file had
// the tag.
func (s *Store) RemoveItemTag(fileID int64, tagName string) (grouping.Tag, bool, error) {
	tag, err := s.getTag(s.db, tagName)
	if err != nil {
		return grouping.Tag{}, false, err
	}
	res, err := s.db.Exec(`
		DELETE FROM item_tags
		WHERE file_id = ? AND tag_name_id = (SELECT id FROM tag_names WHERE name = ?)
	`, fileID, tagName)
	if err != nil {
		return grouping.Tag{}, false, fmt.Errorf("untag file %d %q: %w", fileID, tagName, err)
	}
	n, _ := res.RowsAffected()
	s.InvalidateItem(itemID(fileID))
	return tag, n > 0, nil
}

// SetItemCategory replaces the file's category pseudo-tag. It returns the
// category tags removed and the one added, so the caller can report each
// change. Setting CAT-0 clears the category.
func (s *Store) SetItemCategory(fileID int64, cat grouping.Category, reviewer grouping.ReviewerID) (removed []grouping.Tag, added *grouping.Tag, err error) {
	err = s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT t.name, t.display_name
			FROM item_tags it JOIN tag_names t ON t.id = it.tag_name_id
			WHERE it.file_id = ? AND t.category IS NOT NULL AND t.name != ?
			ORDER BY t.name
		`, fileID, cat.Value())
		if err != nil {
			return fmt.Errorf("list categories: %w", err)
		}
		for rows.Next() {
			tag := grouping.Tag{Category: true}
			if err := rows.Scan(&tag.Name, &tag.DisplayName); err != nil {
				rows.Close()
				return fmt.Errorf("scan category: %w", err)
			}
			removed = append(removed, tag)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.Exec(`
			DELETE FROM item_tags
			WHERE file_id = ? AND tag_name_id IN (
				SELECT id FROM tag_names WHERE category IS NOT NULL AND name != ?)
		`, fileID, cat.Value()); err != nil {
			return fmt.Errorf("clear categories: %w", err)
		}

		if cat == grouping.Cat0 {
			return nil
		}
		res, err := tx.Exec(`
			INSERT INTO item_tags (file_id, tag_name_id, reviewer_id)
			SELECT ?, id, ? FROM tag_names WHERE name = ?
			ON CONFLICT(file_id, tag_name_id) DO NOTHING
		`, fileID, nullReviewer(reviewer), cat.Value())
		if err != nil {
			return fmt.Errorf("set category %s: %w", cat.Value(), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			tag := grouping.Tag{Name: cat.Value(), DisplayName: cat.Label(), Category: true}
			added = &tag
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("set category of file %d: %w", fileID, err)
	}
	s.InvalidateItem(itemID(fileID))
	return removed, added, nil
}

// ItemTags returns the tags applied to a file, categories included.
func (s *Store) ItemTags(fileID int64) ([]grouping.Tag, error) {
	rows, err := s.db.Query(`
		SELECT t.name, t.display_name, t.category IS NOT NULL
		FROM item_tags it JOIN tag_names t ON t.id = it.tag_name_id
		WHERE it.file_id = ?
		ORDER BY t.name
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("query tags of file %d: %w", fileID, err)
	}
	defer func() { _ = rows.Close() }()

	var tags []grouping.Tag
	for rows.Next() {
		var tag grouping.Tag
		if err := rows.Scan(&tag.Name, &tag.DisplayName, &tag.Category); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func nullReviewer(r grouping.ReviewerID) interface{} {
	if r == grouping.AnyReviewer {
		return nil
	}
	return int64(r)
}
