package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wesm/tilevault/internal/grouping"
)

func itemID(id int64) grouping.ItemID { return grouping.ItemID(id) }

func (s *Store) invalidateAll(ids []int64) {
	for _, id := range ids {
		s.values.Delete(itemID(id))
	}
}

// InvalidateItem drops the cached groupable values of an item.
func (s *Store) InvalidateItem(item grouping.ItemID) {
	s.values.Delete(item)
}

// GroupableValues returns every value the item can be grouped by: its
// folder, MIME type, hash-set hits, tags (category pseudo-tags flagged) and
// its category. Results are cached until InvalidateItem.
func (s *Store) GroupableValues(ctx context.Context, item grouping.ItemID) (grouping.ItemValues, error) {
	if vals, ok := s.values.Load(item); ok {
		return vals, nil
	}

	var scope int64
	var parent, mime string
	var md5 sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT data_source_id, parent_path, mime_type, md5 FROM files WHERE id = ?
	`, int64(item)).Scan(&scope, &parent, &mime, &md5)
	if errors.Is(err, sql.ErrNoRows) {
		return grouping.ItemValues{}, fmt.Errorf("item %d: %w", item, ErrNotFound)
	}
	if err != nil {
		return grouping.ItemValues{}, fmt.Errorf("read item %d: %w", item, err)
	}

	vals := grouping.ItemValues{Item: item, Scope: grouping.ScopeID(scope)}
	vals.Values = append(vals.Values, grouping.AttributeValue{Attribute: grouping.AttrPath, Value: parent})
	if mime != "" {
		vals.Values = append(vals.Values, grouping.AttributeValue{Attribute: grouping.AttrMimeType, Value: mime})
	}

	if md5.Valid {
		err := s.scanStrings(ctx, func(name string) {
			vals.Values = append(vals.Values, grouping.AttributeValue{Attribute: grouping.AttrHashSet, Value: name})
		}, `
			SELECT DISTINCT h.name
			FROM hash_set_entries e JOIN hash_sets h ON h.id = e.hash_set_id
			WHERE e.md5 = ?
			ORDER BY h.name
		`, md5.String)
		if err != nil {
			return grouping.ItemValues{}, fmt.Errorf("read hash hits of item %d: %w", item, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, t.display_name, t.category
		FROM item_tags it JOIN tag_names t ON t.id = it.tag_name_id
		WHERE it.file_id = ?
		ORDER BY t.name
	`, int64(item))
	if err != nil {
		return grouping.ItemValues{}, fmt.Errorf("read tags of item %d: %w", item, err)
	}
	category := grouping.Cat0
	for rows.Next() {
		var name, label string
		var cat sql.NullInt64
		if err := rows.Scan(&name, &label, &cat); err != nil {
			rows.Close()
			return grouping.ItemValues{}, fmt.Errorf("scan tag: %w", err)
		}
		vals.Values = append(vals.Values, grouping.AttributeValue{
			Attribute: grouping.AttrTags, Value: name, Label: label, PseudoTag: cat.Valid,
		})
		if cat.Valid && grouping.Category(cat.Int64) > category {
			category = grouping.Category(cat.Int64)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return grouping.ItemValues{}, fmt.Errorf("read tags of item %d: %w", item, err)
	}
	vals.Values = append(vals.Values, grouping.AttributeValue{
		Attribute: grouping.AttrCategory, Value: category.Value(), Label: category.Label(),
	})

	s.values.Store(item, vals)
	return vals, nil
}

func (s *Store) scanStrings(ctx context.Context, fn func(string), query string, args ...interface{}) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return err
		}
		fn(v)
	}
	return rows.Err()
}

// scopeFilter narrows a query on files aliased f to one data source.
func scopeFilter(scope grouping.ScopeID) (string, []interface{}) {
	if scope == grouping.NoScope {
		return "", nil
	}
	return " AND f.data_source_id = ?", []interface{}{int64(scope)}
}

// hasCategorySQL matches files aliased f that carry a category above CAT-0.
const hasCategorySQL = `EXISTS (
	SELECT 1 FROM item_tags it JOIN tag_names t ON t.id = it.tag_name_id
	WHERE it.file_id = f.id AND t.category > 0)`

const hasHashHitSQL = `(f.md5 IS NOT NULL AND EXISTS (
	SELECT 1 FROM hash_set_entries e WHERE e.md5 = f.md5))`

// Members returns the analyzed items that belong to key's group, in ID
// order. Non-path keys with a scope are limited to that data source.
func (s *Store) Members(ctx context.Context, key grouping.GroupKey) ([]grouping.ItemID, error) {
	var query string
	var args []interface{}
	switch key.Attribute {
	case grouping.AttrPath:
		query = `SELECT f.id FROM files f WHERE f.analyzed = 1 AND f.data_source_id = ? AND f.parent_path = ?`
		args = []interface{}{int64(key.Scope), key.Value}
	case grouping.AttrMimeType:
		query = `SELECT f.id FROM files f WHERE f.analyzed = 1 AND f.mime_type = ?`
		args = []interface{}{key.Value}
	case grouping.AttrHashSet:
		query = `SELECT f.id FROM files f WHERE f.analyzed = 1 AND EXISTS (
			SELECT 1 FROM hash_set_entries e JOIN hash_sets h ON h.id = e.hash_set_id
			WHERE e.md5 = f.md5 AND h.name = ?)`
		args = []interface{}{key.Value}
	case grouping.AttrTags:
		query = `SELECT f.id FROM files f WHERE f.analyzed = 1 AND EXISTS (
			SELECT 1 FROM item_tags it JOIN tag_names t ON t.id = it.tag_name_id
			WHERE it.file_id = f.id AND t.name = ? AND t.category IS NULL)`
		args = []interface{}{key.Value}
	case grouping.AttrCategory:
		cat, err := grouping.ParseCategory(key.Value)
		if err != nil {
			return nil, err
		}
		if cat == grouping.Cat0 {
			query = `SELECT f.id FROM files f WHERE f.analyzed = 1 AND NOT ` + hasCategorySQL
		} else {
			// The highest category tag wins, matching GroupableValues.
			query = `SELECT f.id FROM files f WHERE f.analyzed = 1 AND (
				SELECT MAX(t.category) FROM item_tags it JOIN tag_names t ON t.id = it.tag_name_id
				WHERE it.file_id = f.id AND t.category IS NOT NULL) = ?`
			args = []interface{}{int(cat)}
		}
	default:
		return nil, fmt.Errorf("members of %s: unsupported attribute", key)
	}
	if key.Attribute != grouping.AttrPath {
		clause, scopeArgs := scopeFilter(key.Scope)
		query += clause
		args = append(args, scopeArgs...)
	}
	query += " ORDER BY f.id"

	var ids []grouping.ItemID
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, itemID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("members of %s: %w", key, err)
	}
	return ids, nil
}

func (s *Store) countWhere(ctx context.Context, items []grouping.ItemID, cond string) (int64, error) {
	var total int64
	err := queryInChunks(ctx, s.db, items, nil,
		`SELECT COUNT(*) FROM files f WHERE f.id IN (%s) AND `+cond,
		func(rows *sql.Rows) error {
			var n int64
			if err := rows.Scan(&n); err != nil {
				return err
			}
			total += n
			return nil
		})
	return total, err
}

// CountHashHits counts the items with at least one hash-set hit.
func (s *Store) CountHashHits(ctx context.Context, items []grouping.ItemID) (int64, error) {
	n, err := s.countWhere(ctx, items, hasHashHitSQL)
	if err != nil {
		return 0, fmt.Errorf("count hash hits: %w", err)
	}
	return n, nil
}

// CountUncategorized counts the items with no category above CAT-0.
func (s *Store) CountUncategorized(ctx context.Context, items []grouping.ItemID) (int64, error) {
	n, err := s.countWhere(ctx, items, "NOT "+hasCategorySQL)
	if err != nil {
		return 0, fmt.Errorf("count uncategorized: %w", err)
	}
	return n, nil
}

// IsLocationGroupComplete reports whether a folder was marked fully
// analyzed.
func (s *Store) IsLocationGroupComplete(ctx context.Context, key grouping.GroupKey) (bool, error) {
	id := key.ID()
	var analyzed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT analyzed FROM group_state WHERE attribute = ? AND value = ? AND scope = ?
	`, string(id.Attribute), id.Value, int64(id.Scope)).Scan(&analyzed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read group state %s: %w", key, err)
	}
	return analyzed, nil
}

// MarkLocationGroupComplete records that a folder is fully analyzed.
func (s *Store) MarkLocationGroupComplete(ctx context.Context, key grouping.GroupKey) error {
	id := key.ID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_state (attribute, value, scope, analyzed) VALUES (?, ?, ?, 1)
		ON CONFLICT(attribute, value, scope) DO UPDATE SET analyzed = 1
	`, string(id.Attribute), id.Value, int64(id.Scope))
	if err != nil {
		return fmt.Errorf("mark %s complete: %w", key, err)
	}
	return nil
}

// IsSeen reports whether reviewer has seen the group. AnyReviewer asks
// whether anyone has.
func (s *Store) IsSeen(ctx context.Context, key grouping.GroupKey, reviewer grouping.ReviewerID) (bool, error) {
	id := key.ID()
	query := `SELECT EXISTS (SELECT 1 FROM group_seen
		WHERE attribute = ? AND value = ? AND scope = ? AND seen = 1`
	args := []interface{}{string(id.Attribute), id.Value, int64(id.Scope)}
	if reviewer != grouping.AnyReviewer {
		query += ` AND reviewer_id = ?`
		args = append(args, int64(reviewer))
	}
	query += `)`

	var seen bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&seen); err != nil {
		return false, fmt.Errorf("read seen %s: %w", key, err)
	}
	return seen, nil
}

// SetSeen records reviewer's seen flag for the group.
func (s *Store) SetSeen(ctx context.Context, key grouping.GroupKey, reviewer grouping.ReviewerID, seen bool) error {
	if reviewer == grouping.AnyReviewer {
		return errors.New("set seen: a reviewer is required")
	}
	id := key.ID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_seen (attribute, value, scope, reviewer_id, seen) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(attribute, value, scope, reviewer_id) DO UPDATE SET seen = excluded.seen
	`, string(id.Attribute), id.Value, int64(id.Scope), int64(reviewer), seen)
	if err != nil {
		return fmt.Errorf("write seen %s: %w", key, err)
	}
	return nil
}

// DistinctValues lists the distinct values of attr among analyzed items.
// Path values carry the data source they were found in; other values carry
// scope.
func (s *Store) DistinctValues(ctx context.Context, attr grouping.Attribute, scope grouping.ScopeID) ([]grouping.ScopedValue, error) {
	clause, args := scopeFilter(scope)
	switch attr {
	case grouping.AttrPath:
		rows, err := s.db.QueryContext(ctx, `
			SELECT DISTINCT f.data_source_id, f.parent_path FROM files f
			WHERE f.analyzed = 1`+clause+`
			ORDER BY f.data_source_id, f.parent_path
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("distinct paths: %w", err)
		}
		defer func() { _ = rows.Close() }()
		var values []grouping.ScopedValue
		for rows.Next() {
			var v grouping.ScopedValue
			var src int64
			if err := rows.Scan(&src, &v.Value); err != nil {
				return nil, fmt.Errorf("scan path: %w", err)
			}
			v.Scope = grouping.ScopeID(src)
			values = append(values, v)
		}
		return values, rows.Err()
	case grouping.AttrHashSet:
		var values []grouping.ScopedValue
		err := s.scanStrings(ctx, func(name string) {
			values = append(values, grouping.ScopedValue{Scope: scope, Value: name})
		}, `
			SELECT DISTINCT h.name
			FROM files f
			JOIN hash_set_entries e ON e.md5 = f.md5
			JOIN hash_sets h ON h.id = e.hash_set_id
			WHERE f.analyzed = 1`+clause+`
			ORDER BY h.name
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("distinct hash sets: %w", err)
		}
		return values, nil
	case grouping.AttrMimeType:
		return s.MimeTypes(ctx, scope)
	default:
		return nil, fmt.Errorf("distinct values of %s: unsupported attribute", attr)
	}
}

// TagNames lists every tag name, category pseudo-tags included.
func (s *Store) TagNames(ctx context.Context) ([]grouping.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, display_name, category IS NOT NULL FROM tag_names ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("query tag names: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var tags []grouping.Tag
	for rows.Next() {
		var tag grouping.Tag
		if err := rows.Scan(&tag.Name, &tag.DisplayName, &tag.Category); err != nil {
			return nil, fmt.Errorf("scan tag name: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// MimeTypes lists the MIME types of analyzed items.
func (s *Store) MimeTypes(ctx context.Context, scope grouping.ScopeID) ([]grouping.ScopedValue, error) {
	clause, args := scopeFilter(scope)
	var values []grouping.ScopedValue
	err := s.scanStrings(ctx, func(mime string) {
		values = append(values, grouping.ScopedValue{Scope: scope, Value: mime})
	}, `
		SELECT DISTINCT f.mime_type FROM files f
		WHERE f.analyzed = 1 AND f.mime_type != ''`+clause+`
		ORDER BY f.mime_type
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("distinct mime types: %w", err)
	}
	return values, nil
}
