package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// HashSet is a named list of known MD5 digests.
type HashSet struct {
	ID      int64
	Name    string
	Entries int64
}

// ImportHashSet creates the hash set if needed and adds digests to it.
// Digests are lower-cased; duplicates and blanks are skipped. It returns
// the hash set ID and the number of new entries.
func (s *Store) ImportHashSet(name string, digests []string) (int64, int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, 0, fmt.Errorf("hash set name is required")
	}

	seen := make(map[string]bool, len(digests))
	clean := make([]string, 0, len(digests))
	for _, d := range digests {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		clean = append(clean, d)
	}

	var setID, added int64
	err := s.withTx(func(tx *sql.Tx) error {
		err := tx.QueryRow(`
			INSERT INTO hash_sets (name) VALUES (?)
			ON CONFLICT(name) DO UPDATE SET name = excluded.name
			RETURNING id
		`, name).Scan(&setID)
		if err != nil {
			return fmt.Errorf("ensure hash set %q: %w", name, err)
		}

		var before int64
		if err := tx.QueryRow(`SELECT COUNT(*) FROM hash_set_entries WHERE hash_set_id = ?`, setID).Scan(&before); err != nil {
			return fmt.Errorf("count entries: %w", err)
		}

		err = insertInChunks(tx, len(clean), 2,
			`INSERT OR IGNORE INTO hash_set_entries (hash_set_id, md5) VALUES `,
			func(start, end int) ([]string, []interface{}) {
				values := make([]string, 0, end-start)
				args := make([]interface{}, 0, 2*(end-start))
				for _, d := range clean[start:end] {
					values = append(values, "(?, ?)")
					args = append(args, setID, d)
				}
				return values, args
			})
		if err != nil {
			return fmt.Errorf("insert entries: %w", err)
		}

		var after int64
		if err := tx.QueryRow(`SELECT COUNT(*) FROM hash_set_entries WHERE hash_set_id = ?`, setID).Scan(&after); err != nil {
			return fmt.Errorf("count entries: %w", err)
		}
		added = after - before
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	// Hits are derived from digests, so every cached item may have changed.
	s.values.Clear()
	return setID, added, nil
}

// ListHashSets returns every hash set with its entry count.
func (s *Store) ListHashSets() ([]HashSet, error) {
	rows, err := s.db.Query(`
		SELECT h.id, h.name, COUNT(e.md5)
		FROM hash_sets h LEFT JOIN hash_set_entries e ON e.hash_set_id = h.id
		GROUP BY h.id
		ORDER BY h.name
	`)
	if err != nil {
		return nil, fmt.Errorf("query hash sets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sets []HashSet
	for rows.Next() {
		var hs HashSet
		if err := rows.Scan(&hs.ID, &hs.Name, &hs.Entries); err != nil {
			return nil, fmt.Errorf("scan hash set: %w", err)
		}
		sets = append(sets, hs)
	}
	return sets, rows.Err()
}

// HashSetHits returns the names of the hash sets containing md5, in name
// order.
func (s *Store) HashSetHits(md5 string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT h.name
		FROM hash_set_entries e JOIN hash_sets h ON h.id = e.hash_set_id
		WHERE e.md5 = ?
		ORDER BY h.name
	`, strings.ToLower(md5))
	if err != nil {
		return nil, fmt.Errorf("query hash hits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan hash set name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
