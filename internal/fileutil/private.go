package fileutil

import (
	"errors"
	"io/fs"
)

const (
	dirMode  = 0o700
	fileMode = 0o600
)

// sqliteSidecars are the files SQLite keeps next to a WAL-mode database.
var sqliteSidecars = []string{"", "-wal", "-shm"}

// PrivateDatabase restricts a SQLite database file and its WAL sidecars.
// Sidecars that do not exist yet are skipped.
func PrivateDatabase(dbPath string) error {
	for _, suffix := range sqliteSidecars {
		err := PrivateFile(dbPath + suffix)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
