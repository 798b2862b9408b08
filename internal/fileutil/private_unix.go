//go:build !windows

// Package fileutil keeps catalog files private to the examiner account.
//
// On Unix the helpers rely on permission bits alone. On Windows they also
// replace the DACL so only the current user has access; a DACL failure is
// logged and otherwise ignored because the mode was already applied.
package fileutil

import "os"

// PrivateDir creates dir and any missing parents with owner-only access.
func PrivateDir(dir string) error {
	return os.MkdirAll(dir, dirMode)
}

// PrivateFile restricts an existing file to owner-only access.
func PrivateFile(path string) error {
	return os.Chmod(path, fileMode)
}
