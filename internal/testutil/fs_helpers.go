package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validateRelativePath checks that name is a relative path that stays within dir.
// Returns an error if the path is absolute or would escape the directory.
func validateRelativePath(dir, name string) error {
	if filepath.IsAbs(name) {
		return fmt.Errorf("absolute path not allowed: %s", name)
	}

	// Reject drive-relative paths on Windows (e.g., "C:foo").
	// These are not absolute but filepath.Join(dir, "C:foo") ignores dir
	// and resolves relative to the current directory on the C: drive.
	if filepath.VolumeName(name) != "" {
		return fmt.Errorf("path with volume name not allowed: %s", name)
	}

	// Join and Clean handles separators and ".." resolution
	targetPath := filepath.Join(dir, name)

	// Verify the resolved path is still inside dir
	rel, err := filepath.Rel(dir, targetPath)
	if err != nil {
		return fmt.Errorf("cannot compute relative path: %w", err)
	}
	// Check for parent directory escape: exactly ".." or starts with "../" (or "..\")
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes directory: %s", name)
	}

	return nil
}

// WriteFile writes content to a file in the given directory.
// The name must be a relative path without ".." components to ensure
// test isolation. Absolute paths or paths that escape dir will fail the test.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	if err := validateRelativePath(dir, name); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	path := filepath.Join(dir, filepath.Clean(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

// Minimal file headers that content sniffing recognizes as media.
var (
	PNGBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	JPEGBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
)

// WriteImage writes a file that sniffs as image/png, or image/jpeg when
// name ends in .jpg. Extra makes files with the same header differ.
func WriteImage(t *testing.T, dir, name, extra string) string {
	t.Helper()
	header := PNGBytes
	if strings.HasSuffix(name, ".jpg") {
		header = JPEGBytes
	}
	return WriteFile(t, dir, name, append(append([]byte{}, header...), extra...))
}

// MustExist fails the test if the path does not exist or cannot be accessed.
func MustExist(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}
