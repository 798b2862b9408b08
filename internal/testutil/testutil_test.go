package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestNewTestStore(t *testing.T) {
	st := NewTestStore(t)

	stats, err := st.GetStats()
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.FileCount != 0 {
		t.Errorf("expected 0 files, got %d", stats.FileCount)
	}
}

func TestWriteImageSniffsAsMedia(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		want string
	}{
		{"a.png", "image/png"},
		{"dcim/b.jpg", "image/jpeg"},
	}
	for _, tt := range tests {
		path := WriteImage(t, dir, tt.name, "x")
		MustExist(t, path)
		data, err := os.ReadFile(path)
		MustNoErr(t, err, "read "+tt.name)
		if got := http.DetectContentType(data); got != tt.want {
			t.Errorf("%s sniffs as %q, want %q", tt.name, got, tt.want)
		}
	}
	MustExist(t, filepath.Join(dir, "dcim"))
}

func TestValidateRelativePath(t *testing.T) {
	dir := t.TempDir()

	absPath, err := filepath.Abs("/some/path.txt")
	if err != nil {
		t.Fatalf("failed to get absolute path: %v", err)
	}

	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"absolute path", absPath, true},
		{"escape dot dot", "../escape.txt", true},
		{"escape dot dot nested", "subdir/../../escape.txt", true},
		{"escape just dot dot", "..", true},
		{"valid with dots", "file-with-dots.test.txt", false},
		{"valid current dir", "./current.txt", false},
		{"valid nested", "a/b/c/deep.txt", false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRelativePath(dir, tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRelativePath() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
