package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mattn/go-runewidth"
)

func TestReadDigests(t *testing.T) {
	input := `# exported 2026-01-05
d41d8cd98f00b204e9800998ecf8427e  empty.bin
D41D8CD98F00B204E9800998ECF8427F

not-a-digest
0123456789abcdef0123456789abcdeg  bad-hex.jpg
0123456789abcdef  short.jpg
  900150983cd24fb0d6963f7d28e17f72	abc.txt
`
	digests, bad, err := readDigests(strings.NewReader(input))
	if err != nil {
		t.Fatalf("readDigests: %v", err)
	}
	want := []string{
		"d41d8cd98f00b204e9800998ecf8427e",
		"d41d8cd98f00b204e9800998ecf8427f",
		"900150983cd24fb0d6963f7d28e17f72",
	}
	if diff := cmp.Diff(want, digests); diff != "" {
		t.Errorf("digests mismatch (-want +got):\n%s", diff)
	}
	if bad != 3 {
		t.Errorf("bad = %d, want 3", bad)
	}
}

func TestReadDigests_Empty(t *testing.T) {
	digests, bad, err := readDigests(strings.NewReader("\n# nothing\n"))
	if err != nil {
		t.Fatalf("readDigests: %v", err)
	}
	if len(digests) != 0 || bad != 0 {
		t.Errorf("got %d digests, %d bad; want none", len(digests), bad)
	}
}

func TestFitWidth(t *testing.T) {
	tests := []struct {
		name  string
		input string
		width int
		want  string
	}{
		{"pads short", "/dcim", 8, "/dcim   "},
		{"exact", "/dcim", 5, "/dcim"},
		{"truncates long", "/evidence/photos", 10, "/eviden..."},
		{"newlines flattened", "a\nb", 5, "a b  "},
		{"wide characters", "写真写真写真", 7, "写真..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitWidth(tt.input, tt.width)
			if runewidth.StringWidth(got) != tt.width {
				t.Errorf("fitWidth(%q, %d) width = %d", tt.input, tt.width, runewidth.StringWidth(got))
			}
			if strings.TrimRight(got, " ") != strings.TrimRight(tt.want, " ") {
				t.Errorf("fitWidth(%q, %d) = %q, want %q", tt.input, tt.width, got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{1400 * time.Millisecond, "1s"},
		{59 * time.Second, "59s"},
		{61 * time.Second, "1m 1s"},
		{2*time.Hour + 5*time.Minute + 30*time.Second, "2h 5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestParseFileID(t *testing.T) {
	if id, err := parseFileID("42"); err != nil || id != 42 {
		t.Errorf("parseFileID(42) = %d, %v", id, err)
	}
	for _, s := range []string{"", "0", "-3", "abc", "1.5"} {
		if _, err := parseFileID(s); err == nil {
			t.Errorf("parseFileID(%q) should fail", s)
		}
	}
}
