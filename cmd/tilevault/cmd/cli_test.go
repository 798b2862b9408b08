package cmd

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/wesm/tilevault/internal/testutil"
)

// runCLI executes the global root command against home and returns stdout.
//
// NOTE: uses the package-level rootCmd; callers must NOT use t.Parallel().
func runCLI(t *testing.T, home, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--home", home}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("tilevault %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func md5Hex(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	testutil.MustNoErr(t, err, "read "+path)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func TestCLI_IngestReviewFlow(t *testing.T) {
	home := t.TempDir()
	testutil.WriteFile(t, home, "config.toml", []byte("[review]\nreviewer = \"tester\"\n"))

	evidence := t.TempDir()
	hit := testutil.WriteImage(t, evidence, "dcim/a.png", "a")
	testutil.WriteImage(t, evidence, "dcim/b.png", "b")
	testutil.WriteImage(t, evidence, "movies/c.jpg", "c")

	out := runCLI(t, home, md5Hex(t, hit)+"  a.png\n", "hashset", "import", "known-bad", "-")
	if !strings.Contains(out, "1 digests read, 1 new") {
		t.Errorf("hashset import output = %q", out)
	}

	out = runCLI(t, home, "", "ingest", "laptop", evidence)
	if !strings.Contains(out, "Scan complete.") || !strings.Contains(out, "Hash hits:  1") {
		t.Errorf("ingest output = %q", out)
	}

	var groups []groupOutput
	out = runCLI(t, home, "", "groups", "--json")
	if err := json.Unmarshal([]byte(out), &groups); err != nil {
		t.Fatalf("decode groups: %v\n%s", err, out)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2: %s", len(groups), out)
	}
	first := groups[0]
	if first.Value != "/dcim" || first.HashHits != 1 || first.Size != 2 {
		t.Errorf("first group = %+v, want /dcim with 1 hash hit", first)
	}
	if groups[1].Value != "/movies" {
		t.Errorf("second group = %q, want /movies", groups[1].Value)
	}

	out = runCLI(t, home, "", "seen", "path", first.Value, "--scope", strconv.FormatInt(first.Scope, 10))
	if !strings.Contains(out, "Marked /dcim seen.") {
		t.Errorf("seen output = %q", out)
	}

	groups = nil
	out = runCLI(t, home, "", "groups", "--view", "unseen", "--json")
	if err := json.Unmarshal([]byte(out), &groups); err != nil {
		t.Fatalf("decode unseen groups: %v\n%s", err, out)
	}
	if len(groups) != 1 || groups[0].Value != "/movies" {
		t.Errorf("unseen groups = %+v, want only /movies", groups)
	}

	out = runCLI(t, home, "", "stats")
	if !strings.Contains(out, "Files:        3 (3 analyzed)") || !strings.Contains(out, "Seen groups:  1") {
		t.Errorf("stats output = %q", out)
	}

	out = runCLI(t, home, "", "hashset", "list")
	if !strings.Contains(out, "known-bad") {
		t.Errorf("hashset list output = %q", out)
	}

	if _, err := os.Stat(filepath.Join(home, "tilevault.db")); err != nil {
		t.Errorf("catalog not created in home: %v", err)
	}
}
