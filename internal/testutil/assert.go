package testutil

import "testing"

// MustNoErr stops the test when a setup step fails.
func MustNoErr(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertEqualSlices reports every position where got differs from want.
// A length mismatch is reported once with the full slice.
func AssertEqualSlices[T comparable](t *testing.T, got []T, want ...T) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("len = %d, want %d (got %v)", len(got), len(want), got)
		return
	}
	for i, g := range got {
		if g != want[i] {
			t.Errorf("[%d] = %v, want %v", i, g, want[i])
		}
	}
}

// AssertStrings is AssertEqualSlices for group keys, labels and paths,
// quoting values so empty strings and whitespace show up in failures.
func AssertStrings(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("len = %d, want %d (got %q)", len(got), len(want), got)
		return
	}
	for i, g := range got {
		if g != want[i] {
			t.Errorf("[%d] = %q, want %q", i, g, want[i])
		}
	}
}
