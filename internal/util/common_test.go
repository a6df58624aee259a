package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePath(t *testing.T) {
	cases := []struct {
		name string
		base string
		rel  string
		want string
	}{
		{"relative joins base", "/etc/app", "data", filepath.Join("/etc/app", "data")},
		{"nested relative", "/etc/app", "data/calls", filepath.Join("/etc/app", "data", "calls")},
		{"absolute overrides base", "/etc/app", "/var/lib/app", filepath.Clean("/var/lib/app")},
		{"absolute is cleaned", "/etc/app", "/var//lib/../lib/app", filepath.Clean("/var/lib/app")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolvePath(tc.base, tc.rel); got != tc.want {
				t.Fatalf("ResolvePath(%q, %q) = %q, want %q", tc.base, tc.rel, got, tc.want)
			}
		})
	}
}

func TestWriteJSONFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "out.json")

	if err := WriteJSONFile(path, map[string]int{"n": 7}); err != nil {
		t.Fatalf("WriteJSONFile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "{\n  \"n\": 7\n}" {
		t.Fatalf("unexpected contents: %q", b)
	}
}
