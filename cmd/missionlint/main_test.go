package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestExpandGlobsScansDirectoriesRecursively(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	nested := filepath.Join(dir, "profiles")

	err := os.MkdirAll(nested, 0o755)
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	paths := []string{
		filepath.Join(dir, "mission_a.json"),
		filepath.Join(nested, "mission_b.yaml"),
		filepath.Join(nested, "notes.txt"),
	}

	for _, path := range paths {
		err := os.WriteFile(path, []byte("{}"), 0o644)
		if err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	files, err := expandGlobs(dir)
	if err != nil {
		t.Fatalf("expandGlobs: %v", err)
	}

	want := []string{
		filepath.Join(dir, "mission_a.json"),
		filepath.Join(nested, "mission_b.yaml"),
	}

	if !reflect.DeepEqual(files, want) {
		t.Fatalf("expected %v, got %v", want, files)
	}
}

func TestExpandGlobsDeduplicatesPatterns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "mission_a.json")

	err := os.WriteFile(path, []byte("{}"), 0o644)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	pattern := filepath.Join(dir, "mission_*.json")

	files, err := expandGlobs(pattern + "," + pattern)
	if err != nil {
		t.Fatalf("expandGlobs: %v", err)
	}

	if len(files) != 1 {
		t.Fatalf("expected deduplicated match, got %v", files)
	}
}

func TestIsMissionFile(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		want bool
	}{
		{name: "mission_alpha.json", want: true},
		{name: "mission.yaml", want: true},
		{name: "mission_b.yml", want: true},
		{name: "mission_readme.md", want: false},
		{name: "profile.json", want: false},
	}

	for _, tc := range testCases {
		if got := isMissionFile(tc.name); got != tc.want {
			t.Fatalf("isMissionFile(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
