// Package main implements missionlint, a validation gate for mission
// manifests. It expands glob patterns (directories scan recursively for
// mission*.json / mission*.yaml), validates every match and reports a
// feasibility verdict per file.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fleet-coverage-scheduler/pkg/mission"
)

const (
	exitAllValid  = 0
	exitNoMatches = 1
	exitInvalid   = 2
)

type issue struct {
	path    string
	message string
}

func main() {
	globs := flag.String("glob", "missions", "Comma-separated glob patterns or directories to scan")
	capacity := flag.Int("capacity", 2, "Per-unit capacity used for the feasibility check")
	flag.Parse()

	files, err := expandGlobs(*globs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "missionlint: %v\n", err)
		os.Exit(exitInvalid)
	}

	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "missionlint: no mission files matched %q\n", *globs)
		os.Exit(exitNoMatches)
	}

	var issues []issue

	for _, path := range files {
		manifest, err := mission.Load(path)
		if err != nil {
			issues = append(issues, issue{path: path, message: err.Error()})
			continue
		}

		err = manifest.Validate()
		if err != nil {
			issues = append(issues, issue{path: path, message: err.Error()})
			continue
		}

		feas := manifest.CheckFeasibility(*capacity)
		if !feas.Feasible {
			issues = append(issues, issue{
				path: path,
				message: fmt.Sprintf("infeasible: %d required roles against %d units",
					feas.TotalRequiredRoles, feas.AssignableUnits),
			})

			continue
		}

		fmt.Printf("%s: OK (required=%d units=%d fmax=%d)\n",
			path, feas.TotalRequiredRoles, feas.AssignableUnits, feas.Fmax)
	}

	if len(issues) > 0 {
		sort.Slice(issues, func(i, j int) bool {
			if issues[i].path == issues[j].path {
				return issues[i].message < issues[j].message
			}

			return issues[i].path < issues[j].path
		})

		fmt.Fprintf(os.Stderr, "mission validation failures:\n")

		for _, is := range issues {
			fmt.Fprintf(os.Stderr, " - %s: %s\n", is.path, is.message)
		}

		os.Exit(exitInvalid)
	}

	fmt.Println("missionlint: all missions valid")
}

// expandGlobs turns comma-separated patterns into a sorted, de-duplicated
// file list. A pattern naming a directory scans it recursively for
// mission manifests.
func expandGlobs(globsCSV string) ([]string, error) {
	seen := make(map[string]bool)

	var files []string

	for _, pattern := range strings.Split(globsCSV, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		info, err := os.Stat(pattern)
		if err == nil && info.IsDir() {
			err = filepath.WalkDir(pattern, func(path string, entry fs.DirEntry, walkErr error) error {
				if walkErr != nil {
					return walkErr
				}

				if entry.IsDir() {
					return nil
				}

				if isMissionFile(entry.Name()) && !seen[path] {
					seen[path] = true
					files = append(files, path)
				}

				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("scan %q: %w", pattern, err)
			}

			continue
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}

		for _, match := range matches {
			if !seen[match] {
				seen[match] = true
				files = append(files, match)
			}
		}
	}

	sort.Strings(files)

	return files, nil
}

func isMissionFile(name string) bool {
	if !strings.HasPrefix(name, "mission") {
		return false
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}
