// Package paths expands command-line arguments into image files.
package paths

import (
	"cmp"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vouchersnap/vouchersnap/internal/logger"
	"github.com/vouchersnap/vouchersnap/internal/scanner"
)

// Resolve turns directories, glob patterns and plain files into a list of
// supported image files. Directories are read non-recursively; a "**"
// segment in a pattern matches any number of directories. Files named more
// than once are returned once. The result is sorted by base name.
func Resolve(args []string) ([]string, error) {
	var found []string
	for _, arg := range args {
		var (
			matches []string
			err     error
		)
		switch {
		case isPattern(arg):
			matches, err = expandPattern(arg)
		default:
			matches, err = expandPath(arg)
		}
		if err != nil {
			return nil, err
		}
		found = append(found, matches...)
	}
	return dedupe(found), nil
}

func isPattern(arg string) bool {
	return strings.ContainsAny(arg, "*?[")
}

func expandPath(arg string) ([]string, error) {
	info, err := os.Stat(arg)
	if err != nil {
		logger.WithField("path", arg).Debug("Skipping missing path")
		return nil, nil
	}
	if !info.IsDir() {
		if scanner.IsSupportedImage(arg) {
			return []string{arg}, nil
		}
		return nil, nil
	}

	entries, err := os.ReadDir(arg)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", arg, err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && scanner.IsSupportedImage(e.Name()) {
			out = append(out, filepath.Join(arg, e.Name()))
		}
	}
	return out, nil
}

func expandPattern(pattern string) ([]string, error) {
	if root, rest, ok := strings.Cut(filepath.ToSlash(pattern), "**"); ok {
		return expandRecursive(filepath.FromSlash(root), strings.TrimPrefix(rest, "/"))
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return filterFiles(matches), nil
}

// expandRecursive walks root and matches the base name of every file
// against tail, e.g. "photos/**/*.jpg".
func expandRecursive(root, tail string) ([]string, error) {
	if root == "" {
		root = "."
	}
	if tail == "" {
		tail = "*"
	}
	if _, err := filepath.Match(tail, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", tail, err)
	}

	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.WithError(err).WithField("path", path).Debug("Skipping unreadable path")
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ok, _ := filepath.Match(tail, d.Name()); ok && scanner.IsSupportedImage(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}

func filterFiles(matches []string) []string {
	var out []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err == nil && info.Mode().IsRegular() && scanner.IsSupportedImage(m) {
			out = append(out, m)
		}
	}
	return out
}

func dedupe(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		key, err := filepath.Abs(f)
		if err != nil {
			key = f
		}
		if resolved, err := filepath.EvalSymlinks(key); err == nil {
			key = resolved
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}

	slices.SortStableFunc(out, func(a, b string) int {
		if c := cmp.Compare(filepath.Base(a), filepath.Base(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return out
}
