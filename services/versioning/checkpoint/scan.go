// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/rewind/services/versioning/snapshot"
)

// defaultExcludedDirs are directory base names skipped on every scan,
// alongside the engine's own backup directory.
var defaultExcludedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".rewind":      true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".idea":        true,
	".vscode":      true,
}

// hashConcurrency bounds parallel file hashing during a scan.
const hashConcurrency = 8

// fileDigest is the scan result for one tracked file.
type fileDigest struct {
	SHA256 string
	Size   int64
}

// scanTree walks the project tree and returns the tracked relative
// paths (slash-separated), applying include/exclude as substring
// matches. Patterns are substrings of the relative path, not globs.
func scanTree(root, backupDir string, include, exclude []string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if defaultExcludedDirs[d.Name()] || path == backupDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !matchesFilters(rel, include, exclude) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// matchesFilters applies substring include/exclude semantics: with a
// non-empty include list the path must contain at least one pattern,
// and any matching exclude pattern drops the path.
func matchesFilters(rel string, include, exclude []string) bool {
	if len(include) > 0 {
		matched := false
		for _, pattern := range include {
			if strings.Contains(rel, pattern) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pattern := range exclude {
		if strings.Contains(rel, pattern) {
			return false
		}
	}
	return true
}

// hashAll computes digests for the given relative paths, bounded-parallel.
// Files that vanish between scan and hash are silently dropped.
func hashAll(ctx context.Context, root string, paths []string) (map[string]fileDigest, error) {
	digests := make(map[string]fileDigest, len(paths))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(hashConcurrency)

	for _, rel := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum, size, err := snapshot.HashFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				if !os.IsNotExist(err) {
					slog.Warn("Skipping unreadable file", "path", rel, "error", err)
				}
				return nil // dropped from this scan
			}
			mu.Lock()
			digests[rel] = fileDigest{SHA256: sum, Size: size}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return digests, nil
}
