// Package tools implements the search-tool variants registered under the
// capability registry: grep, find, keyword, semantic, and ast. Each tool
// decodes its typed parameters from the uniform input payload and returns
// the uniform result envelope.
package tools

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	laberrors "github.com/searchlab/searchlab/internal/errors"
)

// skipDirs are directories never worth searching.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	".searchlab":   true,
	"__pycache__":  true,
}

type walkOptions struct {
	// maxFileSizeKB skips regular files above this size; 0 means no limit.
	maxFileSizeKB int
	// includeDirs reports directories to fn as well as files.
	includeDirs bool
}

// walkTree visits a directory tree, honoring ctx and skipping well-known
// junk directories. fn receives slash-separated paths relative to root.
func walkTree(ctx context.Context, root string, opts walkOptions, fn func(rel string, d fs.DirEntry) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return laberrors.New(laberrors.ErrCodeToolInput,
			"root does not exist: "+root, err)
	}
	if !info.IsDir() {
		return laberrors.New(laberrors.ErrCodeToolInput,
			"root is not a directory: "+root, nil)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := d.Name()
		if d.IsDir() {
			if path != root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			if !opts.includeDirs || path == root {
				return nil
			}
		} else {
			if opts.maxFileSizeKB > 0 {
				if fi, err := d.Info(); err == nil && fi.Size() > int64(opts.maxFileSizeKB)*1024 {
					return nil
				}
			}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		return fn(filepath.ToSlash(rel), d)
	})
}

// matchGlob matches a filename glob against a walked path. A glob
// containing a separator matches the whole relative path, so a seeded
// value like "lib/util.py" addresses exactly one file; a bare glob
// matches the base name.
func matchGlob(glob, rel string) bool {
	if strings.ContainsRune(glob, '/') {
		ok, _ := filepath.Match(glob, rel)
		return ok
	}
	ok, _ := filepath.Match(glob, filepath.Base(rel))
	return ok
}

// looksBinary reports whether content appears to be binary data. Same
// heuristic grep uses: a NUL byte in the first block.
func looksBinary(content []byte) bool {
	probe := content
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
