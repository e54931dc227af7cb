package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dir reads every *.json file under a local directory tree, in sorted path
// order so runs over the same tree are deterministic.
type Dir struct {
	Path string
}

func (d *Dir) Walk(ctx context.Context, fn func(name string, r io.Reader) error) error {
	var paths []string
	err := filepath.WalkDir(d.Path, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(p), ".json") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return classifyFSErr(d.Path, err)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return classifyFSErr(p, err)
		}
		ferr := fn(p, f)
		_ = f.Close()
		if ferr != nil {
			return ferr
		}
	}
	return nil
}

func classifyFSErr(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %s: %v", ErrAccessDenied, path, err)
	default:
		return fmt.Errorf("source %s: %w", path, err)
	}
}
