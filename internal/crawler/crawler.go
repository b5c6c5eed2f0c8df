// Package crawler discovers documentation files and loads them as
// documents.
package crawler

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Crawler scans a directory tree for documentation files.
type Crawler struct {
	ignored  []string
	excluded []string
	onError  func(path string, err error)
}

// NewCrawler creates a crawler that skips directories named in ignore.
func NewCrawler(ignore ...string) *Crawler {
	return &Crawler{ignored: ignore}
}

// Exclude skips the given files and directories by location rather than by
// name, e.g. an output directory nested inside the scanned tree. Paths that
// cannot be made absolute are dropped.
func (c *Crawler) Exclude(paths ...string) *Crawler {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			c.excluded = append(c.excluded, abs)
		}
	}
	return c
}

// OnError registers fn to hear about entries the walk had to skip: unreadable
// subdirectories and dangling symlinks.
func (c *Crawler) OnError(fn func(path string, err error)) *Crawler {
	c.onError = fn
	return c
}

// FindAllDocs returns every regular file under root.
func FindAllDocs(root string) ([]string, error) {
	return NewCrawler().FindAll(root)
}

// FindAll returns every regular file under root in walk order (lexical within
// each directory). An empty tree yields an empty slice; a missing root is an
// error.
func (c *Crawler) FindAll(root string) ([]string, error) {
	docs := []string{}
	err := c.Scan(root, func(path string) error {
		docs = append(docs, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Scan walks root and streams each document path to onDoc.
// Unreadable subdirectories are reported to the OnError callback and skipped;
// only a failure on root itself, or an error from onDoc, stops the walk.
func (c *Crawler) Scan(root string, onDoc func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			c.report(path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && (c.isIgnored(d.Name()) || c.isExcluded(path)) {
				return filepath.SkipDir
			}
			return nil
		}

		if c.isExcluded(path) {
			return nil
		}
		ok, err := isRegular(path, d)
		if err != nil {
			c.report(path, err)
		}
		if !ok {
			return nil
		}
		return onDoc(path)
	})
}

func (c *Crawler) report(path string, err error) {
	if c.onError != nil {
		c.onError(path, err)
	}
}

func (c *Crawler) isIgnored(name string) bool {
	for _, ign := range c.ignored {
		if name == ign {
			return true
		}
	}
	return false
}

func (c *Crawler) isExcluded(path string) bool {
	if len(c.excluded) == 0 {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, ex := range c.excluded {
		if abs == ex {
			return true
		}
	}
	return false
}

// isRegular accepts regular files and symlinks that resolve to one. The
// error is set only for symlinks that cannot be resolved.
func isRegular(path string, d fs.DirEntry) (bool, error) {
	if d.Type().IsRegular() {
		return true, nil
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}
