// Package sandbox provides a path-confined view of a directory tree. Every
// operation resolves its argument against the sandbox root and refuses paths
// that escape it, including escapes through symlinks and ".." components.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrEscape is returned when a path resolves outside the sandbox root.
var ErrEscape = errors.New("path escapes sandbox root")

// Sandbox confines filesystem operations to a root directory.
type Sandbox struct {
	root string // absolute, symlink-resolved, no trailing separator
}

// New creates a Sandbox rooted at root. The directory is created if it does
// not exist, then canonicalized.
func New(root string) (*Sandbox, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root: %w", err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, fmt.Errorf("resolving sandbox root: %w", err)
	}
	return &Sandbox{root: abs}, nil
}

// Root returns the absolute sandbox root.
func (s *Sandbox) Root() string {
	return s.root
}

// resolve rebases p onto the root if relative, canonicalizes it, and returns
// the absolute path. Paths outside the root fail with ErrEscape.
func (s *Sandbox) resolve(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	resolved, err := canonicalize(p)
	if err != nil {
		return "", err
	}
	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is not under %s", ErrEscape, p, s.root)
	}
	return resolved, nil
}

// canonicalize resolves symlinks in the longest existing prefix of p and
// rejoins the remaining components, so containment checks hold for paths
// that do not exist yet.
func canonicalize(p string) (string, error) {
	p = filepath.Clean(p)
	remainder := ""
	for cur := p; ; {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Clean(filepath.Join(resolved, remainder)), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("canonicalizing %s: %w", p, err)
		}
		remainder = filepath.Join(filepath.Base(cur), remainder)
		cur = parent
	}
}

// Contains reports whether p resolves to a location inside the sandbox. The
// root itself is considered contained.
func (s *Sandbox) Contains(p string) bool {
	_, err := s.resolve(p)
	return err == nil
}

// MakeDirs creates the directory p and any missing ancestors inside the
// sandbox.
func (s *Sandbox) MakeDirs(p string) error {
	resolved, err := s.resolve(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(resolved, 0o755)
}

// RemoveTree recursively deletes p. Deleting a path that does not exist is
// not an error. The root itself cannot be removed.
func (s *Sandbox) RemoveTree(p string) error {
	resolved, err := s.resolve(p)
	if err != nil {
		return err
	}
	if resolved == s.root {
		return fmt.Errorf("%w: refusing to remove sandbox root %s", ErrEscape, s.root)
	}
	return os.RemoveAll(resolved)
}

// AllFiles walks p depth-first and returns the paths of all regular files,
// relative to p, in sorted order. A missing directory yields an empty list.
func (s *Sandbox) AllFiles(p string) ([]string, error) {
	resolved, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	files := []string{}
	err = filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(resolved, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", p, err)
	}
	sort.Strings(files)
	return files, nil
}

// Open opens p for reading.
func (s *Sandbox) Open(p string) (*os.File, error) {
	resolved, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.Open(resolved)
}

// Create opens p for writing, truncating any existing file. Missing parent
// directories are created.
func (s *Sandbox) Create(p string) (*os.File, error) {
	resolved, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}
	return os.Create(resolved)
}

// Exists reports whether p exists inside the sandbox.
func (s *Sandbox) Exists(p string) bool {
	resolved, err := s.resolve(p)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// Sub returns a new Sandbox rooted at p, which must be a contained
// directory.
func (s *Sandbox) Sub(p string) (*Sandbox, error) {
	resolved, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	return New(resolved)
}
