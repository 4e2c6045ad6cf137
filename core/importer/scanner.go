// Package importer turns files on disk into records: a one-shot directory
// scan plus an optional fsnotify watch that keeps records in sync.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// DefaultMaxBytes caps imported file size.
const DefaultMaxBytes int64 = 1 << 20

var (
	ErrRootPathEmpty    = errors.New("root path cannot be empty")
	ErrRootPathNotExist = errors.New("root path does not exist")
	ErrRootPathNotDir   = errors.New("root path is not a directory")
	ErrInvalidPattern   = errors.New("invalid glob pattern")
)

// DefaultInclude matches markdown and plain text at any depth.
func DefaultInclude() []string {
	return []string{"**.md", "**.txt"}
}

// directories never worth descending into
var skippedDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	"node_modules": {},
	"vendor":       {},
	".cache":       {},
	".idea":        {},
	".vscode":      {},
}

type ScanConfig struct {
	Root     string
	Include  []string
	Exclude  []string
	MaxBytes int64
}

// File is a candidate for import.
type File struct {
	Path    string
	RelPath string
	Size    int64
	ModTime time.Time
}

// Scanner yields files under Root that pass the include/exclude globs.
// Globs are matched against the slash-separated path relative to Root and
// against the base name.
type Scanner struct {
	root     string
	include  []glob.Glob
	exclude  []glob.Glob
	maxBytes int64
}

func NewScanner(config ScanConfig) (*Scanner, error) {
	if config.Root == "" {
		return nil, ErrRootPathEmpty
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	include := config.Include
	if len(include) == 0 {
		include = DefaultInclude()
	}
	s := &Scanner{root: root, maxBytes: config.MaxBytes}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxBytes
	}
	if s.include, err = compileGlobs(include); err != nil {
		return nil, err
	}
	if s.exclude, err = compileGlobs(config.Exclude); err != nil {
		return nil, err
	}
	return s, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, fmt.Errorf("%q: %w", p, err))
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Scanner) Root() string {
	return s.root
}

// Matches reports whether path, absolute or relative to the root, would be
// imported. Size is not considered.
func (s *Scanner) Matches(path string) bool {
	rel, ok := s.relative(path)
	if !ok {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if _, skip := skippedDirs[part]; skip {
			return false
		}
	}
	name := filepath.Base(path)
	if matchAny(s.exclude, rel, name) {
		return false
	}
	return matchAny(s.include, rel, name)
}

func (s *Scanner) relative(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func matchAny(globs []glob.Glob, rel, name string) bool {
	for _, g := range globs {
		if g.Match(rel) || g.Match(name) {
			return true
		}
	}
	return false
}

// Scan walks the root and returns a channel of matching files, closed when
// the walk ends or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context) (<-chan File, error) {
	info, err := os.Stat(s.root)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrRootPathNotExist, s.root)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootPathNotDir, s.root)
	}

	out := make(chan File)
	go func() {
		defer close(out)
		_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil {
				if os.IsPermission(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				if _, skip := skippedDirs[d.Name()]; skip && path != s.root {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !s.Matches(path) {
				return nil
			}
			fi, err := d.Info()
			if err != nil || fi.Size() > s.maxBytes {
				return nil
			}
			rel, _ := s.relative(path)
			select {
			case <-ctx.Done():
				return fs.SkipAll
			case out <- File{Path: path, RelPath: rel, Size: fi.Size(), ModTime: fi.ModTime()}:
				return nil
			}
		})
	}()
	return out, nil
}
