// Package storage manages the files segmentarr owns: source videos and
// thumbnails under the media root, and the per-video output directories.
// Every operation is confined to the root of its Store.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideStore is returned for paths that resolve outside the store root.
var ErrOutsideStore = errors.New("path escapes store")

// Store confines file operations to a root directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at root, creating the directory.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Resolve turns a path relative to the root into an absolute one.
func (s *Store) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s (absolute paths not allowed)", ErrOutsideStore, rel)
	}
	abs := filepath.Join(s.root, filepath.Clean(rel))
	if !s.Contains(abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideStore, rel)
	}
	return abs, nil
}

// Contains reports whether abs lies strictly inside the root.
func (s *Store) Contains(abs string) bool {
	clean := filepath.Clean(abs)
	return strings.HasPrefix(clean, s.root+string(filepath.Separator))
}

// AvailablePath returns a path for rel that does not exist yet. Taken names
// get a random suffix before the extension.
func (s *Store) AvailablePath(rel string) (string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(abs)
	stem := strings.TrimSuffix(abs, ext)
	candidate := abs
	for range 100 {
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		candidate = stem + "_" + randomHex(7) + ext
	}
	return "", fmt.Errorf("no free name for %s", rel)
}

// Publish moves the file at src into the store under rel, renaming it when
// the name is taken, and returns the final absolute path. src may live on
// another filesystem.
func (s *Store) Publish(src, rel string) (string, error) {
	target, err := s.AvailablePath(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}

	if err := os.Rename(src, target); err == nil {
		return target, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening source file: %w", err)
	}
	defer in.Close()

	if err := writeAtomic(target, in); err != nil {
		return "", err
	}
	_ = os.Remove(src)
	return target, nil
}

// WriteReader stores r under rel, renaming when the name is taken, and
// returns the final absolute path.
func (s *Store) WriteReader(rel string, r io.Reader) (string, error) {
	target, err := s.AvailablePath(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}
	if err := writeAtomic(target, r); err != nil {
		return "", err
	}
	return target, nil
}

// Remove deletes the file at abs. Missing files are not an error.
func (s *Store) Remove(abs string) error {
	if !s.Contains(abs) {
		return fmt.Errorf("%w: %s", ErrOutsideStore, abs)
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// RemoveAll deletes the tree at abs. The root itself cannot be removed.
func (s *Store) RemoveAll(abs string) error {
	if !s.Contains(abs) {
		return fmt.Errorf("%w: %s", ErrOutsideStore, abs)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("removing directory: %w", err)
	}
	return nil
}

func writeAtomic(target string, r io.Reader) error {
	tmp := filepath.Join(filepath.Dir(target), fmt.Sprintf(".%s.%s.tmp", filepath.Base(target), randomHex(8)))

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	_, err = io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing temporary file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming to target: %w", err)
	}
	return nil
}

func randomHex(n int) string {
	b := make([]byte, n/2+1)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(b)[:n]
}
