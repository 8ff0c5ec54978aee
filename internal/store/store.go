// Package store persists generated calendar documents on disk, one file per
// identity. Writes are atomic so readers never observe a partially written
// document, and nothing ever deletes a cached file: a stale calendar beats no
// calendar when every upstream is down.
package store

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store is a directory of cached calendar documents.
type Store struct {
	fs  afero.Fs
	dir string
}

// New creates a store rooted at dir, creating the directory if needed.
func New(fs afero.Fs, dir string) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{fs: fs, dir: dir}, nil
}

// Path returns the on-disk path of an identity's cached document.
func (s *Store) Path(identity string) string {
	return filepath.Join(s.dir, identity+".ics")
}

// Write replaces an identity's cached document atomically: the new content
// is written to a temp file in the same directory and then renamed over the
// previous document.
func (s *Store) Write(identity, doc string) error {
	target := s.Path(identity)
	tmp := target + ".tmp"

	if err := afero.WriteFile(s.fs, tmp, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write calendar temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("replace calendar file: %w", err)
	}
	return nil
}

// Read returns an identity's cached document.
func (s *Store) Read(identity string) (string, error) {
	data, err := afero.ReadFile(s.fs, s.Path(identity))
	if err != nil {
		return "", fmt.Errorf("read calendar file: %w", err)
	}
	return string(data), nil
}

// Has reports whether a cached document exists for the identity.
func (s *Store) Has(identity string) bool {
	ok, err := afero.Exists(s.fs, s.Path(identity))
	return err == nil && ok
}
