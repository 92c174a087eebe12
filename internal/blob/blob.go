// Package blob is a content-addressable store for raw messages and
// attachments, keyed by the SHA-256 of the content.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrNotFound is returned when no blob exists for a key.
var ErrNotFound = errors.New("blob not found")

// Store keeps blobs as files under a root directory, fanned out by the
// first two hex digits of the key.
type Store struct {
	fs   afero.Fs
	root string
}

// New returns a Store rooted at dir on fs.
func New(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, root: dir}
}

// NewOS returns a Store on the local filesystem.
func NewOS(dir string) *Store {
	return New(afero.NewOsFs(), dir)
}

// NewMemory returns a Store backed by memory only.
func NewMemory() *Store {
	return New(afero.NewMemMapFs(), "/blobs")
}

// Key returns the key data would be stored under.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its key. Storing the same content twice is
// a no-op.
func (s *Store) Put(data []byte) (string, error) {
	key := Key(data)
	path := s.path(key)

	if ok, err := afero.Exists(s.fs, path); err == nil && ok {
		return key, nil
	}

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}

	// Write to a temporary name first so a crash never leaves a
	// truncated blob under a valid key.
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("writing blob %s: %w", key, err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("committing blob %s: %w", key, err)
	}

	return key, nil
}

// PutReader stores everything read from r.
func (s *Store) PutReader(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading blob content: %w", err)
	}
	return s.Put(data)
}

// Get returns the content stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
	}
	data, err := afero.ReadFile(s.fs, s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", key, err)
	}
	return data, nil
}

// Open returns a reader over the blob stored under key.
func (s *Store) Open(key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
	}
	f, err := s.fs.Open(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the blob stored under key. Missing blobs are ignored.
func (s *Store) Delete(key string) error {
	if !validKey(key) {
		return nil
	}
	err := s.fs.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting blob %s: %w", key, err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, key[:2], key)
}

func validKey(key string) bool {
	if len(key) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}
