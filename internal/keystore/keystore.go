// Package keystore owns the on-disk keyset: the public EncKey/EvalKey pair,
// the private SecKey, and the MetadataKey used for AES metadata decryption.
package keystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Well-known filenames within a keyset directory. Load-bearing: the public
// bundle response uses these as JSON keys.
const (
	FileEncKey      = "EncKey"
	FileEvalKey     = "EvalKey"
	FileMetadataKey = "MetadataKey"
	FileSecKey      = "SecKey"
)

// Generator produces a full keyset on disk. Implemented by the crypto provider.
type Generator interface {
	GenerateKeyset(ctx context.Context, dir string, keyID string) error
}

// Store locates, lazily generates, and reads a keyset directory.
type Store struct {
	dir       string
	keyID     string
	indexName string
}

// New resolves dir to an absolute path and returns a Store for it. It does
// not touch the filesystem.
func New(dir, keyID, indexName string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("keystore: resolving directory: %w", err)
	}
	return &Store{dir: abs, keyID: keyID, indexName: indexName}, nil
}

// EnsureKeyset generates the full keyset if EncKey is absent. It does not
// attempt partial repair: if EncKey is present, the other three files are
// assumed present too.
func (s *Store) EnsureKeyset(ctx context.Context, gen Generator) error {
	if _, err := os.Stat(s.path(FileEncKey)); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("keystore: checking %s: %w", FileEncKey, err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("keystore: creating %s: %w", s.dir, err)
	}
	if err := gen.GenerateKeyset(ctx, s.dir, s.keyID); err != nil {
		return fmt.Errorf("keystore: generating keyset: %w", err)
	}
	return nil
}

// EncKeyPath, EvalKeyPath, SecKeyPath, and MetadataKeyPath expose the
// resolved, process-constant file paths for the crypto provider adapter.
func (s *Store) EncKeyPath() string      { return s.path(FileEncKey) }
func (s *Store) EvalKeyPath() string     { return s.path(FileEvalKey) }
func (s *Store) SecKeyPath() string      { return s.path(FileSecKey) }
func (s *Store) MetadataKeyPath() string { return s.path(FileMetadataKey) }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// ReadPublicBundle returns EncKey and EvalKey contents keyed by filename, plus
// index_name when configured. A missing file at read time (should not happen
// after a successful EnsureKeyset) is omitted silently rather than failing
// the whole bundle.
func (s *Store) ReadPublicBundle() (map[string]string, error) {
	bundle := make(map[string]string, 3)
	for _, name := range []string{FileEncKey, FileEvalKey} {
		content, err := os.ReadFile(s.path(name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("keystore: reading %s: %w", name, err)
		}
		bundle[name] = string(content)
	}
	if s.indexName != "" {
		bundle["index_name"] = s.indexName
	}
	return bundle, nil
}

// MetadataKeyPresent reports whether the MetadataKey file exists, used by
// decrypt_metadata to produce its MissingMetadataKey soft error.
func (s *Store) MetadataKeyPresent() bool {
	_, err := os.Stat(s.MetadataKeyPath())
	return err == nil
}
