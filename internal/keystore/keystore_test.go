package keystore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cryptolabinc/rune-vault/internal/keystore"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	calls int
}

func (g *fakeGenerator) GenerateKeyset(_ context.Context, dir, _ string) error {
	g.calls++
	for _, name := range []string{keystore.FileEncKey, keystore.FileEvalKey, keystore.FileMetadataKey, keystore.FileSecKey} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name+"-content"), 0o600); err != nil {
			return err
		}
	}
	return nil
}

func TestEnsureKeyset_GeneratesOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := keystore.New(dir, "k1", "")
	require.NoError(t, err)

	gen := &fakeGenerator{}
	require.NoError(t, s.EnsureKeyset(t.Context(), gen))
	require.NoError(t, s.EnsureKeyset(t.Context(), gen))
	require.Equal(t, 1, gen.calls, "EnsureKeyset must not regenerate once EncKey exists")
}

func TestReadPublicBundle_ExcludesPrivateKeys(t *testing.T) {
	dir := t.TempDir()
	s, err := keystore.New(dir, "k1", "team-a")
	require.NoError(t, err)
	require.NoError(t, s.EnsureKeyset(t.Context(), &fakeGenerator{}))

	bundle, err := s.ReadPublicBundle()
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"EncKey":     "EncKey-content",
		"EvalKey":    "EvalKey-content",
		"index_name": "team-a",
	}, bundle)
}

func TestReadPublicBundle_OmitsMissingFileSilently(t *testing.T) {
	dir := t.TempDir()
	s, err := keystore.New(dir, "k1", "")
	require.NoError(t, err)
	require.NoError(t, s.EnsureKeyset(t.Context(), &fakeGenerator{}))
	require.NoError(t, os.Remove(s.EvalKeyPath()))

	bundle, err := s.ReadPublicBundle()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"EncKey": "EncKey-content"}, bundle)
}

func TestMetadataKeyPresent(t *testing.T) {
	dir := t.TempDir()
	s, err := keystore.New(dir, "k1", "")
	require.NoError(t, err)
	require.False(t, s.MetadataKeyPresent())
	require.NoError(t, s.EnsureKeyset(t.Context(), &fakeGenerator{}))
	require.True(t, s.MetadataKeyPresent())
}
