package cryptoprovider_test

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cryptolabinc/rune-vault/internal/cryptoprovider"
	"github.com/stretchr/testify/require"
)

func writeMetadataKey(t *testing.T, dir string) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	path := filepath.Join(dir, "MetadataKey")
	require.NoError(t, os.WriteFile(path, key, 0o600))
	return path
}

func TestMetadataEncryptDecrypt_RoundTripsObject(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeMetadataKey(t, dir)
	p := cryptoprovider.New()

	tokenB64, err := p.EncryptMetadata(map[string]any{"a": float64(1)}, keyPath)
	require.NoError(t, err)

	got, err := p.AESDecryptMetadata(t.Context(), tokenB64, keyPath)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": float64(1)}, got)
}

func TestMetadataEncryptDecrypt_RoundTripsString(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeMetadataKey(t, dir)
	p := cryptoprovider.New()

	tokenB64, err := p.EncryptMetadata("hello", keyPath)
	require.NoError(t, err)

	got, err := p.AESDecryptMetadata(t.Context(), tokenB64, keyPath)
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}

func TestAESDecryptMetadata_RejectsMissingEnvelope(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeMetadataKey(t, dir)
	p := cryptoprovider.New()

	_, err := p.AESDecryptMetadata(t.Context(), "bm90LW1zZWg=", keyPath)
	require.Error(t, err)
}

func TestParseCiphertextScore_RejectsGarbage(t *testing.T) {
	p := cryptoprovider.New()
	_, err := p.ParseCiphertextScore([]byte{0xFF, 0xFF, 0xFF})
	require.Error(t, err)
}
