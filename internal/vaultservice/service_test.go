package vaultservice_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cryptolabinc/rune-vault/internal/auth"
	"github.com/cryptolabinc/rune-vault/internal/cryptoprovider"
	"github.com/cryptolabinc/rune-vault/internal/keystore"
	"github.com/cryptolabinc/rune-vault/internal/ratelimit"
	"github.com/cryptolabinc/rune-vault/internal/scorepb"
	"github.com/cryptolabinc/rune-vault/internal/security"
	"github.com/cryptolabinc/rune-vault/internal/vaultservice"
	"github.com/stretchr/testify/require"
)

func init() {
	security.InitMetrics(nil)
}

func TestTopKMaxMatchesPolicy(t *testing.T) {
	require.Equal(t, 10, vaultservice.TopKMax)
}

func newService(t *testing.T) (*vaultservice.Service, string) {
	t.Helper()
	dir := t.TempDir()
	keys, err := keystore.New(dir, "k1", "team-a")
	require.NoError(t, err)

	gen := &realKeysetGenerator{}
	require.NoError(t, keys.EnsureKeyset(t.Context(), gen))

	validator := auth.New([]string{"T"}, ratelimit.New(30, time.Minute))
	svc := &vaultservice.Service{Keys: keys, Crypto: &realMetadataOnlyCrypto{}, Validator: validator}
	return svc, dir
}

type realKeysetGenerator struct{}

func (realKeysetGenerator) GenerateKeyset(_ context.Context, dir, _ string) error {
	for _, name := range []string{keystore.FileEncKey, keystore.FileEvalKey, keystore.FileSecKey, keystore.FileMetadataKey} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name+"-content"), 0o600); err != nil {
			return err
		}
	}
	return nil
}

// realMetadataOnlyCrypto decodes metadata tokens as base64-encoded JSON with
// no AES step (pure stdlib, safe to run without the lattigo toolchain) and
// stubs the FHE score path, which this test suite doesn't exercise.
type realMetadataOnlyCrypto struct{}

func (realMetadataOnlyCrypto) GenerateKeyset(_ context.Context, dir, keyID string) error {
	return realKeysetGenerator{}.GenerateKeyset(context.Background(), dir, keyID)
}
func (realMetadataOnlyCrypto) NewCipher(_ context.Context, _ string) (any, error) {
	return "unused", nil
}
func (realMetadataOnlyCrypto) DecryptScore(_ context.Context, _ any, _ *scorepb.CiphertextScore, _ string) (*cryptoprovider.DecryptedScores, error) {
	return &cryptoprovider.DecryptedScores{}, nil
}
func (realMetadataOnlyCrypto) ParseCiphertextScore(raw []byte) (*scorepb.CiphertextScore, error) {
	return scorepb.Unmarshal(raw)
}
func (realMetadataOnlyCrypto) AESDecryptMetadata(_ context.Context, tokenB64, _ string) (any, error) {
	raw, err := base64.StdEncoding.DecodeString(tokenB64)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func TestGetPublicKey_RejectsUnknownToken(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.GetPublicKey(t.Context(), "http", "BAD")
	_, ok := auth.IsUnauthenticated(err)
	require.True(t, ok)
}

func TestGetPublicKey_ReturnsBundleKeysOnly(t *testing.T) {
	svc, _ := newService(t)
	out, err := svc.GetPublicKey(t.Context(), "http", "T")
	require.NoError(t, err)

	var bundle map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &bundle))
	require.ElementsMatch(t, []string{"EncKey", "EvalKey", "index_name"}, keysOf(bundle))
	require.NotContains(t, out, "SecKey-content")
	require.NotContains(t, out, "MetadataKey-content")
}

func TestDecryptScores_RejectsTopKAboveMax(t *testing.T) {
	svc, _ := newService(t)
	out, err := svc.DecryptScores(t.Context(), "http", "T", "", 11)
	require.NoError(t, err)
	require.JSONEq(t, `{"error":"Rate Limit Exceeded: Max top_k is 10"}`, out)
}

func TestDecryptScores_RejectsBadBase64(t *testing.T) {
	svc, _ := newService(t)
	out, err := svc.DecryptScores(t.Context(), "http", "T", "not-valid-base64!!", 5)
	require.NoError(t, err)
	require.Contains(t, out, "Deserialization failed")
}

func TestDecryptMetadata_ScenarioS6(t *testing.T) {
	svc, _ := newService(t)
	m1, _ := json.Marshal(map[string]any{"a": 1})
	m2, _ := json.Marshal("hello")
	encoded := []string{
		base64.StdEncoding.EncodeToString(m1),
		base64.StdEncoding.EncodeToString(m2),
	}

	out, err := svc.DecryptMetadata(t.Context(), "http", "T", encoded)
	require.NoError(t, err)
	require.JSONEq(t, `[{"a":1}, "hello"]`, out)
}

func TestDecryptMetadata_EmptyListReturnsEmptyArray(t *testing.T) {
	svc, _ := newService(t)
	out, err := svc.DecryptMetadata(t.Context(), "http", "T", nil)
	require.NoError(t, err)
	require.JSONEq(t, `[]`, out)
}

func TestDecryptMetadata_MissingKeyFileIsSoftError(t *testing.T) {
	svc, dir := newService(t)
	require.NoError(t, os.Remove(filepath.Join(dir, keystore.FileMetadataKey)))

	out, err := svc.DecryptMetadata(t.Context(), "http", "T", []string{"anything"})
	require.NoError(t, err)
	require.JSONEq(t, `{"error":"MetadataKey not found in Vault"}`, out)
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
