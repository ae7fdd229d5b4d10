package httptool_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cryptolabinc/rune-vault/internal/auth"
	"github.com/cryptolabinc/rune-vault/internal/keystore"
	"github.com/cryptolabinc/rune-vault/internal/ratelimit"
	"github.com/cryptolabinc/rune-vault/internal/security"
	"github.com/cryptolabinc/rune-vault/internal/transport/httptool"
	"github.com/cryptolabinc/rune-vault/internal/vaultservice"
)

func init() {
	security.InitMetrics(nil)
}

func newService(t *testing.T) *vaultservice.Service {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{keystore.FileEncKey, keystore.FileEvalKey, keystore.FileMetadataKey} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name+"-content"), 0o600))
	}
	keys, err := keystore.New(dir, "k1", "team-a")
	require.NoError(t, err)

	validator := auth.New([]string{"T"}, ratelimit.New(30, time.Minute))
	return &vaultservice.Service{Keys: keys, Validator: validator}
}

func TestMux_GetPublicKey_RejectsUnknownToken(t *testing.T) {
	svc := newService(t)
	r := httptool.Mux(svc, nil)

	body := strings.NewReader(`{"token":"BAD"}`)
	req := httptest.NewRequest(http.MethodPost, "/tools/get_public_key", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMux_GetPublicKey_ReturnsBundle(t *testing.T) {
	svc := newService(t)
	r := httptool.Mux(svc, nil)

	body := strings.NewReader(`{"token":"T"}`)
	req := httptest.NewRequest(http.MethodPost, "/tools/get_public_key", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var bundle map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bundle))
	require.NotContains(t, bundle, "SecKey")
}

func TestMux_DecryptMetadata_EmptyList(t *testing.T) {
	svc := newService(t)
	r := httptool.Mux(svc, nil)

	body := strings.NewReader(`{"token":"T","encrypted_metadata_list":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/tools/decrypt_metadata", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[]`, w.Body.String())
}

func TestMux_Health_DegradesWithoutChecker(t *testing.T) {
	svc := newService(t)
	r := httptool.Mux(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"healthy"`)
}

func TestMux_Live_AlwaysOK(t *testing.T) {
	svc := newService(t)
	r := httptool.Mux(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestMux_Ready_FalseUntilMarked(t *testing.T) {
	svc := newService(t)
	r := httptool.Mux(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	httptool.MarkReady()

	req2 := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
}

func TestMux_Metrics_ServesPrometheusFormat(t *testing.T) {
	svc := newService(t)
	r := httptool.Mux(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "vault_")
}
