// Package vaultservice implements the request handlers (C7): the three
// vault operations, each of which returns a Go error only for
// authentication/rate-limit failures, reports every other failure as a JSON
// soft error, and emits metrics exactly once per call through a shared
// helper regardless of outcome.
package vaultservice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cryptolabinc/rune-vault/internal/auth"
	"github.com/cryptolabinc/rune-vault/internal/cryptoprovider"
	"github.com/cryptolabinc/rune-vault/internal/decrypt"
	"github.com/cryptolabinc/rune-vault/internal/keystore"
	"github.com/cryptolabinc/rune-vault/internal/metadata"
	"github.com/cryptolabinc/rune-vault/internal/security"
)

// TopKMax is the policy ceiling on decrypt_scores' top_k argument (§4.5).
const TopKMax = 10

// DefaultTopK is applied when a transport omits top_k.
const DefaultTopK = 5

// Service wires together the key store, crypto provider, token validator,
// and decryption components behind the three operations every transport
// delegates to.
type Service struct {
	Keys      *keystore.Store
	Crypto    cryptoprovider.Provider
	Validator *auth.Validator
}

// softError builds the canonical `{"error": "..."}` response payload.
func softError(format string, args ...any) string {
	b, _ := json.Marshal(map[string]string{"error": fmt.Sprintf(format, args...)})
	return string(b)
}

// record emits the shared {method,transport,status} counter and
// {method,transport} duration histogram exactly once per call.
func record(method, transport, status string, start time.Time) {
	security.VaultRequestsTotal.WithLabelValues(method, transport, status).Inc()
	security.VaultRequestDuration.WithLabelValues(method, transport).Observe(time.Since(start).Seconds())
}

// GetPublicKey returns the JSON-encoded public bundle for a validated token.
// A thrown error (non-nil return) means Unauthenticated or RateLimited; the
// transport adapter is responsible for mapping it to a protocol-level
// failure. Anything else is reported in-band as a JSON string.
func (s *Service) GetPublicKey(ctx context.Context, transport, token string) (string, error) {
	start := time.Now()
	const method = "get_public_key"

	if err := s.Validator.Validate(token); err != nil {
		record(method, transport, authStatus(err), start)
		return "", err
	}

	bundle, err := s.Keys.ReadPublicBundle()
	if err != nil {
		record(method, transport, "error", start)
		return softError("Internal error reading key bundle: %v", err), nil
	}

	b, err := json.Marshal(bundle)
	if err != nil {
		record(method, transport, "error", start)
		return softError("Internal error encoding key bundle: %v", err), nil
	}
	record(method, transport, "success", start)
	return string(b), nil
}

// DecryptScores decrypts a client-supplied ciphertext-score blob and returns
// the JSON-encoded global top-K ranked entries, or a soft error object.
// A new cipher handle is built from EncKey on every call; handles are not
// cached across requests.
func (s *Service) DecryptScores(ctx context.Context, transport, token, blobB64 string, topK int) (string, error) {
	start := time.Now()
	const method = "decrypt_scores"

	if err := s.Validator.Validate(token); err != nil {
		record(method, transport, authStatus(err), start)
		return "", err
	}

	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > TopKMax {
		record(method, transport, "error", start)
		return softError("Rate Limit Exceeded: Max top_k is %d", TopKMax), nil
	}

	raw, err := base64.StdEncoding.DecodeString(blobB64)
	if err != nil {
		record(method, transport, "error", start)
		return softError("Deserialization failed: %v", err), nil
	}
	cs, err := s.Crypto.ParseCiphertextScore(raw)
	if err != nil {
		record(method, transport, "error", start)
		return softError("Deserialization failed: %v", err), nil
	}

	cipher, err := s.Crypto.NewCipher(ctx, s.Keys.EncKeyPath())
	if err != nil {
		security.VaultDecryptionOperations.WithLabelValues(method, "error").Inc()
		record(method, transport, "error", start)
		return softError("Decryption failed: %v", err), nil
	}

	decrypted, err := s.Crypto.DecryptScore(ctx, cipher, cs, s.Keys.SecKeyPath())
	if err != nil {
		security.VaultDecryptionOperations.WithLabelValues(method, "error").Inc()
		record(method, transport, "error", start)
		return softError("Decryption failed: %v", err), nil
	}
	security.VaultDecryptionOperations.WithLabelValues(method, "success").Inc()

	entries := decrypt.TopK(decrypted.Scores, decrypted.ShardIdx, topK)
	b, err := json.Marshal(entries)
	if err != nil {
		record(method, transport, "error", start)
		return softError("Internal error encoding result: %v", err), nil
	}
	record(method, transport, "success", start)
	return string(b), nil
}

// DecryptMetadata decrypts a batch of base64 AES-encrypted metadata tokens
// and returns the JSON-encoded array of decrypted plaintext values, or a
// soft error object.
func (s *Service) DecryptMetadata(ctx context.Context, transport, token string, encryptedList []string) (string, error) {
	start := time.Now()
	const method = "decrypt_metadata"

	if err := s.Validator.Validate(token); err != nil {
		record(method, transport, authStatus(err), start)
		return "", err
	}

	if !s.Keys.MetadataKeyPresent() {
		record(method, transport, "error", start)
		return softError("MetadataKey not found in Vault"), nil
	}

	values, err := metadata.DecryptBatch(ctx, s.Crypto, encryptedList, s.Keys.MetadataKeyPath())
	if err != nil {
		security.VaultDecryptionOperations.WithLabelValues(method, "error").Inc()
		record(method, transport, "error", start)
		return softError("Metadata decryption failed: %v", err), nil
	}
	security.VaultDecryptionOperations.WithLabelValues(method, "success").Inc()

	b, err := json.Marshal(values)
	if err != nil {
		record(method, transport, "error", start)
		return softError("Internal error encoding result: %v", err), nil
	}
	record(method, transport, "success", start)
	return string(b), nil
}

func authStatus(err error) string {
	if _, ok := auth.IsRateLimited(err); ok {
		return "rate_limited"
	}
	return "unauthenticated"
}
