// Package metadata implements the metadata decryption component (C6): batch
// AES decryption via the crypto provider, with single-failure-fails-whole-batch
// semantics to avoid leaking which item in a batch was malformed.
package metadata

import (
	"context"
	"fmt"
)

// Decryptor decrypts a single base64 AES-GCM metadata token.
type Decryptor interface {
	AESDecryptMetadata(ctx context.Context, tokenB64, metadataKeyPath string) (any, error)
}

// DecryptBatch decrypts every element of encrypted, short-circuiting on the
// first failure. There is no per-item error isolation: callers must not
// report which index failed, to avoid leaking that information to probing
// clients.
func DecryptBatch(ctx context.Context, dec Decryptor, encrypted []string, metadataKeyPath string) ([]any, error) {
	out := make([]any, 0, len(encrypted))
	for _, tokenB64 := range encrypted {
		value, err := dec.AESDecryptMetadata(ctx, tokenB64, metadataKeyPath)
		if err != nil {
			return nil, fmt.Errorf("metadata decryption failed: %w", err)
		}
		out = append(out, value)
	}
	return out, nil
}
