// Package cryptoprovider adapts the vault's narrow crypto interface (§4.2) to
// concrete primitives: CKKS fully-homomorphic encryption via lattigo for
// score ciphertexts, and AES-256-GCM (MSEH-enveloped, matching the teacher's
// metadata-encryption format) for metadata blobs.
package cryptoprovider

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cryptolabinc/rune-vault/internal/dataencryption"
	"github.com/cryptolabinc/rune-vault/internal/scorepb"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/schemes/ckks"
)

// metadataKeyProviderID identifies the MSEH provider for metadata envelopes.
const metadataKeyProviderID = "vault-metadata"

// DecryptedScores is the logical result of decrypting a CiphertextScore: a
// ragged 2-D sequence of per-shard scores, plus the shard identifier for
// each outer row.
type DecryptedScores struct {
	Scores   [][]float64
	ShardIdx []int64
}

// Provider is the narrow interface the vault depends on. See spec §4.2.
// NewCipher/DecryptScore pass the cipher handle as `any` rather than a
// concrete type: the handle is opaque to every caller outside the provider
// implementation, matching the spec's framing of the crypto provider as an
// external, swappable library.
type Provider interface {
	GenerateKeyset(ctx context.Context, dir, keyID string) error
	NewCipher(ctx context.Context, encKeyPath string) (any, error)
	DecryptScore(ctx context.Context, h any, cs *scorepb.CiphertextScore, secKeyPath string) (*DecryptedScores, error)
	AESDecryptMetadata(ctx context.Context, tokenB64, metadataKeyPath string) (any, error)
	ParseCiphertextScore(raw []byte) (*scorepb.CiphertextScore, error)
}

// keysetParams are the fixed CKKS parameters this vault generates and
// operates against. A single static parameter set keeps the keyset
// self-describing without needing to persist scheme parameters separately.
var keysetParams = ckks.ParametersLiteral{
	LogN:            14,
	LogQ:            []int{55, 45, 45, 45, 45},
	LogP:            []int{55},
	LogDefaultScale: 45,
}

// Lattigo is the CKKS + AES-GCM backed Provider implementation. It holds no
// mutable state of its own; each CipherHandle carries its own serialization
// lock around the non-thread-safe CKKS decryptor.
type Lattigo struct{}

// New returns a ready Lattigo provider.
func New() *Lattigo {
	return &Lattigo{}
}

// keysetFile is the JSON-serialized-blob envelope each keyset file holds.
// Its internals are opaque to every caller outside this package, per §3.
type keysetFile struct {
	SchemeParamsLogN int    `json:"scheme_params_log_n"`
	PayloadB64       string `json:"payload_b64"`
}

func writeKeysetFile(path string, payload []byte, logN int) error {
	blob, err := json.Marshal(keysetFile{
		SchemeParamsLogN: logN,
		PayloadB64:       base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}

func readKeysetFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f keysetFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("cryptoprovider: malformed keyset file %s: %w", path, err)
	}
	return base64.StdEncoding.DecodeString(f.PayloadB64)
}

// GenerateKeyset creates EncKey, EvalKey, SecKey (CKKS public key, relinearization
// key, and secret key), and a fresh random MetadataKey, writing all four to dir.
func (l *Lattigo) GenerateKeyset(_ context.Context, dir, _ string) error {
	params, err := ckks.NewParametersFromLiteral(keysetParams)
	if err != nil {
		return fmt.Errorf("cryptoprovider: building CKKS parameters: %w", err)
	}

	kgen := rlwe.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()
	rlk := kgen.GenRelinearizationKeyNew(sk)

	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("cryptoprovider: marshaling public key: %w", err)
	}
	rlkBytes, err := rlk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("cryptoprovider: marshaling evaluation key: %w", err)
	}
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("cryptoprovider: marshaling secret key: %w", err)
	}

	if err := writeKeysetFile(joinDir(dir, "EncKey"), pkBytes, keysetParams.LogN); err != nil {
		return err
	}
	if err := writeKeysetFile(joinDir(dir, "EvalKey"), rlkBytes, keysetParams.LogN); err != nil {
		return err
	}
	if err := writeKeysetFile(joinDir(dir, "SecKey"), skBytes, keysetParams.LogN); err != nil {
		return err
	}

	metadataKey := make([]byte, 32)
	if _, err := rand.Read(metadataKey); err != nil {
		return fmt.Errorf("cryptoprovider: generating metadata key: %w", err)
	}
	if err := os.WriteFile(joinDir(dir, "MetadataKey"), metadataKey, 0o600); err != nil {
		return fmt.Errorf("cryptoprovider: writing metadata key: %w", err)
	}
	return nil
}

func joinDir(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + string(os.PathSeparator) + name
}

// CipherHandle holds the decoded CKKS scheme parameters and public key
// loaded by NewCipher, plus the secret key loaded on first use. One handle
// is safe for concurrent DecryptScore calls.
type CipherHandle struct {
	params ckks.Parameters
	pk     *rlwe.PublicKey

	secOnce sync.Once
	secErr  error
	sk      *rlwe.SecretKey
	dec     *rlwe.Decryptor
	enc     *ckks.Encoder
	mu      sync.Mutex
}

// NewCipher loads EncKey into a CipherHandle. SecKey is loaded lazily on
// first DecryptScore call, since not every transport exercises it.
func (l *Lattigo) NewCipher(_ context.Context, encKeyPath string) (any, error) {
	params, err := ckks.NewParametersFromLiteral(keysetParams)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: building CKKS parameters: %w", err)
	}
	pkBytes, err := readKeysetFile(encKeyPath)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: reading EncKey: %w", err)
	}
	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(pkBytes); err != nil {
		return nil, fmt.Errorf("cryptoprovider: decoding EncKey: %w", err)
	}
	return &CipherHandle{params: params, pk: pk, enc: ckks.NewEncoder(params)}, nil
}

func (h *CipherHandle) ensureSecretKey(secKeyPath string) error {
	h.secOnce.Do(func() {
		skBytes, err := readKeysetFile(secKeyPath)
		if err != nil {
			h.secErr = fmt.Errorf("cryptoprovider: reading SecKey: %w", err)
			return
		}
		sk := new(rlwe.SecretKey)
		if err := sk.UnmarshalBinary(skBytes); err != nil {
			h.secErr = fmt.Errorf("cryptoprovider: decoding SecKey: %w", err)
			return
		}
		h.sk = sk
		h.dec = rlwe.NewDecryptor(h.params, sk)
	})
	return h.secErr
}

// DecryptScore decrypts every shard ciphertext in cs and decodes its
// plaintext SIMD slots into per-shard score rows, truncated to the shard's
// declared row count.
func (l *Lattigo) DecryptScore(_ context.Context, handle any, cs *scorepb.CiphertextScore, secKeyPath string) (*DecryptedScores, error) {
	h, ok := handle.(*CipherHandle)
	if !ok {
		return nil, fmt.Errorf("cryptoprovider: unexpected cipher handle type %T", handle)
	}
	if err := h.ensureSecretKey(secKeyPath); err != nil {
		return nil, err
	}

	shardIdx := cs.ShardIdx
	if len(shardIdx) == 0 {
		shardIdx = make([]int64, len(cs.Shards))
		for i := range shardIdx {
			shardIdx[i] = int64(i)
		}
	}

	// The CKKS decryptor/encoder pair is not documented safe for concurrent
	// use on a single handle; serialize here so callers never have to.
	h.mu.Lock()
	defer h.mu.Unlock()

	scores := make([][]float64, len(cs.Shards))
	for i, shardBytes := range cs.Shards {
		ct := new(rlwe.Ciphertext)
		if err := ct.UnmarshalBinary(shardBytes); err != nil {
			return nil, fmt.Errorf("cryptoprovider: decoding shard %d ciphertext: %w", i, err)
		}
		pt := h.dec.DecryptNew(ct)
		values := make([]float64, h.params.MaxSlots())
		if err := h.enc.Decode(pt, values); err != nil {
			return nil, fmt.Errorf("cryptoprovider: decoding shard %d plaintext: %w", i, err)
		}
		rowCount := len(values)
		if i < len(cs.RowCounts) && int(cs.RowCounts[i]) <= rowCount {
			rowCount = int(cs.RowCounts[i])
		}
		scores[i] = values[:rowCount]
	}

	return &DecryptedScores{Scores: scores, ShardIdx: shardIdx}, nil
}

// ParseCiphertextScore decodes raw bytes as a CiphertextScore protobuf.
func (l *Lattigo) ParseCiphertextScore(raw []byte) (*scorepb.CiphertextScore, error) {
	return scorepb.Unmarshal(raw)
}

// AESDecryptMetadata base64-decodes tokenB64, unwraps its MSEH envelope, and
// decrypts with the MetadataKey at metadataKeyPath. The decrypted plaintext
// is JSON-unmarshaled so callers get back its original shape (string,
// object, array, ...).
func (l *Lattigo) AESDecryptMetadata(_ context.Context, tokenB64, metadataKeyPath string) (any, error) {
	raw, err := base64.StdEncoding.DecodeString(tokenB64)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: decoding base64 metadata token: %w", err)
	}
	if !dataencryption.HasMagic(raw) {
		return nil, fmt.Errorf("cryptoprovider: metadata token missing MSEH envelope")
	}

	r := bytes.NewReader(raw)
	header, _, err := dataencryption.ReadHeader(r)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: reading metadata envelope header: %w", err)
	}
	ciphertext := make([]byte, r.Len())
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, fmt.Errorf("cryptoprovider: reading metadata ciphertext: %w", err)
	}

	key, err := os.ReadFile(metadataKeyPath)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: reading MetadataKey: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, header.Nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: decrypting metadata: %w", err)
	}

	var value any
	if err := json.Unmarshal(plaintext, &value); err != nil {
		// Not every plaintext is JSON-wrapped (e.g. a bare string written by
		// an older client); fall back to the raw string.
		return string(plaintext), nil
	}
	return value, nil
}

// EncryptMetadata is a test/operator convenience for producing MSEH-enveloped
// AES ciphertexts the vault can later decrypt — mirrors the teacher's dek
// provider's Encrypt, narrowed to the vault's single fixed metadata key.
func (l *Lattigo) EncryptMetadata(value any, metadataKeyPath string) (string, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	key, err := os.ReadFile(metadataKeyPath)
	if err != nil {
		return "", fmt.Errorf("cryptoprovider: reading MetadataKey: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	var buf bytes.Buffer
	if err := dataencryption.WriteHeader(&buf, dataencryption.Header{
		Version:    1,
		ProviderID: metadataKeyProviderID,
		Nonce:      nonce,
	}); err != nil {
		return "", err
	}
	buf.Write(ciphertext)
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
