// Package dataencryption provides the MSEH envelope format used to wrap
// AES-256-GCM metadata ciphertexts with a small self-describing header.
//
// Wire format:
//
//	[4 bytes: 0x4D 0x53 0x45 0x48]  "MSEH" magic
//	[varint32: header byte length]
//	[header fields, protobuf wire encoding: version, provider_id, nonce]
//	[ciphertext bytes]
package dataencryption

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

var magic = [4]byte{0x4D, 0x53, 0x45, 0x48} // "MSEH"

const (
	fieldVersion    protowire.Number = 1
	fieldProviderID protowire.Number = 2
	fieldNonce      protowire.Number = 3
)

// Header is the decoded MSEH envelope header.
type Header struct {
	Version    uint32
	ProviderID string
	Nonce      []byte
}

// HasMagic reports whether b starts with the MSEH magic bytes.
func HasMagic(b []byte) bool {
	return len(b) >= 4 &&
		b[0] == magic[0] && b[1] == magic[1] && b[2] == magic[2] && b[3] == magic[3]
}

// WriteHeader encodes h as an MSEH envelope prefix and writes it to w.
func WriteHeader(w io.Writer, h Header) error {
	var headerBytes []byte
	headerBytes = protowire.AppendTag(headerBytes, fieldVersion, protowire.VarintType)
	headerBytes = protowire.AppendVarint(headerBytes, uint64(h.Version))
	headerBytes = protowire.AppendTag(headerBytes, fieldProviderID, protowire.BytesType)
	headerBytes = protowire.AppendString(headerBytes, h.ProviderID)
	headerBytes = protowire.AppendTag(headerBytes, fieldNonce, protowire.BytesType)
	headerBytes = protowire.AppendBytes(headerBytes, h.Nonce)

	buf := make([]byte, 4+varintLen(uint32(len(headerBytes)))+len(headerBytes))
	copy(buf[:4], magic[:])
	n := putVarint32(buf[4:], uint32(len(headerBytes)))
	copy(buf[4+n:], headerBytes)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads the MSEH magic + varint + header fields from r.
// Returns (header, true, nil) on success, (nil, false, nil) if magic is absent,
// or (nil, true, err) on a read error after the magic has been confirmed present.
func ReadHeader(r io.Reader) (*Header, bool, error) {
	var mgc [4]byte
	if _, err := io.ReadFull(r, mgc[:]); err != nil {
		return nil, false, nil // not enough bytes — treat as no magic
	}
	if mgc != magic {
		return nil, false, nil
	}
	headerLen, err := readVarint32(r)
	if err != nil {
		return nil, true, fmt.Errorf("mseh: reading header length: %w", err)
	}
	// Guard against a crafted header advertising a huge length.
	// Current providers write: version varint + provider-ID string + 12-byte AES-GCM nonce,
	// which is well under 64 bytes. 4 KiB is orders of magnitude above any legitimate value.
	const maxHeaderLen = 4096
	if headerLen > maxHeaderLen {
		return nil, true, fmt.Errorf("mseh: header length %d exceeds maximum %d", headerLen, maxHeaderLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, true, fmt.Errorf("mseh: reading header bytes: %w", err)
	}
	h, err := decodeHeader(headerBytes)
	if err != nil {
		return nil, true, fmt.Errorf("mseh: decoding header: %w", err)
	}
	return h, true, nil
}

func decodeHeader(b []byte) (*Header, error) {
	h := &Header{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldVersion:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			h.Version = uint32(v)
			b = b[n:]
		case fieldProviderID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			h.ProviderID = string(v)
			b = b[n:]
		case fieldNonce:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			h.Nonce = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return h, nil
}

// ── varint32 helpers (outer MSEH framing only; header field encoding goes through protowire) ──

func putVarint32(b []byte, v uint32) int {
	n := 0
	for v >= 0x80 {
		b[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	b[n] = byte(v)
	return n + 1
}

func varintLen(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func readVarint32(r io.Reader) (uint32, error) {
	var v uint32
	var buf [1]byte
	for i := range 5 {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		v |= uint32(buf[0]&0x7F) << (7 * uint(i))
		if buf[0]&0x80 == 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("mseh: varint32 overflow")
}
