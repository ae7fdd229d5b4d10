// Package scorepb implements the wire codec for CiphertextScore, the
// binary protobuf blob clients submit to decrypt_scores. No protoc toolchain
// is available in this environment, so the message is hand-encoded directly
// on google.golang.org/protobuf/encoding/protowire — the same primitive a
// generated implementation would compile down to.
//
//	message CiphertextScore {
//	  repeated bytes shards     = 1; // one serialized FHE ciphertext per shard
//	  repeated int64 shard_idx  = 2; // optional; synthesized as [0..len(shards)) if absent
//	  repeated uint32 row_counts = 3; // valid score count per shard's decoded slots
//	}
package scorepb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldShards    protowire.Number = 1
	fieldShardIdx  protowire.Number = 2
	fieldRowCounts protowire.Number = 3
)

// CiphertextScore is the parsed form of a decrypt_scores request blob. Each
// Shards[i] is a serialized ciphertext whose decoded plaintext SIMD slots are
// that shard's per-row scores, truncated to RowCounts[i] valid entries.
type CiphertextScore struct {
	Shards    [][]byte
	ShardIdx  []int64
	RowCounts []uint32
}

// Marshal encodes cs into its protobuf wire-format bytes.
func Marshal(cs *CiphertextScore) []byte {
	var b []byte
	for _, shard := range cs.Shards {
		b = protowire.AppendTag(b, fieldShards, protowire.BytesType)
		b = protowire.AppendBytes(b, shard)
	}
	for _, idx := range cs.ShardIdx {
		b = protowire.AppendTag(b, fieldShardIdx, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(idx))
	}
	for _, count := range cs.RowCounts {
		b = protowire.AppendTag(b, fieldRowCounts, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(count))
	}
	return b
}

// Unmarshal decodes wire-format bytes into a CiphertextScore. Returns an
// error for malformed input — callers surface this as a soft
// "Deserialization failed" response, never a thrown error.
func Unmarshal(b []byte) (*CiphertextScore, error) {
	cs := &CiphertextScore{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("scorepb: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldShards:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("scorepb: invalid shards field: %w", protowire.ParseError(n))
			}
			cs.Shards = append(cs.Shards, append([]byte(nil), v...))
			b = b[n:]
		case fieldShardIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("scorepb: invalid shard_idx field: %w", protowire.ParseError(n))
			}
			cs.ShardIdx = append(cs.ShardIdx, int64(v))
			b = b[n:]
		case fieldRowCounts:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("scorepb: invalid row_counts field: %w", protowire.ParseError(n))
			}
			cs.RowCounts = append(cs.RowCounts, uint32(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("scorepb: invalid field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return cs, nil
}
