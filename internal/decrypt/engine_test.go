package decrypt_test

import (
	"testing"

	"github.com/cryptolabinc/rune-vault/internal/decrypt"
	"github.com/stretchr/testify/require"
)

func TestTopK_ScenarioS1(t *testing.T) {
	scores := [][]float64{
		{0.1, 0.5, 0.3},
		{0.9, 0.2, 0.8},
		{0.4, 0.6, 0.7},
	}
	shardIdx := []int64{10, 20, 30}

	got := decrypt.TopK(scores, shardIdx, 4)

	require.Equal(t, []decrypt.Entry{
		{ShardIdx: 20, RowIdx: 0, Score: 0.9},
		{ShardIdx: 20, RowIdx: 2, Score: 0.8},
		{ShardIdx: 30, RowIdx: 2, Score: 0.7},
		{ShardIdx: 30, RowIdx: 1, Score: 0.6},
	}, got)
}

func TestTopK_ReturnsAllWhenFewerThanK(t *testing.T) {
	scores := [][]float64{{1.0, 2.0}}
	got := decrypt.TopK(scores, nil, 10)
	require.Len(t, got, 2)
	require.Equal(t, 2.0, got[0].Score)
	require.Equal(t, 1.0, got[1].Score)
}

func TestTopK_EmptyYieldsEmpty(t *testing.T) {
	got := decrypt.TopK(nil, nil, 5)
	require.Empty(t, got)
}

func TestTopK_TieBreakByShardThenRow(t *testing.T) {
	scores := [][]float64{
		{5.0, 5.0},
		{5.0},
	}
	shardIdx := []int64{2, 1}
	got := decrypt.TopK(scores, shardIdx, 3)

	require.Equal(t, []decrypt.Entry{
		{ShardIdx: 1, RowIdx: 0, Score: 5.0},
		{ShardIdx: 2, RowIdx: 0, Score: 5.0},
		{ShardIdx: 2, RowIdx: 1, Score: 5.0},
	}, got)
}

func TestTopK_SynthesizesShardIdxWhenAbsent(t *testing.T) {
	scores := [][]float64{{1.0}, {2.0}}
	got := decrypt.TopK(scores, nil, 2)
	require.Equal(t, int64(1), got[0].ShardIdx)
	require.Equal(t, int64(0), got[1].ShardIdx)
}
