package chain

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedDeterministic(t *testing.T) {
	seed := common.HexToHash("0x5eed")
	a := NewSimulated(seed, zerolog.Nop())
	b := NewSimulated(seed, zerolog.Nop())

	assert.Equal(t, uint64(5), a.Mine(5))
	b.Mine(5)

	ctx := context.Background()
	for n := uint64(0); n <= 5; n++ {
		ha, ok, err := a.BlockHash(ctx, n)
		require.NoError(t, err)
		require.True(t, ok)
		hb, _, _ := b.BlockHash(ctx, n)
		assert.Equal(t, ha, hb, "block %d", n)
	}

	h1, _, _ := a.BlockHash(ctx, 1)
	h2, _, _ := a.BlockHash(ctx, 2)
	assert.NotEqual(t, h1, h2)

	_, ok, _ := a.BlockHash(ctx, 6)
	assert.False(t, ok, "future block has no hash")
}

func TestSimulatedHashWindow(t *testing.T) {
	s := NewSimulated(common.Hash{}, zerolog.Nop())
	s.Mine(HashWindow + 10)
	ctx := context.Background()

	_, ok, _ := s.BlockHash(ctx, 10)
	assert.False(t, ok, "outside the window")
	_, ok, _ = s.BlockHash(ctx, 11)
	assert.True(t, ok)

	head, _ := s.Head(ctx)
	assert.Equal(t, uint64(HashWindow+10), head)
}

type countingSource struct {
	*Simulated
	hashCalls int
}

func (c *countingSource) BlockHash(ctx context.Context, n uint64) (common.Hash, bool, error) {
	c.hashCalls++
	return c.Simulated.BlockHash(ctx, n)
}

func TestCachedOnlyConfirmed(t *testing.T) {
	src := &countingSource{Simulated: NewSimulated(common.Hash{}, zerolog.Nop())}
	src.Mine(10)

	c, err := NewCached(src, 16, 3)
	require.NoError(t, err)
	ctx := context.Background()

	want, _, _ := src.Simulated.BlockHash(ctx, 5)
	for i := 0; i < 3; i++ {
		got, ok, err := c.BlockHash(ctx, 5)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 1, src.hashCalls, "confirmed block served from cache")

	c.BlockHash(ctx, 9)
	c.BlockHash(ctx, 9)
	assert.Equal(t, 3, src.hashCalls, "shallow block always refetched")

	_, ok, _ := c.BlockHash(ctx, 42)
	assert.False(t, ok)
}
