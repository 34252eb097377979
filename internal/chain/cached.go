package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// Cached memoizes hashes of blocks at least confirmations deep, which can no
// longer be reorganised away. Head is never cached.
type Cached struct {
	source        BlockSource
	confirmations uint64
	hashes        *lru.Cache
}

func NewCached(source BlockSource, size int, confirmations uint64) (*Cached, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "block hash cache")
	}
	return &Cached{source: source, confirmations: confirmations, hashes: cache}, nil
}

func (c *Cached) Head(ctx context.Context) (uint64, error) {
	return c.source.Head(ctx)
}

func (c *Cached) BlockHash(ctx context.Context, number uint64) (common.Hash, bool, error) {
	if v, ok := c.hashes.Get(number); ok {
		return v.(common.Hash), true, nil
	}

	hash, ok, err := c.source.BlockHash(ctx, number)
	if err != nil || !ok {
		return hash, ok, err
	}

	head, err := c.source.Head(ctx)
	if err == nil && head >= number+c.confirmations {
		c.hashes.Add(number, hash)
	}
	return hash, true, nil
}
