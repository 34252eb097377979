// Package chain supplies the engine's view of block heights and block hashes.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// HashWindow is how many recent block hashes an execution environment keeps
// queryable, mirroring the EVM BLOCKHASH window.
const HashWindow = 256

// BlockSource reports the latest sealed block and historical block hashes.
// BlockHash returns ok=false when the hash is no longer (or not yet) retrievable.
type BlockSource interface {
	Head(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, number uint64) (hash common.Hash, ok bool, err error)
}
