package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// RPC reads the chain over JSON-RPC.
type RPC struct {
	client *ethclient.Client
}

func DialRPC(ctx context.Context, url string) (*RPC, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return &RPC{client: client}, nil
}

func (r *RPC) Head(ctx context.Context) (uint64, error) {
	n, err := r.client.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "block number")
	}
	return n, nil
}

func (r *RPC) BlockHash(ctx context.Context, number uint64) (common.Hash, bool, error) {
	header, err := r.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if errors.Is(err, ethereum.NotFound) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, errors.Wrapf(err, "header %d", number)
	}
	return header.Hash(), true, nil
}

func (r *RPC) Close() {
	r.client.Close()
}
