// Package token is the boundary to the fungible-token ledger that holds the
// wager currency. The engine only sees the standard balance/allowance/transfer
// surface, bound to its own identity as the calling account.
package token

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"goatclash/internal/errs"
)

// Token is a ledger view bound to one calling account: Transfer moves the caller's
// funds and TransferFrom spends an allowance granted to the caller.
type Token interface {
	Address() common.Address
	BalanceOf(ctx context.Context, who common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// Resolver binds a token address to a caller-scoped view.
type Resolver interface {
	Resolve(ctx context.Context, token, caller common.Address) (Token, error)
}

// Custody is the engine's handle on its pooled bankroll.
type Custody struct {
	token Token
	self  common.Address
}

func NewCustody(t Token, self common.Address) *Custody {
	return &Custody{token: t, self: self}
}

func (c *Custody) Token() common.Address {
	return c.token.Address()
}

// Balance is the engine's custodied token balance.
func (c *Custody) Balance(ctx context.Context) (*uint256.Int, error) {
	bal, err := c.token.BalanceOf(ctx, c.self)
	if err != nil {
		return nil, errors.Wrap(err, "custody balance")
	}
	return bal, nil
}

// Covered reports an error unless from holds, and has allowed the engine to
// spend, at least amount.
func (c *Custody) Covered(ctx context.Context, from common.Address, amount *uint256.Int) error {
	bal, err := c.token.BalanceOf(ctx, from)
	if err != nil {
		return errors.Wrap(err, "bettor balance")
	}
	if bal.Lt(amount) {
		return errors.Wrapf(errs.ErrTokenTransfer, "balance %s below %s", bal.Dec(), amount.Dec())
	}
	allowed, err := c.token.Allowance(ctx, from, c.self)
	if err != nil {
		return errors.Wrap(err, "bettor allowance")
	}
	if allowed.Lt(amount) {
		return errors.Wrapf(errs.ErrTokenTransfer, "allowance %s below %s", allowed.Dec(), amount.Dec())
	}
	return nil
}

// Pull debits amount from an account through its allowance.
func (c *Custody) Pull(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := c.token.TransferFrom(ctx, from, c.self, amount); err != nil {
		return errors.Wrapf(errs.ErrTokenTransfer, "pull %s from %s: %v", amount.Dec(), from.Hex(), err)
	}
	return nil
}

// Push pays amount out of custody.
func (c *Custody) Push(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := c.token.Transfer(ctx, to, amount); err != nil {
		return errors.Wrapf(errs.ErrTokenTransfer, "push %s to %s: %v", amount.Dec(), to.Hex(), err)
	}
	return nil
}
