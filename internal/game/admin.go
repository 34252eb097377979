package game

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"goatclash/internal/access"
	"goatclash/internal/errs"
	"goatclash/internal/token"
)

// admin runs an owner-or-role operation under the engine lock with the shared
// logging of admin calls.
func (e *Engine) admin(op string, caller common.Address, fn func() (Receipt, error)) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With().Str("op", op).Str("caller", caller.Hex()).Logger()
	if e.decommissioned {
		log.Warn().Err(errs.ErrDecommissioned).Msg("admin call rejected")
		return Receipt{}, errs.ErrDecommissioned
	}
	rec, err := fn()
	if err != nil {
		log.Warn().Err(err).Msg("admin call rejected")
		return Receipt{}, err
	}
	log.Info().Msg("admin call applied")
	return rec, nil
}

func (e *Engine) SetToken(ctx context.Context, caller, addr common.Address) (Receipt, error) {
	return e.admin("set_token", caller, func() (Receipt, error) {
		if err := e.roles.RequireOwner(caller); err != nil {
			return Receipt{}, err
		}
		if len(e.pending) > 0 || !e.locked.IsZero() {
			return Receipt{}, errors.Wrap(errs.ErrOpenBets, "cannot switch token with locked liability")
		}
		if err := e.bindToken(ctx, addr); err != nil {
			return Receipt{}, err
		}
		ev := e.event(EventTokenChanged, nil)
		ev.Beneficiary = &addr
		return e.commit(nil, ev), nil
	})
}

func (e *Engine) bindToken(ctx context.Context, addr common.Address) error {
	if addr == (common.Address{}) {
		return errors.Wrap(errs.ErrTokenNotSet, "zero token address")
	}
	t, err := e.tokens.Resolve(ctx, addr, e.self)
	if err != nil {
		return err
	}
	e.tokenAddr = addr
	e.custody = token.NewCustody(t, e.self)
	return nil
}

func (e *Engine) SetCroupier(caller, croupier common.Address) (Receipt, error) {
	return e.admin("set_croupier", caller, func() (Receipt, error) {
		return e.setRoles(e.roles.WithCroupier(caller, croupier))
	})
}

func (e *Engine) SetSecretSigner(caller, signer common.Address) (Receipt, error) {
	return e.admin("set_secret_signer", caller, func() (Receipt, error) {
		return e.setRoles(e.roles.WithSecretSigner(caller, signer))
	})
}

func (e *Engine) ApproveNextOwner(caller, next common.Address) (Receipt, error) {
	return e.admin("approve_next_owner", caller, func() (Receipt, error) {
		return e.setRoles(e.roles.ApproveNextOwner(caller, next))
	})
}

func (e *Engine) AcceptNextOwner(caller common.Address) (Receipt, error) {
	return e.admin("accept_next_owner", caller, func() (Receipt, error) {
		return e.setRoles(e.roles.AcceptNextOwner(caller))
	})
}

func (e *Engine) setRoles(roles access.Roles, err error) (Receipt, error) {
	if err != nil {
		return Receipt{}, err
	}
	e.roles = roles
	return e.commit(nil, e.event(EventRolesChanged, nil)), nil
}

// SetMaxProfit changes the exposure cap for bets admitted from now on.
func (e *Engine) SetMaxProfit(caller common.Address, v *uint256.Int) (Receipt, error) {
	return e.admin("set_max_profit", caller, func() (Receipt, error) {
		if err := e.roles.RequireOwner(caller); err != nil {
			return Receipt{}, err
		}
		if v == nil || !v.Lt(e.rules.MaxAmount) {
			return Receipt{}, errors.Wrapf(errs.ErrInvalidRequest, "max profit must be below %s", e.rules.MaxAmount.Dec())
		}
		e.maxProfit.Set(v)
		ev := e.event(EventMaxProfitChanged, nil)
		ev.Amount = v.Dec()
		return e.commit(nil, ev), nil
	})
}

// IncreaseJackpot moves free custodied balance into the jackpot reserve.
func (e *Engine) IncreaseJackpot(ctx context.Context, caller common.Address, v *uint256.Int) (Receipt, error) {
	return e.admin("increase_jackpot", caller, func() (Receipt, error) {
		if err := e.roles.RequireOwner(caller); err != nil {
			return Receipt{}, err
		}
		if err := e.requireFree(ctx, v); err != nil {
			return Receipt{}, err
		}
		e.jackpot.Add(v)
		ev := e.event(EventJackpotIncreased, nil)
		ev.Amount = v.Dec()
		return e.commit(nil, ev), nil
	})
}

// WithdrawFunds pays out balance that backs neither open bets nor the jackpot.
func (e *Engine) WithdrawFunds(ctx context.Context, caller, to common.Address, v *uint256.Int) (Receipt, error) {
	return e.admin("withdraw_funds", caller, func() (Receipt, error) {
		if err := e.roles.RequireOwner(caller); err != nil {
			return Receipt{}, err
		}
		if to == (common.Address{}) {
			return Receipt{}, errors.Wrap(errs.ErrInvalidRequest, "withdraw to zero address")
		}
		if err := e.requireFree(ctx, v); err != nil {
			return Receipt{}, err
		}
		if err := e.custody.Push(ctx, to, v); err != nil {
			return Receipt{}, err
		}
		ev := e.event(EventFundsWithdrawn, nil)
		ev.Beneficiary = &to
		ev.Amount = v.Dec()
		return e.commit(nil, ev), nil
	})
}

func (e *Engine) requireFree(ctx context.Context, v *uint256.Int) error {
	if e.custody == nil {
		return errs.ErrTokenNotSet
	}
	if v == nil || v.IsZero() {
		return errors.Wrap(errs.ErrInvalidRequest, "amount must be positive")
	}
	balance, err := e.custody.Balance(ctx)
	if err != nil {
		return errors.Wrap(errs.ErrServiceUnavailable, err.Error())
	}
	if free := e.free(balance); v.Gt(free) {
		return errors.Wrapf(errs.ErrInsufficientFunds, "%s requested, %s free", v.Dec(), free.Dec())
	}
	return nil
}

// Decommission is the terminal transition. Without force it requires that no
// bet is pending. With force every pending bet is canceled and refunded first.
// The whole custodied balance then goes to the owner.
func (e *Engine) Decommission(ctx context.Context, caller common.Address, force bool) (Receipt, error) {
	return e.admin("decommission", caller, func() (Receipt, error) {
		if err := e.roles.RequireOwner(caller); err != nil {
			return Receipt{}, err
		}
		if len(e.pending) > 0 && !force {
			return Receipt{}, errors.Wrapf(errs.ErrOpenBets, "%d pending bets", len(e.pending))
		}

		var events []Event
		if e.custody != nil {
			bets := make([]*Bet, 0, len(e.pending))
			for _, b := range e.pending {
				bets = append(bets, b)
			}
			sortBets(bets)
			if err := e.coverRefunds(ctx, bets); err != nil {
				return Receipt{}, err
			}
			for _, b := range bets {
				snap, err := e.refund(ctx, b)
				if err != nil {
					e.emit(events)
					return Receipt{}, errors.Wrapf(err, "force cancel %s", b.Commitment.Hex())
				}
				events = append(events, e.canceledEvent(snap))
			}

			balance, err := e.custody.Balance(ctx)
			if err != nil {
				e.emit(events)
				return Receipt{}, errors.Wrap(errs.ErrServiceUnavailable, err.Error())
			}
			if err := e.custody.Push(ctx, e.roles.Owner, balance); err != nil {
				e.emit(events)
				return Receipt{}, err
			}
			owner := e.roles.Owner
			sweep := e.event(EventFundsWithdrawn, nil)
			sweep.Beneficiary = &owner
			sweep.Amount = balance.Dec()
			events = append(events, sweep)
		}

		e.jackpot.Clear()
		e.decommissioned = true
		events = append(events, e.event(EventDecommissioned, nil))
		return e.commit(nil, events...), nil
	})
}

// coverRefunds checks, before anything moves, that custody holds every
// escrowed stake a forced decommission must return.
func (e *Engine) coverRefunds(ctx context.Context, bets []*Bet) error {
	total := new(uint256.Int)
	for _, b := range bets {
		if b.Escrowed {
			total.Add(total, b.Amount)
		}
	}
	balance, err := e.custody.Balance(ctx)
	if err != nil {
		return errors.Wrap(errs.ErrServiceUnavailable, err.Error())
	}
	if total.Gt(balance) {
		return errors.Wrapf(errs.ErrInsolvencyRisk, "refunds need %s, custody holds %s", total.Dec(), balance.Dec())
	}
	return nil
}

// emit publishes the cancellations already applied when a transfer is refused
// after the refund check. Each applied cancel is final; the call can be retried.
func (e *Engine) emit(events []Event) {
	if len(events) > 0 {
		e.commit(nil, events...)
	}
}
