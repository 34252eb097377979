package game

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"goatclash/internal/errs"
)

// Debt is what bettor still owes for deferred losses.
func (e *Engine) Debt(bettor common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.debtOf(bettor).Clone()
}

// CollectDebt pulls a bettor's whole debt through their allowance. Anyone may
// trigger it since the funds only move from the bettor to custody.
func (e *Engine) CollectDebt(ctx context.Context, caller, bettor common.Address) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With().Str("op", "collect_debt").Str("caller", caller.Hex()).Str("bettor", bettor.Hex()).Logger()
	rec, err := e.collectDebt(ctx, bettor)
	if err != nil {
		log.Warn().Err(err).Msg("debt collection rejected")
		return Receipt{}, err
	}
	log.Info().Str("amount", rec.Events[0].Amount).Msg("debt collected")
	return rec, nil
}

func (e *Engine) collectDebt(ctx context.Context, bettor common.Address) (Receipt, error) {
	if err := e.usable(); err != nil {
		return Receipt{}, err
	}
	debt, ok := e.debts[bettor]
	if !ok {
		return Receipt{}, errors.Wrapf(errs.ErrInvalidRequest, "%s owes nothing", bettor.Hex())
	}
	if err := e.custody.Pull(ctx, bettor, debt); err != nil {
		return Receipt{}, err
	}
	delete(e.debts, bettor)

	ev := e.event(EventDebtCollected, nil)
	ev.Beneficiary = &bettor
	ev.Amount = debt.Dec()
	return e.commit(nil, ev), nil
}
