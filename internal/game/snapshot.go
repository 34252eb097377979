package game

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"goatclash/internal/errs"
)

// Snapshot is the durable part of the ledger. Resolved bets are represented
// only by their spent commitments.
type Snapshot struct {
	State   StateView
	Pending []BetView
	Spent   []common.Hash
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending := e.pendingSorted()
	snap := Snapshot{
		State:   e.state(),
		Pending: make([]BetView, 0, len(pending)),
		Spent:   make([]common.Hash, 0, len(e.spent)),
	}
	for _, b := range pending {
		snap.Pending = append(snap.Pending, b.View())
	}
	for c := range e.spent {
		snap.Spent = append(snap.Spent, c)
	}
	return snap
}

// Restore rebuilds a fresh engine from a snapshot. Locked liability is
// recomputed from the pending bets.
func (e *Engine) Restore(ctx context.Context, snap Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.spent) > 0 || e.seq > 0 {
		return errors.Wrap(errs.ErrInvalidRequest, "restore into an engine that has already run")
	}

	maxProfit, err := ParseAmount(snap.State.MaxProfit)
	if err != nil {
		return errors.Wrap(err, "max profit")
	}
	jackpot, err := ParseAmount(snap.State.Jackpot)
	if err != nil {
		return errors.Wrap(err, "jackpot")
	}
	stored, err := ParseAmount(snap.State.Locked)
	if err != nil {
		return errors.Wrap(err, "locked")
	}

	debts := make(map[common.Address]*uint256.Int, len(snap.State.Debts))
	for who, v := range snap.State.Debts {
		d, err := ParseAmount(v)
		if err != nil {
			return errors.Wrapf(err, "debt of %s", who.Hex())
		}
		if !d.IsZero() {
			debts[who] = d
		}
	}

	pending := make(map[common.Hash]*Bet, len(snap.Pending))
	for _, v := range snap.Pending {
		b, err := v.Bet()
		if err != nil {
			return err
		}
		if b.Status != StatusPending {
			return errors.Wrapf(errs.ErrInvalidRequest, "bet %s is %s, not pending", b.Commitment.Hex(), b.Status)
		}
		pending[b.Commitment] = b
	}

	if snap.State.Token != (common.Address{}) {
		if err := e.bindToken(ctx, snap.State.Token); err != nil {
			return err
		}
	}

	e.roles = snap.State.Roles
	e.maxProfit = maxProfit
	e.jackpot = NewJackpotPool(jackpot)
	e.decommissioned = snap.State.Decommissioned
	e.seq = snap.State.Seq
	e.debts = debts
	for _, c := range snap.Spent {
		e.spent[c] = struct{}{}
	}
	for c, b := range pending {
		e.pending[c] = b
		e.spent[c] = struct{}{}
		e.locked.Add(e.locked, b.PossibleWin)
		if !b.Escrowed {
			e.held[b.Bettor] = sum(e.heldBy(b.Bettor), b.Amount)
		}
	}

	if !e.locked.Eq(stored) {
		e.logger.Warn().
			Str("stored", stored.Dec()).
			Str("recomputed", e.locked.Dec()).
			Msg("locked liability differs from stored state, using pending bets")
	}
	e.logger.Info().
		Int("pending", len(e.pending)).
		Int("spent", len(e.spent)).
		Int("debtors", len(e.debts)).
		Uint64("seq", e.seq).
		Msg("engine restored")
	return nil
}
