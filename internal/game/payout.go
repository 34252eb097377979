package game

import (
	"math/bits"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"goatclash/internal/errs"
)

type CollectionMode string

const (
	// CollectDeferred leaves the stake with the bettor until settlement, backed
	// by their allowance. Only the net result ever moves.
	CollectDeferred CollectionMode = "deferred"
	// CollectEscrow pulls the stake into custody at placement.
	CollectEscrow CollectionMode = "escrow"
)

const (
	TokenDecimals = 18
	bpsDenom      = 10_000
)

// Rules are the game parameters fixed for the life of an engine.
type Rules struct {
	HouseEdgeBps          uint64
	HouseEdgeMinimum      *uint256.Int
	MinBet                *uint256.Int
	MaxAmount             *uint256.Int
	MaxModulo             uint64
	MaxMaskModulo         uint64
	BetExpirationBlocks   uint64
	BlockHashSafetyMargin uint64
	MinJackpotBet         *uint256.Int
	JackpotFee            *uint256.Int
	JackpotModulo         uint64
	// JackpotShare caps a single award; zero pays the whole pool.
	JackpotShare *uint256.Int
	Collection   CollectionMode
}

// Tokens converts whole tokens to base units.
func Tokens(n uint64) *uint256.Int {
	unit := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(TokenDecimals))
	return new(uint256.Int).Mul(uint256.NewInt(n), unit)
}

func DefaultRules() Rules {
	return Rules{
		HouseEdgeBps:          200,
		HouseEdgeMinimum:      new(uint256.Int),
		MinBet:                Tokens(1),
		MaxAmount:             Tokens(300_000),
		MaxModulo:             100,
		MaxMaskModulo:         40,
		BetExpirationBlocks:   250,
		BlockHashSafetyMargin: 16,
		MinJackpotBet:         Tokens(2_000),
		JackpotFee:            new(uint256.Int),
		JackpotModulo:         1000,
		JackpotShare:          new(uint256.Int),
		Collection:            CollectDeferred,
	}
}

func (r Rules) Validate() error {
	switch {
	case r.HouseEdgeBps >= bpsDenom:
		return errors.Wrap(errs.ErrInvalidRequest, "house edge must be below 100%")
	case r.MaxModulo < 2 || r.MaxMaskModulo > 64 || r.MaxMaskModulo > r.MaxModulo:
		return errors.Wrap(errs.ErrInvalidRequest, "modulo bounds")
	case r.JackpotModulo == 0:
		return errors.Wrap(errs.ErrInvalidRequest, "jackpot modulo must be positive")
	case r.MinBet == nil || r.MaxAmount == nil || r.MinBet.IsZero() || r.MinBet.Gt(r.MaxAmount):
		return errors.Wrap(errs.ErrInvalidRequest, "bet amount bounds")
	case r.HouseEdgeMinimum == nil || r.MinJackpotBet == nil || r.JackpotFee == nil || r.JackpotShare == nil:
		return errors.Wrap(errs.ErrInvalidRequest, "unset amount rule")
	case r.Collection != CollectDeferred && r.Collection != CollectEscrow:
		return errors.Wrapf(errs.ErrInvalidRequest, "collection mode %q", r.Collection)
	}
	return nil
}

// Quote is the admission-time pricing of a bet. PossibleWin is the locked
// liability and is never recomputed.
type Quote struct {
	Winners         uint64
	HouseEdge       *uint256.Int
	JackpotFee      *uint256.Int
	JackpotEligible bool
	PossibleWin     *uint256.Int
}

// Winners returns how many of the modulo outcomes the mask wins on. Small
// games encode the winning set as a bitmask, larger ones as a roll-under bound.
func (r Rules) Winners(mask, modulo uint64) (uint64, error) {
	if modulo < 2 || modulo > r.MaxModulo {
		return 0, errors.Wrapf(errs.ErrInvalidGameParameters, "modulo %d outside [2, %d]", modulo, r.MaxModulo)
	}

	var k uint64
	if modulo <= r.MaxMaskModulo {
		if mask == 0 || mask>>modulo != 0 {
			return 0, errors.Wrapf(errs.ErrInvalidGameParameters, "mask %#x invalid for modulo %d", mask, modulo)
		}
		k = uint64(bits.OnesCount64(mask))
	} else {
		if mask == 0 || mask >= modulo {
			return 0, errors.Wrapf(errs.ErrInvalidGameParameters, "roll-under %d invalid for modulo %d", mask, modulo)
		}
		k = mask
	}

	if k >= modulo {
		return 0, errors.Wrap(errs.ErrInvalidGameParameters, "bet covers every outcome")
	}
	return k, nil
}

// Wins reports whether outcome is in the winning set of mask.
func (r Rules) Wins(mask, modulo, outcome uint64) bool {
	if modulo <= r.MaxMaskModulo {
		return (mask>>outcome)&1 == 1
	}
	return outcome < mask
}

// Quote prices a bet: possibleWin = floor((amount - edge - fee) * modulo / k).
func (r Rules) Quote(amount *uint256.Int, mask, modulo uint64) (Quote, error) {
	if amount == nil || amount.Lt(r.MinBet) || amount.Gt(r.MaxAmount) {
		return Quote{}, errors.Wrapf(errs.ErrInvalidGameParameters, "amount outside [%s, %s]", r.MinBet.Dec(), r.MaxAmount.Dec())
	}
	k, err := r.Winners(mask, modulo)
	if err != nil {
		return Quote{}, err
	}

	edge, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(r.HouseEdgeBps))
	if overflow {
		return Quote{}, errors.Wrap(errs.ErrInvalidGameParameters, "house edge overflow")
	}
	edge.Div(edge, uint256.NewInt(bpsDenom))
	if edge.Lt(r.HouseEdgeMinimum) {
		edge.Set(r.HouseEdgeMinimum)
	}

	eligible := !amount.Lt(r.MinJackpotBet)
	fee := new(uint256.Int)
	if eligible {
		fee.Set(r.JackpotFee)
	}

	cost := new(uint256.Int).Add(edge, fee)
	if cost.Gt(amount) {
		return Quote{}, errors.Wrap(errs.ErrInvalidGameParameters, "bet does not cover house edge")
	}

	win, overflow := new(uint256.Int).MulOverflow(new(uint256.Int).Sub(amount, cost), uint256.NewInt(modulo))
	if overflow {
		return Quote{}, errors.Wrap(errs.ErrInvalidGameParameters, "payout overflow")
	}
	win.Div(win, uint256.NewInt(k))
	if !win.Gt(amount) {
		return Quote{}, errors.Wrapf(errs.ErrInvalidGameParameters, "payout %s does not exceed stake", win.Dec())
	}

	return Quote{
		Winners:         k,
		HouseEdge:       edge,
		JackpotFee:      fee,
		JackpotEligible: eligible,
		PossibleWin:     win,
	}, nil
}

// Profit is the bettor's net gain on a win.
func (q Quote) Profit(amount *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sub(q.PossibleWin, amount)
}

// Result is a resolved bet before any jackpot award.
type Result struct {
	Outcome       uint64
	Won           bool
	Payout        *uint256.Int
	JackpotNumber uint64
}

// Resolve settles a bet against its draw. The payout is the PossibleWin locked
// at admission, never a fresh quote.
func (r Rules) Resolve(b *Bet, d Draw) Result {
	res := Result{Outcome: d.Outcome, JackpotNumber: d.Jackpot, Payout: new(uint256.Int)}
	if r.Wins(b.Mask, b.Modulo, d.Outcome) {
		res.Won = true
		res.Payout.Set(b.PossibleWin)
	}
	return res
}
