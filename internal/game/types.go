package game

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"goatclash/internal/access"
	"goatclash/internal/errs"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusSettled  Status = "settled"
	StatusCanceled Status = "canceled"
)

// Bet is owned by the engine; callers only ever receive clones.
type Bet struct {
	Commitment      common.Hash
	Bettor          common.Address
	Amount          *uint256.Int
	Mask            uint64
	Modulo          uint64
	CommitBlock     uint64
	PossibleWin     *uint256.Int
	HouseEdge       *uint256.Int
	JackpotFee      *uint256.Int
	JackpotEligible bool
	Escrowed        bool
	Status          Status
	PlacedAt        time.Time
	ResolvedAt      time.Time
	Settlement      *Settlement
}

type Settlement struct {
	Reveal        common.Hash
	BlockHash     common.Hash
	HashVerified  bool
	Outcome       uint64
	Won           bool
	Payout        *uint256.Int
	JackpotPayout *uint256.Int
	// Uncollected is the part of a deferred loss the bettor's allowance did
	// not cover. It is owed as debt.
	Uncollected *uint256.Int
}

func (b *Bet) Clone() *Bet {
	c := *b
	c.Amount = b.Amount.Clone()
	c.PossibleWin = b.PossibleWin.Clone()
	c.HouseEdge = b.HouseEdge.Clone()
	c.JackpotFee = b.JackpotFee.Clone()
	if b.Settlement != nil {
		s := *b.Settlement
		s.Payout = b.Settlement.Payout.Clone()
		s.JackpotPayout = b.Settlement.JackpotPayout.Clone()
		if b.Settlement.Uncollected != nil {
			s.Uncollected = b.Settlement.Uncollected.Clone()
		}
		c.Settlement = &s
	}
	return &c
}

// Reward is PossibleWin / Amount, the multiplier fixed at admission.
func (b *Bet) Reward() decimal.Decimal {
	if b.Amount.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(b.PossibleWin.ToBig(), 0).
		Div(decimal.NewFromBigInt(b.Amount.ToBig(), 0))
}

// BetView is the wire form of a bet: amounts are decimal strings.
type BetView struct {
	Commitment      common.Hash    `json:"commitment"`
	Bettor          common.Address `json:"bettor"`
	Amount          string         `json:"amount"`
	Mask            uint64         `json:"mask"`
	Modulo          uint64         `json:"modulo"`
	CommitBlock     uint64         `json:"commit_block"`
	PossibleWin     string         `json:"possible_win"`
	HouseEdge       string         `json:"house_edge"`
	JackpotFee      string         `json:"jackpot_fee"`
	JackpotEligible bool           `json:"jackpot_eligible"`
	Escrowed        bool           `json:"escrowed"`
	Reward          string         `json:"reward"`
	Status          Status         `json:"status"`
	PlacedAt        time.Time      `json:"placed_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`

	Reveal        *common.Hash `json:"reveal,omitempty"`
	BlockHash     *common.Hash `json:"block_hash,omitempty"`
	HashVerified  bool         `json:"hash_verified,omitempty"`
	Outcome       *uint64      `json:"outcome,omitempty"`
	Won           bool         `json:"won"`
	Payout        string       `json:"payout,omitempty"`
	JackpotPayout string       `json:"jackpot_payout,omitempty"`
	Uncollected   string       `json:"uncollected,omitempty"`
}

func (b *Bet) View() BetView {
	v := BetView{
		Commitment:      b.Commitment,
		Bettor:          b.Bettor,
		Amount:          b.Amount.Dec(),
		Mask:            b.Mask,
		Modulo:          b.Modulo,
		CommitBlock:     b.CommitBlock,
		PossibleWin:     b.PossibleWin.Dec(),
		HouseEdge:       b.HouseEdge.Dec(),
		JackpotFee:      b.JackpotFee.Dec(),
		JackpotEligible: b.JackpotEligible,
		Escrowed:        b.Escrowed,
		Reward:          b.Reward().String(),
		Status:          b.Status,
		PlacedAt:        b.PlacedAt,
	}
	if !b.ResolvedAt.IsZero() {
		at := b.ResolvedAt
		v.ResolvedAt = &at
	}
	if s := b.Settlement; s != nil {
		reveal, hash, outcome := s.Reveal, s.BlockHash, s.Outcome
		v.Reveal = &reveal
		v.BlockHash = &hash
		v.HashVerified = s.HashVerified
		v.Outcome = &outcome
		v.Won = s.Won
		v.Payout = s.Payout.Dec()
		v.JackpotPayout = s.JackpotPayout.Dec()
		if s.Uncollected != nil && !s.Uncollected.IsZero() {
			v.Uncollected = s.Uncollected.Dec()
		}
	}
	return v
}

// Bet parses the admission fields of a view back into a bet. Settlement
// details are not restored.
func (v BetView) Bet() (*Bet, error) {
	b := &Bet{
		Commitment:      v.Commitment,
		Bettor:          v.Bettor,
		Mask:            v.Mask,
		Modulo:          v.Modulo,
		CommitBlock:     v.CommitBlock,
		JackpotEligible: v.JackpotEligible,
		Escrowed:        v.Escrowed,
		Status:          v.Status,
		PlacedAt:        v.PlacedAt,
	}
	if v.ResolvedAt != nil {
		b.ResolvedAt = *v.ResolvedAt
	}

	var err error
	for _, f := range []struct {
		dst **uint256.Int
		src string
	}{
		{&b.Amount, v.Amount},
		{&b.PossibleWin, v.PossibleWin},
		{&b.HouseEdge, v.HouseEdge},
		{&b.JackpotFee, v.JackpotFee},
	} {
		if *f.dst, err = ParseAmount(f.src); err != nil {
			return nil, errors.Wrapf(err, "bet %s", v.Commitment.Hex())
		}
	}
	return b, nil
}

// ParseAmount reads a base-10 token amount. Empty means zero.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrInvalidRequest, "amount %q: %v", s, err)
	}
	return v, nil
}

type EventType string

const (
	EventBetPlaced        EventType = "bet_placed"
	EventPayment          EventType = "payment"
	EventJackpotPayment   EventType = "jackpot_payment"
	EventBetCanceled      EventType = "bet_canceled"
	EventRolesChanged     EventType = "roles_changed"
	EventTokenChanged     EventType = "token_changed"
	EventMaxProfitChanged EventType = "max_profit_changed"
	EventJackpotIncreased EventType = "jackpot_increased"
	EventFundsWithdrawn   EventType = "funds_withdrawn"
	EventDecommissioned   EventType = "decommissioned"
	EventDebtRecorded     EventType = "debt_recorded"
	EventDebtCollected    EventType = "debt_collected"
)

// Event is one externally visible engine effect. Seq is gapless and orders
// events across restarts. State is the ledger right after the event.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Seq         uint64          `json:"seq"`
	Type        EventType       `json:"type"`
	At          time.Time       `json:"at"`
	Commitment  *common.Hash    `json:"commitment,omitempty"`
	Beneficiary *common.Address `json:"beneficiary,omitempty"`
	Amount      string          `json:"amount,omitempty"`
	Won         bool            `json:"won,omitempty"`
	Bet         *BetView        `json:"bet,omitempty"`
	State       StateView       `json:"state"`
}

// StateView is the persisted engine state, enough to rebuild the ledger with
// its pending bets.
type StateView struct {
	Roles          access.Roles   `json:"roles"`
	Token          common.Address `json:"token"`
	Locked         string         `json:"locked"`
	Jackpot        string         `json:"jackpot"`
	MaxProfit      string         `json:"max_profit"`
	Pending        int            `json:"pending"`
	Decommissioned bool           `json:"decommissioned"`
	Seq            uint64         `json:"seq"`
	// Debts are uncollected deferred losses by bettor.
	Debts map[common.Address]string `json:"debts,omitempty"`
}

// Receipt is what a state-changing call returns.
type Receipt struct {
	Bet    *Bet
	Events []Event
}

type PlaceRequest struct {
	Amount      *uint256.Int
	Mask        uint64
	Modulo      uint64
	CommitBlock uint64
	Commitment  common.Hash
	Signature   []byte
}

// SettleRequest carries the revealed secret. Commitment is optional; when set
// the reveal must hash to it.
type SettleRequest struct {
	Reveal     common.Hash
	BlockHash  common.Hash
	Commitment *common.Hash
}

// Summary is the read-only accounting view.
type Summary struct {
	Token          common.Address `json:"token"`
	Roles          access.Roles   `json:"roles"`
	Balance        string         `json:"balance"`
	Locked         string         `json:"locked"`
	Jackpot        string         `json:"jackpot"`
	MaxProfit      string         `json:"max_profit"`
	Available      string         `json:"available"`
	Pending        int            `json:"pending"`
	Head           uint64         `json:"head"`
	Collection     CollectionMode `json:"collection"`
	Decommissioned bool           `json:"decommissioned"`
}
