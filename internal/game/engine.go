package game

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"goatclash/internal/access"
	"goatclash/internal/chain"
	"goatclash/internal/commitment"
	"goatclash/internal/errs"
	"goatclash/internal/token"
)

const defaultResolvedCacheSize = 4096

// Publisher receives every event in commit order.
type Publisher interface {
	Publish(events ...Event)
}

type Options struct {
	// Self is the engine's custody account on the token ledger.
	Self      common.Address
	Rules     Rules
	Roles     access.Roles
	Token     common.Address
	MaxProfit *uint256.Int
	Chain     chain.BlockSource
	Tokens    token.Resolver
	Verifier  commitment.Verifier
	Publisher Publisher
	Logger    zerolog.Logger
	Clock     func() time.Time
	// ResolvedCacheSize bounds the settled/canceled bets kept for lookup.
	ResolvedCacheSize int
}

// Engine is the bet ledger. Every exported mutation holds mu for its whole
// duration and either fully applies or returns an error with no effect.
type Engine struct {
	mu sync.Mutex

	self      common.Address
	rules     Rules
	roles     access.Roles
	tokenAddr common.Address
	custody   *token.Custody
	maxProfit *uint256.Int
	locked    *uint256.Int
	jackpot   *JackpotPool

	pending map[common.Hash]*Bet
	spent   map[common.Hash]struct{}
	// held sums the pending stakes of each bettor whose stake is still with them.
	held map[common.Address]*uint256.Int
	// debts are deferred losses whose collection was refused.
	debts    map[common.Address]*uint256.Int
	resolved *lru.Cache

	decommissioned bool
	seq            uint64

	chain     chain.BlockSource
	tokens    token.Resolver
	admitter  *commitment.Admitter
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	if err := opts.Rules.Validate(); err != nil {
		return nil, err
	}
	if opts.Chain == nil || opts.Tokens == nil {
		return nil, errors.Wrap(errs.ErrInvalidRequest, "engine needs a block source and a token resolver")
	}
	if opts.Self == (common.Address{}) {
		return nil, errors.Wrap(errs.ErrInvalidRequest, "engine custody address unset")
	}

	size := opts.ResolvedCacheSize
	if size <= 0 {
		size = defaultResolvedCacheSize
	}
	resolved, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "resolved bet cache")
	}

	e := &Engine{
		self:      opts.Self,
		rules:     opts.Rules,
		roles:     opts.Roles,
		maxProfit: new(uint256.Int),
		locked:    new(uint256.Int),
		jackpot:   NewJackpotPool(nil),
		pending:   make(map[common.Hash]*Bet),
		spent:     make(map[common.Hash]struct{}),
		held:      make(map[common.Address]*uint256.Int),
		debts:     make(map[common.Address]*uint256.Int),
		resolved:  resolved,
		chain:     opts.Chain,
		tokens:    opts.Tokens,
		admitter:  commitment.NewAdmitter(opts.Verifier),
		publisher: opts.Publisher,
		logger:    opts.Logger.With().Str("component", "engine").Logger(),
		now:       opts.Clock,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if opts.MaxProfit != nil {
		e.maxProfit.Set(opts.MaxProfit)
	}
	if opts.Token != (common.Address{}) {
		if err := e.bindToken(ctx, opts.Token); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Rules() Rules {
	return e.rules
}

// PlaceBet admits a wager and locks its possible win.
func (e *Engine) PlaceBet(ctx context.Context, bettor common.Address, req PlaceRequest) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.placeBet(ctx, bettor, req)
	log := e.logger.With().
		Str("op", "place").
		Str("commitment", req.Commitment.Hex()).
		Str("bettor", bettor.Hex()).
		Logger()
	if err != nil {
		log.Warn().Err(err).Msg("bet rejected")
		return Receipt{}, err
	}
	log.Info().
		Str("amount", rec.Bet.Amount.Dec()).
		Str("possible_win", rec.Bet.PossibleWin.Dec()).
		Uint64("commit_block", rec.Bet.CommitBlock).
		Msg("bet placed")
	return rec, nil
}

func (e *Engine) placeBet(ctx context.Context, bettor common.Address, req PlaceRequest) (Receipt, error) {
	if err := e.usable(); err != nil {
		return Receipt{}, err
	}
	if bettor == (common.Address{}) {
		return Receipt{}, errors.Wrap(errs.ErrInvalidRequest, "bettor unset")
	}
	if _, used := e.spent[req.Commitment]; used {
		return Receipt{}, errors.Wrapf(errs.ErrDuplicateCommitment, "commitment %s", req.Commitment.Hex())
	}
	if debt, ok := e.debts[bettor]; ok {
		return Receipt{}, errors.Wrapf(errs.ErrOutstandingDebt, "%s owes %s", bettor.Hex(), debt.Dec())
	}

	q, err := e.rules.Quote(req.Amount, req.Mask, req.Modulo)
	if err != nil {
		return Receipt{}, err
	}
	if profit := q.Profit(req.Amount); profit.Gt(e.maxProfit) {
		return Receipt{}, errors.Wrapf(errs.ErrExposureCapExceeded, "profit %s above %s", profit.Dec(), e.maxProfit.Dec())
	}

	balance, err := e.custody.Balance(ctx)
	if err != nil {
		return Receipt{}, errors.Wrap(errs.ErrServiceUnavailable, err.Error())
	}
	need := sum(e.locked, q.PossibleWin, e.jackpot.Balance(), q.JackpotFee)
	if need.Gt(balance) {
		return Receipt{}, errors.Wrapf(errs.ErrInsolvencyRisk, "need %s, custody holds %s", need.Dec(), balance.Dec())
	}

	head, err := e.head(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if err := e.admitter.Admit(head, req.CommitBlock, req.Commitment, req.Signature, e.roles.SecretSigner); err != nil {
		return Receipt{}, err
	}

	escrow := e.rules.Collection == CollectEscrow
	if escrow {
		err = e.custody.Pull(ctx, bettor, req.Amount)
	} else {
		err = e.custody.Covered(ctx, bettor, sum(e.heldBy(bettor), req.Amount))
	}
	if err != nil {
		return Receipt{}, err
	}

	b := &Bet{
		Commitment:      req.Commitment,
		Bettor:          bettor,
		Amount:          req.Amount.Clone(),
		Mask:            req.Mask,
		Modulo:          req.Modulo,
		CommitBlock:     req.CommitBlock,
		PossibleWin:     q.PossibleWin,
		HouseEdge:       q.HouseEdge,
		JackpotFee:      q.JackpotFee,
		JackpotEligible: q.JackpotEligible,
		Escrowed:        escrow,
		Status:          StatusPending,
		PlacedAt:        e.now().UTC(),
	}
	e.pending[b.Commitment] = b
	e.spent[b.Commitment] = struct{}{}
	e.locked.Add(e.locked, b.PossibleWin)
	e.jackpot.Add(b.JackpotFee)
	if !escrow {
		e.held[bettor] = sum(e.heldBy(bettor), b.Amount)
	}

	snap := b.Clone()
	ev := e.event(EventBetPlaced, snap)
	ev.Beneficiary = &snap.Bettor
	ev.Amount = snap.Amount.Dec()
	return e.commit(snap, ev), nil
}

// SettleBet resolves a pending bet from its revealed secret. Croupier only.
func (e *Engine) SettleBet(ctx context.Context, caller common.Address, req SettleRequest) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	commit := commitment.Commit(req.Reveal)
	if req.Commitment != nil {
		commit = *req.Commitment
	}
	log := e.logger.With().Str("op", "settle").Str("commitment", commit.Hex()).Logger()

	rec, err := e.settleBet(ctx, caller, commit, req)
	if err != nil {
		log.Warn().Err(err).Msg("settlement rejected")
		return Receipt{}, err
	}
	s := rec.Bet.Settlement
	log.Info().
		Str("bettor", rec.Bet.Bettor.Hex()).
		Uint64("outcome", s.Outcome).
		Bool("won", s.Won).
		Str("payout", s.Payout.Dec()).
		Str("jackpot_payout", s.JackpotPayout.Dec()).
		Bool("hash_verified", s.HashVerified).
		Msg("bet settled")
	return rec, nil
}

func (e *Engine) settleBet(ctx context.Context, caller common.Address, commit common.Hash, req SettleRequest) (Receipt, error) {
	if err := e.usable(); err != nil {
		return Receipt{}, err
	}
	if err := e.roles.RequireCroupier(caller); err != nil {
		return Receipt{}, err
	}

	b, ok := e.pending[commit]
	if !ok {
		return Receipt{}, errors.Wrapf(errs.ErrUnknownOrResolvedBet, "commitment %s", commit.Hex())
	}
	if commitment.Commit(req.Reveal) != b.Commitment {
		return Receipt{}, errors.Wrapf(errs.ErrRevealMismatch, "commitment %s", commit.Hex())
	}

	head, err := e.head(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if head < b.CommitBlock {
		return Receipt{}, errors.Wrapf(errs.ErrStaleCommitBlock, "block %d not sealed, head %d", b.CommitBlock, head)
	}
	if head > b.CommitBlock+e.rules.BetExpirationBlocks {
		return Receipt{}, errors.Wrapf(errs.ErrStaleCommitBlock, "bet expired at block %d, cancel only", b.CommitBlock+e.rules.BetExpirationBlocks)
	}
	verified, err := e.checkBlockHash(ctx, head, b.CommitBlock, req.BlockHash)
	if err != nil {
		return Receipt{}, err
	}

	draw := Roll(req.Reveal, req.BlockHash, b.Modulo, e.rules.JackpotModulo)
	res := e.rules.Resolve(b, draw)
	jackpotWin := e.jackpot.Award(b.JackpotEligible, res.JackpotNumber, e.rules.JackpotShare)

	uncollected, err := e.paySettlement(ctx, b, res, jackpotWin)
	if err != nil {
		return Receipt{}, err
	}

	e.release(b)
	e.jackpot.Pay(jackpotWin)
	b.Status = StatusSettled
	b.ResolvedAt = e.now().UTC()
	b.Settlement = &Settlement{
		Reveal:        req.Reveal,
		BlockHash:     req.BlockHash,
		HashVerified:  verified,
		Outcome:       res.Outcome,
		Won:           res.Won,
		Payout:        res.Payout,
		JackpotPayout: jackpotWin,
		Uncollected:   uncollected,
	}
	if !uncollected.IsZero() {
		e.debts[b.Bettor] = sum(e.debtOf(b.Bettor), uncollected)
	}

	snap := b.Clone()
	payment := e.event(EventPayment, snap)
	payment.Beneficiary = &snap.Bettor
	payment.Amount = res.Payout.Dec()
	payment.Won = res.Won
	events := []Event{payment}
	if !jackpotWin.IsZero() {
		jp := e.event(EventJackpotPayment, snap)
		jp.Beneficiary = &snap.Bettor
		jp.Amount = jackpotWin.Dec()
		events = append(events, jp)
	}
	if !uncollected.IsZero() {
		debt := e.event(EventDebtRecorded, snap)
		debt.Beneficiary = &snap.Bettor
		debt.Amount = uncollected.Dec()
		events = append(events, debt)
	}
	return e.commit(snap, events...), nil
}

// checkBlockHash treats the supplied hash as untrusted: a hash the chain still
// serves must match; an unverifiable one is accepted only near the head.
func (e *Engine) checkBlockHash(ctx context.Context, head, number uint64, supplied common.Hash) (bool, error) {
	actual, ok, err := e.chain.BlockHash(ctx, number)
	if err != nil {
		return false, errors.Wrapf(errs.ErrServiceUnavailable, "block hash %d: %v", number, err)
	}
	if ok {
		if actual != supplied {
			return false, errors.Wrapf(errs.ErrBlockHashMismatch, "block %d is %s", number, actual.Hex())
		}
		return true, nil
	}
	if head-number > e.rules.BlockHashSafetyMargin {
		return false, errors.Wrapf(errs.ErrStaleCommitBlock, "hash of block %d unavailable and %d blocks deep", number, head-number)
	}
	return false, nil
}

// paySettlement performs the single token movement of a settlement. A
// deferred loss the bettor refuses to pay still settles; the returned amount
// is what could not be collected.
func (e *Engine) paySettlement(ctx context.Context, b *Bet, res Result, jackpotWin *uint256.Int) (*uint256.Int, error) {
	none := new(uint256.Int)
	if b.Escrowed {
		return none, e.custody.Push(ctx, b.Bettor, sum(res.Payout, jackpotWin))
	}
	if res.Won {
		due := new(uint256.Int).Sub(res.Payout, b.Amount)
		return none, e.custody.Push(ctx, b.Bettor, due.Add(due, jackpotWin))
	}
	if jackpotWin.Gt(b.Amount) {
		return none, e.custody.Push(ctx, b.Bettor, new(uint256.Int).Sub(jackpotWin, b.Amount))
	}

	owed := new(uint256.Int).Sub(b.Amount, jackpotWin)
	err := e.custody.Pull(ctx, b.Bettor, owed)
	if errors.Is(err, errs.ErrTokenTransfer) {
		e.logger.Warn().
			Err(err).
			Str("commitment", b.Commitment.Hex()).
			Str("bettor", b.Bettor.Hex()).
			Str("owed", owed.Dec()).
			Msg("loss not collected, recorded as debt")
		return owed, nil
	}
	return none, err
}

// CancelBet releases a pending bet and refunds the stake. The croupier may
// cancel at any time, anyone else only once the settlement window has passed.
func (e *Engine) CancelBet(ctx context.Context, caller common.Address, commit common.Hash) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With().Str("op", "cancel").Str("commitment", commit.Hex()).Str("caller", caller.Hex()).Logger()
	rec, err := e.cancelBet(ctx, caller, commit)
	if err != nil {
		log.Warn().Err(err).Msg("cancel rejected")
		return Receipt{}, err
	}
	log.Info().Str("refund", rec.Bet.Amount.Dec()).Msg("bet canceled")
	return rec, nil
}

func (e *Engine) cancelBet(ctx context.Context, caller common.Address, commit common.Hash) (Receipt, error) {
	if err := e.usable(); err != nil {
		return Receipt{}, err
	}
	b, ok := e.pending[commit]
	if !ok {
		return Receipt{}, errors.Wrapf(errs.ErrUnknownOrResolvedBet, "commitment %s", commit.Hex())
	}
	if !e.roles.IsCroupier(caller) {
		head, err := e.head(ctx)
		if err != nil {
			return Receipt{}, err
		}
		if expiry := b.CommitBlock + e.rules.BetExpirationBlocks; head <= expiry {
			return Receipt{}, errors.Wrapf(errs.ErrAuthorization, "public cancel opens after block %d", expiry)
		}
	}
	snap, err := e.refund(ctx, b)
	if err != nil {
		return Receipt{}, err
	}
	return e.commit(snap, e.canceledEvent(snap)), nil
}

// refund is the cancel transition shared with decommission.
func (e *Engine) refund(ctx context.Context, b *Bet) (*Bet, error) {
	if b.Escrowed {
		if err := e.custody.Push(ctx, b.Bettor, b.Amount); err != nil {
			return nil, err
		}
	}
	e.release(b)
	e.jackpot.Release(b.JackpotFee)
	b.Status = StatusCanceled
	b.ResolvedAt = e.now().UTC()
	return b.Clone(), nil
}

func (e *Engine) canceledEvent(snap *Bet) Event {
	ev := e.event(EventBetCanceled, snap)
	ev.Beneficiary = &snap.Bettor
	ev.Amount = snap.Amount.Dec()
	return ev
}

// release drops a bet from the pending set and frees its liability.
func (e *Engine) release(b *Bet) {
	delete(e.pending, b.Commitment)
	e.locked.Sub(e.locked, b.PossibleWin)
	if !b.Escrowed {
		if held := e.heldBy(b.Bettor); held.Gt(b.Amount) {
			e.held[b.Bettor] = new(uint256.Int).Sub(held, b.Amount)
		} else {
			delete(e.held, b.Bettor)
		}
	}
	e.resolved.Add(b.Commitment, b)
}

// Bet looks up a pending or recently resolved bet.
func (e *Engine) Bet(commit common.Hash) (*Bet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.pending[commit]; ok {
		return b.Clone(), true
	}
	if v, ok := e.resolved.Get(commit); ok {
		return v.(*Bet).Clone(), true
	}
	return nil, false
}

// Pending lists open bets by commit block.
func (e *Engine) Pending() []*Bet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingSorted()
}

func (e *Engine) pendingSorted() []*Bet {
	bets := lo.Map(lo.Values(e.pending), func(b *Bet, _ int) *Bet { return b.Clone() })
	sortBets(bets)
	return bets
}

func sortBets(bets []*Bet) {
	sort.Slice(bets, func(i, j int) bool {
		if bets[i].CommitBlock != bets[j].CommitBlock {
			return bets[i].CommitBlock < bets[j].CommitBlock
		}
		return bets[i].Commitment.Big().Cmp(bets[j].Commitment.Big()) < 0
	})
}

func (e *Engine) Summary(ctx context.Context) (Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Summary{
		Token:          e.tokenAddr,
		Roles:          e.roles,
		Locked:         e.locked.Dec(),
		Jackpot:        e.jackpot.Balance().Dec(),
		MaxProfit:      e.maxProfit.Dec(),
		Pending:        len(e.pending),
		Collection:     e.rules.Collection,
		Decommissioned: e.decommissioned,
	}

	balance := new(uint256.Int)
	if e.custody != nil && !e.decommissioned {
		var err error
		if balance, err = e.custody.Balance(ctx); err != nil {
			return Summary{}, errors.Wrap(errs.ErrServiceUnavailable, err.Error())
		}
	}
	s.Balance = balance.Dec()
	s.Available = e.free(balance).Dec()

	head, err := e.head(ctx)
	if err != nil {
		return Summary{}, err
	}
	s.Head = head
	return s, nil
}

func (e *Engine) usable() error {
	if e.decommissioned {
		return errs.ErrDecommissioned
	}
	if e.custody == nil {
		return errs.ErrTokenNotSet
	}
	return nil
}

func (e *Engine) head(ctx context.Context) (uint64, error) {
	head, err := e.chain.Head(ctx)
	if err != nil {
		return 0, errors.Wrapf(errs.ErrServiceUnavailable, "chain head: %v", err)
	}
	return head, nil
}

func (e *Engine) debtOf(bettor common.Address) *uint256.Int {
	if d, ok := e.debts[bettor]; ok {
		return d
	}
	return new(uint256.Int)
}

func (e *Engine) heldBy(bettor common.Address) *uint256.Int {
	if h, ok := e.held[bettor]; ok {
		return h
	}
	return new(uint256.Int)
}

// free is the balance backing neither open bets nor the jackpot.
func (e *Engine) free(balance *uint256.Int) *uint256.Int {
	reserved := sum(e.locked, e.jackpot.Balance())
	if reserved.Gt(balance) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(balance, reserved)
}

func (e *Engine) event(t EventType, b *Bet) Event {
	ev := Event{
		ID:   uuid.New(),
		Type: t,
		At:   e.now().UTC(),
	}
	if b != nil {
		c := b.Commitment
		view := b.View()
		ev.Commitment = &c
		ev.Bet = &view
	}
	return ev
}

// commit stamps sequence numbers and the post-state, then publishes.
func (e *Engine) commit(b *Bet, events ...Event) Receipt {
	for i := range events {
		e.seq++
		events[i].Seq = e.seq
	}
	state := e.state()
	for i := range events {
		events[i].State = state
	}
	if e.publisher != nil {
		e.publisher.Publish(events...)
	}
	return Receipt{Bet: b, Events: events}
}

func (e *Engine) state() StateView {
	return StateView{
		Roles:          e.roles,
		Token:          e.tokenAddr,
		Locked:         e.locked.Dec(),
		Jackpot:        e.jackpot.Balance().Dec(),
		MaxProfit:      e.maxProfit.Dec(),
		Pending:        len(e.pending),
		Decommissioned: e.decommissioned,
		Seq:            e.seq,
		Debts:          e.debtViews(),
	}
}

func (e *Engine) debtViews() map[common.Address]string {
	if len(e.debts) == 0 {
		return nil
	}
	out := make(map[common.Address]string, len(e.debts))
	for who, d := range e.debts {
		out[who] = d.Dec()
	}
	return out
}

func sum(vs ...*uint256.Int) *uint256.Int {
	total := new(uint256.Int)
	for _, v := range vs {
		total.Add(total, v)
	}
	return total
}
