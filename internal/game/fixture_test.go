package game

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"goatclash/internal/access"
	"goatclash/internal/commitment"
	"goatclash/internal/token"
)

const signerKeyHex = "a3abc3cdad875e86ca60dfff15cc889c5817db86489f7d4ed3ffd3f9b7a80b71"

var (
	owner     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	croupier  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	house     = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(events ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) types() []EventType {
	var out []EventType
	for _, ev := range r.all() {
		out = append(out, ev.Type)
	}
	return out
}

type fakeChain struct {
	mu     sync.Mutex
	head   uint64
	hashes map[uint64]common.Hash
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{head: head, hashes: make(map[uint64]common.Hash)}
}

func (c *fakeChain) Head(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) BlockHash(_ context.Context, n uint64) (common.Hash, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hashes[n]
	return h, ok, nil
}

func (c *fakeChain) seal(n uint64, h common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = n
	c.hashes[n] = h
}

func (c *fakeChain) setHead(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = n
}

func (c *fakeChain) forget(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hashes, n)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	engine *Engine
	ledger *token.Memory
	chain  *fakeChain
	key    *ecdsa.PrivateKey
	events *recorder
}

// testRules keep amounts in base units and the jackpot out of reach.
func testRules() Rules {
	r := DefaultRules()
	r.MinBet = uint256.NewInt(1)
	r.MaxAmount = uint256.NewInt(1_000_000)
	r.MinJackpotBet = uint256.NewInt(1_000_000)
	return r
}

func newFixture(t *testing.T, tweak func(*Rules)) *fixture {
	t.Helper()

	rules := testRules()
	if tweak != nil {
		tweak(&rules)
	}
	key, err := crypto.HexToECDSA(signerKeyHex)
	require.NoError(t, err)

	ledger := token.NewMemory(tokenAddr)
	ledger.Mint(house, uint256.NewInt(1_000_000))
	ledger.Mint(alice, uint256.NewInt(10_000))
	ledger.Mint(bob, uint256.NewInt(10_000))

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		ledger: ledger,
		chain:  newFakeChain(100),
		key:    key,
		events: &recorder{},
	}
	f.engine = f.newEngine(rules)
	return f
}

func (f *fixture) newEngine(rules Rules) *Engine {
	f.t.Helper()
	e, err := NewEngine(f.ctx, Options{
		Self:  house,
		Rules: rules,
		Roles: access.Roles{
			Owner:        owner,
			Croupier:     croupier,
			SecretSigner: crypto.PubkeyToAddress(f.key.PublicKey),
		},
		Token:     tokenAddr,
		MaxProfit: uint256.NewInt(100_000),
		Chain:     f.chain,
		Tokens:    token.NewRegistry(f.ledger),
		Publisher: f.events,
		Logger:    zerolog.Nop(),
		Clock:     func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	require.NoError(f.t, err)
	return e
}

func (f *fixture) next() uint64 {
	head, _ := f.chain.Head(f.ctx)
	return head + 1
}

func (f *fixture) request(block, amount, mask, modulo uint64, reveal common.Hash) PlaceRequest {
	f.t.Helper()
	commit := commitment.Commit(reveal)
	sig, err := commitment.SignSecp256k1(f.key, block, commit)
	require.NoError(f.t, err)
	return PlaceRequest{
		Amount:      uint256.NewInt(amount),
		Mask:        mask,
		Modulo:      modulo,
		CommitBlock: block,
		Commitment:  commit,
		Signature:   sig,
	}
}

func (f *fixture) place(bettor common.Address, amount, mask, modulo uint64, reveal common.Hash) *Bet {
	f.t.Helper()
	rec, err := f.engine.PlaceBet(f.ctx, bettor, f.request(f.next(), amount, mask, modulo, reveal))
	require.NoError(f.t, err)
	return rec.Bet
}

// sealFor seals the bet's commit block with a hash whose draw satisfies pred.
func (f *fixture) sealFor(b *Bet, reveal common.Hash, pred func(Draw) bool) common.Hash {
	f.t.Helper()
	jackpotModulo := f.engine.Rules().JackpotModulo
	for i := uint64(1); i < 1_000_000; i++ {
		h := common.BigToHash(new(big.Int).SetUint64(i))
		if pred(Roll(reveal, h, b.Modulo, jackpotModulo)) {
			f.chain.seal(b.CommitBlock, h)
			return h
		}
	}
	f.t.Fatal("no block hash satisfies the draw")
	return common.Hash{}
}

func (f *fixture) balance(who common.Address) uint64 {
	return f.ledger.Balance(who).Uint64()
}

func (f *fixture) allowance(who common.Address) uint64 {
	return f.ledger.AllowanceOf(who, house).Uint64()
}

// coin flip with mask 1 wins on outcome 0
func heads(d Draw) bool { return d.Outcome == 0 }
func tails(d Draw) bool { return d.Outcome == 1 }

func secret(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}
