package token

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"goatclash/internal/errs"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Memory is an in-process ERC20-style ledger used by the devnet and tests.
type Memory struct {
	mu         sync.Mutex
	address    common.Address
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

func NewMemory(address common.Address) *Memory {
	return &Memory{
		address:    address,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (m *Memory) Address() common.Address {
	return m.address
}

func (m *Memory) Mint(to common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[to] = new(uint256.Int).Add(m.balanceLocked(to), amount)
}

func (m *Memory) Balance(who common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(who).Clone()
}

func (m *Memory) AllowanceOf(owner, spender common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowanceLocked(owner, spender).Clone()
}

func (m *Memory) Approve(owner, spender common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setAllowanceLocked(owner, spender, amount.Clone())
}

func (m *Memory) IncreaseApproval(owner, spender common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setAllowanceLocked(owner, spender, new(uint256.Int).Add(m.allowanceLocked(owner, spender), amount))
}

// TransferAs moves from's own funds.
func (m *Memory) TransferAs(from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(from, to, amount)
}

// TransferFromAs spends spender's allowance over from's funds.
func (m *Memory) TransferFromAs(spender, from, to common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := m.allowanceLocked(from, spender)
	if allowed.Lt(amount) {
		return ErrInsufficientAllowance
	}
	if err := m.moveLocked(from, to, amount); err != nil {
		return err
	}
	m.setAllowanceLocked(from, spender, new(uint256.Int).Sub(allowed, amount))
	return nil
}

// As returns the view of the ledger seen by caller.
func (m *Memory) As(caller common.Address) Token {
	return &memoryView{ledger: m, caller: caller}
}

func (m *Memory) moveLocked(from, to common.Address, amount *uint256.Int) error {
	bal := m.balanceLocked(from)
	if bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	m.balances[from] = new(uint256.Int).Sub(bal, amount)
	m.balances[to] = new(uint256.Int).Add(m.balanceLocked(to), amount)
	return nil
}

func (m *Memory) balanceLocked(who common.Address) *uint256.Int {
	if b, ok := m.balances[who]; ok {
		return b
	}
	return new(uint256.Int)
}

func (m *Memory) allowanceLocked(owner, spender common.Address) *uint256.Int {
	if byOwner, ok := m.allowances[owner]; ok {
		if a, ok := byOwner[spender]; ok {
			return a
		}
	}
	return new(uint256.Int)
}

func (m *Memory) setAllowanceLocked(owner, spender common.Address, amount *uint256.Int) {
	byOwner, ok := m.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*uint256.Int)
		m.allowances[owner] = byOwner
	}
	byOwner[spender] = amount
}

type memoryView struct {
	ledger *Memory
	caller common.Address
}

func (v *memoryView) Address() common.Address {
	return v.ledger.address
}

func (v *memoryView) BalanceOf(_ context.Context, who common.Address) (*uint256.Int, error) {
	return v.ledger.Balance(who), nil
}

func (v *memoryView) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return v.ledger.AllowanceOf(owner, spender), nil
}

func (v *memoryView) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	return v.ledger.TransferAs(v.caller, to, amount)
}

func (v *memoryView) TransferFrom(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	return v.ledger.TransferFromAs(v.caller, from, to, amount)
}

// Registry resolves addresses of in-memory ledgers.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Memory
}

func NewRegistry(tokens ...*Memory) *Registry {
	r := &Registry{tokens: make(map[common.Address]*Memory)}
	for _, t := range tokens {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t *Memory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Address()] = t
}

func (r *Registry) Resolve(_ context.Context, addr, caller common.Address) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	if !ok {
		return nil, errors.Wrapf(errs.ErrTokenNotSet, "unknown token %s", addr.Hex())
	}
	return t.As(caller), nil
}
