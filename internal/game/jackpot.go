package game

import (
	"github.com/holiman/uint256"
)

// JackpotPool is the reserve funded by owner top-ups and per-bet fees.
type JackpotPool struct {
	balance *uint256.Int
}

func NewJackpotPool(balance *uint256.Int) *JackpotPool {
	p := &JackpotPool{balance: new(uint256.Int)}
	if balance != nil {
		p.balance.Set(balance)
	}
	return p
}

func (p *JackpotPool) Balance() *uint256.Int {
	return p.balance.Clone()
}

func (p *JackpotPool) Add(v *uint256.Int) {
	p.balance.Add(p.balance, v)
}

// Release takes back a canceled bet's fee. The pool may already have paid it
// out, so it floors at zero.
func (p *JackpotPool) Release(v *uint256.Int) {
	if p.balance.Lt(v) {
		p.balance.Clear()
		return
	}
	p.balance.Sub(p.balance, v)
}

// Award is what a jackpot win pays: min(balance, share), or the whole pool
// when share is zero. It does not change the pool.
func (p *JackpotPool) Award(eligible bool, number uint64, share *uint256.Int) *uint256.Int {
	if !eligible || number != 0 || p.balance.IsZero() {
		return new(uint256.Int)
	}
	if share == nil || share.IsZero() || share.Gt(p.balance) {
		return p.balance.Clone()
	}
	return share.Clone()
}

func (p *JackpotPool) Pay(v *uint256.Int) {
	p.balance.Sub(p.balance, v)
}

func (p *JackpotPool) Clear() {
	p.balance.Clear()
}
