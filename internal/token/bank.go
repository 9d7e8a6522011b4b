// Package token provides fungible-token transfer semantics for the vault and
// bridge. Transfers can fail and every caller must treat a failure as fatal
// for the current operation.
package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Bank is the standard fungible-token surface the core depends on.
type Bank interface {
	BalanceOf(asset, account common.Address) *uint256.Int
	Transfer(asset, from, to common.Address, amount *uint256.Int) error
	TransferFrom(asset, spender, from, to common.Address, amount *uint256.Int) error
	Approve(asset, owner, spender common.Address, amount *uint256.Int)
	Allowance(asset, owner, spender common.Address) *uint256.Int
}

// MemBank is the in-memory Bank used in sim mode and in tests. Addresses
// passed as trusted (the vault and the bridge) may move any holder's funds
// without an allowance, standing in for the custody the live system has.
type MemBank struct {
	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]*uint256.Int // asset -> holder -> balance
	allowances map[string]*uint256.Int
	trusted    map[common.Address]bool
}

func NewMemBank(trusted ...common.Address) *MemBank {
	b := &MemBank{
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		allowances: make(map[string]*uint256.Int),
		trusted:    make(map[common.Address]bool),
	}
	for _, t := range trusted {
		b.trusted[t] = true
	}
	return b
}

func allowanceKey(asset, owner, spender common.Address) string {
	return asset.Hex() + ":" + owner.Hex() + ":" + spender.Hex()
}

func (b *MemBank) balance(asset, account common.Address) *uint256.Int {
	holders, ok := b.balances[asset]
	if !ok {
		holders = make(map[common.Address]*uint256.Int)
		b.balances[asset] = holders
	}
	bal, ok := holders[account]
	if !ok {
		bal = uint256.NewInt(0)
		holders[account] = bal
	}
	return bal
}

func (b *MemBank) BalanceOf(asset, account common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(b.balance(asset, account))
}

func (b *MemBank) Transfer(asset, from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer(asset, from, to, amount)
}

func (b *MemBank) transfer(asset, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("token: nil amount")
	}
	src := b.balance(asset, from)
	if src.Lt(amount) {
		return fmt.Errorf("token: insufficient balance of %s at %s", asset.Hex(), from.Hex())
	}
	src.Sub(src, amount)
	dst := b.balance(asset, to)
	dst.Add(dst, amount)
	return nil
}

func (b *MemBank) TransferFrom(asset, spender, from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.trusted[spender] && spender != from {
		key := allowanceKey(asset, from, spender)
		allowed, ok := b.allowances[key]
		if !ok || allowed.Lt(amount) {
			return fmt.Errorf("token: allowance exceeded for %s", spender.Hex())
		}
		allowed.Sub(allowed, amount)
	}
	return b.transfer(asset, from, to, amount)
}

func (b *MemBank) Approve(asset, owner, spender common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowances[allowanceKey(asset, owner, spender)] = new(uint256.Int).Set(amount)
}

func (b *MemBank) Allowance(asset, owner, spender common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.allowances[allowanceKey(asset, owner, spender)]; ok {
		return new(uint256.Int).Set(a)
	}
	return uint256.NewInt(0)
}

// Mint credits freshly created units. Sim/faucet use only.
func (b *MemBank) Mint(asset, to common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dst := b.balance(asset, to)
	dst.Add(dst, amount)
}

// Burn destroys units held by from. Sim use only.
func (b *MemBank) Burn(asset, from common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	src := b.balance(asset, from)
	if src.Lt(amount) {
		return fmt.Errorf("token: burn exceeds balance of %s at %s", asset.Hex(), from.Hex())
	}
	src.Sub(src, amount)
	return nil
}
