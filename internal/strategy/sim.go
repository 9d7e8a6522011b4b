// Package strategy holds adapters to the external yield strategy. The vault
// only ever sees reported balances and open/close calls; what the strategy
// does with the money is out of its hands.
package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vaultgate/vaultgate/internal/token"
)

// Sim is a paper strategy for dev mode: OpenPosition parks funds at the
// strategy address and ClosePosition returns them with a configured
// per-round PnL applied (negative bps simulate a losing round).
type Sim struct {
	mu        sync.Mutex
	bank      *token.MemBank
	asset     common.Address
	vaultAddr common.Address
	addr      common.Address
	pnlBps    int64
	deployed  *uint256.Int
}

func NewSim(bank *token.MemBank, asset, vaultAddr, strategyAddr common.Address, pnlBps int64) *Sim {
	return &Sim{
		bank:      bank,
		asset:     asset,
		vaultAddr: vaultAddr,
		addr:      strategyAddr,
		pnlBps:    pnlBps,
		deployed:  uint256.NewInt(0),
	}
}

func (s *Sim) TotalBalance(_ context.Context) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(uint256.Int).Set(s.deployed), nil
}

func (s *Sim) OpenPosition(_ context.Context, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := s.bank.Transfer(s.asset, s.vaultAddr, s.addr, amount); err != nil {
		return fmt.Errorf("strategy: open position: %w", err)
	}
	s.deployed.Add(s.deployed, amount)
	return nil
}

// ClosePosition applies the configured PnL, moves everything back to the
// vault and reports the freed amount.
func (s *Sim) ClosePosition(_ context.Context) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deployed.IsZero() {
		return uint256.NewInt(0), nil
	}

	freed := new(uint256.Int).Set(s.deployed)
	if s.pnlBps != 0 {
		mag := uint64(s.pnlBps)
		if s.pnlBps < 0 {
			mag = uint64(-s.pnlBps)
		}
		delta := new(uint256.Int).Mul(s.deployed, uint256.NewInt(mag))
		delta.Div(delta, uint256.NewInt(10_000))
		if s.pnlBps > 0 {
			s.bank.Mint(s.asset, s.addr, delta)
			freed.Add(freed, delta)
		} else {
			if delta.Gt(freed) {
				delta = new(uint256.Int).Set(freed)
			}
			if err := s.bank.Burn(s.asset, s.addr, delta); err != nil {
				return nil, fmt.Errorf("strategy: close position: %w", err)
			}
			freed.Sub(freed, delta)
		}
	}

	if err := s.bank.Transfer(s.asset, s.addr, s.vaultAddr, freed); err != nil {
		return nil, fmt.Errorf("strategy: close position: %w", err)
	}
	s.deployed = uint256.NewInt(0)
	return freed, nil
}
