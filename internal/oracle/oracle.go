// Package oracle abstracts the price feeds the settlement bridge converts
// through. Prices are fixed-point unsigned integers with an explicit decimals
// scale.
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

type Oracle interface {
	// Price returns how many quote units one whole base unit is worth,
	// scaled by 10^decimals.
	Price(ctx context.Context, base, quote common.Address) (price *uint256.Int, decimals uint8, err error)
}

type pairKey struct {
	base  common.Address
	quote common.Address
}

// StaticOracle serves operator-set prices. It backs sim mode and is the
// reference implementation of the Oracle interface.
type StaticOracle struct {
	mu       sync.RWMutex
	decimals uint8
	prices   map[pairKey]*uint256.Int
}

func NewStaticOracle(decimals uint8) *StaticOracle {
	if decimals == 0 {
		decimals = 8
	}
	return &StaticOracle{decimals: decimals, prices: make(map[pairKey]*uint256.Int)}
}

func (o *StaticOracle) Set(base, quote common.Address, price *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[pairKey{base, quote}] = new(uint256.Int).Set(price)
}

// SetDecimal sets a human-readable price like "1.0023".
func (o *StaticOracle) SetDecimal(base, quote common.Address, price string) error {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return fmt.Errorf("oracle: bad price %q: %w", price, err)
	}
	scaled := d.Shift(int32(o.decimals)).Truncate(0)
	if scaled.IsNegative() {
		return fmt.Errorf("oracle: negative price %q", price)
	}
	v, err := uint256.FromDecimal(scaled.String())
	if err != nil {
		return fmt.Errorf("oracle: price %q out of range: %w", price, err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[pairKey{base, quote}] = v
	return nil
}

func (o *StaticOracle) Price(_ context.Context, base, quote common.Address) (*uint256.Int, uint8, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if base == quote {
		one := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(o.decimals)))
		return one, o.decimals, nil
	}
	if p, ok := o.prices[pairKey{base, quote}]; ok {
		return new(uint256.Int).Set(p), o.decimals, nil
	}
	// Try the inverse pair before giving up.
	if p, ok := o.prices[pairKey{quote, base}]; ok && !p.IsZero() {
		scaleSq := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(o.decimals)*2))
		return scaleSq.Div(scaleSq, p), o.decimals, nil
	}
	return nil, 0, fmt.Errorf("oracle: no price for %s/%s", base.Hex(), quote.Hex())
}
