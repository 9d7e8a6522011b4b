// Package sharemath holds the pure fixed-point conversions between asset
// amounts and vault shares. All division floors; overflow is an error, never
// a silent wrap.
package sharemath

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrZeroPrice = errors.New("sharemath: price per share is zero")
	ErrOverflow  = errors.New("sharemath: 256-bit overflow")
	ErrUnderflow = errors.New("sharemath: pending exceeds balance")
)

// Scale returns 10^decimals, the value of one whole share/asset unit.
func Scale(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}

// AssetToShares converts an asset amount to shares at the given price:
// amount * 10^decimals / pricePerShare.
func AssetToShares(amount, pricePerShare *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if pricePerShare == nil || pricePerShare.IsZero() {
		return nil, ErrZeroPrice
	}
	num, overflow := new(uint256.Int).MulOverflow(amount, Scale(decimals))
	if overflow {
		return nil, ErrOverflow
	}
	return num.Div(num, pricePerShare), nil
}

// SharesToAsset converts shares back to an asset amount at the given price:
// shares * pricePerShare / 10^decimals.
func SharesToAsset(shares, pricePerShare *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if pricePerShare == nil || pricePerShare.IsZero() {
		return nil, ErrZeroPrice
	}
	num, overflow := new(uint256.Int).MulOverflow(shares, pricePerShare)
	if overflow {
		return nil, ErrOverflow
	}
	return num.Div(num, Scale(decimals)), nil
}

// PricePerShare computes the share price backing totalSupply shares with
// totalBalance assets, of which pendingAmount is undeployed principal. With
// no supply outstanding the price is defined as one whole unit, which guards
// the first round.
func PricePerShare(totalSupply, totalBalance, pendingAmount *uint256.Int, decimals uint8) (*uint256.Int, error) {
	singleShare := Scale(decimals)
	if totalSupply == nil || totalSupply.IsZero() {
		return singleShare, nil
	}
	if pendingAmount.Gt(totalBalance) {
		return nil, ErrUnderflow
	}
	net := new(uint256.Int).Sub(totalBalance, pendingAmount)
	num, overflow := net.MulOverflow(net, singleShare)
	if overflow {
		return nil, ErrOverflow
	}
	return num.Div(num, totalSupply), nil
}

// SharesFromReceipt returns the total shares a deposit receipt is worth. A
// receipt from the current (or zero) round is still unpriced, so only its
// already-settled unredeemed shares count; a receipt from a closed round adds
// its principal converted at that round's finalized price.
func SharesFromReceipt(receiptRound, currentRound uint32, amount, unredeemedShares, priceAtReceiptRound *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if receiptRound == 0 || receiptRound == currentRound {
		return new(uint256.Int).Set(unredeemedShares), nil
	}
	settled, err := AssetToShares(amount, priceAtReceiptRound, decimals)
	if err != nil {
		return nil, err
	}
	total, overflow := settled.AddOverflow(settled, unredeemedShares)
	if overflow {
		return nil, ErrOverflow
	}
	return total, nil
}
