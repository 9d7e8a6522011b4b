package model

import "github.com/ethereum/go-ethereum/common"

// Account is an API caller mapped to the address it transacts as.
type Account struct {
	Address common.Address
	Name    string
	APIKey  string
	QPS     float64
	Burst   int
}
