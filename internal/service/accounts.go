package service

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/model"
)

// AccountManager maps gateway API keys to vault accounts and holds a
// per-account rate limiter.
type AccountManager struct {
	mu             sync.RWMutex
	accounts       map[string]*model.Account      // Key: API key
	limiters       map[common.Address]*rate.Limiter
	defaultAccount *model.Account
}

func NewAccountManager(cfg *config.Config) *AccountManager {
	am := &AccountManager{
		accounts: make(map[string]*model.Account),
		limiters: make(map[common.Address]*rate.Limiter),
	}

	for _, ac := range cfg.Accounts {
		account := &model.Account{
			Address: common.HexToAddress(ac.Address),
			APIKey:  ac.APIKey,
			QPS:     ac.QPS,
			Burst:   ac.Burst,
		}
		am.Register(account)
	}

	// Single-account mode: no configured accounts means every request acts
	// as one default depositor.
	if len(cfg.Accounts) == 0 {
		defaultAccount := &model.Account{
			Address: common.HexToAddress("0x0000000000000000000000000000000000000AAA"),
			Name:    "Default Account",
			APIKey:  "vk-default-12345",
			QPS:     10,
			Burst:   20,
		}
		am.Register(defaultAccount)
		am.defaultAccount = defaultAccount
	}

	return am
}

func (am *AccountManager) Register(a *model.Account) {
	am.mu.Lock()
	defer am.mu.Unlock()
	if a == nil {
		return
	}
	am.accounts[a.APIKey] = a

	limit := rate.Limit(a.QPS)
	if limit == 0 {
		limit = rate.Inf
	}
	burst := a.Burst
	if burst == 0 {
		burst = 1
	}
	am.limiters[a.Address] = rate.NewLimiter(limit, burst)
}

func (am *AccountManager) GetByAPIKey(apiKey string) (*model.Account, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	a, ok := am.accounts[apiKey]
	return a, ok
}

func (am *AccountManager) DefaultAccount() *model.Account {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.defaultAccount
}

func (am *AccountManager) List() []*model.Account {
	am.mu.RLock()
	defer am.mu.RUnlock()
	results := make([]*model.Account, 0, len(am.accounts))
	for _, a := range am.accounts {
		results = append(results, a)
	}
	return results
}

func (am *AccountManager) LimiterFor(addr common.Address) *rate.Limiter {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.limiters[addr]
}
