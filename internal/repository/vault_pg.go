package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vaultgate/vaultgate/internal/model"
)

// Amount columns are NUMERIC(78,0): wide enough for any 256-bit value.
type receiptRow struct {
	Account          string `gorm:"primaryKey;size:42"`
	Round            uint32
	Amount           string `gorm:"type:numeric(78,0)"`
	UnredeemedShares string `gorm:"type:numeric(78,0)"`
	Processed        bool
	UpdatedAt        time.Time
}

func (receiptRow) TableName() string { return "deposit_receipts" }

type withdrawalRow struct {
	Account   string `gorm:"primaryKey;size:42"`
	Round     uint32
	Shares    string `gorm:"type:numeric(78,0)"`
	Initiated bool
	UpdatedAt time.Time
}

func (withdrawalRow) TableName() string { return "withdrawals" }

type shareBalanceRow struct {
	Account   string `gorm:"primaryKey;size:42"`
	Shares    string `gorm:"type:numeric(78,0)"`
	UpdatedAt time.Time
}

func (shareBalanceRow) TableName() string { return "share_balances" }

// stateRow is a singleton snapshot of the live vault state.
type stateRow struct {
	ID                          uint32 `gorm:"primaryKey"`
	Round                       uint32
	TotalPending                string `gorm:"type:numeric(78,0)"`
	QueuedWithdrawShares        string `gorm:"type:numeric(78,0)"`
	CurrentQueuedWithdrawShares string `gorm:"type:numeric(78,0)"`
	QueuedWithdrawAmount        string `gorm:"type:numeric(78,0)"`
	LockedAmount                string `gorm:"type:numeric(78,0)"`
	LastLockedAmount            string `gorm:"type:numeric(78,0)"`
	ShareSupply                 string `gorm:"type:numeric(78,0)"`
	LastRollTime                time.Time
	UpdatedAt                   time.Time
}

func (stateRow) TableName() string { return "vault_state" }

// roundRow is immutable once written: one record per closed round.
type roundRow struct {
	Round          uint32 `gorm:"primaryKey"`
	PricePerShare  string `gorm:"type:numeric(78,0)"`
	LockedAmount   string `gorm:"type:numeric(78,0)"`
	PendingAmount  string `gorm:"type:numeric(78,0)"`
	SharesMinted   string `gorm:"type:numeric(78,0)"`
	PerformanceFee string `gorm:"type:numeric(78,0)"`
	ManagementFee  string `gorm:"type:numeric(78,0)"`
	TotalFee       string `gorm:"type:numeric(78,0)"`
	RolledAt       time.Time
}

func (roundRow) TableName() string { return "rounds" }

type VaultRepo struct {
	db *gorm.DB
}

func NewVaultRepo(db *gorm.DB) *VaultRepo {
	return &VaultRepo{db: db}
}

func (r *VaultRepo) SaveReceipt(ctx context.Context, account common.Address, rec *model.DepositReceipt) error {
	row := receiptRow{
		Account:          account.Hex(),
		Round:            rec.Round,
		Amount:           rec.Amount.Dec(),
		UnredeemedShares: rec.UnredeemedShares.Dec(),
		Processed:        rec.Processed,
		UpdatedAt:        time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *VaultRepo) SaveWithdrawal(ctx context.Context, account common.Address, w *model.Withdrawal) error {
	row := withdrawalRow{
		Account:   account.Hex(),
		Round:     w.Round,
		Shares:    w.Shares.Dec(),
		Initiated: w.Initiated,
		UpdatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *VaultRepo) SaveShareBalance(ctx context.Context, account common.Address, shares *uint256.Int) error {
	row := shareBalanceRow{Account: account.Hex(), Shares: shares.Dec(), UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *VaultRepo) SaveState(ctx context.Context, s model.VaultState) error {
	row := stateRow{
		ID:                          1,
		Round:                       s.Round,
		TotalPending:                s.TotalPending.Dec(),
		QueuedWithdrawShares:        s.QueuedWithdrawShares.Dec(),
		CurrentQueuedWithdrawShares: s.CurrentQueuedWithdrawShares.Dec(),
		QueuedWithdrawAmount:        s.QueuedWithdrawAmount.Dec(),
		LockedAmount:                s.LockedAmount.Dec(),
		LastLockedAmount:            s.LastLockedAmount.Dec(),
		ShareSupply:                 s.ShareSupply.Dec(),
		LastRollTime:                s.LastRollTime,
		UpdatedAt:                   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *VaultRepo) SaveRound(ctx context.Context, rec model.RoundRecord) error {
	row := roundRow{
		Round:          rec.Round,
		PricePerShare:  rec.PricePerShare.Dec(),
		LockedAmount:   rec.LockedAmount.Dec(),
		PendingAmount:  rec.PendingAmount.Dec(),
		SharesMinted:   rec.SharesMinted.Dec(),
		PerformanceFee: rec.PerformanceFee.Dec(),
		ManagementFee:  rec.ManagementFee.Dec(),
		TotalFee:       rec.TotalFee.Dec(),
		RolledAt:       rec.RolledAt,
	}
	// Round prices are write-once; a conflict means a replayed roll and is
	// deliberately not an upsert.
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *VaultRepo) ListRounds(ctx context.Context, limit int) ([]model.RoundRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []roundRow
	if err := r.db.WithContext(ctx).Order("round DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.RoundRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// LoadState returns the persisted snapshot, or false when none exists yet.
func (r *VaultRepo) LoadState(ctx context.Context) (model.VaultState, bool, error) {
	var row stateRow
	err := r.db.WithContext(ctx).First(&row, "id = 1").Error
	if err == gorm.ErrRecordNotFound {
		return model.VaultState{}, false, nil
	}
	if err != nil {
		return model.VaultState{}, false, err
	}
	s := model.NewVaultState()
	s.Round = row.Round
	s.LastRollTime = row.LastRollTime
	for _, f := range []struct {
		dst **uint256.Int
		src string
	}{
		{&s.TotalPending, row.TotalPending},
		{&s.QueuedWithdrawShares, row.QueuedWithdrawShares},
		{&s.CurrentQueuedWithdrawShares, row.CurrentQueuedWithdrawShares},
		{&s.QueuedWithdrawAmount, row.QueuedWithdrawAmount},
		{&s.LockedAmount, row.LockedAmount},
		{&s.LastLockedAmount, row.LastLockedAmount},
		{&s.ShareSupply, row.ShareSupply},
	} {
		v, err := parseU256(f.src)
		if err != nil {
			return model.VaultState{}, false, err
		}
		*f.dst = v
	}
	return s, true, nil
}

func (r *VaultRepo) LoadReceipts(ctx context.Context) (map[common.Address]*model.DepositReceipt, error) {
	var rows []receiptRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[common.Address]*model.DepositReceipt, len(rows))
	for _, row := range rows {
		amount, err := parseU256(row.Amount)
		if err != nil {
			return nil, err
		}
		shares, err := parseU256(row.UnredeemedShares)
		if err != nil {
			return nil, err
		}
		out[common.HexToAddress(row.Account)] = &model.DepositReceipt{
			Round:            row.Round,
			Amount:           amount,
			UnredeemedShares: shares,
			Processed:        row.Processed,
		}
	}
	return out, nil
}

func (r *VaultRepo) LoadWithdrawals(ctx context.Context) (map[common.Address]*model.Withdrawal, error) {
	var rows []withdrawalRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[common.Address]*model.Withdrawal, len(rows))
	for _, row := range rows {
		shares, err := parseU256(row.Shares)
		if err != nil {
			return nil, err
		}
		out[common.HexToAddress(row.Account)] = &model.Withdrawal{
			Round:     row.Round,
			Shares:    shares,
			Initiated: row.Initiated,
		}
	}
	return out, nil
}

func (r *VaultRepo) LoadShareBalances(ctx context.Context) (map[common.Address]*uint256.Int, error) {
	var rows []shareBalanceRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[common.Address]*uint256.Int, len(rows))
	for _, row := range rows {
		shares, err := parseU256(row.Shares)
		if err != nil {
			return nil, err
		}
		out[common.HexToAddress(row.Account)] = shares
	}
	return out, nil
}

func (r *VaultRepo) LoadRoundPrices(ctx context.Context) (map[uint32]*uint256.Int, error) {
	var rows []roundRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint32]*uint256.Int, len(rows))
	for _, row := range rows {
		pps, err := parseU256(row.PricePerShare)
		if err != nil {
			return nil, err
		}
		out[row.Round] = pps
	}
	return out, nil
}

func (row roundRow) toDomain() (model.RoundRecord, error) {
	rec := model.RoundRecord{Round: row.Round, RolledAt: row.RolledAt}
	for _, f := range []struct {
		dst **uint256.Int
		src string
	}{
		{&rec.PricePerShare, row.PricePerShare},
		{&rec.LockedAmount, row.LockedAmount},
		{&rec.PendingAmount, row.PendingAmount},
		{&rec.SharesMinted, row.SharesMinted},
		{&rec.PerformanceFee, row.PerformanceFee},
		{&rec.ManagementFee, row.ManagementFee},
		{&rec.TotalFee, row.TotalFee},
	} {
		v, err := parseU256(f.src)
		if err != nil {
			return model.RoundRecord{}, err
		}
		*f.dst = v
	}
	return rec, nil
}

func parseU256(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("bad numeric column value %q: %w", s, err)
	}
	return v, nil
}
