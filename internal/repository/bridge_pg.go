package repository

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vaultgate/vaultgate/internal/model"
)

type productRow struct {
	Asset             string `gorm:"primaryKey;size:42"`
	Decimals          uint8
	MMSpreadBps       uint64
	ProviderSpreadBps uint64
	IssueAddress      string `gorm:"size:42"`
	RedeemAddress     string `gorm:"size:42"`
	Whitelisted       bool
	LastSetAt         time.Time
	UpdatedAt         time.Time
}

func (productRow) TableName() string { return "products" }

type saleRow struct {
	Asset     string `gorm:"primaryKey;size:42"`
	Product   string `gorm:"primaryKey;size:42"`
	Amount    string `gorm:"type:numeric(78,0)"`
	UpdatedAt time.Time
}

func (saleRow) TableName() string { return "pending_sales" }

type settledRow struct {
	Asset     string `gorm:"primaryKey;size:42"`
	Amount    string `gorm:"type:numeric(78,0)"`
	UpdatedAt time.Time
}

func (settledRow) TableName() string { return "pending_settlements" }

type BridgeRepo struct {
	db *gorm.DB
}

func NewBridgeRepo(db *gorm.DB) *BridgeRepo {
	return &BridgeRepo{db: db}
}

func (r *BridgeRepo) SaveProduct(ctx context.Context, p *model.Product) error {
	row := productRow{
		Asset:             p.Asset.Hex(),
		Decimals:          p.Decimals,
		MMSpreadBps:       p.MMSpreadBps,
		ProviderSpreadBps: p.ProviderSpreadBps,
		IssueAddress:      p.IssueAddress.Hex(),
		RedeemAddress:     p.RedeemAddress.Hex(),
		Whitelisted:       p.Whitelisted,
		LastSetAt:         p.LastSetAt,
		UpdatedAt:         time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *BridgeRepo) SaveSale(ctx context.Context, asset, product common.Address, amount *uint256.Int) error {
	row := saleRow{
		Asset:     asset.Hex(),
		Product:   product.Hex(),
		Amount:    amount.Dec(),
		UpdatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *BridgeRepo) SaveSettled(ctx context.Context, asset common.Address, amount *uint256.Int) error {
	row := settledRow{
		Asset:     asset.Hex(),
		Amount:    amount.Dec(),
		UpdatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (r *BridgeRepo) LoadProducts(ctx context.Context) ([]*model.Product, error) {
	var rows []productRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, &model.Product{
			Asset:             common.HexToAddress(row.Asset),
			Decimals:          row.Decimals,
			MMSpreadBps:       row.MMSpreadBps,
			ProviderSpreadBps: row.ProviderSpreadBps,
			IssueAddress:      common.HexToAddress(row.IssueAddress),
			RedeemAddress:     common.HexToAddress(row.RedeemAddress),
			Whitelisted:       row.Whitelisted,
			LastSetAt:         row.LastSetAt,
		})
	}
	return out, nil
}

// PendingSale is one persisted sale bucket.
type PendingSale struct {
	Asset   common.Address
	Product common.Address
	Amount  *uint256.Int
}

func (r *BridgeRepo) LoadSales(ctx context.Context) ([]PendingSale, error) {
	var rows []saleRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]PendingSale, 0, len(rows))
	for _, row := range rows {
		amount, err := parseU256(row.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, PendingSale{
			Asset:   common.HexToAddress(row.Asset),
			Product: common.HexToAddress(row.Product),
			Amount:  amount,
		})
	}
	return out, nil
}

func (r *BridgeRepo) LoadSettled(ctx context.Context) (map[common.Address]*uint256.Int, error) {
	var rows []settledRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[common.Address]*uint256.Int, len(rows))
	for _, row := range rows {
		amount, err := parseU256(row.Amount)
		if err != nil {
			return nil, err
		}
		out[common.HexToAddress(row.Asset)] = amount
	}
	return out, nil
}
