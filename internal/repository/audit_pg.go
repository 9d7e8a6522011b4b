package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/vaultgate/vaultgate/internal/model"
)

type auditRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	Account      string `gorm:"index;size:42"`
	Method       string `gorm:"size:8"`
	Path         string
	IP           string
	UserAgent    string
	RequestBody  string
	ResponseBody string
	StatusCode   int
	LatencyMs    int64
	ContextJSON  []byte    `gorm:"type:jsonb"`
	CreatedAt    time.Time `gorm:"index"`
}

func (auditRow) TableName() string { return "audit_logs" }

type PostgresAuditRepo struct {
	db *gorm.DB
}

func NewPostgresAuditRepo(db *gorm.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

func (r *PostgresAuditRepo) Insert(ctx context.Context, entry *model.AuditLog) error {
	ctxJSON, _ := json.Marshal(entry.Context)
	row := auditRow{
		ID:           entry.ID,
		Account:      entry.Account,
		Method:       entry.Method,
		Path:         entry.Path,
		IP:           entry.IP,
		UserAgent:    entry.UserAgent,
		RequestBody:  entry.RequestBody,
		ResponseBody: entry.ResponseBody,
		StatusCode:   entry.StatusCode,
		LatencyMs:    entry.LatencyMs,
		ContextJSON:  ctxJSON,
		CreatedAt:    entry.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *PostgresAuditRepo) List(ctx context.Context, account string, limit int, from, to *time.Time) ([]*model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if account != "" {
		q = q.Where("account = ?", account)
	}
	if from != nil {
		q = q.Where("created_at >= ?", *from)
	}
	if to != nil {
		q = q.Where("created_at <= ?", *to)
	}
	var rows []auditRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.AuditLog, 0, len(rows))
	for _, row := range rows {
		entry := &model.AuditLog{
			ID:           row.ID,
			Account:      row.Account,
			Method:       row.Method,
			Path:         row.Path,
			IP:           row.IP,
			UserAgent:    row.UserAgent,
			RequestBody:  row.RequestBody,
			ResponseBody: row.ResponseBody,
			StatusCode:   row.StatusCode,
			LatencyMs:    row.LatencyMs,
			CreatedAt:    row.CreatedAt,
		}
		if len(row.ContextJSON) > 0 {
			_ = json.Unmarshal(row.ContextJSON, &entry.Context)
		}
		out = append(out, entry)
	}
	return out, nil
}
