package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// ledgerRepo 流水相关数据访问
type ledgerRepo struct {
	data *Data
	log  *log.Helper
}

// NewLedgerRepo 创建流水 repo（返回 biz.LedgerRepo 接口）
func NewLedgerRepo(data *Data, logger log.Logger) biz.LedgerRepo {
	return &ledgerRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// CreateEntry 追加流水
func (r *ledgerRepo) CreateEntry(ctx context.Context, entry *biz.LedgerEntry) error {
	var metadata string
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = string(raw)
	}
	m := model.LedgerEntry{
		EntryID:           entry.ID,
		UserID:            entry.UserID,
		Type:              entry.Type,
		RequestID:         entry.RequestID,
		Delta:             entry.Delta,
		PermanentDelta:    entry.PermanentDelta,
		SubscriptionDelta: entry.SubscriptionDelta,
		BalanceBefore:     entry.BalanceBefore,
		BalanceAfter:      entry.BalanceAfter,
		Metadata:          metadata,
		CreatedAt:         entry.CreatedAt,
	}
	if err := r.data.DB(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return biz.ErrDuplicateEntry
		}
		return err
	}
	return nil
}

// GetEntryByRequest 按 (user_id, request_id, type) 查询流水，不存在返回 nil, nil
func (r *ledgerRepo) GetEntryByRequest(ctx context.Context, userID, requestID, entryType string) (*biz.LedgerEntry, error) {
	var m model.LedgerEntry
	if err := r.data.DB(ctx).Where("user_id = ? AND request_id = ? AND type = ?", userID, requestID, entryType).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.toBiz(&m), nil
}

// ListEntries 分页查询流水，按写入顺序倒序
func (r *ledgerRepo) ListEntries(ctx context.Context, filter *biz.LedgerFilter, page, pageSize int) ([]*biz.LedgerEntry, int64, error) {
	var models []model.LedgerEntry
	var total int64

	offset := (page - 1) * pageSize
	db := r.data.DB(ctx).Model(&model.LedgerEntry{}).Where("user_id = ?", filter.UserID)
	if filter.Type != "" {
		db = db.Where("type = ?", filter.Type)
	}
	if filter.RequestID != "" {
		db = db.Where("request_id = ?", filter.RequestID)
	}
	if filter.Since != nil {
		db = db.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		db = db.Where("created_at < ?", *filter.Until)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Offset(offset).Limit(pageSize).Order("seq DESC").Find(&models).Error; err != nil {
		return nil, 0, err
	}

	entries := make([]*biz.LedgerEntry, 0, len(models))
	for i := range models {
		entries = append(entries, r.toBiz(&models[i]))
	}
	return entries, total, nil
}

// SumByUser 汇总用户全部流水，用于回放核对
func (r *ledgerRepo) SumByUser(ctx context.Context, userID string) (*biz.LedgerSum, error) {
	var row struct {
		Entries           int64
		PermanentDelta    int64
		SubscriptionDelta int64
	}
	if err := r.data.DB(ctx).Model(&model.LedgerEntry{}).
		Select("COUNT(*) AS entries, COALESCE(SUM(permanent_delta), 0) AS permanent_delta, COALESCE(SUM(subscription_delta), 0) AS subscription_delta").
		Where("user_id = ?", userID).
		Scan(&row).Error; err != nil {
		return nil, err
	}
	sum := &biz.LedgerSum{
		Entries:           row.Entries,
		PermanentDelta:    row.PermanentDelta,
		SubscriptionDelta: row.SubscriptionDelta,
	}
	if row.Entries == 0 {
		return sum, nil
	}

	var last model.LedgerEntry
	if err := r.data.DB(ctx).Where("user_id = ?", userID).Order("seq DESC").First(&last).Error; err != nil {
		return nil, err
	}
	sum.LastBalanceAfter = last.BalanceAfter
	return sum, nil
}

// ListActiveUserIDs 指定时间之后有流水的用户
func (r *ledgerRepo) ListActiveUserIDs(ctx context.Context, since time.Time) ([]string, error) {
	var userIDs []string
	if err := r.data.DB(ctx).Model(&model.LedgerEntry{}).
		Where("created_at >= ?", since).
		Distinct("user_id").
		Pluck("user_id", &userIDs).Error; err != nil {
		return nil, err
	}
	return userIDs, nil
}

func (r *ledgerRepo) toBiz(m *model.LedgerEntry) *biz.LedgerEntry {
	entry := &biz.LedgerEntry{
		ID:                m.EntryID,
		UserID:            m.UserID,
		Type:              m.Type,
		Delta:             m.Delta,
		PermanentDelta:    m.PermanentDelta,
		SubscriptionDelta: m.SubscriptionDelta,
		BalanceBefore:     m.BalanceBefore,
		BalanceAfter:      m.BalanceAfter,
		RequestID:         m.RequestID,
		CreatedAt:         m.CreatedAt,
	}
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &entry.Metadata); err != nil {
			r.log.Warnf("invalid ledger metadata: entry_id=%s, error=%v", m.EntryID, err)
		}
	}
	return entry
}
