package data

import (
	"context"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm/clause"
)

// statsRepo 用量统计相关数据访问
type statsRepo struct {
	data *Data
	log  *log.Helper
}

// NewStatsRepo 创建统计 repo（返回 biz.StatsRepo 接口）
func NewStatsRepo(data *Data, logger log.Logger) biz.StatsRepo {
	return &statsRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// RecordUsage 批量写入用量记录，reservation_id 已存在的跳过
func (r *statsRepo) RecordUsage(ctx context.Context, events []*biz.UsageEvent) error {
	records := make([]*model.UsageRecord, 0, len(events))
	for _, e := range events {
		records = append(records, &model.UsageRecord{
			ReservationID: e.ReservationID,
			UserID:        e.UserID,
			OperationType: e.OperationType,
			ModelID:       e.ModelID,
			Estimate:      e.Estimate,
			Charged:       e.Charged,
			InputTokens:   e.Usage.InputTokens,
			OutputTokens:  e.Usage.OutputTokens,
			Characters:    e.Usage.Characters,
			SettledAt:     e.SettledAt,
		})
	}
	return r.data.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&records).Error
}

// GetOperationStats 按操作类型分组统计 [since, until) 内的用量
func (r *statsRepo) GetOperationStats(ctx context.Context, userID string, since, until time.Time) ([]*biz.OperationStats, error) {
	var rows []struct {
		OperationType string
		Calls         int64
		Charged       int64
		Estimated     int64
		InputTokens   int64
		OutputTokens  int64
		Characters    int64
	}
	if err := r.data.DB(ctx).Model(&model.UsageRecord{}).
		Where("user_id = ? AND settled_at >= ? AND settled_at < ?", userID, since, until).
		Select(
			"operation_type",
			"COUNT(*) as calls",
			"SUM(charged) as charged",
			"SUM(estimate) as estimated",
			"SUM(input_tokens) as input_tokens",
			"SUM(output_tokens) as output_tokens",
			"SUM(characters) as characters",
		).
		Group("operation_type").
		Order("operation_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*biz.OperationStats, 0, len(rows))
	for _, s := range rows {
		out = append(out, &biz.OperationStats{
			OperationType: s.OperationType,
			Calls:         s.Calls,
			Charged:       s.Charged,
			Estimated:     s.Estimated,
			InputTokens:   s.InputTokens,
			OutputTokens:  s.OutputTokens,
			Characters:    s.Characters,
		})
	}
	return out, nil
}
