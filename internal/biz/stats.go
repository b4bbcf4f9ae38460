package biz

import (
	"context"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// OperationStats 按操作类型汇总的用量
type OperationStats struct {
	OperationType string `json:"operation_type"`
	Calls         int64  `json:"calls"`
	Charged       int64  `json:"charged"`
	Estimated     int64  `json:"estimated"`
	InputTokens   int64  `json:"input_tokens"`
	OutputTokens  int64  `json:"output_tokens"`
	Characters    int64  `json:"characters"`
}

// UsageStats 用量统计
type UsageStats struct {
	UserID     string            `json:"user_id"`
	Period     string            `json:"period"`
	Since      time.Time         `json:"since"`
	Calls      int64             `json:"calls"`
	Charged    int64             `json:"charged"`
	Operations []*OperationStats `json:"operations"`
}

// StatsRepo 统计数据层接口（定义在 biz 层）
type StatsRepo interface {
	// RecordUsage 按 reservation_id 去重写入，重复投递无副作用
	RecordUsage(ctx context.Context, events []*UsageEvent) error
	GetOperationStats(ctx context.Context, userID string, since, until time.Time) ([]*OperationStats, error)
}

// StatsUseCase 统计业务逻辑
type StatsUseCase struct {
	repo StatsRepo
	log  *log.Helper
	now  func() time.Time
}

// NewStatsUseCase 创建统计 UseCase
func NewStatsUseCase(repo StatsRepo, logger log.Logger) *StatsUseCase {
	return &StatsUseCase{
		repo: repo,
		log:  log.NewHelper(logger),
		now:  time.Now,
	}
}

// RecordUsage 记录结算用量
func (uc *StatsUseCase) RecordUsage(ctx context.Context, events []*UsageEvent) error {
	if len(events) == 0 {
		return nil
	}
	return uc.repo.RecordUsage(ctx, events)
}

// GetUsageStats 获取今日/本月用量统计
func (uc *StatsUseCase) GetUsageStats(ctx context.Context, userID, period string) (*UsageStats, error) {
	if userID == "" {
		return nil, creditErrors.ErrorInvalidArgument("user_id is required")
	}
	now := uc.now()
	var since time.Time
	switch period {
	case constants.StatsPeriodToday, "":
		period = constants.StatsPeriodToday
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case constants.StatsPeriodMonth:
		since = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return nil, creditErrors.ErrorInvalidArgument("period must be today or month")
	}

	ops, err := uc.repo.GetOperationStats(ctx, userID, since, now)
	if err != nil {
		uc.log.Errorf("GetUsageStats failed: user_id=%s, period=%s, error=%v", userID, period, err)
		return nil, creditErrors.ErrorInternal("get usage stats failed")
	}
	stats := &UsageStats{UserID: userID, Period: period, Since: since, Operations: ops}
	for _, op := range ops {
		stats.Calls += op.Calls
		stats.Charged += op.Charged
	}
	return stats, nil
}
