package biz

import (
	"context"
	"time"

	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// LedgerEntry 积分流水领域对象，写入后不可修改
type LedgerEntry struct {
	ID                string
	UserID            string
	Type              string // consume / grant / refund / adjust
	Delta             int64  // PermanentDelta + SubscriptionDelta
	PermanentDelta    int64
	SubscriptionDelta int64
	BalanceBefore     int64
	BalanceAfter      int64
	RequestID         string
	Metadata          map[string]string
	CreatedAt         time.Time
}

func newLedgerEntry(userID, requestID, entryType string, permanentDelta, subscriptionDelta, before int64, metadata map[string]string, now time.Time) *LedgerEntry {
	delta := permanentDelta + subscriptionDelta
	return &LedgerEntry{
		ID:                uuid.New().String(),
		UserID:            userID,
		Type:              entryType,
		Delta:             delta,
		PermanentDelta:    permanentDelta,
		SubscriptionDelta: subscriptionDelta,
		BalanceBefore:     before,
		BalanceAfter:      before + delta,
		RequestID:         requestID,
		Metadata:          metadata,
		CreatedAt:         now,
	}
}

// LedgerFilter 流水查询条件
type LedgerFilter struct {
	UserID    string
	Type      string
	RequestID string
	Since     *time.Time
	Until     *time.Time
}

// LedgerSum 用户流水汇总
type LedgerSum struct {
	Entries           int64
	PermanentDelta    int64
	SubscriptionDelta int64
	LastBalanceAfter  int64
}

// LedgerRepo 流水数据层接口（定义在 biz 层）
type LedgerRepo interface {
	// CreateEntry (user_id, request_id, type) 重复时返回 ErrDuplicateEntry
	CreateEntry(ctx context.Context, entry *LedgerEntry) error
	GetEntryByRequest(ctx context.Context, userID, requestID, entryType string) (*LedgerEntry, error)
	ListEntries(ctx context.Context, filter *LedgerFilter, page, pageSize int) ([]*LedgerEntry, int64, error)
	SumByUser(ctx context.Context, userID string) (*LedgerSum, error)
	ListActiveUserIDs(ctx context.Context, since time.Time) ([]string, error)
}

// ReplayReport 流水回放核对结果
type ReplayReport struct {
	UserID               string `json:"user_id"`
	Entries              int64  `json:"entries"`
	ReplayedPermanent    int64  `json:"replayed_permanent"`
	ReplayedSubscription int64  `json:"replayed_subscription"`
	StoredPermanent      int64  `json:"stored_permanent"`
	StoredSubscription   int64  `json:"stored_subscription"`
	LastBalanceAfter     int64  `json:"last_balance_after"`
	Consistent           bool   `json:"consistent"`
}

// LedgerUseCase 流水业务逻辑
type LedgerUseCase struct {
	repo        LedgerRepo
	balanceRepo UserBalanceRepo
	log         *log.Helper
}

// NewLedgerUseCase 创建流水 UseCase
func NewLedgerUseCase(repo LedgerRepo, balanceRepo UserBalanceRepo, logger log.Logger) *LedgerUseCase {
	return &LedgerUseCase{
		repo:        repo,
		balanceRepo: balanceRepo,
		log:         log.NewHelper(logger),
	}
}

// ListEntries 分页查询流水，按写入顺序倒序
func (uc *LedgerUseCase) ListEntries(ctx context.Context, filter *LedgerFilter, page, pageSize int) ([]*LedgerEntry, int64, error) {
	if filter == nil || filter.UserID == "" {
		return nil, 0, creditErrors.ErrorInvalidArgument("user_id is required")
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	entries, total, err := uc.repo.ListEntries(ctx, filter, page, pageSize)
	if err != nil {
		uc.log.Errorf("ListEntries failed: user_id=%s, error=%v", filter.UserID, err)
		return nil, 0, wrapInternal(err, "list ledger entries failed")
	}
	return entries, total, nil
}

// VerifyReplay 回放流水，核对是否与存储余额一致
func (uc *LedgerUseCase) VerifyReplay(ctx context.Context, userID string) (*ReplayReport, error) {
	if userID == "" {
		return nil, creditErrors.ErrorInvalidArgument("user_id is required")
	}
	sum, err := uc.repo.SumByUser(ctx, userID)
	if err != nil {
		return nil, wrapInternal(err, "sum ledger failed")
	}
	b, err := uc.balanceRepo.GetUserBalance(ctx, userID)
	if err != nil {
		return nil, wrapInternal(err, "get balance failed")
	}
	report := &ReplayReport{
		UserID:               userID,
		Entries:              sum.Entries,
		ReplayedPermanent:    sum.PermanentDelta,
		ReplayedSubscription: sum.SubscriptionDelta,
		LastBalanceAfter:     sum.LastBalanceAfter,
	}
	if b != nil {
		report.StoredPermanent = b.PermanentCredits
		report.StoredSubscription = b.StoredAllowance()
	}
	report.Consistent = report.ReplayedPermanent == report.StoredPermanent &&
		report.ReplayedSubscription == report.StoredSubscription &&
		report.LastBalanceAfter == report.StoredPermanent+report.StoredSubscription
	if !report.Consistent {
		uc.log.Errorf("ledger replay mismatch: user_id=%s, replayed=%d/%d, stored=%d/%d, last_after=%d",
			userID, report.ReplayedPermanent, report.ReplayedSubscription,
			report.StoredPermanent, report.StoredSubscription, report.LastBalanceAfter)
	}
	return report, nil
}

// ListActiveUserIDs 指定时间之后有流水的用户
func (uc *LedgerUseCase) ListActiveUserIDs(ctx context.Context, since time.Time) ([]string, error) {
	return uc.repo.ListActiveUserIDs(ctx, since)
}
