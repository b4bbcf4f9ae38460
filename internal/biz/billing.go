package biz

import (
	"context"
	"time"

	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// AccountView 账户概览：余额 + 当前订阅
type AccountView struct {
	Balance      *BalanceView  `json:"balance"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Tier         string        `json:"tier"`
}

// EstimateView 估算结果
type EstimateView struct {
	OperationType string `json:"operation_type"`
	ModelID       string `json:"model_id"`
	Estimate      int64  `json:"estimate"`
	Sufficient    bool   `json:"sufficient"`
	Current       int64  `json:"current"`
}

// CreditUseCase 积分计费业务逻辑（组合 UseCase）
// 负责协调各个领域 UseCase，对外提供统一入口
type CreditUseCase struct {
	balanceUseCase      *UserBalanceUseCase
	ledgerUseCase       *LedgerUseCase
	reservationUseCase  *ReservationUseCase
	subscriptionUseCase *SubscriptionUseCase
	statsUseCase        *StatsUseCase
	reconcileUseCase    *ReconcileUseCase

	log *log.Helper
}

// NewCreditUseCase 创建积分计费 UseCase
func NewCreditUseCase(
	balanceUseCase *UserBalanceUseCase,
	ledgerUseCase *LedgerUseCase,
	reservationUseCase *ReservationUseCase,
	subscriptionUseCase *SubscriptionUseCase,
	statsUseCase *StatsUseCase,
	reconcileUseCase *ReconcileUseCase,
	logger log.Logger,
) *CreditUseCase {
	return &CreditUseCase{
		balanceUseCase:      balanceUseCase,
		ledgerUseCase:       ledgerUseCase,
		reservationUseCase:  reservationUseCase,
		subscriptionUseCase: subscriptionUseCase,
		statsUseCase:        statsUseCase,
		reconcileUseCase:    reconcileUseCase,
		log:                 log.NewHelper(logger),
	}
}

// GetBalance 获取余额
func (uc *CreditUseCase) GetBalance(ctx context.Context, userID string) (*BalanceView, error) {
	return uc.balanceUseCase.GetBalance(ctx, userID)
}

// GetAccount 获取账户信息（组合余额与订阅）
func (uc *CreditUseCase) GetAccount(ctx context.Context, userID string) (*AccountView, error) {
	balance, err := uc.balanceUseCase.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub, err := uc.subscriptionUseCase.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	tier, err := uc.subscriptionUseCase.GetUserTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &AccountView{Balance: balance, Subscription: sub, Tier: tier}, nil
}

// InitAccount 开户，写入初始积分
func (uc *CreditUseCase) InitAccount(ctx context.Context, userID string) (*BalanceView, error) {
	if err := uc.balanceUseCase.EnsureBalanceInitialized(ctx, userID); err != nil {
		return nil, err
	}
	return uc.balanceUseCase.GetBalance(ctx, userID)
}

// Estimate 估算积分并检查余额是否足够（不做任何扣减）
func (uc *CreditUseCase) Estimate(ctx context.Context, userID, operationType, modelID string, payloadSize int64) (*EstimateView, error) {
	estimate, err := uc.reservationUseCase.EstimateCost(operationType, modelID, payloadSize)
	if err != nil {
		return nil, err
	}
	out := &EstimateView{OperationType: operationType, ModelID: modelID, Estimate: estimate}
	if userID == "" {
		return out, nil
	}
	balance, err := uc.balanceUseCase.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	out.Current = balance.Total
	out.Sufficient = balance.Total >= estimate
	return out, nil
}

// Reserve 预扣
func (uc *CreditUseCase) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	return uc.reservationUseCase.Reserve(ctx, req)
}

// Settle 结算
func (uc *CreditUseCase) Settle(ctx context.Context, reservationID string, usage Usage) (*SettleResult, error) {
	return uc.reservationUseCase.Settle(ctx, reservationID, usage)
}

// Refund 退还
func (uc *CreditUseCase) Refund(ctx context.Context, reservationID, reason string) (*RefundResult, error) {
	return uc.reservationUseCase.Refund(ctx, reservationID, reason)
}

// GetReservation 查询预扣
func (uc *CreditUseCase) GetReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	return uc.reservationUseCase.GetReservation(ctx, reservationID)
}

// Invoke 预扣 -> 调用上游 -> 结算/退还
func (uc *CreditUseCase) Invoke(ctx context.Context, req *ReserveRequest, payload []byte) (*ExecuteResult, error) {
	return uc.reservationUseCase.Run(ctx, req, payload)
}

// InvokeStream 流式调用
func (uc *CreditUseCase) InvokeStream(ctx context.Context, req *ReserveRequest, payload []byte, onChunk func([]byte) error) (*ExecuteResult, error) {
	return uc.reservationUseCase.Stream(ctx, req, payload, onChunk)
}

// Grant 发放永久积分
func (uc *CreditUseCase) Grant(ctx context.Context, userID string, amount int64, requestID, reason string) (*ApplyResult, error) {
	if requestID == "" {
		return nil, creditErrors.ErrorInvalidArgument("request_id is required")
	}
	res, err := uc.balanceUseCase.GrantCredits(ctx, userID, amount, requestID, reason)
	if err != nil {
		return nil, err
	}
	uc.log.Infof("credits granted: user_id=%s, amount=%d, request_id=%s, reason=%s, replayed=%v",
		userID, amount, requestID, reason, res.Replayed)
	return res, nil
}

// ListLedger 分页查询流水
func (uc *CreditUseCase) ListLedger(ctx context.Context, filter *LedgerFilter, page, pageSize int) ([]*LedgerEntry, int64, error) {
	return uc.ledgerUseCase.ListEntries(ctx, filter, page, pageSize)
}

// VerifyLedger 回放核对
func (uc *CreditUseCase) VerifyLedger(ctx context.Context, userID string) (*ReplayReport, error) {
	return uc.ledgerUseCase.VerifyReplay(ctx, userID)
}

// ListPlans 套餐目录
func (uc *CreditUseCase) ListPlans() []*Plan {
	return uc.subscriptionUseCase.ListPlans()
}

// ApplySubscription 购买/续费/升级套餐
func (uc *CreditUseCase) ApplySubscription(ctx context.Context, userID, planID, requestID string) (*SubscriptionResult, error) {
	return uc.subscriptionUseCase.ApplySubscription(ctx, userID, planID, requestID)
}

// CancelSubscription 取消订阅
func (uc *CreditUseCase) CancelSubscription(ctx context.Context, userID string) (*Subscription, error) {
	return uc.subscriptionUseCase.CancelSubscription(ctx, userID)
}

// GetUsageStats 用量统计
func (uc *CreditUseCase) GetUsageStats(ctx context.Context, userID, period string) (*UsageStats, error) {
	return uc.statsUseCase.GetUsageStats(ctx, userID, period)
}

// SweepStaleReservations 清理超时预扣（定时任务）
func (uc *CreditUseCase) SweepStaleReservations(ctx context.Context) (*SweepReport, error) {
	return uc.reconcileUseCase.SweepStaleReservations(ctx)
}

// VerifyRecentLedgers 核对近期流水（定时任务）
func (uc *CreditUseCase) VerifyRecentLedgers(ctx context.Context, window time.Duration) (*VerifyReport, error) {
	return uc.reconcileUseCase.VerifyRecentLedgers(ctx, time.Now().Add(-window))
}
