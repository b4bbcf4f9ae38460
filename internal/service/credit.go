package service

import (
	"context"
	"time"

	"credit-service/internal/biz"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// CreditService 面向前端/开发者的服务
type CreditService struct {
	uc  *biz.CreditUseCase
	log *log.Helper
}

// NewCreditService 创建 CreditService
func NewCreditService(uc *biz.CreditUseCase, logger log.Logger) *CreditService {
	return &CreditService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// GetAccount 获取账户信息
func (s *CreditService) GetAccount(ctx context.Context, req *GetAccountRequest) (*GetAccountReply, error) {
	account, err := s.uc.GetAccount(ctx, req.UserId)
	if err != nil {
		s.log.Errorf("GetAccount failed: %v", err)
		return nil, err
	}
	return &GetAccountReply{
		UserId:                req.UserId,
		Permanent:             account.Balance.Permanent,
		SubscriptionEffective: account.Balance.SubscriptionEffective,
		Total:                 account.Balance.Total,
		AllowanceExpiresAt:    account.Balance.AllowanceExpiresAt,
		Tier:                  account.Tier,
		Subscription:          account.Subscription,
	}, nil
}

// GetBalance 获取余额
func (s *CreditService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*biz.BalanceView, error) {
	return s.uc.GetBalance(ctx, req.UserId)
}

// Estimate 估算积分
func (s *CreditService) Estimate(ctx context.Context, req *EstimateRequest) (*biz.EstimateView, error) {
	return s.uc.Estimate(ctx, req.UserId, req.OperationType, req.ModelId, req.PayloadSize)
}

// ListLedger 获取积分流水
func (s *CreditService) ListLedger(ctx context.Context, req *ListLedgerRequest) (*ListLedgerReply, error) {
	filter := &biz.LedgerFilter{
		UserID:    req.UserId,
		Type:      req.Type,
		RequestID: req.RequestId,
	}
	var err error
	if filter.Since, err = parseTime(req.Since); err != nil {
		return nil, err
	}
	if filter.Until, err = parseTime(req.Until); err != nil {
		return nil, err
	}

	entries, total, err := s.uc.ListLedger(ctx, filter, int(req.Page), int(req.PageSize))
	if err != nil {
		s.log.Errorf("ListLedger failed: %v", err)
		return nil, err
	}

	reply := &ListLedgerReply{
		Entries: make([]*LedgerEntry, 0, len(entries)),
		Total:   total,
	}
	for _, e := range entries {
		reply.Entries = append(reply.Entries, &LedgerEntry{
			EntryId:           e.ID,
			UserId:            e.UserID,
			Type:              e.Type,
			Delta:             e.Delta,
			PermanentDelta:    e.PermanentDelta,
			SubscriptionDelta: e.SubscriptionDelta,
			BalanceBefore:     e.BalanceBefore,
			BalanceAfter:      e.BalanceAfter,
			RequestId:         e.RequestID,
			Metadata:          e.Metadata,
			CreatedAt:         e.CreatedAt,
		})
	}
	return reply, nil
}

// ListPlans 套餐目录
func (s *CreditService) ListPlans(ctx context.Context, req *ListPlansRequest) (*ListPlansReply, error) {
	return &ListPlansReply{Plans: s.uc.ListPlans()}, nil
}

// ApplySubscription 购买/续费/升级套餐
func (s *CreditService) ApplySubscription(ctx context.Context, req *ApplySubscriptionRequest) (*biz.SubscriptionResult, error) {
	res, err := s.uc.ApplySubscription(ctx, req.UserId, req.PlanId, req.RequestId)
	if err != nil {
		s.log.Errorf("ApplySubscription failed: %v", err)
		return nil, err
	}
	return res, nil
}

// CancelSubscription 取消订阅
func (s *CreditService) CancelSubscription(ctx context.Context, req *CancelSubscriptionRequest) (*biz.Subscription, error) {
	return s.uc.CancelSubscription(ctx, req.UserId)
}

// GetUsageStats 用量统计
func (s *CreditService) GetUsageStats(ctx context.Context, req *GetUsageStatsRequest) (*biz.UsageStats, error) {
	return s.uc.GetUsageStats(ctx, req.UserId, req.Period)
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, creditErrors.ErrorInvalidArgument("invalid time %q, want RFC3339", v)
	}
	return &t, nil
}
