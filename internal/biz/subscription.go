package biz

import (
	"context"
	"strconv"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Plan 订阅套餐
type Plan struct {
	ID               string          `json:"plan_id"`
	Name             string          `json:"name"`
	Tier             string          `json:"tier"`
	Priority         int             `json:"priority"`
	Price            decimal.Decimal `json:"price"`
	DurationDays     int             `json:"duration_days"`
	MonthlyAllowance int64           `json:"monthly_allowance"`
}

// Subscription 订阅领域对象
type Subscription struct {
	ID               string          `json:"subscription_id"`
	UserID           string          `json:"user_id"`
	PlanID           string          `json:"plan_id"`
	Tier             string          `json:"tier"`
	Priority         int             `json:"priority"`
	Price            decimal.Decimal `json:"price"`
	DurationDays     int             `json:"duration_days"`
	MonthlyAllowance int64           `json:"monthly_allowance"`
	StartDate        time.Time       `json:"start_date"`
	EndDate          time.Time       `json:"end_date"`
	Status           string          `json:"status"`
	RequestID        string          `json:"request_id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// plan 订阅创建时的套餐快照
func (s *Subscription) plan() *Plan {
	return &Plan{
		ID:               s.PlanID,
		Tier:             s.Tier,
		Priority:         s.Priority,
		Price:            s.Price,
		DurationDays:     s.DurationDays,
		MonthlyAllowance: s.MonthlyAllowance,
	}
}

// SubscriptionRepo 订阅数据层接口（定义在 biz 层）
type SubscriptionRepo interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	// GetActiveSubscription 不存在时返回 nil, nil
	GetActiveSubscription(ctx context.Context, userID string) (*Subscription, error)
	CreateSubscription(ctx context.Context, s *Subscription) error
	UpdateSubscription(ctx context.Context, s *Subscription) error
}

// SubscriptionResult 订阅结果
type SubscriptionResult struct {
	Action       string        `json:"action"`
	Subscription *Subscription `json:"subscription"`
	Granted      int64         `json:"granted"`
	Proration    *Proration    `json:"proration,omitempty"`
	Replayed     bool          `json:"replayed"`
	Balance      *BalanceView  `json:"balance,omitempty"`
}

// SubscriptionUseCase 订阅业务逻辑
type SubscriptionUseCase struct {
	repo    SubscriptionRepo
	balance *UserBalanceUseCase
	conf    *BillingConfig
	metrics *metrics.CreditMetrics
	log     *log.Helper
}

// NewSubscriptionUseCase 创建订阅 UseCase
func NewSubscriptionUseCase(
	repo SubscriptionRepo,
	balance *UserBalanceUseCase,
	conf *BillingConfig,
	m *metrics.CreditMetrics,
	logger log.Logger,
) *SubscriptionUseCase {
	return &SubscriptionUseCase{
		repo:    repo,
		balance: balance,
		conf:    conf,
		metrics: m,
		log:     log.NewHelper(logger),
	}
}

// ListPlans 套餐目录
func (uc *SubscriptionUseCase) ListPlans() []*Plan {
	plans := make([]*Plan, 0, len(uc.conf.Plans))
	for _, p := range uc.conf.Plans {
		plans = append(plans, p)
	}
	return plans
}

// subscriptionChange 在事务内决定的订阅写入
type subscriptionChange struct {
	action    string
	granted   int64
	proration *Proration
	create    *Subscription
	updates   []*Subscription
}

// ApplySubscription 购买/续费/升级套餐。订阅写入与发放流水在同一事务内提交，request_id 重放无副作用
func (uc *SubscriptionUseCase) ApplySubscription(ctx context.Context, userID, planID, requestID string) (*SubscriptionResult, error) {
	if userID == "" || requestID == "" {
		return nil, creditErrors.ErrorInvalidArgument("user_id and request_id are required")
	}
	plan, ok := uc.conf.Plans[planID]
	if !ok {
		return nil, creditErrors.ErrorInvalidPlan(planID)
	}

	var change *subscriptionChange
	res, err := uc.balance.ApplyDelta(ctx, &Mutation{
		UserID:    userID,
		RequestID: constants.RequestIDPrefixSubscription + requestID,
		Type:      constants.EntryTypeGrant,
		Compute: func(ctx context.Context, b *UserBalance, now time.Time) (*BalanceChange, error) {
			current, err := uc.repo.GetActiveSubscription(ctx, userID)
			if err != nil {
				return nil, err
			}
			change, err = uc.decide(current, plan, userID, requestID, now)
			if err != nil {
				return nil, err
			}
			return &BalanceChange{
				SubscriptionDelta: change.granted,
				Forfeit:           b.StaleAllowance(now),
				Window: &Allowance{
					ExpiresAt: change.create.EndDate,
					Priority:  plan.Priority,
					PlanID:    plan.ID,
				},
				Metadata: map[string]string{
					"action":          change.action,
					"plan_id":         plan.ID,
					"subscription_id": change.create.ID,
					"granted":         strconv.FormatInt(change.granted, 10),
				},
			}, nil
		},
		AfterApply: func(ctx context.Context, _ *LedgerEntry) error {
			for _, s := range change.updates {
				if err := uc.repo.UpdateSubscription(ctx, s); err != nil {
					return err
				}
			}
			if change.action == constants.SubscriptionActionExtended {
				return nil
			}
			return uc.repo.CreateSubscription(ctx, change.create)
		},
	})
	if err != nil {
		if creditErrors.IsDowngradeNotAllowed(err) {
			uc.log.Infof("downgrade rejected: user_id=%s, plan_id=%s", userID, planID)
		}
		return nil, err
	}
	if res.Replayed {
		return uc.replaySubscription(ctx, res)
	}

	if uc.metrics != nil {
		uc.metrics.SubscriptionTotal.WithLabelValues(change.action).Inc()
		uc.metrics.SubscriptionGranted.WithLabelValues(plan.ID).Add(float64(change.granted))
	}
	uc.log.Infof("subscription applied: user_id=%s, plan_id=%s, action=%s, end_date=%s, granted=%d",
		userID, plan.ID, change.action, change.create.EndDate.Format(time.RFC3339), change.granted)
	return &SubscriptionResult{
		Action:       change.action,
		Subscription: change.create,
		Granted:      change.granted,
		Proration:    change.proration,
		Balance:      NewBalanceView(res.Balance, uc.balance.Now()),
	}, nil
}

// decide 根据当前订阅决定新建、续期或升级
func (uc *SubscriptionUseCase) decide(current *Subscription, plan *Plan, userID, requestID string, now time.Time) (*subscriptionChange, error) {
	change := &subscriptionChange{granted: plan.PeriodAllowance()}

	if current != nil && !now.Before(current.EndDate) {
		expired := *current
		expired.Status = constants.SubscriptionStatusExpired
		expired.UpdatedAt = now
		change.updates = append(change.updates, &expired)
		current = nil
	}

	newSubscription := func(end time.Time) *Subscription {
		return &Subscription{
			ID:               uuid.New().String(),
			UserID:           userID,
			PlanID:           plan.ID,
			Tier:             plan.Tier,
			Priority:         plan.Priority,
			Price:            plan.Price,
			DurationDays:     plan.DurationDays,
			MonthlyAllowance: plan.MonthlyAllowance,
			StartDate:        now,
			EndDate:          end,
			Status:           constants.SubscriptionStatusActive,
			RequestID:        requestID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}

	switch {
	case current == nil:
		change.action = constants.SubscriptionActionCreated
		change.create = newSubscription(now.Add(plan.Duration()))
	case plan.Priority == current.Priority:
		// 同级续费：顺延到期时间，套餐按本次购买更新
		extended := *current
		extended.EndDate = current.EndDate.Add(plan.Duration())
		extended.PlanID = plan.ID
		extended.Tier = plan.Tier
		extended.Price = plan.Price
		extended.DurationDays = plan.DurationDays
		extended.MonthlyAllowance = plan.MonthlyAllowance
		extended.UpdatedAt = now
		change.action = constants.SubscriptionActionExtended
		change.create = &extended
		change.updates = append(change.updates, &extended)
	case plan.Priority > current.Priority:
		proration := Prorate(current.plan(), current.EndDate, plan, now)
		superseded := *current
		superseded.Status = constants.SubscriptionStatusSuperseded
		superseded.UpdatedAt = now
		change.action = constants.SubscriptionActionUpgraded
		change.proration = &proration
		change.create = newSubscription(now.Add(proration.Duration(plan)))
		change.updates = append(change.updates, &superseded)
	default:
		return nil, creditErrors.ErrorDowngradeNotAllowed(current.PlanID, plan.ID)
	}
	return change, nil
}

func (uc *SubscriptionUseCase) replaySubscription(ctx context.Context, res *ApplyResult) (*SubscriptionResult, error) {
	granted, _ := strconv.ParseInt(res.Entry.Metadata["granted"], 10, 64)
	s, err := uc.repo.GetSubscription(ctx, res.Entry.Metadata["subscription_id"])
	if err != nil {
		return nil, wrapInternal(err, "get subscription failed")
	}
	out := &SubscriptionResult{
		Action:       res.Entry.Metadata["action"],
		Subscription: s,
		Granted:      granted,
		Replayed:     true,
	}
	if res.Balance != nil {
		out.Balance = NewBalanceView(res.Balance, uc.balance.Now())
	}
	return out, nil
}

// GetActiveSubscription 当前生效的订阅，已过期视为无订阅
func (uc *SubscriptionUseCase) GetActiveSubscription(ctx context.Context, userID string) (*Subscription, error) {
	s, err := uc.repo.GetActiveSubscription(ctx, userID)
	if err != nil {
		uc.log.Errorf("GetActiveSubscription failed: user_id=%s, error=%v", userID, err)
		return nil, creditErrors.ErrorInternal("get subscription failed")
	}
	if s == nil || !uc.balance.Now().Before(s.EndDate) {
		return nil, nil
	}
	return s, nil
}

// CancelSubscription 取消订阅，已发放的会员积分保留到到期
func (uc *SubscriptionUseCase) CancelSubscription(ctx context.Context, userID string) (*Subscription, error) {
	s, err := uc.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, creditErrors.ErrorSubscriptionNotFound(userID)
	}
	s.Status = constants.SubscriptionStatusCancelled
	s.UpdatedAt = uc.balance.Now()
	if err := uc.repo.UpdateSubscription(ctx, s); err != nil {
		uc.log.Errorf("CancelSubscription failed: user_id=%s, error=%v", userID, err)
		return nil, creditErrors.ErrorInternal("cancel subscription failed")
	}
	uc.log.Infof("subscription cancelled: user_id=%s, subscription_id=%s", userID, s.ID)
	return s, nil
}

// GetUserTier 会员等级，无有效订阅时为 free
func (uc *SubscriptionUseCase) GetUserTier(ctx context.Context, userID string) (string, error) {
	s, err := uc.GetActiveSubscription(ctx, userID)
	if err != nil {
		return "", err
	}
	if s == nil || s.Tier == "" {
		return constants.TierFree, nil
	}
	return s.Tier, nil
}
