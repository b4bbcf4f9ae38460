package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Allowance 会员积分窗口。过期后不主动清零，只是不再计入可用余额
type Allowance struct {
	Amount    int64
	ExpiresAt time.Time
	Priority  int
	PlanID    string
}

// Active 当前时刻是否仍在有效期内
func (a *Allowance) Active(now time.Time) bool {
	return a != nil && now.Before(a.ExpiresAt)
}

// UserBalance 用户余额领域对象
type UserBalance struct {
	UserID           string
	PermanentCredits int64
	Allowance        *Allowance
	Version          int64
	UpdatedAt        time.Time
}

// SubscriptionEffective 有效会员积分
func (b *UserBalance) SubscriptionEffective(now time.Time) int64 {
	if !b.Allowance.Active(now) {
		return 0
	}
	return b.Allowance.Amount
}

// StaleAllowance 已过期但未清零的会员积分
func (b *UserBalance) StaleAllowance(now time.Time) int64 {
	if b.Allowance == nil || b.Allowance.Active(now) {
		return 0
	}
	return b.Allowance.Amount
}

// StoredAllowance 存储中的会员积分（不论是否过期）
func (b *UserBalance) StoredAllowance() int64 {
	if b.Allowance == nil {
		return 0
	}
	return b.Allowance.Amount
}

// StoredTotal 存储总额，流水的 balance_before/balance_after 基于它
func (b *UserBalance) StoredTotal() int64 {
	return b.PermanentCredits + b.StoredAllowance()
}

// Total 可用总额
func (b *UserBalance) Total(now time.Time) int64 {
	return b.PermanentCredits + b.SubscriptionEffective(now)
}

func (b *UserBalance) clone() *UserBalance {
	c := *b
	if b.Allowance != nil {
		a := *b.Allowance
		c.Allowance = &a
	}
	return &c
}

// BalanceView 对外展示的余额
type BalanceView struct {
	UserID                string     `json:"user_id"`
	Permanent             int64      `json:"permanent"`
	SubscriptionEffective int64      `json:"subscription_effective"`
	Total                 int64      `json:"total"`
	AllowanceExpiresAt    *time.Time `json:"allowance_expires_at,omitempty"`
}

// NewBalanceView 按当前时刻计算展示余额
func NewBalanceView(b *UserBalance, now time.Time) *BalanceView {
	v := &BalanceView{
		UserID:                b.UserID,
		Permanent:             b.PermanentCredits,
		SubscriptionEffective: b.SubscriptionEffective(now),
		Total:                 b.Total(now),
	}
	if b.Allowance.Active(now) {
		expires := b.Allowance.ExpiresAt
		v.AllowanceExpiresAt = &expires
	}
	return v
}

// UserBalanceRepo 余额数据层接口（定义在 biz 层）
type UserBalanceRepo interface {
	// GetUserBalance 不存在时返回 nil, nil
	GetUserBalance(ctx context.Context, userID string) (*UserBalance, error)
	// CreateUserBalance 已存在时返回 ErrDuplicateEntry
	CreateUserBalance(ctx context.Context, b *UserBalance) error
	// UpdateUserBalance 按版本号条件更新，版本不符返回 ErrVersionConflict
	UpdateUserBalance(ctx context.Context, b *UserBalance, expectedVersion int64) error
	// InvalidateCache 提交后清理余额缓存，version 为提交后的版本号
	InvalidateCache(ctx context.Context, userID string, version int64)
}

// BalanceChange 一次余额变更
type BalanceChange struct {
	PermanentDelta    int64
	SubscriptionDelta int64
	// Forfeit 在本次变更前清零的过期会员积分，单独记一条 adjust 流水
	Forfeit int64
	// Window 非空时替换会员积分的有效期
	Window   *Allowance
	Metadata map[string]string
}

// Mutation 余额变更请求。Compute 在事务内基于最新余额计算变更，AfterApply 在同一事务内执行附带写入
type Mutation struct {
	UserID     string
	RequestID  string
	Type       string
	Compute    func(ctx context.Context, b *UserBalance, now time.Time) (*BalanceChange, error)
	AfterApply func(ctx context.Context, entry *LedgerEntry) error
}

// ApplyResult 变更结果
type ApplyResult struct {
	Entry    *LedgerEntry
	Balance  *UserBalance
	Replayed bool
}

// UserBalanceUseCase 余额业务逻辑，唯一的余额变更入口
type UserBalanceUseCase struct {
	repo    UserBalanceRepo
	ledger  LedgerRepo
	tx      Transaction
	locker  UserLocker
	conf    *BillingConfig
	metrics *metrics.CreditMetrics
	log     *log.Helper
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewUserBalanceUseCase 创建余额 UseCase
func NewUserBalanceUseCase(
	repo UserBalanceRepo,
	ledger LedgerRepo,
	tx Transaction,
	locker UserLocker,
	conf *BillingConfig,
	m *metrics.CreditMetrics,
	logger log.Logger,
) *UserBalanceUseCase {
	return &UserBalanceUseCase{
		repo:    repo,
		ledger:  ledger,
		tx:      tx,
		locker:  locker,
		conf:    conf,
		metrics: m,
		log:     log.NewHelper(logger),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// GetBalance 获取余额，无副作用。未初始化的用户按默认初始积分展示
func (uc *UserBalanceUseCase) GetBalance(ctx context.Context, userID string) (*BalanceView, error) {
	if userID == "" {
		return nil, creditErrors.ErrorInvalidArgument("user_id is required")
	}
	if uc.metrics != nil {
		uc.metrics.BalanceQueryTotal.Inc()
	}
	b, err := uc.repo.GetUserBalance(ctx, userID)
	if err != nil {
		uc.log.Errorf("GetBalance failed: user_id=%s, error=%v", userID, err)
		return nil, creditErrors.ErrorInternal("get balance failed")
	}
	if b == nil {
		b = &UserBalance{UserID: userID, PermanentCredits: uc.conf.DefaultGrant}
	}
	return NewBalanceView(b, uc.now()), nil
}

// EnsureBalanceInitialized 开户：写入余额记录和初始发放流水，重复调用无副作用
func (uc *UserBalanceUseCase) EnsureBalanceInitialized(ctx context.Context, userID string) error {
	if userID == "" {
		return creditErrors.ErrorInvalidArgument("user_id is required")
	}
	err := uc.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := uc.repo.GetUserBalance(ctx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		b := &UserBalance{
			UserID:           userID,
			PermanentCredits: uc.conf.DefaultGrant,
			Version:          1,
		}
		if err := uc.repo.CreateUserBalance(ctx, b); err != nil {
			return err
		}
		entry := newLedgerEntry(userID, constants.RequestIDPrefixInit+userID, constants.EntryTypeGrant,
			uc.conf.DefaultGrant, 0, 0, map[string]string{"reason": "initial_grant"}, uc.now())
		return uc.ledger.CreateEntry(ctx, entry)
	})
	if errors.Is(err, ErrDuplicateEntry) {
		return nil
	}
	if err != nil {
		uc.log.Errorf("EnsureBalanceInitialized failed: user_id=%s, error=%v", userID, err)
		return creditErrors.ErrorInternal("initialize balance failed")
	}
	return nil
}

// ApplyDelta 原子地变更余额并追加流水。同一用户 (request_id, type) 重复时直接返回原流水
func (uc *UserBalanceUseCase) ApplyDelta(ctx context.Context, m *Mutation) (*ApplyResult, error) {
	if m.UserID == "" || m.RequestID == "" || m.Type == "" || m.Compute == nil {
		return nil, creditErrors.ErrorInvalidArgument("user_id, request_id and type are required")
	}
	startTime := time.Now()
	defer func() {
		if uc.metrics != nil {
			uc.metrics.ApplyDeltaLatency.WithLabelValues(m.Type).Observe(time.Since(startTime).Seconds())
		}
	}()

	if uc.locker != nil {
		unlock, err := uc.locker.Lock(ctx, m.UserID)
		if err != nil {
			uc.log.Errorf("ApplyDelta lock failed: user_id=%s, request_id=%s, error=%v", m.UserID, m.RequestID, err)
			return nil, creditErrors.ErrorLockFailed(m.UserID)
		}
		defer unlock()
	}

	if err := uc.EnsureBalanceInitialized(ctx, m.UserID); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		result, err := uc.applyOnce(ctx, m)
		if err == nil {
			if !result.Replayed {
				uc.repo.InvalidateCache(ctx, m.UserID, result.Balance.Version)
			}
			uc.observe(m.Type, result)
			return result, nil
		}
		if errors.Is(err, ErrDuplicateEntry) {
			// 并发的同 request_id 写入已提交
			if entry, gerr := uc.ledger.GetEntryByRequest(ctx, m.UserID, m.RequestID, m.Type); gerr == nil && entry != nil {
				result, rerr := uc.replayResult(ctx, entry)
				if rerr != nil {
					return nil, rerr
				}
				uc.observe(m.Type, result)
				return result, nil
			}
		}
		if !errors.Is(err, ErrVersionConflict) {
			uc.observeFailure(m.Type, err)
			if !isBizError(err) {
				uc.log.Errorf("ApplyDelta failed: user_id=%s, request_id=%s, error=%v", m.UserID, m.RequestID, err)
			}
			return nil, wrapInternal(err, "apply delta failed")
		}
		if attempt >= uc.conf.Retry.MaxAttempts {
			uc.log.Errorf("ApplyDelta conflict exhausted: user_id=%s, request_id=%s, attempts=%d", m.UserID, m.RequestID, attempt)
			uc.observeFailure(m.Type, err)
			return nil, creditErrors.ErrorLedgerWriteConflict(m.UserID, attempt)
		}
		if uc.metrics != nil {
			uc.metrics.ApplyDeltaRetry.Inc()
		}
		uc.log.Warnf("ApplyDelta version conflict, retrying: user_id=%s, request_id=%s, attempt=%d", m.UserID, m.RequestID, attempt)
		if err := uc.sleep(ctx, uc.conf.Retry.Backoff(attempt)); err != nil {
			return nil, creditErrors.ErrorLedgerWriteConflict(m.UserID, attempt)
		}
	}
}

func (uc *UserBalanceUseCase) applyOnce(ctx context.Context, m *Mutation) (*ApplyResult, error) {
	var result *ApplyResult
	err := uc.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := uc.ledger.GetEntryByRequest(ctx, m.UserID, m.RequestID, m.Type)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &ApplyResult{Entry: existing, Replayed: true}
			return nil
		}

		b, err := uc.repo.GetUserBalance(ctx, m.UserID)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("balance not initialized: user_id=%s", m.UserID)
		}

		now := uc.now()
		change, err := m.Compute(ctx, b, now)
		if err != nil {
			return err
		}

		next := b.clone()
		var entries []*LedgerEntry
		if change.Forfeit > 0 {
			before := next.StoredTotal()
			next.Allowance.Amount -= change.Forfeit
			entries = append(entries, newLedgerEntry(m.UserID, m.RequestID+constants.RequestIDSuffixForfeit,
				constants.EntryTypeAdjust, 0, -change.Forfeit, before,
				map[string]string{"reason": "allowance_expired"}, now))
		}

		before := next.StoredTotal()
		if change.Window != nil {
			amount := next.StoredAllowance()
			window := *change.Window
			window.Amount = amount
			next.Allowance = &window
		}
		if change.SubscriptionDelta != 0 && next.Allowance == nil {
			return fmt.Errorf("subscription delta without allowance: user_id=%s", m.UserID)
		}
		next.PermanentCredits += change.PermanentDelta
		if next.Allowance != nil {
			next.Allowance.Amount += change.SubscriptionDelta
		}
		if next.PermanentCredits < 0 || next.StoredAllowance() < 0 {
			return fmt.Errorf("negative balance after mutation: user_id=%s, request_id=%s", m.UserID, m.RequestID)
		}
		next.Version = b.Version + 1
		next.UpdatedAt = now

		if err := uc.repo.UpdateUserBalance(ctx, next, b.Version); err != nil {
			return err
		}

		main := newLedgerEntry(m.UserID, m.RequestID, m.Type, change.PermanentDelta, change.SubscriptionDelta,
			before, change.Metadata, now)
		entries = append(entries, main)
		for _, e := range entries {
			if err := uc.ledger.CreateEntry(ctx, e); err != nil {
				return err
			}
		}
		if m.AfterApply != nil {
			if err := m.AfterApply(ctx, main); err != nil {
				return err
			}
		}
		result = &ApplyResult{Entry: main, Balance: next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return uc.replayResult(ctx, result.Entry)
	}
	return result, nil
}

func (uc *UserBalanceUseCase) replayResult(ctx context.Context, entry *LedgerEntry) (*ApplyResult, error) {
	b, err := uc.repo.GetUserBalance(ctx, entry.UserID)
	if err != nil {
		return nil, wrapInternal(err, "get balance failed")
	}
	return &ApplyResult{Entry: entry, Balance: b, Replayed: true}, nil
}

func (uc *UserBalanceUseCase) observe(entryType string, result *ApplyResult) {
	if uc.metrics == nil {
		return
	}
	label := constants.ResultSuccess
	if result.Replayed {
		label = constants.ResultReplayed
	}
	uc.metrics.ApplyDeltaTotal.WithLabelValues(entryType, label).Inc()
}

func (uc *UserBalanceUseCase) observeFailure(entryType string, err error) {
	if uc.metrics == nil {
		return
	}
	label := constants.ResultFailed
	if creditErrors.IsInsufficientCredits(err) {
		label = constants.ResultInsufficient
	}
	uc.metrics.ApplyDeltaTotal.WithLabelValues(entryType, label).Inc()
}

// Now 当前时间（便于测试替换）
func (uc *UserBalanceUseCase) Now() time.Time {
	return uc.now()
}

// GrantCredits 发放永久积分（充值、激活码等），按 request_id 幂等
func (uc *UserBalanceUseCase) GrantCredits(ctx context.Context, userID string, amount int64, requestID, reason string) (*ApplyResult, error) {
	if amount <= 0 {
		return nil, creditErrors.ErrorInvalidArgument("amount must be positive")
	}
	return uc.ApplyDelta(ctx, &Mutation{
		UserID:    userID,
		RequestID: requestID,
		Type:      constants.EntryTypeGrant,
		Compute: func(_ context.Context, _ *UserBalance, _ time.Time) (*BalanceChange, error) {
			return &BalanceChange{
				PermanentDelta: amount,
				Metadata:       map[string]string{"reason": reason},
			}, nil
		},
	})
}
