package biz

import (
	"time"

	creditErrors "credit-service/internal/errors"
)

// Split 一次扣减在两个账户间的分配
type Split struct {
	Subscription int64
	Permanent    int64
}

// Total 合计
func (s Split) Total() int64 {
	return s.Subscription + s.Permanent
}

// SplitDeduction 扣减 n 积分：先扣有效会员积分，再扣永久积分。余额不足时整笔拒绝
func SplitDeduction(b *UserBalance, n int64, now time.Time) (Split, error) {
	sub := b.SubscriptionEffective(now)
	total := sub + b.PermanentCredits
	if total < n {
		return Split{}, creditErrors.ErrorInsufficientCredits(total, n)
	}
	fromSub := min(n, sub)
	return Split{Subscription: fromSub, Permanent: n - fromSub}, nil
}

// DrainDeduction 按同样的优先级尽量扣减，余额不足时扣到 0 并返回未扣到的部分
func DrainDeduction(b *UserBalance, n int64, now time.Time) (Split, int64) {
	fromSub := min(n, b.SubscriptionEffective(now))
	fromPerm := min(n-fromSub, b.PermanentCredits)
	return Split{Subscription: fromSub, Permanent: fromPerm}, n - fromSub - fromPerm
}

// RefundSplit 退回已扣的积分。会员积分已过期时改退到永久积分，总额不变
func RefundSplit(b *UserBalance, s Split, now time.Time) Split {
	if s.Subscription > 0 && !b.Allowance.Active(now) {
		return Split{Permanent: s.Permanent + s.Subscription}
	}
	return s
}

func (s Split) debit() *BalanceChange {
	return &BalanceChange{PermanentDelta: -s.Permanent, SubscriptionDelta: -s.Subscription}
}

func (s Split) credit() *BalanceChange {
	return &BalanceChange{PermanentDelta: s.Permanent, SubscriptionDelta: s.Subscription}
}
