package biz_test

import (
	"testing"
	"time"

	"credit-service/internal/biz"
	creditErrors "credit-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func balanceWithAllowance(permanent, allowance int64, expiresAt time.Time) *biz.UserBalance {
	return &biz.UserBalance{
		UserID:           "u1",
		PermanentCredits: permanent,
		Allowance:        &biz.Allowance{Amount: allowance, ExpiresAt: expiresAt},
	}
}

func TestSplitDeduction_AllowanceFirst(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	b := balanceWithAllowance(100, 30, now.Add(24*time.Hour))

	split, err := biz.SplitDeduction(b, 40, now)
	require.NoError(t, err)
	assert.Equal(t, int64(30), split.Subscription)
	assert.Equal(t, int64(10), split.Permanent)
	assert.Equal(t, int64(40), split.Total())

	// 结果：会员积分 0，永久积分 90
	assert.Equal(t, int64(0), b.SubscriptionEffective(now)-split.Subscription)
	assert.Equal(t, int64(90), b.PermanentCredits-split.Permanent)
}

func TestSplitDeduction_Insufficient(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	b := &biz.UserBalance{UserID: "u1", PermanentCredits: 10}

	_, err := biz.SplitDeduction(b, 30, now)
	require.Error(t, err)
	current, required, shortfall, ok := creditErrors.InsufficientCreditsDetail(err)
	require.True(t, ok)
	assert.Equal(t, int64(10), current)
	assert.Equal(t, int64(30), required)
	assert.Equal(t, int64(20), shortfall)
}

func TestSplitDeduction_ExpiredAllowanceIgnored(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	b := balanceWithAllowance(20, 500, now.Add(-time.Second))

	assert.Equal(t, int64(0), b.SubscriptionEffective(now))
	assert.Equal(t, int64(20), b.Total(now))
	assert.Equal(t, int64(500), b.StaleAllowance(now))

	_, err := biz.SplitDeduction(b, 21, now)
	assert.True(t, creditErrors.IsInsufficientCredits(err))

	split, err := biz.SplitDeduction(b, 20, now)
	require.NoError(t, err)
	assert.Equal(t, biz.Split{Permanent: 20}, split)
}

func TestSplitDeduction_ExpiresAtBoundary(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	b := balanceWithAllowance(0, 50, now)

	assert.Equal(t, int64(0), b.SubscriptionEffective(now))
	assert.Equal(t, int64(50), b.SubscriptionEffective(now.Add(-time.Nanosecond)))
}

func TestDrainDeduction(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	b := balanceWithAllowance(5, 3, now.Add(time.Hour))

	split, shortfall := biz.DrainDeduction(b, 12, now)
	assert.Equal(t, biz.Split{Subscription: 3, Permanent: 5}, split)
	assert.Equal(t, int64(4), shortfall)

	split, shortfall = biz.DrainDeduction(b, 6, now)
	assert.Equal(t, biz.Split{Subscription: 3, Permanent: 3}, split)
	assert.Equal(t, int64(0), shortfall)
}

func TestRefundSplit(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	drawn := biz.Split{Subscription: 7, Permanent: 3}

	active := balanceWithAllowance(0, 0, now.Add(time.Hour))
	assert.Equal(t, drawn, biz.RefundSplit(active, drawn, now))

	expired := balanceWithAllowance(0, 0, now.Add(-time.Hour))
	assert.Equal(t, biz.Split{Permanent: 10}, biz.RefundSplit(expired, drawn, now))
}
