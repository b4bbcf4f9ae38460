package biz_test

import (
	"context"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserBalanceUseCase_GetBalance_UnseenUser(t *testing.T) {
	env := newTestEnv(t)

	view, err := env.balance.GetBalance(context.Background(), "new-user")
	require.NoError(t, err)
	assert.Equal(t, int64(350), view.Permanent)
	assert.Equal(t, int64(0), view.SubscriptionEffective)
	assert.Equal(t, int64(350), view.Total)
	assert.Nil(t, view.AllowanceExpiresAt)

	_, err = env.balance.GetBalance(context.Background(), "")
	assert.True(t, creditErrors.IsInvalidArgument(err))
}

func TestUserBalanceUseCase_EnsureBalanceInitialized_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.balance.EnsureBalanceInitialized(ctx, "u1"))
	require.NoError(t, env.balance.EnsureBalanceInitialized(ctx, "u1"))

	entries, total, err := env.ledger.ListEntries(ctx, &biz.LedgerFilter{UserID: "u1"}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, entries, 1)
	assert.Equal(t, constants.EntryTypeGrant, entries[0].Type)
	assert.Equal(t, int64(350), entries[0].BalanceAfter)
	env.requireConsistent(t, "u1")
}

func TestUserBalanceUseCase_GrantCredits_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.balance.GrantCredits(ctx, "u1", 100, "recharge-1", "recharge")
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(450), first.Entry.BalanceAfter)

	second, err := env.balance.GrantCredits(ctx, "u1", 100, "recharge-1", "recharge")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, int64(450), env.total(t, "u1"))

	_, err = env.balance.GrantCredits(ctx, "u1", 0, "recharge-2", "recharge")
	assert.True(t, creditErrors.IsInvalidArgument(err))
	env.requireConsistent(t, "u1")
}

func TestUserBalanceUseCase_ApplyDelta_RetriesVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.balance.EnsureBalanceInitialized(ctx, "u1"))

	env.balanceRepo.failures = 2
	res, err := env.balance.GrantCredits(ctx, "u1", 10, "grant-1", "promo")
	require.NoError(t, err)
	assert.Equal(t, int64(360), res.Entry.BalanceAfter)
	assert.Equal(t, 3, env.balanceRepo.updates)
	assert.Equal(t, int64(360), env.total(t, "u1"))
	env.requireConsistent(t, "u1")
}

func TestUserBalanceUseCase_ApplyDelta_ConflictExhausted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.balance.EnsureBalanceInitialized(ctx, "u1"))

	env.balanceRepo.failures = -1
	_, err := env.balance.GrantCredits(ctx, "u1", 10, "grant-1", "promo")
	assert.True(t, creditErrors.IsLedgerWriteConflict(err))
	assert.Equal(t, env.conf.Retry.MaxAttempts, env.balanceRepo.updates)

	// 冲突时事务回滚，余额与流水都不变
	env.balanceRepo.failures = 0
	assert.Equal(t, int64(350), env.total(t, "u1"))
	entries, _, err := env.ledger.ListEntries(ctx, &biz.LedgerFilter{UserID: "u1", Type: constants.EntryTypeGrant}, 1, 20)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	env.requireConsistent(t, "u1")
}

func TestUserBalanceUseCase_ApplyDelta_ComputeErrorLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.balance.ApplyDelta(ctx, &biz.Mutation{
		UserID:    "u1",
		RequestID: "consume-1",
		Type:      constants.EntryTypeConsume,
		Compute: func(_ context.Context, b *biz.UserBalance, now time.Time) (*biz.BalanceChange, error) {
			_, err := biz.SplitDeduction(b, 1000, now)
			return nil, err
		},
	})
	assert.True(t, creditErrors.IsInsufficientCredits(err))
	assert.Equal(t, int64(350), env.total(t, "u1"))

	entries, _, err := env.ledger.ListEntries(ctx, &biz.LedgerFilter{UserID: "u1", RequestID: "consume-1"}, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUserBalanceUseCase_ExpiredAllowanceForfeitedOnNextGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.subscriptions.ApplySubscription(ctx, "u1", "plus_monthly", "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1350), env.total(t, "u1"))

	env.clock.Advance(31 * 24 * time.Hour)
	view, err := env.balance.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.SubscriptionEffective)
	assert.Equal(t, int64(350), view.Total)

	res, err := env.subscriptions.ApplySubscription(ctx, "u1", "plus_monthly", "order-2")
	require.NoError(t, err)
	assert.Equal(t, constants.SubscriptionActionCreated, res.Action)
	assert.Equal(t, int64(1000), res.Balance.SubscriptionEffective)

	forfeits, _, err := env.ledger.ListEntries(ctx, &biz.LedgerFilter{
		UserID:    "u1",
		RequestID: constants.RequestIDPrefixSubscription + "order-2" + constants.RequestIDSuffixForfeit,
	}, 1, 20)
	require.NoError(t, err)
	require.Len(t, forfeits, 1)
	assert.Equal(t, int64(-1000), forfeits[0].SubscriptionDelta)
	env.requireConsistent(t, "u1")
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := biz.RetryPolicy{MaxAttempts: 3, MinBackoff: 100 * time.Millisecond, MaxBackoff: 400 * time.Millisecond}
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, p.MinBackoff)
		assert.LessOrEqual(t, d, p.MaxBackoff)
	}

	fixed := biz.RetryPolicy{MinBackoff: 50 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, fixed.Backoff(3))
}
