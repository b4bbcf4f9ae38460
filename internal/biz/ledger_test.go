package biz_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 过期的会员积分仍留在存储和流水中，只是不计入可用余额；再次订阅时以 forfeit 流水冲销
func TestLedgerUseCase_VerifyReplay_LazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.subscriptions.ApplySubscription(ctx, "u1", "plus_monthly", "order-1")
	require.NoError(t, err)
	env.clock.Advance(31 * 24 * time.Hour)

	assert.Equal(t, int64(350), env.total(t, "u1"))

	report, err := env.ledger.VerifyReplay(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(1350), report.LastBalanceAfter)
	assert.Equal(t, int64(350), report.ReplayedPermanent)
	assert.Equal(t, int64(1000), report.ReplayedSubscription)
	assert.Equal(t, int64(1000), report.StoredSubscription)

	_, err = env.subscriptions.ApplySubscription(ctx, "u1", "plus_monthly", "order-2")
	require.NoError(t, err)
	report, err = env.ledger.VerifyReplay(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(1350), report.LastBalanceAfter)
	assert.Equal(t, int64(1350), env.total(t, "u1"))
}

func TestLedgerUseCase_VerifyReplay_UninitializedUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.Equal(t, int64(350), env.total(t, "u1"))
	report, err := env.ledger.VerifyReplay(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(0), report.Entries)

	_, err = env.credit.InitAccount(ctx, "u1")
	require.NoError(t, err)
	report, err = env.ledger.VerifyReplay(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(1), report.Entries)
	assert.Equal(t, env.total(t, "u1"), report.LastBalanceAfter)
}
