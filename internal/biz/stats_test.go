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

func TestStatsUseCase_GetUsageStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, chars := range []int64{4200, 800} {
		reserved, err := env.reservations.Reserve(ctx, liteRequest("u1", "req-"+string(rune('a'+i))))
		require.NoError(t, err)
		_, err = env.reservations.Settle(ctx, reserved.Reservation.ID, biz.Usage{Characters: chars})
		require.NoError(t, err)
	}
	image, err := env.reservations.Reserve(ctx, &biz.ReserveRequest{UserID: "u1", OperationType: "image", ModelID: "default", RequestID: "req-img"})
	require.NoError(t, err)
	_, err = env.reservations.Settle(ctx, image.Reservation.ID, biz.Usage{})
	require.NoError(t, err)

	env.clock.Advance(time.Second)
	stats, err := env.stats.GetUsageStats(ctx, "u1", constants.StatsPeriodToday)
	require.NoError(t, err)
	assert.Equal(t, constants.StatsPeriodToday, stats.Period)
	assert.Equal(t, int64(3), stats.Calls)
	assert.Equal(t, int64(42+8+25), stats.Charged)
	require.Len(t, stats.Operations, 2)
	assert.Equal(t, "chat", stats.Operations[0].OperationType)
	assert.Equal(t, int64(2), stats.Operations[0].Calls)
	assert.Equal(t, int64(5000), stats.Operations[0].Characters)
	assert.Equal(t, "image", stats.Operations[1].OperationType)

	// 次日起今日统计清零，本月统计仍包含
	env.clock.Advance(24 * time.Hour)
	stats, err = env.stats.GetUsageStats(ctx, "u1", constants.StatsPeriodToday)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Calls)
	stats, err = env.stats.GetUsageStats(ctx, "u1", constants.StatsPeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Calls)
}

func TestStatsUseCase_RecordUsage_Deduplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := &biz.UsageEvent{
		UserID:        "u1",
		ReservationID: "r-1",
		OperationType: "chat",
		ModelID:       "lite",
		Estimate:      30,
		Charged:       12,
		SettledAt:     env.clock.Now(),
	}

	require.NoError(t, env.stats.RecordUsage(ctx, []*biz.UsageEvent{event}))
	require.NoError(t, env.stats.RecordUsage(ctx, []*biz.UsageEvent{event}))
	require.NoError(t, env.stats.RecordUsage(ctx, nil))

	env.clock.Advance(time.Second)
	stats, err := env.stats.GetUsageStats(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(12), stats.Charged)
}

func TestStatsUseCase_InvalidPeriod(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.stats.GetUsageStats(context.Background(), "u1", "year")
	assert.True(t, creditErrors.IsInvalidArgument(err))
}
