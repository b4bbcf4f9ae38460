package biz_test

import (
	"context"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileUseCase_SweepStaleReservations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale, err := env.reservations.Reserve(ctx, liteRequest("u1", "req-stale"))
	require.NoError(t, err)
	env.clock.Advance(5 * time.Minute)
	fresh, err := env.reservations.Reserve(ctx, liteRequest("u1", "req-fresh"))
	require.NoError(t, err)
	env.clock.Advance(6 * time.Minute)

	report, err := env.reconcile.SweepStaleReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Found)
	assert.Equal(t, 1, report.Refunded)
	assert.Empty(t, report.Failed)

	r, err := env.reservations.GetReservation(ctx, stale.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ReservationStatusRefunded, r.Status)
	assert.Equal(t, constants.RefundReasonReconcile, r.Reason)

	r, err = env.reservations.GetReservation(ctx, fresh.Reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ReservationStatusReserved, r.Status)

	assert.Equal(t, int64(320), env.total(t, "u1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ReconcileIncidentTotal.WithLabelValues(constants.IncidentStaleReservation)))

	// 再次清理无事发生
	report, err = env.reconcile.SweepStaleReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Found)
}

func TestReconcileUseCase_VerifyRecentLedgers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start := env.clock.Now()

	_, err := env.balance.GrantCredits(ctx, "u1", 10, "grant-1", "promo")
	require.NoError(t, err)
	reserved, err := env.reservations.Reserve(ctx, liteRequest("u2", "req-1"))
	require.NoError(t, err)
	_, err = env.reservations.Settle(ctx, reserved.Reservation.ID, biz.Usage{Characters: 100})
	require.NoError(t, err)

	report, err := env.reconcile.VerifyRecentLedgers(ctx, start.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Users)
	assert.Empty(t, report.Mismatched)

	report, err = env.reconcile.VerifyRecentLedgers(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Users)
}
