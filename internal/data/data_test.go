package data

import (
	"context"
	"io"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testLogger = log.NewStdLogger(io.Discard)

func setupTestData(t *testing.T) *Data {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.All()...))
	t.Cleanup(func() { sqlDB.Close() })
	return &Data{db: db}
}

func TestUserBalanceRepo_VersionCAS(t *testing.T) {
	d := setupTestData(t)
	repo := NewUserBalanceRepo(d, testLogger)
	ctx := context.Background()

	missing, err := repo.GetUserBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.CreateUserBalance(ctx, &biz.UserBalance{UserID: "u1", PermanentCredits: 350, Version: 1}))
	assert.ErrorIs(t, repo.CreateUserBalance(ctx, &biz.UserBalance{UserID: "u1", Version: 1}), biz.ErrDuplicateEntry)

	expires := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	next := &biz.UserBalance{
		UserID:           "u1",
		PermanentCredits: 300,
		Allowance:        &biz.Allowance{Amount: 1000, ExpiresAt: expires, Priority: 1, PlanID: "plus_monthly"},
		Version:          2,
		UpdatedAt:        time.Now(),
	}
	require.NoError(t, repo.UpdateUserBalance(ctx, next, 1))
	assert.ErrorIs(t, repo.UpdateUserBalance(ctx, next, 1), biz.ErrVersionConflict)

	got, err := repo.GetUserBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.PermanentCredits)
	assert.Equal(t, int64(2), got.Version)
	require.NotNil(t, got.Allowance)
	assert.Equal(t, int64(1000), got.Allowance.Amount)
	assert.True(t, got.Allowance.ExpiresAt.Equal(expires))
	assert.Equal(t, "plus_monthly", got.Allowance.PlanID)
}

func TestData_InTxRollsBack(t *testing.T) {
	d := setupTestData(t)
	repo := NewUserBalanceRepo(d, testLogger)
	ctx := context.Background()

	err := d.InTx(ctx, func(ctx context.Context) error {
		require.True(t, inTx(ctx))
		if err := repo.CreateUserBalance(ctx, &biz.UserBalance{UserID: "u1", Version: 1}); err != nil {
			return err
		}
		// 嵌套调用复用外层事务
		return d.InTx(ctx, func(ctx context.Context) error {
			return repo.CreateUserBalance(ctx, &biz.UserBalance{UserID: "u1", Version: 1})
		})
	})
	assert.ErrorIs(t, err, biz.ErrDuplicateEntry)

	got, err := repo.GetUserBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLedgerRepo(t *testing.T) {
	d := setupTestData(t)
	repo := NewLedgerRepo(d, testLogger)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	entries := []*biz.LedgerEntry{
		{ID: "e1", UserID: "u1", Type: constants.EntryTypeGrant, RequestID: "init:u1", Delta: 350, PermanentDelta: 350, BalanceAfter: 350, CreatedAt: now},
		{ID: "e2", UserID: "u1", Type: constants.EntryTypeConsume, RequestID: "req-1", Delta: -30, PermanentDelta: -30, BalanceBefore: 350, BalanceAfter: 320, CreatedAt: now, Metadata: map[string]string{"estimate": "30"}},
		{ID: "e3", UserID: "u1", Type: constants.EntryTypeAdjust, RequestID: "req-1", Delta: -12, PermanentDelta: -12, BalanceBefore: 320, BalanceAfter: 308, CreatedAt: now.Add(time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, repo.CreateEntry(ctx, e))
	}

	dup := *entries[1]
	dup.ID = "e4"
	assert.ErrorIs(t, repo.CreateEntry(ctx, &dup), biz.ErrDuplicateEntry)
	other := *entries[1]
	other.ID = "e5"
	other.UserID = "u2"
	require.NoError(t, repo.CreateEntry(ctx, &other))
	got2, err := repo.GetEntryByRequest(ctx, "u2", "req-1", constants.EntryTypeConsume)
	require.NoError(t, err)
	require.NotNil(t, got2)
	assert.Equal(t, "e5", got2.ID)

	got, err := repo.GetEntryByRequest(ctx, "u1", "req-1", constants.EntryTypeConsume)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "e2", got.ID)
	assert.Equal(t, "30", got.Metadata["estimate"])

	none, err := repo.GetEntryByRequest(ctx, "u1", "req-1", constants.EntryTypeRefund)
	require.NoError(t, err)
	assert.Nil(t, none)

	list, total, err := repo.ListEntries(ctx, &biz.LedgerFilter{UserID: "u1", RequestID: "req-1"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 2)
	assert.Equal(t, "e3", list[0].ID)

	since := now.Add(30 * time.Second)
	list, total, err = repo.ListEntries(ctx, &biz.LedgerFilter{UserID: "u1", Since: &since}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "e3", list[0].ID)

	sum, err := repo.SumByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Entries)
	assert.Equal(t, int64(308), sum.PermanentDelta)
	assert.Equal(t, int64(308), sum.LastBalanceAfter)

	empty, err := repo.SumByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Entries)

	users, err := repo.ListActiveUserIDs(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
}

func TestReservationRepo_FinalizeOnce(t *testing.T) {
	d := setupTestData(t)
	repo := NewReservationRepo(d, testLogger)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	r := &biz.Reservation{
		ID: "r1", UserID: "u1", RequestID: "req-1", OperationType: "chat", ModelID: "lite",
		Estimate: 30, PermanentDrawn: 30, Status: constants.ReservationStatusReserved, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.CreateReservation(ctx, r))
	dup := *r
	dup.ID = "r2"
	assert.ErrorIs(t, repo.CreateReservation(ctx, &dup), biz.ErrDuplicateEntry)
	other := *r
	other.ID = "r3"
	other.UserID = "u2"
	require.NoError(t, repo.CreateReservation(ctx, &other))
	none, err := repo.GetReservationByRequestID(ctx, "u3", "req-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	stale, err := repo.ListStaleReservations(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)

	settled := *r
	settled.Status = constants.ReservationStatusSettled
	settled.Actual = 42
	settled.PermanentDrawn = 42
	ok, err := repo.FinalizeReservation(ctx, &settled)
	require.NoError(t, err)
	assert.True(t, ok)

	refunded := *r
	refunded.Status = constants.ReservationStatusRefunded
	ok, err = repo.FinalizeReservation(ctx, &refunded)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetReservationByRequestID(ctx, "u1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, constants.ReservationStatusSettled, got.Status)
	assert.Equal(t, int64(42), got.Actual)

	stale, err = repo.ListStaleReservations(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "r3", stale[0].ID)
}

func TestSubscriptionRepo(t *testing.T) {
	d := setupTestData(t)
	repo := NewSubscriptionRepo(d, testLogger)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	s := &biz.Subscription{
		ID: "s1", UserID: "u1", PlanID: "plus_monthly", Tier: "plus", Priority: 1,
		Price: decimal.RequireFromString("9.90"), DurationDays: 30, MonthlyAllowance: 1000,
		StartDate: now, EndDate: now.Add(30 * 24 * time.Hour), Status: constants.SubscriptionStatusActive,
		RequestID: "order-1", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.CreateSubscription(ctx, s))

	active, err := repo.GetActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.True(t, active.Price.Equal(decimal.RequireFromString("9.9")))

	s.Status = constants.SubscriptionStatusSuperseded
	require.NoError(t, repo.UpdateSubscription(ctx, s))
	active, err = repo.GetActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, active)

	got, err := repo.GetSubscription(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, constants.SubscriptionStatusSuperseded, got.Status)

	assert.ErrorIs(t, repo.UpdateSubscription(ctx, &biz.Subscription{ID: "missing"}), gorm.ErrRecordNotFound)
}

func TestUsagePublisher_DirectWriteWithoutMQ(t *testing.T) {
	d := setupTestData(t)
	stats := NewStatsRepo(d, testLogger)
	publisher := NewUsagePublisher(d, stats, testLogger)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	event := &biz.UsageEvent{
		UserID: "u1", ReservationID: "r1", OperationType: "chat", ModelID: "lite",
		Estimate: 30, Charged: 42, Usage: biz.Usage{Characters: 4200}, SettledAt: now,
	}
	require.NoError(t, publisher.PublishUsage(ctx, event))
	require.NoError(t, publisher.PublishUsage(ctx, event))

	ops, err := stats.GetOperationStats(ctx, "u1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, int64(1), ops[0].Calls)
	assert.Equal(t, int64(42), ops[0].Charged)
	assert.Equal(t, int64(4200), ops[0].Characters)
}

func TestUserLocker_NoopWithoutRedis(t *testing.T) {
	locker := NewUserLocker(nil, nil, testLogger)
	unlock, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)
	unlock()
}

func TestOptionalInfra_Disabled(t *testing.T) {
	rdb, err := NewRedis(&conf.Bootstrap{Data: &conf.Data{Redis: &conf.Data_Redis{}}}, testLogger)
	require.NoError(t, err)
	assert.Nil(t, rdb)

	rdb, err = NewRedis(&conf.Bootstrap{}, testLogger)
	require.NoError(t, err)
	assert.Nil(t, rdb)

	rs := NewRedsync(rdb)
	assert.Nil(t, rs)

	mq, cleanup, err := NewMQProducer(&conf.Bootstrap{}, testLogger)
	require.NoError(t, err)
	assert.Nil(t, mq)
	cleanup()

	unlock, err := NewUserLocker(rs, nil, testLogger).Lock(context.Background(), "u1")
	require.NoError(t, err)
	unlock()
}
