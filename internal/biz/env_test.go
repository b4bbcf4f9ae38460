package biz_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"
	"credit-service/internal/data"
	"credit-service/internal/data/model"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// testClock 可推进的时钟
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeInvoker 可编排的上游
type fakeInvoker struct {
	invoke func(ctx context.Context, req *biz.InvokeRequest) (*biz.InvokeResult, error)
	stream func(ctx context.Context, req *biz.InvokeRequest, onChunk func([]byte) error) (*biz.Usage, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, req *biz.InvokeRequest) (*biz.InvokeResult, error) {
	return f.invoke(ctx, req)
}

func (f *fakeInvoker) Stream(ctx context.Context, req *biz.InvokeRequest, onChunk func([]byte) error) (*biz.Usage, error) {
	return f.stream(ctx, req, onChunk)
}

// conflictRepo 前 failures 次更新返回版本冲突
type conflictRepo struct {
	biz.UserBalanceRepo
	mu       sync.Mutex
	failures int
	updates  int
}

func (r *conflictRepo) UpdateUserBalance(ctx context.Context, b *biz.UserBalance, expectedVersion int64) error {
	r.mu.Lock()
	r.updates++
	fail := r.failures != 0
	if r.failures > 0 {
		r.failures--
	}
	r.mu.Unlock()
	if fail {
		return biz.ErrVersionConflict
	}
	return r.UserBalanceRepo.UpdateUserBalance(ctx, b, expectedVersion)
}

type testEnv struct {
	clock         *testClock
	conf          *biz.BillingConfig
	registry      *prometheus.Registry
	metrics       *metrics.CreditMetrics
	balanceRepo   *conflictRepo
	pricing       *biz.PricingEngine
	balance       *biz.UserBalanceUseCase
	ledger        *biz.LedgerUseCase
	reservations  *biz.ReservationUseCase
	subscriptions *biz.SubscriptionUseCase
	stats         *biz.StatsUseCase
	reconcile     *biz.ReconcileUseCase
	credit        *biz.CreditUseCase
	invoker       *fakeInvoker
}

func testBillingConfig() *biz.BillingConfig {
	c := biz.DefaultBillingConfig()
	c.CallTimeout = time.Second
	c.Retry = biz.RetryPolicy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	c.Pricing = []*biz.PricingRule{
		{OperationType: "chat", ModelID: "default", Strategy: constants.StrategyPerUnit1K, UnitCost: 5, MinCharge: 1},
		{OperationType: "chat", ModelID: "lite", Strategy: constants.StrategyPerChar100, UnitCost: 1},
		{OperationType: "chat", ModelID: "gpt-pro", Strategy: constants.StrategyPerUnit1K, UnitCost: 20, RequiredTier: "pro"},
		{OperationType: "image", ModelID: "default", Strategy: constants.StrategyPerRequest, BaseCost: 25},
	}
	c.Plans = map[string]*biz.Plan{
		"plus_monthly": {ID: "plus_monthly", Name: "Plus", Tier: "plus", Priority: 1, Price: decimal.RequireFromString("9"), DurationDays: 30, MonthlyAllowance: 1000},
		"plus_yearly":  {ID: "plus_yearly", Name: "Plus Yearly", Tier: "plus", Priority: 1, Price: decimal.RequireFromString("90"), DurationDays: 365, MonthlyAllowance: 1000},
		"pro_monthly":  {ID: "pro_monthly", Name: "Pro", Tier: "pro", Priority: 2, Price: decimal.RequireFromString("29"), DurationDays: 30, MonthlyAllowance: 3000},
	}
	return c
}

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.All()...))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestEnv(t *testing.T, opts ...func(c *biz.BillingConfig)) *testEnv {
	t.Helper()
	logger := log.NewStdLogger(io.Discard)
	cfg := testBillingConfig()
	for _, o := range opts {
		o(cfg)
	}

	d, _, err := data.NewData(&conf.Bootstrap{}, logger, newTestDB(t), nil, nil)
	require.NoError(t, err)

	env := &testEnv{
		clock:    &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
		conf:     cfg,
		registry: prometheus.NewRegistry(),
		invoker:  &fakeInvoker{},
	}
	env.metrics = metrics.NewCreditMetrics(env.registry)
	env.balanceRepo = &conflictRepo{UserBalanceRepo: data.NewUserBalanceRepo(d, logger)}

	ledgerRepo := data.NewLedgerRepo(d, logger)
	statsRepo := data.NewStatsRepo(d, logger)
	env.pricing = biz.NewPricingEngine(cfg)
	env.balance = biz.NewUserBalanceUseCase(env.balanceRepo, ledgerRepo, data.NewTransaction(d),
		data.NewUserLocker(nil, env.metrics, logger), cfg, env.metrics, logger)
	env.balance.SetClock(env.clock.Now)
	env.ledger = biz.NewLedgerUseCase(ledgerRepo, env.balanceRepo, logger)
	env.subscriptions = biz.NewSubscriptionUseCase(data.NewSubscriptionRepo(d, logger), env.balance, cfg, env.metrics, logger)
	env.reservations = biz.NewReservationUseCase(data.NewReservationRepo(d, logger), env.balance, env.pricing,
		env.subscriptions, env.invoker, data.NewUsagePublisher(d, statsRepo, logger), cfg, env.metrics, logger)
	env.stats = biz.NewStatsUseCase(statsRepo, logger)
	env.stats.SetClock(env.clock.Now)
	env.reconcile = biz.NewReconcileUseCase(env.reservations, env.ledger, cfg, env.metrics, logger)
	env.reconcile.SetClock(env.clock.Now)
	env.credit = biz.NewCreditUseCase(env.balance, env.ledger, env.reservations, env.subscriptions, env.stats, env.reconcile, logger)
	return env
}

func (e *testEnv) total(t *testing.T, userID string) int64 {
	t.Helper()
	view, err := e.balance.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return view.Total
}

// requireConsistent 回放流水与存储余额一致
func (e *testEnv) requireConsistent(t *testing.T, userID string) {
	t.Helper()
	report, err := e.ledger.VerifyReplay(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, report.Consistent, "ledger replay mismatch: %+v", report)
}

// liteRequest chat/lite 按每百字符 1 积分计价，payload 2500 字符估算 30 积分
func liteRequest(userID, requestID string) *biz.ReserveRequest {
	return &biz.ReserveRequest{
		UserID:        userID,
		OperationType: "chat",
		ModelID:       "lite",
		PayloadSize:   2500,
		RequestID:     requestID,
	}
}
