package metrics

import (
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProviderSet is metrics providers.
var ProviderSet = wire.NewSet(
	NewRegistry,
	wire.Bind(new(prometheus.Registerer), new(*prometheus.Registry)),
	wire.Bind(new(prometheus.Gatherer), new(*prometheus.Registry)),
	NewCreditMetrics,
)

// CreditMetrics 积分计费指标
type CreditMetrics struct {
	// 余额相关指标
	BalanceQueryTotal prometheus.Counter       // 余额查询总数
	ApplyDeltaTotal   *prometheus.CounterVec   // 余额变更总数（按流水类型、结果）
	ApplyDeltaRetry   prometheus.Counter       // 版本冲突重试次数
	ApplyDeltaLatency *prometheus.HistogramVec // 余额变更耗时

	// 预扣结算相关指标
	ReserveTotal        *prometheus.CounterVec // 预扣总数（按操作类型、结果）
	ReserveCredits      *prometheus.CounterVec // 预扣积分（按操作类型）
	SettleTotal         *prometheus.CounterVec // 结算总数（按方向 charge/refund/zero）
	SettleDiffCredits   *prometheus.CounterVec // 结算差额积分（按方向）
	RefundTotal         *prometheus.CounterVec // 退还总数（按原因）
	OverdraftCredits    prometheus.Counter     // 透支补扣时未能扣到的积分
	ProviderCallLatency *prometheus.HistogramVec

	// 订阅相关指标
	SubscriptionTotal   *prometheus.CounterVec // 订阅动作总数（按动作）
	SubscriptionGranted *prometheus.CounterVec // 订阅发放积分（按套餐）

	// 对账相关指标
	ReconcileIncidentTotal *prometheus.CounterVec // 对账发现的问题（按类型）

	// 分布式锁相关指标
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时
}

// NewRegistry 创建独立的指标注册表
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewCreditMetrics 创建积分计费指标
func NewCreditMetrics(reg prometheus.Registerer) *CreditMetrics {
	factory := promauto.With(reg)
	return &CreditMetrics{
		BalanceQueryTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_balance_query_total",
				Help: "Total number of balance queries",
			},
		),
		ApplyDeltaTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_apply_delta_total",
				Help: "Total number of balance mutations",
			},
			[]string{"type", "result"}, // result: success/failed/replayed/insufficient
		),
		ApplyDeltaRetry: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_apply_delta_retry_total",
				Help: "Total number of optimistic lock retries",
			},
		),
		ApplyDeltaLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_apply_delta_duration_seconds",
				Help:    "Duration of balance mutations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),

		ReserveTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_reserve_total",
				Help: "Total number of reservations",
			},
			[]string{"operation", "result"},
		),
		ReserveCredits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_reserve_credits_total",
				Help: "Total credits reserved",
			},
			[]string{"operation"},
		),
		SettleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_settle_total",
				Help: "Total number of settlements",
			},
			[]string{"direction"}, // direction: charge/refund/zero
		),
		SettleDiffCredits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_settle_diff_credits_total",
				Help: "Absolute settlement differences in credits",
			},
			[]string{"direction"},
		),
		RefundTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_refund_total",
				Help: "Total number of reservation refunds",
			},
			[]string{"reason"},
		),
		OverdraftCredits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_overdraft_credits_total",
				Help: "Credits that could not be collected at settlement (accepted overdraft)",
			},
		),
		ProviderCallLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_provider_call_duration_seconds",
				Help:    "Duration of metered provider calls",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation", "result"},
		),

		SubscriptionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_subscription_total",
				Help: "Total number of subscription actions",
			},
			[]string{"action"}, // action: created/extended/upgraded
		),
		SubscriptionGranted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_subscription_granted_credits_total",
				Help: "Credits granted by subscriptions",
			},
			[]string{"plan"},
		),

		ReconcileIncidentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_reconcile_incident_total",
				Help: "Financial integrity incidents found by reconciliation",
			},
			[]string{"kind"},
		),

		LockAcquireTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_lock_acquire_total",
				Help: "Total number of lock acquisition attempts",
			},
			[]string{"result"}, // result: success/failed
		),
		LockAcquireDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credit_lock_acquire_duration_seconds",
				Help:    "Duration of lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}, // 毫秒级
			},
		),
	}
}
