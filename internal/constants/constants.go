package constants

// 时间格式常量
const (
	// TimeFormatDay 日期格式 (YYYY-MM-DD)
	TimeFormatDay = "2006-01-02"
	// TimeFormatMonth 月份格式 (YYYY-MM)
	TimeFormatMonth = "2006-01"
)

// Redis Key 前缀常量
const (
	// RedisKeyBalance 余额快照缓存 key 前缀
	RedisKeyBalance = "credit:balance:"
	// RedisKeyBalanceVersion 余额缓存版本栅栏 key 前缀
	RedisKeyBalanceVersion = "credit:balance_ver:"
	// RedisKeyBalanceLock 余额变更锁 key 前缀
	RedisKeyBalanceLock = "credit:lock:"
)

// 流水类型常量
const (
	// EntryTypeConsume 预扣
	EntryTypeConsume = "consume"
	// EntryTypeGrant 发放
	EntryTypeGrant = "grant"
	// EntryTypeRefund 退还
	EntryTypeRefund = "refund"
	// EntryTypeAdjust 结算差额 / 过期清零
	EntryTypeAdjust = "adjust"
)

// 流水 request_id 前缀/后缀
const (
	// RequestIDPrefixInit 账户初始化发放
	RequestIDPrefixInit = "init:"
	// RequestIDPrefixSubscription 订阅发放
	RequestIDPrefixSubscription = "sub:"
	// RequestIDSuffixForfeit 过期会员积分清零
	RequestIDSuffixForfeit = ":forfeit"
)

// 预扣状态常量
const (
	// ReservationStatusEstimated 已估算（未落库）
	ReservationStatusEstimated = "estimated"
	// ReservationStatusReserved 已预扣
	ReservationStatusReserved = "reserved"
	// ReservationStatusSettled 已结算
	ReservationStatusSettled = "settled"
	// ReservationStatusRefunded 已退还
	ReservationStatusRefunded = "refunded"
	// ReservationStatusFailedNoReservation 预扣被拒
	ReservationStatusFailedNoReservation = "failed_no_reservation"
)

// 退还原因
const (
	// RefundReasonProviderFailure 上游调用失败
	RefundReasonProviderFailure = "provider_failure"
	// RefundReasonTimeout 上游调用超时
	RefundReasonTimeout = "timeout"
	// RefundReasonCancelled 调用方取消
	RefundReasonCancelled = "cancelled"
	// RefundReasonPanic 执行过程 panic
	RefundReasonPanic = "panic"
	// RefundReasonReconcile 对账清理
	RefundReasonReconcile = "reconcile_stale"
	// RefundReasonManual 调用方主动退还
	RefundReasonManual = "manual"
)

// 订阅状态常量
const (
	// SubscriptionStatusActive 生效中
	SubscriptionStatusActive = "active"
	// SubscriptionStatusSuperseded 被升级替换
	SubscriptionStatusSuperseded = "superseded"
	// SubscriptionStatusCancelled 已取消
	SubscriptionStatusCancelled = "cancelled"
	// SubscriptionStatusExpired 已到期
	SubscriptionStatusExpired = "expired"
)

// 订阅动作常量
const (
	// SubscriptionActionCreated 新开
	SubscriptionActionCreated = "created"
	// SubscriptionActionExtended 续期
	SubscriptionActionExtended = "extended"
	// SubscriptionActionUpgraded 升级
	SubscriptionActionUpgraded = "upgraded"
)

// 会员等级
const (
	// TierFree 免费用户
	TierFree = "free"
)

// 计价策略
const (
	// StrategyPerRequest 按次
	StrategyPerRequest = "per_request"
	// StrategyPerUnit1K 每千 token
	StrategyPerUnit1K = "per_unit_1k"
	// StrategyPerChar100 每百字符
	StrategyPerChar100 = "per_char_100"
)

// 计价模式
const (
	// CostModeEstimate 调用前估算
	CostModeEstimate = "estimate"
	// CostModeFinal 按实际用量
	CostModeFinal = "final"
)

// 结算方向（用于指标）
const (
	// SettleDirectionCharge 补扣
	SettleDirectionCharge = "charge"
	// SettleDirectionRefund 退差
	SettleDirectionRefund = "refund"
	// SettleDirectionZero 无差额
	SettleDirectionZero = "zero"
)

// 指标结果标签
const (
	// ResultSuccess 成功
	ResultSuccess = "success"
	// ResultFailed 失败
	ResultFailed = "failed"
	// ResultInsufficient 余额不足
	ResultInsufficient = "insufficient"
	// ResultReplayed 幂等重放
	ResultReplayed = "replayed"
)

// 统计周期常量
const (
	// StatsPeriodToday 今日
	StatsPeriodToday = "today"
	// StatsPeriodMonth 本月
	StatsPeriodMonth = "month"
)

// 对账事件类型
const (
	// IncidentStaleReservation 长时间未结算的预扣
	IncidentStaleReservation = "stale_reservation"
	// IncidentReplayMismatch 流水回放与余额不一致
	IncidentReplayMismatch = "replay_mismatch"
	// IncidentSettleFailed 调用成功但结算失败
	IncidentSettleFailed = "settle_failed"
	// IncidentRefundFailed 退还失败
	IncidentRefundFailed = "refund_failed"
)
