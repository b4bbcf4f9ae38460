package errors

// Credit Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，Credit 固定为 20
//   MM: 模块标识，按业务划分
//   EE: 模块内错误序号
//
// 模块划分：
//   00: 通用模块
//   01: 余额模块
//   02: 计价模块
//   03: 预扣结算模块
//   04: 订阅模块
//   05: 流水模块

// 通用模块错误码 (200000-200099)
const (
	// ErrCodeInvalidArgument 参数错误
	ErrCodeInvalidArgument = 200001
	// ErrCodeInternal 内部错误
	ErrCodeInternal = 200002
)

// 余额模块错误码 (200100-200199)
const (
	// ErrCodeInsufficientCredits 积分不足
	ErrCodeInsufficientCredits = 200101
	// ErrCodeLockFailed 获取余额锁失败
	ErrCodeLockFailed = 200102
)

// 计价模块错误码 (200200-200299)
const (
	// ErrCodePricingNotFound 计价规则不存在
	ErrCodePricingNotFound = 200201
	// ErrCodeModelNotAllowed 当前会员等级不可用该模型
	ErrCodeModelNotAllowed = 200202
)

// 预扣结算模块错误码 (200300-200399)
const (
	// ErrCodeReservationNotFound 预扣记录不存在或已终结
	ErrCodeReservationNotFound = 200301
	// ErrCodeProviderFailure 上游调用失败
	ErrCodeProviderFailure = 200302
)

// 订阅模块错误码 (200400-200499)
const (
	// ErrCodeInvalidPlan 套餐不存在
	ErrCodeInvalidPlan = 200401
	// ErrCodeDowngradeNotAllowed 不允许降级
	ErrCodeDowngradeNotAllowed = 200402
	// ErrCodeSubscriptionNotFound 没有生效中的订阅
	ErrCodeSubscriptionNotFound = 200403
)

// 流水模块错误码 (200500-200599)
const (
	// ErrCodeLedgerWriteConflict 并发写冲突，重试耗尽
	ErrCodeLedgerWriteConflict = 200501
)
