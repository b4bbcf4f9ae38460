package errors

import (
	"fmt"
	"strconv"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// 错误原因
const (
	ReasonInvalidArgument      = "INVALID_ARGUMENT"
	ReasonInternal             = "INTERNAL"
	ReasonInsufficientCredits  = "INSUFFICIENT_CREDITS"
	ReasonLockFailed           = "LOCK_FAILED"
	ReasonPricingNotFound      = "PRICING_NOT_FOUND"
	ReasonModelNotAllowed      = "MODEL_NOT_ALLOWED"
	ReasonReservationNotFound  = "RESERVATION_NOT_FOUND"
	ReasonProviderFailure      = "PROVIDER_FAILURE"
	ReasonInvalidPlan          = "INVALID_PLAN"
	ReasonDowngradeNotAllowed  = "DOWNGRADE_NOT_ALLOWED"
	ReasonSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ReasonLedgerWriteConflict  = "LEDGER_WRITE_CONFLICT"
)

func newError(httpCode int, reason string, bizCode int, format string, args ...interface{}) *kerrors.Error {
	return kerrors.New(httpCode, reason, fmt.Sprintf(format, args...)).
		WithMetadata(map[string]string{"biz_code": strconv.Itoa(bizCode)})
}

func is(err error, reason string) bool {
	if err == nil {
		return false
	}
	return kerrors.Reason(err) == reason
}

// ErrorInvalidArgument 参数错误
func ErrorInvalidArgument(format string, args ...interface{}) *kerrors.Error {
	return newError(400, ReasonInvalidArgument, ErrCodeInvalidArgument, format, args...)
}

// IsInvalidArgument 判断参数错误
func IsInvalidArgument(err error) bool { return is(err, ReasonInvalidArgument) }

// ErrorInternal 内部错误
func ErrorInternal(format string, args ...interface{}) *kerrors.Error {
	return newError(500, ReasonInternal, ErrCodeInternal, format, args...)
}

// ErrorInsufficientCredits 积分不足，元数据带上当前/所需/缺口
func ErrorInsufficientCredits(current, required int64) *kerrors.Error {
	shortfall := required - current
	if shortfall < 0 {
		shortfall = 0
	}
	return kerrors.New(402, ReasonInsufficientCredits,
		fmt.Sprintf("insufficient credits: current=%d required=%d shortfall=%d", current, required, shortfall)).
		WithMetadata(map[string]string{
			"biz_code":  strconv.Itoa(ErrCodeInsufficientCredits),
			"current":   strconv.FormatInt(current, 10),
			"required":  strconv.FormatInt(required, 10),
			"shortfall": strconv.FormatInt(shortfall, 10),
		})
}

// IsInsufficientCredits 判断积分不足
func IsInsufficientCredits(err error) bool { return is(err, ReasonInsufficientCredits) }

// InsufficientCreditsDetail 从错误中取出 current/required/shortfall
func InsufficientCreditsDetail(err error) (current, required, shortfall int64, ok bool) {
	if !IsInsufficientCredits(err) {
		return 0, 0, 0, false
	}
	md := kerrors.FromError(err).Metadata
	current, _ = strconv.ParseInt(md["current"], 10, 64)
	required, _ = strconv.ParseInt(md["required"], 10, 64)
	shortfall, _ = strconv.ParseInt(md["shortfall"], 10, 64)
	return current, required, shortfall, true
}

// ErrorLockFailed 获取余额锁失败
func ErrorLockFailed(userID string) *kerrors.Error {
	return newError(503, ReasonLockFailed, ErrCodeLockFailed, "acquire balance lock failed: user_id=%s", userID)
}

// IsLockFailed 判断获取锁失败
func IsLockFailed(err error) bool { return is(err, ReasonLockFailed) }

// ErrorPricingNotFound 计价规则不存在
func ErrorPricingNotFound(operationType, modelID string) *kerrors.Error {
	return newError(404, ReasonPricingNotFound, ErrCodePricingNotFound,
		"pricing not found: operation_type=%s model_id=%s", operationType, modelID).
		WithMetadata(map[string]string{
			"biz_code":       strconv.Itoa(ErrCodePricingNotFound),
			"operation_type": operationType,
			"model_id":       modelID,
		})
}

// IsPricingNotFound 判断计价规则不存在
func IsPricingNotFound(err error) bool { return is(err, ReasonPricingNotFound) }

// ErrorModelNotAllowed 会员等级不足
func ErrorModelNotAllowed(modelID, tier, requiredTier string) *kerrors.Error {
	return newError(403, ReasonModelNotAllowed, ErrCodeModelNotAllowed,
		"model %s requires tier %s, current tier %s", modelID, requiredTier, tier)
}

// IsModelNotAllowed 判断会员等级不足
func IsModelNotAllowed(err error) bool { return is(err, ReasonModelNotAllowed) }

// ErrorReservationNotFound 预扣记录不存在或已结算/退还
func ErrorReservationNotFound(reservationID string) *kerrors.Error {
	return newError(404, ReasonReservationNotFound, ErrCodeReservationNotFound,
		"reservation not found or already finalized: %s", reservationID)
}

// IsReservationNotFound 判断预扣记录不存在
func IsReservationNotFound(err error) bool { return is(err, ReasonReservationNotFound) }

// ErrorProviderFailure 上游调用失败（已全额退还）
func ErrorProviderFailure(reason string) *kerrors.Error {
	return newError(502, ReasonProviderFailure, ErrCodeProviderFailure, "provider failure: %s", reason)
}

// IsProviderFailure 判断上游调用失败
func IsProviderFailure(err error) bool { return is(err, ReasonProviderFailure) }

// ErrorInvalidPlan 套餐不存在
func ErrorInvalidPlan(planID string) *kerrors.Error {
	return newError(400, ReasonInvalidPlan, ErrCodeInvalidPlan, "invalid plan: %s", planID)
}

// IsInvalidPlan 判断套餐不存在
func IsInvalidPlan(err error) bool { return is(err, ReasonInvalidPlan) }

// ErrorDowngradeNotAllowed 不允许降级
func ErrorDowngradeNotAllowed(currentPlan, targetPlan string) *kerrors.Error {
	return newError(409, ReasonDowngradeNotAllowed, ErrCodeDowngradeNotAllowed,
		"downgrade not allowed: %s -> %s, wait for current subscription to expire", currentPlan, targetPlan)
}

// IsDowngradeNotAllowed 判断降级被拒
func IsDowngradeNotAllowed(err error) bool { return is(err, ReasonDowngradeNotAllowed) }

// ErrorSubscriptionNotFound 没有生效中的订阅
func ErrorSubscriptionNotFound(userID string) *kerrors.Error {
	return newError(404, ReasonSubscriptionNotFound, ErrCodeSubscriptionNotFound, "no active subscription: user_id=%s", userID)
}

// IsSubscriptionNotFound 判断没有生效中的订阅
func IsSubscriptionNotFound(err error) bool { return is(err, ReasonSubscriptionNotFound) }

// ErrorLedgerWriteConflict 并发写冲突重试耗尽
func ErrorLedgerWriteConflict(userID string, attempts int) *kerrors.Error {
	return newError(500, ReasonLedgerWriteConflict, ErrCodeLedgerWriteConflict,
		"ledger write conflict after %d attempts: user_id=%s", attempts, userID)
}

// IsLedgerWriteConflict 判断写冲突
func IsLedgerWriteConflict(err error) bool { return is(err, ReasonLedgerWriteConflict) }
