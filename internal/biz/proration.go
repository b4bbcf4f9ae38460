package biz

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	decimalDay       = decimal.NewFromInt(int64(24 * time.Hour))
	decimalMonthDays = decimal.NewFromInt(30)
)

// Proration 升级折算结果
type Proration struct {
	RemainingDays  decimal.Decimal `json:"remaining_days"`
	RemainingValue decimal.Decimal `json:"remaining_value"`
	ConvertedDays  decimal.Decimal `json:"converted_days"`
	// FullDuration 旧套餐无剩余价值时按新套餐完整周期生效
	FullDuration bool `json:"full_duration"`
}

// Duration 折算后的有效时长
func (p Proration) Duration(newPlan *Plan) time.Duration {
	if p.FullDuration {
		return newPlan.Duration()
	}
	return time.Duration(p.ConvertedDays.Mul(decimalDay).IntPart())
}

// DailyRate 每日单价
func (p *Plan) DailyRate() decimal.Decimal {
	return p.Price.Div(decimal.NewFromInt(int64(p.DurationDays)))
}

// Duration 套餐周期
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// PeriodAllowance 整个周期一次性发放的会员积分：monthly_allowance * ceil(duration_days/30)
func (p *Plan) PeriodAllowance() int64 {
	months := decimal.NewFromInt(int64(p.DurationDays)).Div(decimalMonthDays).Ceil().IntPart()
	return p.MonthlyAllowance * months
}

// Prorate 计算升级折算：旧套餐剩余价值按新套餐日单价换算为天数，天数保留小数
func Prorate(oldPlan *Plan, oldEnd time.Time, newPlan *Plan, now time.Time) Proration {
	remaining := oldEnd.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	p := Proration{
		RemainingDays: decimal.NewFromInt(int64(remaining)).Div(decimalDay),
	}
	p.RemainingValue = p.RemainingDays.Mul(oldPlan.DailyRate())
	rate := newPlan.DailyRate()
	if !p.RemainingValue.IsPositive() || !rate.IsPositive() {
		p.FullDuration = true
		p.ConvertedDays = decimal.NewFromInt(int64(newPlan.DurationDays))
		return p
	}
	p.ConvertedDays = p.RemainingValue.Div(rate)
	return p
}
