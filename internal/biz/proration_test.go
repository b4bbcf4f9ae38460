package biz_test

import (
	"testing"
	"time"

	"credit-service/internal/biz"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProrate_Upgrade(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	planA := &biz.Plan{ID: "a", Price: decimal.RequireFromString("9"), DurationDays: 30, Priority: 1}
	planB := &biz.Plan{ID: "b", Price: decimal.RequireFromString("29"), DurationDays: 30, Priority: 2}

	p := biz.Prorate(planA, now.Add(10*24*time.Hour), planB, now)

	assert.False(t, p.FullDuration)
	assert.True(t, p.RemainingDays.Equal(decimal.NewFromInt(10)))
	assert.True(t, p.RemainingValue.Equal(decimal.RequireFromString("3")), "remaining value %s", p.RemainingValue)
	converted, _ := p.ConvertedDays.Float64()
	assert.InDelta(t, 3.1034, converted, 0.001)

	d := p.Duration(planB)
	assert.Greater(t, d, 3*24*time.Hour)
	assert.Less(t, d, 3*24*time.Hour+3*time.Hour)
}

func TestProrate_NoRemainingValue(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	free := &biz.Plan{ID: "trial", Price: decimal.Zero, DurationDays: 7}
	pro := &biz.Plan{ID: "pro", Price: decimal.RequireFromString("29"), DurationDays: 30}

	p := biz.Prorate(free, now.Add(5*24*time.Hour), pro, now)
	assert.True(t, p.FullDuration)
	assert.Equal(t, 30*24*time.Hour, p.Duration(pro))

	expired := &biz.Plan{ID: "a", Price: decimal.RequireFromString("9"), DurationDays: 30}
	p = biz.Prorate(expired, now.Add(-time.Hour), pro, now)
	assert.True(t, p.FullDuration)
	assert.True(t, p.RemainingDays.IsZero())
}

func TestPlan_PeriodAllowance(t *testing.T) {
	assert.Equal(t, int64(1000), (&biz.Plan{DurationDays: 30, MonthlyAllowance: 1000}).PeriodAllowance())
	assert.Equal(t, int64(2000), (&biz.Plan{DurationDays: 31, MonthlyAllowance: 1000}).PeriodAllowance())
	assert.Equal(t, int64(13000), (&biz.Plan{DurationDays: 365, MonthlyAllowance: 1000}).PeriodAllowance())
	assert.Equal(t, int64(1000), (&biz.Plan{DurationDays: 7, MonthlyAllowance: 1000}).PeriodAllowance())
}
