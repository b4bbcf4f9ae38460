package biz

import (
	"fmt"
	"time"

	"credit-service/internal/conf"
	"credit-service/internal/constants"

	"github.com/shopspring/decimal"
)

// BillingConfig 计费配置
type BillingConfig struct {
	DefaultGrant          int64           // 新用户初始积分
	EstimateMultiplier    decimal.Decimal // 预扣放大系数
	CharsPerToken         int64           // 估算 token 时每 token 字符数
	CallTimeout           time.Duration   // 上游调用超时
	StaleReservationAfter time.Duration   // 超过该时长仍未结算的预扣视为异常
	Retry                 RetryPolicy
	TierRanks             map[string]int // 会员等级 -> 排名
	Pricing               []*PricingRule
	Plans                 map[string]*Plan
}

// RetryPolicy 余额写冲突的有界重试
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultBillingConfig 默认计费配置
func DefaultBillingConfig() *BillingConfig {
	return &BillingConfig{
		DefaultGrant:          350,
		EstimateMultiplier:    decimal.RequireFromString("1.2"),
		CharsPerToken:         4,
		CallTimeout:           60 * time.Second,
		StaleReservationAfter: 10 * time.Minute,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			MinBackoff:  100 * time.Millisecond,
			MaxBackoff:  400 * time.Millisecond,
		},
		TierRanks: tierRanks([]string{constants.TierFree, "plus", "pro", "max"}),
		Plans:     make(map[string]*Plan),
	}
}

// NewBillingConfig 从配置创建 BillingConfig
func NewBillingConfig(c *conf.Bootstrap) (*BillingConfig, error) {
	config := DefaultBillingConfig()
	if c.Billing == nil {
		return config, nil
	}
	b := c.Billing
	if b.DefaultGrant > 0 {
		config.DefaultGrant = b.DefaultGrant
	}
	if b.EstimateMultiplier != "" {
		m, err := decimal.NewFromString(b.EstimateMultiplier)
		if err != nil {
			return nil, fmt.Errorf("invalid estimate_multiplier %q: %w", b.EstimateMultiplier, err)
		}
		if m.LessThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("estimate_multiplier must be >= 1, got %s", m)
		}
		config.EstimateMultiplier = m
	}
	if b.CharsPerToken > 0 {
		config.CharsPerToken = b.CharsPerToken
	}
	if d := b.CallTimeout.AsDuration(); d > 0 {
		config.CallTimeout = d
	}
	if d := b.StaleReservationAfter.AsDuration(); d > 0 {
		config.StaleReservationAfter = d
	}
	if b.Retry != nil {
		if b.Retry.MaxAttempts > 0 {
			config.Retry.MaxAttempts = b.Retry.MaxAttempts
		}
		if d := b.Retry.MinBackoff.AsDuration(); d > 0 {
			config.Retry.MinBackoff = d
		}
		if d := b.Retry.MaxBackoff.AsDuration(); d > 0 {
			config.Retry.MaxBackoff = d
		}
		if config.Retry.MaxBackoff < config.Retry.MinBackoff {
			config.Retry.MaxBackoff = config.Retry.MinBackoff
		}
	}
	if len(b.Tiers) > 0 {
		config.TierRanks = tierRanks(b.Tiers)
	}

	for _, r := range b.Pricing {
		rule := &PricingRule{
			OperationType: r.OperationType,
			ModelID:       r.ModelId,
			Strategy:      r.Strategy,
			BaseCost:      r.BaseCost,
			UnitCost:      r.UnitCost,
			MinCharge:     r.MinCharge,
			RequiredTier:  r.RequiredTier,
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		config.Pricing = append(config.Pricing, rule)
	}

	for _, p := range b.Plans {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("invalid price for plan %s: %w", p.Id, err)
		}
		if p.DurationDays <= 0 {
			return nil, fmt.Errorf("plan %s: duration_days must be positive", p.Id)
		}
		config.Plans[p.Id] = &Plan{
			ID:               p.Id,
			Name:             p.Name,
			Tier:             p.Tier,
			Priority:         int(p.Priority),
			Price:            price,
			DurationDays:     int(p.DurationDays),
			MonthlyAllowance: p.MonthlyAllowance,
		}
	}
	return config, nil
}

func tierRanks(tiers []string) map[string]int {
	ranks := make(map[string]int, len(tiers))
	for i, t := range tiers {
		ranks[t] = i
	}
	return ranks
}
