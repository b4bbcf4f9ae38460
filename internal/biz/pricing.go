package biz

import (
	"fmt"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"

	"github.com/shopspring/decimal"
)

// Usage 上游返回的实际用量
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Characters   int64 `json:"characters"`
}

// Validate 用量不能为负数
func (u Usage) Validate() error {
	if u.InputTokens < 0 || u.OutputTokens < 0 || u.Characters < 0 {
		return creditErrors.ErrorInvalidArgument("usage must not be negative: input_tokens=%d, output_tokens=%d, characters=%d",
			u.InputTokens, u.OutputTokens, u.Characters)
	}
	return nil
}

// PricingRule 计价规则，按 (operation_type, model_id) 唯一
type PricingRule struct {
	OperationType string
	ModelID       string
	Strategy      string
	BaseCost      int64
	UnitCost      int64
	MinCharge     int64
	RequiredTier  string
}

// Validate 校验规则
func (r *PricingRule) Validate() error {
	if r.OperationType == "" || r.ModelID == "" {
		return fmt.Errorf("pricing rule requires operation_type and model_id")
	}
	switch r.Strategy {
	case constants.StrategyPerRequest, constants.StrategyPerUnit1K, constants.StrategyPerChar100:
	default:
		return fmt.Errorf("pricing rule %s/%s: unknown strategy %q", r.OperationType, r.ModelID, r.Strategy)
	}
	if r.BaseCost < 0 || r.UnitCost < 0 || r.MinCharge < 0 {
		return fmt.Errorf("pricing rule %s/%s: costs must not be negative", r.OperationType, r.ModelID)
	}
	return nil
}

// units 按策略取计量单位数
func (r *PricingRule) units(u Usage) int64 {
	switch r.Strategy {
	case constants.StrategyPerUnit1K:
		return u.InputTokens + u.OutputTokens
	case constants.StrategyPerChar100:
		return u.Characters
	default:
		return 1
	}
}

// cost 按策略计算积分，非零用量至少 1 积分
func (r *PricingRule) cost(u Usage) int64 {
	var cost int64
	switch r.Strategy {
	case constants.StrategyPerRequest:
		return max(r.BaseCost, r.MinCharge, 1)
	case constants.StrategyPerUnit1K:
		cost = max(r.MinCharge, ceilDiv(r.units(u), 1000)*r.UnitCost)
	case constants.StrategyPerChar100:
		cost = max(r.MinCharge, ceilDiv(r.units(u), 100)*r.UnitCost)
	}
	if r.units(u) > 0 && cost < 1 {
		cost = 1
	}
	return cost
}

type pricingKey struct {
	operationType string
	modelID       string
}

const defaultModelID = "default"

// PricingEngine 计价引擎，只持有静态配置
type PricingEngine struct {
	rules map[pricingKey]*PricingRule
	conf  *BillingConfig
}

// NewPricingEngine 创建计价引擎
func NewPricingEngine(conf *BillingConfig) *PricingEngine {
	rules := make(map[pricingKey]*PricingRule, len(conf.Pricing))
	for _, r := range conf.Pricing {
		rules[pricingKey{r.OperationType, r.ModelID}] = r
	}
	return &PricingEngine{rules: rules, conf: conf}
}

// Rule 查找计价规则，找不到具体模型时回退到该操作的 default 规则
func (e *PricingEngine) Rule(operationType, modelID string) (*PricingRule, error) {
	if r, ok := e.rules[pricingKey{operationType, modelID}]; ok {
		return r, nil
	}
	if r, ok := e.rules[pricingKey{operationType, defaultModelID}]; ok {
		return r, nil
	}
	return nil, creditErrors.ErrorPricingNotFound(operationType, modelID)
}

// ComputeCost 计算积分。estimate 模式按放大系数上浮，且至少 1 积分
func (e *PricingEngine) ComputeCost(operationType, modelID string, usage Usage, mode string) (int64, error) {
	rule, err := e.Rule(operationType, modelID)
	if err != nil {
		return 0, err
	}
	cost := rule.cost(usage)
	if mode != constants.CostModeEstimate {
		return cost, nil
	}
	scaled := decimal.NewFromInt(cost).Mul(e.conf.EstimateMultiplier).Floor().IntPart()
	return max(scaled, cost, 1), nil
}

// EstimateCost 按请求体大小估算积分
func (e *PricingEngine) EstimateCost(operationType, modelID string, payloadSize int64) (int64, error) {
	if payloadSize < 0 {
		return 0, creditErrors.ErrorInvalidArgument("payload_size must not be negative")
	}
	return e.ComputeCost(operationType, modelID, e.EstimateUsage(payloadSize), constants.CostModeEstimate)
}

// EstimateUsage 以请求体大小近似用量
func (e *PricingEngine) EstimateUsage(payloadSize int64) Usage {
	return Usage{
		InputTokens: ceilDiv(payloadSize, e.conf.CharsPerToken),
		Characters:  payloadSize,
	}
}

// CheckTier 校验会员等级是否满足规则要求
func (e *PricingEngine) CheckTier(rule *PricingRule, modelID, tier string) error {
	if rule.RequiredTier == "" {
		return nil
	}
	required, ok := e.conf.TierRanks[rule.RequiredTier]
	if !ok {
		return creditErrors.ErrorModelNotAllowed(modelID, tier, rule.RequiredTier)
	}
	if e.conf.TierRanks[tier] < required {
		return creditErrors.ErrorModelNotAllowed(modelID, tier, rule.RequiredTier)
	}
	return nil
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 || d <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
