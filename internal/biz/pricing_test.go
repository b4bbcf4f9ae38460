package biz_test

import (
	"testing"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingEngine_ComputeCost(t *testing.T) {
	engine := biz.NewPricingEngine(testBillingConfig())

	tests := []struct {
		name      string
		operation string
		model     string
		usage     biz.Usage
		mode      string
		want      int64
	}{
		{"per_unit_1k minimal usage is never free", "chat", "default", biz.Usage{InputTokens: 1}, constants.CostModeFinal, 5},
		{"per_unit_1k rounds up", "chat", "default", biz.Usage{InputTokens: 1500, OutputTokens: 600}, constants.CostModeFinal, 15},
		{"per_unit_1k zero usage falls to min charge", "chat", "default", biz.Usage{}, constants.CostModeFinal, 1},
		{"per_char_100", "chat", "lite", biz.Usage{Characters: 4200}, constants.CostModeFinal, 42},
		{"per_char_100 single char", "chat", "lite", biz.Usage{Characters: 1}, constants.CostModeFinal, 1},
		{"per_request ignores usage", "image", "default", biz.Usage{InputTokens: 100000}, constants.CostModeFinal, 25},
		{"unknown model falls back to default rule", "image", "sdxl", biz.Usage{}, constants.CostModeFinal, 25},
		{"estimate applies multiplier", "image", "default", biz.Usage{}, constants.CostModeEstimate, 30},
		{"estimate is at least the final cost", "chat", "lite", biz.Usage{Characters: 1}, constants.CostModeEstimate, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.ComputeCost(tt.operation, tt.model, tt.usage, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPricingEngine_PricingNotFound(t *testing.T) {
	engine := biz.NewPricingEngine(testBillingConfig())

	_, err := engine.ComputeCost("video", "any", biz.Usage{InputTokens: 1}, constants.CostModeFinal)
	assert.True(t, creditErrors.IsPricingNotFound(err))

	_, err = engine.EstimateCost("video", "any", 100)
	assert.True(t, creditErrors.IsPricingNotFound(err))
}

func TestPricingEngine_EstimateCost(t *testing.T) {
	engine := biz.NewPricingEngine(testBillingConfig())

	got, err := engine.EstimateCost("chat", "lite", 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got)

	// 4 字符约 1 token：20000 字符 -> 5000 token -> 25 积分 -> 放大后 30
	got, err = engine.EstimateCost("chat", "default", 20000)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got)

	_, err = engine.EstimateCost("chat", "default", -1)
	assert.True(t, creditErrors.IsInvalidArgument(err))
}

func TestPricingEngine_CheckTier(t *testing.T) {
	engine := biz.NewPricingEngine(testBillingConfig())
	rule, err := engine.Rule("chat", "gpt-pro")
	require.NoError(t, err)

	assert.True(t, creditErrors.IsModelNotAllowed(engine.CheckTier(rule, "gpt-pro", constants.TierFree)))
	assert.True(t, creditErrors.IsModelNotAllowed(engine.CheckTier(rule, "gpt-pro", "plus")))
	assert.NoError(t, engine.CheckTier(rule, "gpt-pro", "pro"))
	assert.NoError(t, engine.CheckTier(rule, "gpt-pro", "max"))

	open, err := engine.Rule("chat", "default")
	require.NoError(t, err)
	assert.NoError(t, engine.CheckTier(open, "default", constants.TierFree))
}

func TestPricingRule_Validate(t *testing.T) {
	assert.NoError(t, (&biz.PricingRule{OperationType: "chat", ModelID: "a", Strategy: constants.StrategyPerRequest, BaseCost: 1}).Validate())
	assert.Error(t, (&biz.PricingRule{OperationType: "chat", ModelID: "a", Strategy: "per_token"}).Validate())
	assert.Error(t, (&biz.PricingRule{OperationType: "chat", Strategy: constants.StrategyPerRequest}).Validate())
	assert.Error(t, (&biz.PricingRule{OperationType: "chat", ModelID: "a", Strategy: constants.StrategyPerUnit1K, UnitCost: -1}).Validate())
}
