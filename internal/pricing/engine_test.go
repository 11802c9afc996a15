package pricing

import (
	"context"
	"errors"
	"math"
	"testing"

	"parts-aggregator/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

type failingSource struct{}

func (failingSource) ActiveRules(ctx context.Context) ([]models.PriceRule, error) {
	return nil, errors.New("relation \"price_rules\" does not exist")
}

func TestEngine_BrandRuleBeatsCategoryRule(t *testing.T) {
	rules := StaticRuleSource{
		{ID: 2, CategoryFilter: strPtr("brakes"), PercentMarkup: decimal.NewFromInt(50), Active: true},
		{ID: 1, BrandFilter: strPtr("Bosch"), PercentMarkup: decimal.NewFromInt(10), Active: true},
	}
	engine := NewEngine(rules, DefaultPolicy())

	quote, err := engine.Price(context.Background(), decimal.NewFromInt(1000), Context{Brand: "BOSCH", Category: "Brakes"})
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(1100)), quote.Price.String())
	assert.EqualValues(t, 1, quote.RuleID)
}

func TestEngine_CategoryRuleWhenNoBrandRule(t *testing.T) {
	rules := StaticRuleSource{
		{ID: 1, BrandFilter: strPtr("TRW"), PercentMarkup: decimal.NewFromInt(10), Active: true},
		{ID: 2, CategoryFilter: strPtr("brakes"), PercentMarkup: decimal.NewFromInt(50), Active: true},
	}
	engine := NewEngine(rules, DefaultPolicy())

	quote, err := engine.Price(context.Background(), decimal.NewFromInt(1000), Context{Brand: "Bosch", Category: "brakes"})
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(1500)))
	assert.EqualValues(t, 2, quote.RuleID)
}

func TestEngine_MinimumMarginFloor(t *testing.T) {
	rules := StaticRuleSource{
		{ID: 1, BrandFilter: strPtr("Bosch"), PercentMarkup: decimal.NewFromInt(5), MinimumMargin: decPtr(50), Active: true},
	}
	engine := NewEngine(rules, DefaultPolicy())

	quote, err := engine.Price(context.Background(), decimal.NewFromInt(100), Context{Brand: "Bosch"})
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(150)))
}

func TestEngine_InactiveRulesIgnored(t *testing.T) {
	rules := StaticRuleSource{
		{ID: 1, BrandFilter: strPtr("Bosch"), PercentMarkup: decimal.NewFromInt(10), Active: false},
	}
	engine := NewEngine(rules, DefaultPolicy())

	quote, err := engine.Price(context.Background(), decimal.NewFromInt(1000), Context{Brand: "Bosch"})
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(1200)))
	assert.Zero(t, quote.RuleID)
}

func TestEngine_RuleWithBothFiltersNeedsBoth(t *testing.T) {
	rules := StaticRuleSource{
		{ID: 1, BrandFilter: strPtr("Bosch"), CategoryFilter: strPtr("filters"), PercentMarkup: decimal.NewFromInt(30), Active: true},
	}
	engine := NewEngine(rules, DefaultPolicy())

	quote, err := engine.Price(context.Background(), decimal.NewFromInt(1000), Context{Brand: "Bosch", Category: "brakes"})
	require.NoError(t, err)
	assert.Zero(t, quote.RuleID)

	quote, err = engine.Price(context.Background(), decimal.NewFromInt(1000), Context{Brand: "Bosch", Category: "Filters"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, quote.RuleID)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(1300)))
}

func TestEngine_DefaultPolicy(t *testing.T) {
	engine := NewEngine(StaticRuleSource{}, DefaultPolicy())

	tests := []struct {
		cost string
		want int64
	}{
		{"0", 200},
		{"100", 300},
		{"1333", 1533},
		{"1334", 1534},
		{"1340", 1541},
		{"10000", 11500},
		{"2000.10", 2300},
		{"2000.5", 2301},
	}

	for _, tt := range tests {
		t.Run(tt.cost, func(t *testing.T) {
			cost := decimal.RequireFromString(tt.cost)
			quote, err := engine.Price(context.Background(), cost, Context{})
			require.NoError(t, err)

			byPercent := cost.Mul(decimal.RequireFromString("1.15"))
			byMargin := cost.Add(decimal.NewFromInt(200))
			assert.True(t, quote.Price.Equal(decimal.Max(byPercent, byMargin).Round(0)))
			assert.True(t, quote.Price.Equal(decimal.NewFromInt(tt.want)), quote.Price.String())
		})
	}
}

func TestEngine_RuleSourceFailureFallsBack(t *testing.T) {
	engine := NewEngine(failingSource{}, DefaultPolicy())

	quote, err := engine.Price(context.Background(), decimal.NewFromInt(100), Context{Brand: "Bosch"})
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(300)))
}

func TestEngine_NilSource(t *testing.T) {
	engine := NewEngine(nil, DefaultPolicy())

	quote, err := engine.Price(context.Background(), decimal.NewFromInt(100), Context{})
	require.NoError(t, err)
	assert.True(t, quote.Price.Equal(decimal.NewFromInt(300)))
}

func TestEngine_RejectsNegativeCost(t *testing.T) {
	engine := NewEngine(nil, DefaultPolicy())

	_, err := engine.Price(context.Background(), decimal.NewFromInt(-1), Context{})
	assert.ErrorIs(t, err, ErrInvalidCost)
}

func TestCostFromFloat(t *testing.T) {
	d, err := CostFromFloat(12.5)
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("12.5")))

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -0.01} {
		_, err := CostFromFloat(bad)
		assert.ErrorIs(t, err, ErrInvalidCost)
	}
}

func TestPolicyFromStrings(t *testing.T) {
	p := PolicyFromStrings("20", "150")
	assert.True(t, p.MarkupPercent.Equal(decimal.NewFromInt(20)))
	assert.True(t, p.MinMargin.Equal(decimal.NewFromInt(150)))

	p = PolicyFromStrings("x", "-5")
	assert.True(t, p.MarkupPercent.Equal(decimal.NewFromInt(15)))
	assert.True(t, p.MinMargin.Equal(decimal.NewFromInt(200)))
}

func TestApplyRule_Rounds(t *testing.T) {
	rule := models.PriceRule{PercentMarkup: decimal.RequireFromString("12.5"), Active: true}

	price := ApplyRule(rule, decimal.NewFromInt(101))
	assert.True(t, price.Equal(decimal.NewFromInt(114)), price.String())
}
