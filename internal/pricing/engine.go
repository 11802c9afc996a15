// Package pricing turns an upstream unit cost into a resale price using the
// administrator markup table, falling back to a fixed default policy.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"parts-aggregator/internal/models"
	"parts-aggregator/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrInvalidCost = errors.New("pricing: unit cost must be a finite non-negative number")

var hundred = decimal.NewFromInt(100)

// RuleSource provides the active markup rules
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]models.PriceRule, error)
}

// Policy is the default pricing applied when no rule matches:
// max(cost * (1 + MarkupPercent/100), cost + MinMargin).
type Policy struct {
	MarkupPercent decimal.Decimal
	MinMargin     decimal.Decimal
}

// DefaultPolicy returns the 15% / 200 default
func DefaultPolicy() Policy {
	return Policy{
		MarkupPercent: decimal.NewFromInt(15),
		MinMargin:     decimal.NewFromInt(200),
	}
}

// PolicyFromStrings parses a policy from configuration values, keeping the
// default for any value that does not parse as a non-negative decimal.
func PolicyFromStrings(markupPercent, minMargin string) Policy {
	p := DefaultPolicy()
	if d, err := decimal.NewFromString(markupPercent); err == nil && !d.IsNegative() {
		p.MarkupPercent = d
	}
	if d, err := decimal.NewFromString(minMargin); err == nil && !d.IsNegative() {
		p.MinMargin = d
	}
	return p
}

// Context is the caller-supplied context a rule can match on
type Context struct {
	Brand    string
	Category string
}

// Quote is a computed resale price
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	RuleID int64           `json:"rule_id,omitempty"`
}

// Engine computes resale prices. It holds no per-call state.
type Engine struct {
	source RuleSource
	policy Policy
	logger *zap.Logger
}

// NewEngine creates a pricing engine. A nil source prices everything with the default policy.
func NewEngine(source RuleSource, policy Policy) *Engine {
	return &Engine{
		source: source,
		policy: policy,
		logger: util.GetLogger(),
	}
}

// CostFromFloat converts a float cost, rejecting NaN, Inf and negatives
func CostFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidCost, f)
	}
	return decimal.NewFromFloat(f), nil
}

// Rules loads the current rule snapshot. A source failure yields a nil
// snapshot, which prices everything with the default policy.
func (e *Engine) Rules(ctx context.Context) []models.PriceRule {
	if e.source == nil {
		return nil
	}
	rules, err := e.source.ActiveRules(ctx)
	if err != nil {
		util.PricingFallbackTotal.WithLabelValues("rules_unavailable").Inc()
		e.logger.Warn("Price rules unavailable, using default policy", zap.Error(err))
		return nil
	}
	return rules
}

// Price loads the rules and prices a single cost
func (e *Engine) Price(ctx context.Context, cost decimal.Decimal, pc Context) (Quote, error) {
	return e.PriceWith(e.Rules(ctx), cost, pc)
}

// PriceWith prices cost against an already loaded rule snapshot
func (e *Engine) PriceWith(rules []models.PriceRule, cost decimal.Decimal, pc Context) (Quote, error) {
	if cost.IsNegative() {
		return Quote{}, fmt.Errorf("%w: %s", ErrInvalidCost, cost)
	}

	rule := Match(rules, pc)
	if rule == nil {
		util.PricingFallbackTotal.WithLabelValues("no_rule").Inc()
		return Quote{Price: e.policy.Apply(cost)}, nil
	}

	return Quote{Price: ApplyRule(*rule, cost), RuleID: rule.ID}, nil
}

// Match picks the rule for pc: an active brand rule first, then an active
// category rule. Every filter a rule sets must match pc. It returns nil when
// no rule applies.
func Match(rules []models.PriceRule, pc Context) *models.PriceRule {
	for i := range rules {
		if rules[i].BrandFilter != nil && applies(rules[i], pc) {
			return &rules[i]
		}
	}
	for i := range rules {
		if rules[i].CategoryFilter != nil && applies(rules[i], pc) {
			return &rules[i]
		}
	}
	return nil
}

func applies(rule models.PriceRule, pc Context) bool {
	if !rule.Active {
		return false
	}
	if rule.BrandFilter != nil && !filterMatches(*rule.BrandFilter, pc.Brand) {
		return false
	}
	if rule.CategoryFilter != nil && !filterMatches(*rule.CategoryFilter, pc.Category) {
		return false
	}
	return rule.BrandFilter != nil || rule.CategoryFilter != nil
}

func filterMatches(filter, value string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return false
	}
	return strings.EqualFold(filter, strings.TrimSpace(value))
}

// ApplyRule prices cost with a matched rule, honouring the minimum margin
func ApplyRule(rule models.PriceRule, cost decimal.Decimal) decimal.Decimal {
	price := cost.Mul(decimal.NewFromInt(1).Add(rule.PercentMarkup.Div(hundred)))
	if rule.MinimumMargin != nil && price.Sub(cost).LessThan(*rule.MinimumMargin) {
		price = cost.Add(*rule.MinimumMargin)
	}
	return price.Round(0)
}

// Apply prices cost with the default policy
func (p Policy) Apply(cost decimal.Decimal) decimal.Decimal {
	byPercent := cost.Mul(decimal.NewFromInt(1).Add(p.MarkupPercent.Div(hundred)))
	byMargin := cost.Add(p.MinMargin)
	return decimal.Max(byPercent, byMargin).Round(0)
}
