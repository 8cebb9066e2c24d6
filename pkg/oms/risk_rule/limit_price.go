package riskrule

import (
	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

type LimitPrice struct {
	Floor decimal.Decimal `yaml:"floor"`
	Ceil  decimal.Decimal `yaml:"ceil"`
}

// LimitPriceRule enforces static per-symbol price limits. Symbols without
// limits pass.
type LimitPriceRule struct {
	prices map[string]LimitPrice
}

func NewLimitPriceRule(prices map[string]LimitPrice) *LimitPriceRule {
	return &LimitPriceRule{prices: prices}
}

func (r *LimitPriceRule) Name() string { return ModeLimits }

func (r *LimitPriceRule) Check(order *model.Order, _ exchange.BookTop) error {
	limit, ok := r.prices[order.Symbol]
	if !ok {
		return nil
	}
	if !limit.Ceil.IsZero() && order.Price.GreaterThan(limit.Ceil) {
		return violation(r.Name(), "price %s above ceiling %s", order.Price, limit.Ceil)
	}
	if order.Price.LessThan(limit.Floor) {
		return violation(r.Name(), "price %s below floor %s", order.Price, limit.Floor)
	}
	return nil
}
