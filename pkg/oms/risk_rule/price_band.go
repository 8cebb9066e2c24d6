package riskrule

import (
	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PriceBandRule keeps limit prices within Percent of the book mid.
type PriceBandRule struct {
	Percent decimal.Decimal
}

func (r PriceBandRule) Name() string { return ModeBand }

func (r PriceBandRule) Check(order *model.Order, top exchange.BookTop) error {
	mid := top.Mid()
	if mid.Sign() <= 0 || r.Percent.Sign() <= 0 {
		return nil
	}
	band := mid.Mul(r.Percent).Div(hundred)
	if order.Price.Sub(mid).Abs().GreaterThan(band) {
		return violation(r.Name(), "price %s outside %s%% of mid %s", order.Price, r.Percent, mid)
	}
	return nil
}
