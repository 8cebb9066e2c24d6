package riskrule

import (
	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/oms/model"
)

// PostOnlyRule rejects limit orders that would cross the book on arrival.
type PostOnlyRule struct{}

func (PostOnlyRule) Name() string { return ModePostOnly }

func (r PostOnlyRule) Check(order *model.Order, top exchange.BookTop) error {
	switch order.Side {
	case model.OrderSideBuy:
		if !top.BestAsk.IsZero() && order.Price.GreaterThanOrEqual(top.BestAsk) {
			return violation(r.Name(), "buy %s crosses best ask %s", order.Price, top.BestAsk)
		}
	case model.OrderSideSell:
		if !top.BestBid.IsZero() && order.Price.LessThanOrEqual(top.BestBid) {
			return violation(r.Name(), "sell %s crosses best bid %s", order.Price, top.BestBid)
		}
	}
	return nil
}
