package riskrule

import (
	"fmt"

	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/oms/model"
)

// RiskRule vets a normalized order against the current top of book before
// it is sent. Violations wrap model.ErrInvalidOrderParameters.
type RiskRule interface {
	Name() string
	Check(order *model.Order, top exchange.BookTop) error
}

const (
	ModeOff      = "off"
	ModePostOnly = "post_only"
	ModeBand     = "band"
	ModeLimits   = "limits"
)

func violation(rule string, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", rule, fmt.Sprintf(format, args...), model.ErrInvalidOrderParameters)
}

// CheckAll runs every rule against LIMIT orders. Other order types pass.
func CheckAll(rules []RiskRule, order *model.Order, top exchange.BookTop) error {
	if order.Type != model.OrderTypeLimit {
		return nil
	}
	for _, r := range rules {
		if err := r.Check(order, top); err != nil {
			return err
		}
	}
	return nil
}
