// Package precision snaps quantities and prices to exchange increments.
package precision

import (
	"fmt"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

// Quantity rounds qty down to a multiple of step.
func Quantity(qty, step decimal.Decimal) decimal.Decimal {
	if qty.Sign() <= 0 {
		return decimal.Zero
	}
	if step.Sign() <= 0 {
		return qty
	}
	units, _ := qty.QuoRem(step, 0)
	return units.Mul(step)
}

// Price rounds price to the nearest multiple of tick, half to even.
func Price(price, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 || price.IsZero() {
		return price
	}
	return price.Div(tick).RoundBank(0).Mul(tick)
}

type Values struct {
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	StopPrice decimal.Decimal
}

// Normalize applies rules to v. ref prices market orders for the notional check
// and may be zero when unknown.
func Normalize(v Values, rules model.SymbolRules, ref decimal.Decimal) (Values, error) {
	out := Values{
		Quantity:  Quantity(v.Quantity, rules.StepSize),
		Price:     Price(v.Price, rules.TickSize),
		StopPrice: Price(v.StopPrice, rules.TickSize),
	}

	if out.Quantity.Sign() <= 0 {
		return out, fmt.Errorf("quantity %s rounds to zero with step %s: %w", v.Quantity, rules.StepSize, model.ErrInvalidOrderParameters)
	}
	if rules.MinQuantity.Sign() > 0 && out.Quantity.LessThan(rules.MinQuantity) {
		return out, fmt.Errorf("quantity %s below minimum %s: %w", out.Quantity, rules.MinQuantity, model.ErrInvalidOrderParameters)
	}
	if v.Price.Sign() > 0 && out.Price.Sign() <= 0 {
		return out, fmt.Errorf("price %s rounds to zero with tick %s: %w", v.Price, rules.TickSize, model.ErrInvalidOrderParameters)
	}
	if v.StopPrice.Sign() > 0 && out.StopPrice.Sign() <= 0 {
		return out, fmt.Errorf("stop price %s rounds to zero with tick %s: %w", v.StopPrice, rules.TickSize, model.ErrInvalidOrderParameters)
	}

	price := out.Price
	if price.IsZero() {
		price = ref
	}
	if rules.MinNotional.Sign() > 0 && price.Sign() > 0 {
		notional := out.Quantity.Mul(price)
		if notional.LessThan(rules.MinNotional) {
			return out, fmt.Errorf("notional %s below minimum %s: %w", notional, rules.MinNotional, model.ErrInvalidOrderParameters)
		}
	}

	return out, nil
}
