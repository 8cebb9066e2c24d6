package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type StrategyKind string

const (
	StrategyKindStopLimit StrategyKind = "STOP_LIMIT"
	StrategyKindOCO       StrategyKind = "OCO"
	StrategyKindTWAP      StrategyKind = "TWAP"
	StrategyKindGrid      StrategyKind = "GRID"
)

type StrategyState string

// stop-limit
const (
	StopLimitArmed       StrategyState = "ARMED"
	StopLimitTriggered   StrategyState = "TRIGGERED"
	StopLimitOrderPlaced StrategyState = "ORDER_PLACED"
	StopLimitFilled      StrategyState = "FILLED"
	StopLimitCancelled   StrategyState = "CANCELLED"
	StopLimitRejected    StrategyState = "REJECTED"
)

// oco
const (
	OCOSubmitting   StrategyState = "SUBMITTING"
	OCOActive       StrategyState = "ACTIVE"
	OCOBothResolved StrategyState = "BOTH_RESOLVED"
	OCOBothFilled   StrategyState = "BOTH_FILLED"
	OCOCancelled    StrategyState = "CANCELLED"
	OCORejected     StrategyState = "REJECTED"
)

// twap
const (
	TWAPScheduled      StrategyState = "SCHEDULED"
	TWAPRunning        StrategyState = "RUNNING"
	TWAPCompleted      StrategyState = "COMPLETED"
	TWAPAbortedPartial StrategyState = "ABORTED_PARTIAL"
)

// grid
const (
	GridDeploying StrategyState = "DEPLOYING"
	GridActive    StrategyState = "ACTIVE"
	GridPaused    StrategyState = "PAUSED"
	GridTornDown  StrategyState = "TORNDOWN"
)

// StrategyInstance is a point-in-time view of one running or archived strategy.
type StrategyInstance struct {
	StrategyID  string        `json:"strategy_id"`
	Kind        StrategyKind  `json:"kind"`
	Params      any           `json:"params"`
	ChildOrders []string      `json:"child_orders"`
	State       StrategyState `json:"state"`
	Failure     string        `json:"failure,omitempty"`
	Anomalies   []AnomalyKind `json:"anomalies,omitempty"`
	Archived    bool          `json:"archived"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
}

type StopLimitParams struct {
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	StopPrice  decimal.Decimal `json:"stop_price"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

type OCOParams struct {
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopPrice       decimal.Decimal `json:"stop_price"`
	// StopLimitPrice defaults to StopPrice when zero.
	StopLimitPrice decimal.Decimal `json:"stop_limit_price"`
}

type TWAPParams struct {
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Slices     int             `json:"slices"`
	Duration   time.Duration   `json:"duration"`
	OrderType  OrderType       `json:"order_type"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

type twapAlias TWAPParams

// MarshalJSON writes Duration as a Go duration string such as "40s".
func (p TWAPParams) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		twapAlias
		Duration string `json:"duration"`
	}{twapAlias(p), p.Duration.String()})
}

// UnmarshalJSON accepts Duration as a duration string or as nanoseconds.
func (p *TWAPParams) UnmarshalJSON(b []byte) error {
	aux := struct {
		*twapAlias
		Duration json.RawMessage `json:"duration"`
	}{twapAlias: (*twapAlias)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if len(aux.Duration) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(aux.Duration, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("twap duration: %w", err)
		}
		p.Duration = d
		return nil
	}
	var ns int64
	if err := json.Unmarshal(aux.Duration, &ns); err != nil {
		return fmt.Errorf("twap duration: %w", err)
	}
	p.Duration = time.Duration(ns)
	return nil
}

type GridSpacing string

const (
	GridSpacingArithmetic GridSpacing = "ARITHMETIC"
	GridSpacingGeometric  GridSpacing = "GEOMETRIC"
)

type GridParams struct {
	Symbol           string          `json:"symbol"`
	Lower            decimal.Decimal `json:"lower"`
	Upper            decimal.Decimal `json:"upper"`
	Levels           int             `json:"levels"`
	Spacing          GridSpacing     `json:"spacing"`
	QuantityPerLevel decimal.Decimal `json:"quantity_per_level"`
	// A zero cap disables that side's check.
	MaxBuyNotional  decimal.Decimal `json:"max_buy_notional"`
	MaxSellNotional decimal.Decimal `json:"max_sell_notional"`
	// ReferencePrice defaults to the order book mid when zero.
	ReferencePrice     decimal.Decimal `json:"reference_price"`
	PauseOutsideBounds bool            `json:"pause_outside_bounds"`
}
