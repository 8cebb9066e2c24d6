package oms

import (
	"fmt"

	"github.com/joripage/orderexec/pkg/oms/model"
)

type RequestKind string

const (
	KindMarket    RequestKind = "MARKET"
	KindLimit     RequestKind = "LIMIT"
	KindStopLimit RequestKind = "STOP_LIMIT"
	KindOCO       RequestKind = "OCO"
	KindTWAP      RequestKind = "TWAP"
	KindGrid      RequestKind = "GRID"
)

// Request is a tagged variant: Kind selects which params field is read.
type Request struct {
	Kind      RequestKind            `json:"kind"`
	Order     *model.OrderParams     `json:"order,omitempty"`
	StopLimit *model.StopLimitParams `json:"stop_limit,omitempty"`
	OCO       *model.OCOParams       `json:"oco,omitempty"`
	TWAP      *model.TWAPParams      `json:"twap,omitempty"`
	Grid      *model.GridParams      `json:"grid,omitempty"`
}

// Handle identifies what a request created: a raw order or a strategy.
type Handle struct {
	OrderID    string `json:"order_id,omitempty"`
	StrategyID string `json:"strategy_id,omitempty"`
}

func (r Request) check() error {
	var missing bool
	switch r.Kind {
	case KindMarket, KindLimit:
		missing = r.Order == nil
	case KindStopLimit:
		missing = r.StopLimit == nil
	case KindOCO:
		missing = r.OCO == nil
	case KindTWAP:
		missing = r.TWAP == nil
	case KindGrid:
		missing = r.Grid == nil
	default:
		return fmt.Errorf("%w %q: %w", errUnknownKind, r.Kind, model.ErrInvalidOrderParameters)
	}
	if missing {
		return fmt.Errorf("%w %s: %w", errMissingParams, r.Kind, model.ErrInvalidOrderParameters)
	}
	return nil
}
