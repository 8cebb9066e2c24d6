package fixgateway

import (
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
)

type NewOrderSingle struct {
	SessionID quickfix.SessionID

	Account      string
	ClOrdID      string
	Symbol       string
	Side         enum.Side
	OrdType      enum.OrdType
	OrderQty     decimal.Decimal
	Price        decimal.Decimal
	StopPx       decimal.Decimal
	TransactTime time.Time
}

type OrderCancelRequest struct {
	SessionID quickfix.SessionID

	ClOrdID     string
	OrigClOrdID string
	Symbol      string
	Side        enum.Side
}

// origin remembers where an order came from so reports can be routed back.
type origin struct {
	SessionID  quickfix.SessionID
	Account    string
	ClOrdID    string
	Symbol     string
	Side       enum.Side
	OrdType    enum.OrdType
	OrderQty   decimal.Decimal
	Price      decimal.Decimal
	StopPx     decimal.Decimal
	OrderID    string
	StrategyID string
}
