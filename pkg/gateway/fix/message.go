package fixgateway

import (
	"fmt"

	"github.com/joripage/orderexec/pkg/oms"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/shopspring/decimal"
)

var (
	ordStatusMapping = map[model.OrderStatus]enum.OrdStatus{
		model.OrderStatusPending:         enum.OrdStatus_PENDING_NEW,
		model.OrderStatusOpen:            enum.OrdStatus_NEW,
		model.OrderStatusPartiallyFilled: enum.OrdStatus_PARTIALLY_FILLED,
		model.OrderStatusFilled:          enum.OrdStatus_FILLED,
		model.OrderStatusCancelled:       enum.OrdStatus_CANCELED,
		model.OrderStatusRejected:        enum.OrdStatus_REJECTED,
		model.OrderStatusExpired:         enum.OrdStatus_EXPIRED,
	}

	execTypeMapping = map[model.OrderStatus]enum.ExecType{
		model.OrderStatusPending:         enum.ExecType_PENDING_NEW,
		model.OrderStatusOpen:            enum.ExecType_NEW,
		model.OrderStatusPartiallyFilled: enum.ExecType_TRADE,
		model.OrderStatusFilled:          enum.ExecType_TRADE,
		model.OrderStatusCancelled:       enum.ExecType_CANCELED,
		model.OrderStatusRejected:        enum.ExecType_REJECTED,
		model.OrderStatusExpired:         enum.ExecType_EXPIRED,
	}

	sideMapping = map[enum.Side]model.OrderSide{
		enum.Side_BUY:  model.OrderSideBuy,
		enum.Side_SELL: model.OrderSideSell,
	}
)

// toRequest maps a NewOrderSingle onto an OMS request. Stop-limit orders
// become stop-limit strategies.
func toRequest(nos NewOrderSingle, clientOrderID string) (oms.Request, error) {
	side, ok := sideMapping[nos.Side]
	if !ok {
		return oms.Request{}, fmt.Errorf("side %q: %w", nos.Side, model.ErrInvalidOrderParameters)
	}
	switch nos.OrdType {
	case enum.OrdType_MARKET:
		return oms.Request{Kind: oms.KindMarket, Order: &model.OrderParams{
			ClientOrderID: clientOrderID, Symbol: nos.Symbol, Side: side, Quantity: nos.OrderQty,
		}}, nil
	case enum.OrdType_LIMIT:
		return oms.Request{Kind: oms.KindLimit, Order: &model.OrderParams{
			ClientOrderID: clientOrderID, Symbol: nos.Symbol, Side: side, Quantity: nos.OrderQty, Price: nos.Price,
		}}, nil
	case enum.OrdType_STOP_LIMIT:
		return oms.Request{Kind: oms.KindStopLimit, StopLimit: &model.StopLimitParams{
			Symbol: nos.Symbol, Side: side, Quantity: nos.OrderQty, StopPrice: nos.StopPx, LimitPrice: nos.Price,
		}}, nil
	}
	return oms.Request{}, fmt.Errorf("ord type %q: %w", nos.OrdType, model.ErrInvalidOrderParameters)
}

func newExecutionReport(org *origin, orderID, execID string, execType enum.ExecType, status enum.OrdStatus, leaves, cum, avg decimal.Decimal) executionreport.ExecutionReport {
	msg := executionreport.New(
		field.NewOrderID(orderID),
		field.NewExecID(execID),
		field.NewExecType(execType),
		field.NewOrdStatus(status),
		field.NewSide(org.Side),
		field.NewLeavesQty(leaves, 8),
		field.NewCumQty(cum, 8),
		field.NewAvgPx(avg, 8),
	)
	msg.SetClOrdID(org.ClOrdID)
	msg.SetSymbol(org.Symbol)
	msg.SetOrdType(org.OrdType)
	msg.SetOrderQty(org.OrderQty, 8)
	if !org.Price.IsZero() {
		msg.SetPrice(org.Price, 8)
	}
	if !org.StopPx.IsZero() {
		msg.SetStopPx(org.StopPx, 8)
	}
	if org.Account != "" {
		msg.SetAccount(org.Account)
	}
	return msg
}

// orderEventReport builds the execution report for one committed order
// event. quantity is the order's normalized quantity.
func orderEventReport(ev model.OrderEvent, org *origin, quantity decimal.Decimal, execID string) executionreport.ExecutionReport {
	leaves := quantity.Sub(ev.FilledQuantity)
	if ev.To.IsTerminal() || leaves.Sign() < 0 {
		leaves = decimal.Zero
	}
	orderID := ev.ExchangeOrderID
	if orderID == "" {
		orderID = ev.ClientOrderID
	}
	msg := newExecutionReport(org, orderID, execID, execTypeMapping[ev.To], ordStatusMapping[ev.To], leaves, ev.FilledQuantity, ev.AvgFillPrice)
	if ev.FillDelta.Sign() > 0 {
		msg.SetLastQty(ev.FillDelta, 8)
		msg.SetLastPx(ev.AvgFillPrice, 8)
	}
	if ev.Reason != "" {
		msg.SetText(ev.Reason)
	}
	msg.SetTransactTime(ev.At)
	return msg
}

// rejectReport answers a NewOrderSingle the OMS refused.
func rejectReport(org *origin, execID string, cause error) executionreport.ExecutionReport {
	msg := newExecutionReport(org, "NONE", execID, enum.ExecType_REJECTED, enum.OrdStatus_REJECTED, decimal.Zero, decimal.Zero, decimal.Zero)
	msg.SetText(cause.Error())
	return msg
}

// ackReport acknowledges a stop-limit strategy before its child exists.
func ackReport(org *origin, execID string, execType enum.ExecType, status enum.OrdStatus) executionreport.ExecutionReport {
	leaves := org.OrderQty
	if status == enum.OrdStatus_CANCELED {
		leaves = decimal.Zero
	}
	return newExecutionReport(org, org.StrategyID, execID, execType, status, leaves, decimal.Zero, decimal.Zero)
}

func cancelReject(req OrderCancelRequest, orderID string, cause error) ordercancelreject.OrderCancelReject {
	if orderID == "" {
		orderID = "NONE"
	}
	msg := ordercancelreject.New(
		field.NewOrderID(orderID),
		field.NewClOrdID(req.ClOrdID),
		field.NewOrigClOrdID(req.OrigClOrdID),
		field.NewOrdStatus(enum.OrdStatus_REJECTED),
		field.NewCxlRejResponseTo(enum.CxlRejResponseTo_ORDER_CANCEL_REQUEST),
	)
	msg.SetText(cause.Error())
	return msg
}
