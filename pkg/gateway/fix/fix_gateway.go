package fixgateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joripage/orderexec/pkg/oms"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"
)

type FixGatewayConfig struct {
	ConfigFilepath string `yaml:"config_file"`
	Shards         int    `yaml:"shards"`
	QueueSize      int    `yaml:"queue_size"`
}

// FixGateway accepts FIX 4.4 order flow and reports every order event back
// as an ExecutionReport on the originating session.
type FixGateway struct {
	cfg         *FixGatewayConfig
	app         *Application
	omsInstance oms.IOMS

	byClOrdID  sync.Map // session-scoped ClOrdID -> *origin
	byOrderID  sync.Map // client order id -> *origin
	byStrategy sync.Map // strategy id -> *origin
	strategyMu sync.Mutex

	execSeq atomic.Uint64
	send    func(m quickfix.Messagable, sessionID quickfix.SessionID) error
}

func NewFixGateway(cfg *FixGatewayConfig) *FixGateway {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100_000
	}
	return &FixGateway{
		cfg:  cfg,
		send: quickfix.SendToTarget,
	}
}

func (s *FixGateway) AddOmsInstance(o oms.IOMS) {
	s.omsInstance = o
}

func (s *FixGateway) Start(ctx context.Context) error {
	app, err := startApp(s.cfg.ConfigFilepath, s)
	if err != nil {
		return fmt.Errorf("start fix acceptor: %w", err)
	}
	s.app = app
	go func() {
		<-ctx.Done()
		app.stop()
	}()
	return nil
}

func (s *FixGateway) nextExecID() string {
	return fmt.Sprintf("E%d", s.execSeq.Add(1))
}

func (s *FixGateway) reply(m quickfix.Messagable, sessionID quickfix.SessionID) {
	if err := s.send(m, sessionID); err != nil {
		zap.S().Warnw("fix: send failed", "session", sessionID.String(), "err", err)
	}
}

func (s *FixGateway) AddOrder(ctx context.Context, nos NewOrderSingle) {
	org := &origin{
		SessionID: nos.SessionID,
		Account:   nos.Account,
		ClOrdID:   nos.ClOrdID,
		Symbol:    nos.Symbol,
		Side:      nos.Side,
		OrdType:   nos.OrdType,
		OrderQty:  nos.OrderQty,
		Price:     nos.Price,
		StopPx:    nos.StopPx,
	}
	if _, dup := s.originByClOrdID(nos.SessionID, nos.ClOrdID); dup {
		s.reply(rejectReport(org, s.nextExecID(), fmt.Errorf("duplicate ClOrdID %s", nos.ClOrdID)), nos.SessionID)
		return
	}

	id := orderID(nos.SessionID, nos.ClOrdID)
	req, err := toRequest(nos, id)
	if err != nil {
		s.reply(rejectReport(org, s.nextExecID(), err), nos.SessionID)
		return
	}

	if req.Kind != oms.KindStopLimit {
		// reports arrive while Submit runs, the origin must be known first
		org.OrderID = id
		s.storeOrigin(org)
		if _, err := s.omsInstance.Submit(ctx, req); err != nil {
			if _, getErr := s.omsInstance.GetOrder(id); getErr != nil {
				// refused before reaching the store, no event will report it
				s.reply(rejectReport(org, s.nextExecID(), err), nos.SessionID)
			}
		}
		return
	}

	s.strategyMu.Lock()
	h, err := s.omsInstance.Submit(ctx, req)
	if err == nil {
		org.StrategyID = h.StrategyID
		s.storeOrigin(org)
	}
	s.strategyMu.Unlock()
	if err != nil {
		s.reply(rejectReport(org, s.nextExecID(), err), nos.SessionID)
		return
	}
	s.reply(ackReport(org, s.nextExecID(), enum.ExecType_NEW, enum.OrdStatus_NEW), nos.SessionID)
}

func (s *FixGateway) CancelOrder(ctx context.Context, req OrderCancelRequest) {
	org, ok := s.originByClOrdID(req.SessionID, req.OrigClOrdID)
	if !ok {
		s.reply(cancelReject(req, "", fmt.Errorf("unknown OrigClOrdID %s", req.OrigClOrdID)), req.SessionID)
		return
	}

	if org.StrategyID == "" {
		if err := s.omsInstance.CancelOrder(ctx, org.OrderID); err != nil {
			s.reply(cancelReject(req, org.OrderID, err), req.SessionID)
		}
		return
	}

	if err := s.omsInstance.CancelStrategy(ctx, org.StrategyID); err != nil {
		s.reply(cancelReject(req, org.StrategyID, err), req.SessionID)
		return
	}
	// an armed stop has no child order whose events would report the cancel
	inst, err := s.omsInstance.GetStrategy(org.StrategyID)
	if err == nil && inst.State == model.StopLimitCancelled && len(inst.ChildOrders) == 0 {
		s.reply(ackReport(org, s.nextExecID(), enum.ExecType_CANCELED, enum.OrdStatus_CANCELED), req.SessionID)
	}
}

// OnOrderReport implements oms.OrderGateway.
func (s *FixGateway) OnOrderReport(ctx context.Context, ev model.OrderEvent) {
	org, ok := s.originByOrder(ev.ClientOrderID, ev.StrategyID)
	if !ok {
		return
	}
	// the strategy ack already told the client the order is working
	if org.StrategyID != "" && ev.To == model.OrderStatusOpen && ev.FillDelta.IsZero() {
		return
	}
	quantity := org.OrderQty
	if o, err := s.omsInstance.GetOrder(ev.ClientOrderID); err == nil {
		quantity = o.Quantity
	} else if !errors.Is(err, model.ErrNotFound) {
		zap.S().Warnw("fix: order lookup failed", "client_order_id", ev.ClientOrderID, "err", err)
	}
	s.reply(orderEventReport(ev, org, quantity, s.nextExecID()), org.SessionID)
}

var _ oms.OrderGateway = (*FixGateway)(nil)
