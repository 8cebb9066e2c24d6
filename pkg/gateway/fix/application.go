package fixgateway

import (
	"context"
	"fmt"
	"os"

	"github.com/joripage/go_util/pkg/shardqueue"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"
)

// Application implements the quickfix.Application interface
type Application struct {
	*quickfix.MessageRouter
	shardQueue *shardqueue.Shardqueue
	acceptor   *quickfix.Acceptor

	gateway *FixGateway
}

type inboundMsg struct {
	msg       *quickfix.Message
	sessionID quickfix.SessionID
}

func newApplication(gw *FixGateway) *Application {
	app := &Application{
		MessageRouter: quickfix.NewMessageRouter(),
		gateway:       gw,
	}

	app.AddRoute(newordersingle.Route(app.onNewOrderSingle))
	app.AddRoute(ordercancelrequest.Route(app.onOrderCancelRequest))

	app.shardQueue = shardqueue.NewShardQueue(gw.cfg.Shards, gw.cfg.QueueSize)
	app.shardQueue.Start(func(msg interface{}) error {
		if v, ok := msg.(*inboundMsg); ok {
			if err := app.Route(v.msg, v.sessionID); err != nil {
				zap.S().Warnw("fix: route failed", "session", v.sessionID.String(), "err", err)
			}
		}
		return nil
	})
	return app
}

func startApp(configFilepath string, gw *FixGateway) (*Application, error) {
	cfg, err := os.Open(configFilepath)
	if err != nil {
		return nil, fmt.Errorf("error opening %v, %v", configFilepath, err)
	}
	defer cfg.Close() // nolint

	appSettings, err := quickfix.ParseSettings(cfg)
	if err != nil {
		return nil, fmt.Errorf("error reading cfg: %s,", err)
	}

	app := newApplication(gw)

	logFactory, err := file.NewLogFactory(appSettings)
	if err != nil {
		return nil, fmt.Errorf("fix log factory: %w", err)
	}
	acceptor, err := quickfix.NewAcceptor(app, quickfix.NewMemoryStoreFactory(), appSettings, logFactory)
	if err != nil {
		return nil, fmt.Errorf("unable to create acceptor: %s", err)
	}
	if err := acceptor.Start(); err != nil {
		return nil, fmt.Errorf("unable to start FIX acceptor: %s", err)
	}
	app.acceptor = acceptor
	return app, nil
}

func (a *Application) stop() {
	if a.acceptor != nil {
		a.acceptor.Stop()
	}
}

// OnCreate implemented as part of Application interface
func (a *Application) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon implemented as part of Application interface
func (a *Application) OnLogon(sessionID quickfix.SessionID) {
	zap.S().Infow("fix: logon", "session", sessionID.String())
}

// OnLogout implemented as part of Application interface
func (a *Application) OnLogout(sessionID quickfix.SessionID) {
	zap.S().Infow("fix: logout", "session", sessionID.String())
}

// ToAdmin implemented as part of Application interface
func (a *Application) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

// ToApp implemented as part of Application interface
func (a *Application) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

// FromAdmin implemented as part of Application interface
func (a *Application) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

// FromApp queues the message on the shard of its order so one order's
// messages are handled in arrival order.
func (a *Application) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) (reject quickfix.MessageRejectError) {
	a.shardQueue.Shard(getRoutingKey(msg, sessionID), &inboundMsg{msg, sessionID})
	return nil
}

// getRoutingKey keys a cancel by the order it cancels.
func getRoutingKey(msg *quickfix.Message, sessionID quickfix.SessionID) string {
	if orig, err := msg.Body.GetString(tag.OrigClOrdID); err == nil && orig != "" {
		return orderID(sessionID, orig)
	}
	if clOrdID, err := msg.Body.GetString(tag.ClOrdID); err == nil && clOrdID != "" {
		return orderID(sessionID, clOrdID)
	}
	if msgType, err := msg.Header.GetString(tag.MsgType); err == nil {
		return "MSGTYPE:" + msgType
	}
	return sessionID.String()
}

func (a *Application) onNewOrderSingle(msg newordersingle.NewOrderSingle, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, err := msg.GetClOrdID()
	if err != nil {
		return err
	}
	symbol, err := msg.GetSymbol()
	if err != nil {
		return err
	}
	side, err := msg.GetSide()
	if err != nil {
		return err
	}
	ordType, err := msg.GetOrdType()
	if err != nil {
		return err
	}
	orderQty, err := msg.GetOrderQty()
	if err != nil {
		return err
	}
	price, _ := msg.GetPrice()
	stopPx, _ := msg.GetStopPx()
	account, _ := msg.GetAccount()
	transactTime, _ := msg.GetTransactTime()

	a.gateway.AddOrder(context.Background(), NewOrderSingle{
		SessionID:    sessionID,
		Account:      account,
		ClOrdID:      clOrdID,
		Symbol:       symbol,
		Side:         side,
		OrdType:      ordType,
		OrderQty:     orderQty,
		Price:        price,
		StopPx:       stopPx,
		TransactTime: transactTime,
	})
	return nil
}

func (a *Application) onOrderCancelRequest(msg ordercancelrequest.OrderCancelRequest, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, err := msg.GetClOrdID()
	if err != nil {
		return err
	}
	origClOrdID, err := msg.GetOrigClOrdID()
	if err != nil {
		return err
	}
	symbol, _ := msg.GetSymbol()
	side, _ := msg.GetSide()

	a.gateway.CancelOrder(context.Background(), OrderCancelRequest{
		SessionID:   sessionID,
		ClOrdID:     clOrdID,
		OrigClOrdID: origClOrdID,
		Symbol:      symbol,
		Side:        side,
	})
	return nil
}
