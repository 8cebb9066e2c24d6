package main

import (
	"flag"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	fix44nos "github.com/quickfixgo/fix44/newordersingle"
	fix44ocr "github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type orderArgs struct {
	symbol   string
	side     enum.Side
	ordType  enum.OrdType
	qty      decimal.Decimal
	price    decimal.Decimal
	stop     decimal.Decimal
	cancelID string
}

// InitiatorApp sends one order (or cancel) on logon and prints the
// execution reports that come back.
type InitiatorApp struct {
	args    orderArgs
	clOrdID string
	done    chan struct{}
	once    sync.Once
}

func (a *InitiatorApp) finish() {
	a.once.Do(func() { close(a.done) })
}

func (a *InitiatorApp) OnCreate(sessionID quickfix.SessionID) {}

func (a *InitiatorApp) OnLogon(sessionID quickfix.SessionID) {
	zap.S().Infof("logon %s", sessionID)
	var err error
	if a.args.cancelID != "" {
		err = a.sendCancel(sessionID)
	} else {
		err = a.sendOrder(sessionID)
	}
	if err != nil {
		zap.S().Errorf("send: %v", err)
		a.finish()
	}
}

func (a *InitiatorApp) OnLogout(sessionID quickfix.SessionID)                       {}
func (a *InitiatorApp) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}
func (a *InitiatorApp) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}
func (a *InitiatorApp) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

func (a *InitiatorApp) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	msgType, _ := msg.Header.GetString(tag.MsgType)
	clOrdID, _ := msg.Body.GetString(tag.ClOrdID)
	status, _ := msg.Body.GetString(tag.OrdStatus)
	orderID, _ := msg.Body.GetString(tag.OrderID)
	cum, _ := msg.Body.GetString(tag.CumQty)
	text, _ := msg.Body.GetString(tag.Text)
	zap.S().Infof("msg=%s clOrdID=%s orderID=%s status=%s cum=%s text=%q", msgType, clOrdID, orderID, status, cum, text)

	if clOrdID != a.clOrdID {
		return nil
	}
	switch enum.OrdStatus(status) {
	case enum.OrdStatus_FILLED, enum.OrdStatus_CANCELED, enum.OrdStatus_REJECTED, enum.OrdStatus_EXPIRED:
		a.finish()
	}
	if enum.MsgType(msgType) == enum.MsgType_ORDER_CANCEL_REJECT {
		a.finish()
	}
	return nil
}

func (a *InitiatorApp) sendOrder(sessionID quickfix.SessionID) error {
	order := fix44nos.New(
		field.NewClOrdID(a.clOrdID),
		field.NewSide(a.args.side),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(a.args.ordType))
	order.SetSymbol(a.args.symbol)
	order.SetOrderQty(a.args.qty, -a.args.qty.Exponent())
	if !a.args.price.IsZero() {
		order.SetPrice(a.args.price, -a.args.price.Exponent())
	}
	if !a.args.stop.IsZero() {
		order.SetStopPx(a.args.stop, -a.args.stop.Exponent())
	}
	return quickfix.SendToTarget(order, sessionID)
}

func (a *InitiatorApp) sendCancel(sessionID quickfix.SessionID) error {
	cancel := fix44ocr.New(
		field.NewOrigClOrdID(a.args.cancelID),
		field.NewClOrdID(a.clOrdID),
		field.NewSide(a.args.side),
		field.NewTransactTime(time.Now()))
	cancel.SetSymbol(a.args.symbol)
	return quickfix.SendToTarget(cancel, sessionID)
}

func parseArgs() (string, orderArgs, time.Duration) {
	var cfgPath, side, ordType, qty, price, stop string
	var timeout time.Duration
	args := orderArgs{}
	flag.StringVar(&cfgPath, "config", "./config/fixclient.cfg", "quickfix initiator settings")
	flag.StringVar(&args.symbol, "symbol", "BTCUSDT", "symbol")
	flag.StringVar(&side, "side", "BUY", "BUY or SELL")
	flag.StringVar(&ordType, "type", "LIMIT", "MARKET, LIMIT or STOP_LIMIT")
	flag.StringVar(&qty, "qty", "0.001", "order quantity")
	flag.StringVar(&price, "price", "0", "limit price")
	flag.StringVar(&stop, "stop", "0", "stop price for STOP_LIMIT")
	flag.StringVar(&args.cancelID, "cancel", "", "cancel this ClOrdID instead of placing an order")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for a final report")
	flag.Parse()

	args.side = enum.Side_BUY
	if strings.EqualFold(side, "SELL") {
		args.side = enum.Side_SELL
	}
	switch strings.ToUpper(ordType) {
	case "MARKET":
		args.ordType = enum.OrdType_MARKET
	case "STOP_LIMIT":
		args.ordType = enum.OrdType_STOP_LIMIT
	default:
		args.ordType = enum.OrdType_LIMIT
	}
	args.qty = decimal.RequireFromString(qty)
	args.price = decimal.RequireFromString(price)
	args.stop = decimal.RequireFromString(stop)
	return cfgPath, args, timeout
}

func main() {
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)

	cfgPath, args, timeout := parseArgs()
	app := &InitiatorApp{args: args, clOrdID: uuid.NewString(), done: make(chan struct{})}

	cfg, err := os.Open(cfgPath)
	if err != nil {
		zap.S().Fatal(err)
	}
	defer cfg.Close() // nolint

	settings, err := quickfix.ParseSettings(cfg)
	if err != nil {
		zap.S().Fatal(err)
	}

	storeFactory := quickfix.NewMemoryStoreFactory()
	logFactory, err := file.NewLogFactory(settings)
	if err != nil {
		zap.S().Fatal(err)
	}
	initiator, err := quickfix.NewInitiator(app, storeFactory, settings, logFactory)
	if err != nil {
		zap.S().Fatal(err)
	}
	if err := initiator.Start(); err != nil {
		zap.S().Fatal(err)
	}
	defer initiator.Stop()
	zap.S().Infof("initiator started, ClOrdID %s", app.clOrdID)

	select {
	case <-app.done:
	case <-time.After(timeout):
		zap.S().Warn("no final report before timeout")
	}
}
