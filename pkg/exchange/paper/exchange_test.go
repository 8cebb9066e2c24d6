package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestExchange() *Exchange {
	return New(Config{
		Symbols: []model.SymbolRules{{
			Symbol:   "BTCUSDT",
			TickSize: d("0.1"),
			StepSize: d("0.001"),
		}},
		Prices: map[string]decimal.Decimal{"BTCUSDT": d("100")},
	})
}

func limit(side model.OrderSide, qty, price string) exchange.PlaceOrderRequest {
	return exchange.PlaceOrderRequest{
		ClientOrderID: "c-" + price,
		Symbol:        "BTCUSDT",
		Side:          side,
		Type:          model.OrderTypeLimit,
		Quantity:      d(qty),
		Price:         d(price),
	}
}

func TestMarketOrderFillsAtLast(t *testing.T) {
	ex := newTestExchange()
	snap, err := ex.PlaceOrder(context.Background(), exchange.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: model.OrderSideBuy, Type: model.OrderTypeMarket, Quantity: d("2"),
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if snap.Status != model.OrderStatusFilled || !snap.AvgFillPrice.Equal(d("100")) {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestRestingLimitFillsWhenPriceCrosses(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()

	buy, _ := ex.PlaceOrder(ctx, limit(model.OrderSideBuy, "1", "95"))
	sell, _ := ex.PlaceOrder(ctx, limit(model.OrderSideSell, "1", "105"))
	far, _ := ex.PlaceOrder(ctx, limit(model.OrderSideBuy, "1", "90"))
	if buy.Status != model.OrderStatusOpen || sell.Status != model.OrderStatusOpen {
		t.Fatalf("limits should rest: %s %s", buy.Status, sell.Status)
	}
	if n := ex.RestingOrders("BTCUSDT"); n != 3 {
		t.Fatalf("resting = %d, want 3", n)
	}

	ex.SetPrice("BTCUSDT", d("94"))

	got, _ := ex.GetOrder(ctx, "BTCUSDT", buy.ExchangeOrderID)
	if got.Status != model.OrderStatusFilled || !got.AvgFillPrice.Equal(d("95")) {
		t.Errorf("buy at 95 should fill at its limit: %+v", got)
	}
	got, _ = ex.GetOrder(ctx, "BTCUSDT", far.ExchangeOrderID)
	if got.Status != model.OrderStatusOpen {
		t.Errorf("buy at 90 should still rest, got %s", got.Status)
	}

	ex.SetPrice("BTCUSDT", d("106"))
	got, _ = ex.GetOrder(ctx, "BTCUSDT", sell.ExchangeOrderID)
	if got.Status != model.OrderStatusFilled {
		t.Errorf("sell at 105 should fill, got %s", got.Status)
	}
}

func TestMarketableLimitFillsImmediately(t *testing.T) {
	ex := newTestExchange()
	snap, err := ex.PlaceOrder(context.Background(), limit(model.OrderSideBuy, "1", "101"))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if snap.Status != model.OrderStatusFilled {
		t.Errorf("marketable limit status %s", snap.Status)
	}
}

func TestStopLimitTriggers(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()

	snap, err := ex.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: model.OrderSideSell, Type: model.OrderTypeStopLimit,
		Quantity: d("1"), Price: d("89"), StopPrice: d("90"),
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	ex.SetPrice("BTCUSDT", d("95"))
	got, _ := ex.GetOrder(ctx, "BTCUSDT", snap.ExchangeOrderID)
	if got.Status != model.OrderStatusOpen {
		t.Fatalf("stop fired early: %s", got.Status)
	}

	ex.SetPrice("BTCUSDT", d("89.5"))
	got, _ = ex.GetOrder(ctx, "BTCUSDT", snap.ExchangeOrderID)
	if got.Status != model.OrderStatusFilled {
		t.Errorf("triggered sell limit at 89 should fill below 90, got %s", got.Status)
	}

	_, err = ex.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: model.OrderSideSell, Type: model.OrderTypeStopLimit,
		Quantity: d("1"), Price: d("99"), StopPrice: d("100"),
	})
	if !errors.Is(err, model.ErrInvalidOrderParameters) {
		t.Errorf("stop that would trigger immediately should be rejected, got %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()

	open, _ := ex.PlaceOrder(ctx, limit(model.OrderSideBuy, "1", "90"))
	if err := ex.CancelOrder(ctx, "BTCUSDT", open.ExchangeOrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := ex.CancelOrder(ctx, "BTCUSDT", open.ExchangeOrderID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second cancel: got %v, want not found", err)
	}

	filled, _ := ex.PlaceOrder(ctx, limit(model.OrderSideBuy, "1", "80"))
	_ = ex.Fill(filled.ExchangeOrderID, d("1"), d("80"))
	if err := ex.CancelOrder(ctx, "BTCUSDT", filled.ExchangeOrderID); !errors.Is(err, model.ErrAlreadyFilled) {
		t.Errorf("cancel filled: got %v, want already filled", err)
	}

	if err := ex.CancelOrder(ctx, "BTCUSDT", "PX-999"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("cancel unknown: got %v", err)
	}

	// cancelled level is pruned and never fills
	ex.SetPrice("BTCUSDT", d("85"))
	got, _ := ex.GetOrder(ctx, "BTCUSDT", open.ExchangeOrderID)
	if got.Status != model.OrderStatusCancelled {
		t.Errorf("cancelled order status %s", got.Status)
	}
}

func TestPartialFillAveragesPrice(t *testing.T) {
	ex := newTestExchange()
	snap, _ := ex.PlaceOrder(context.Background(), limit(model.OrderSideBuy, "4", "90"))

	_ = ex.Fill(snap.ExchangeOrderID, d("1"), d("90"))
	_ = ex.Fill(snap.ExchangeOrderID, d("1"), d("92"))
	got, _ := ex.GetOrder(context.Background(), "", snap.ExchangeOrderID)
	if got.Status != model.OrderStatusPartiallyFilled {
		t.Fatalf("status %s", got.Status)
	}
	if !got.AvgFillPrice.Equal(d("91")) || !got.FilledQuantity.Equal(d("2")) {
		t.Errorf("avg=%s filled=%s", got.AvgFillPrice, got.FilledQuantity)
	}

	_ = ex.Fill(snap.ExchangeOrderID, d("10"), d("91"))
	got, _ = ex.GetOrder(context.Background(), "", snap.ExchangeOrderID)
	if got.Status != model.OrderStatusFilled || !got.FilledQuantity.Equal(d("4")) {
		t.Errorf("over-fill not clamped: %+v", got)
	}
}

func TestInjectError(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()
	ex.InjectError(OpPlace, model.ErrRateLimited, 2)

	for i := 0; i < 2; i++ {
		if _, err := ex.PlaceOrder(ctx, limit(model.OrderSideBuy, "1", "90")); !errors.Is(err, model.ErrRateLimited) {
			t.Fatalf("attempt %d: got %v", i, err)
		}
	}
	if _, err := ex.PlaceOrder(ctx, limit(model.OrderSideBuy, "1", "90")); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
}

func TestSuspendedSymbol(t *testing.T) {
	ex := newTestExchange()
	ex.SetSuspended("BTCUSDT", true)
	if _, err := ex.PlaceOrder(context.Background(), limit(model.OrderSideBuy, "1", "90")); !errors.Is(err, model.ErrSymbolSuspended) {
		t.Errorf("got %v, want suspended", err)
	}
}

func TestOpenOrdersAndExternal(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()
	_, _ = ex.PlaceOrder(ctx, limit(model.OrderSideBuy, "1", "90"))
	ext := ex.AddExternalOrder("BTCUSDT", model.OrderSideSell, d("1"), d("120"))

	open, err := ex.OpenOrders(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(open) != 2 || open[1].ExchangeOrderID != ext {
		t.Errorf("unexpected open orders %+v", open)
	}
}

func TestBookTop(t *testing.T) {
	ex := newTestExchange()
	top, err := ex.GetOrderBook(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !top.BestBid.Equal(d("99.9")) || !top.BestAsk.Equal(d("100.1")) || !top.Mid().Equal(d("100")) {
		t.Errorf("unexpected top %+v", top)
	}
}

func TestPriceSubscription(t *testing.T) {
	ex := newTestExchange()
	ctx, cancel := context.WithCancel(context.Background())

	ticks, err := ex.SubscribePriceUpdates(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ex.SetPrice("BTCUSDT", d("101"))

	select {
	case tick := <-ticks:
		if !tick.Price.Equal(d("101")) {
			t.Errorf("tick price %s", tick.Price)
		}
	case <-time.After(time.Second):
		t.Fatal("no tick delivered")
	}

	cancel()
	select {
	case _, ok := <-ticks:
		if ok {
			t.Errorf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestDisconnectFeeds(t *testing.T) {
	ex := newTestExchange()
	ticks, _ := ex.SubscribePriceUpdates(context.Background(), "BTCUSDT")
	ex.DisconnectFeeds("BTCUSDT")
	if _, ok := <-ticks; ok {
		t.Errorf("expected closed channel after disconnect")
	}
}
