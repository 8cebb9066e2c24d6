package paper

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

func BenchmarkPlaceAndSweep(b *testing.B) {
	ex := newTestExchange()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := model.OrderSideBuy
		if rng.Intn(2) == 0 {
			side = model.OrderSideSell
		}
		price := decimal.NewFromInt(90 + int64(rng.Intn(21)))
		_, err := ex.PlaceOrder(ctx, exchange.PlaceOrderRequest{
			ClientOrderID: fmt.Sprintf("c-%d", i),
			Symbol:        "BTCUSDT",
			Side:          side,
			Type:          model.OrderTypeLimit,
			Quantity:      d("1"),
			Price:         price,
		})
		if err != nil {
			b.Fatal(err)
		}
		if i%100 == 0 {
			ex.SetPrice("BTCUSDT", decimal.NewFromInt(90+int64(rng.Intn(21))))
		}
	}
}
