package precision

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestQuantity(t *testing.T) {
	tests := []struct {
		qty, step, want string
	}{
		{"1.23456", "0.001", "1.234"},
		{"0.0009", "0.001", "0"},
		{"10", "1", "10"},
		{"10.999", "0.5", "10.5"},
		{"-1", "0.1", "0"},
		{"3.3", "0", "3.3"},
	}
	for _, tt := range tests {
		got := Quantity(d(tt.qty), d(tt.step))
		if !got.Equal(d(tt.want)) {
			t.Errorf("Quantity(%s, %s) = %s, want %s", tt.qty, tt.step, got, tt.want)
		}
	}
}

func TestQuantityIsStepMultipleNotAboveInput(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	steps := []decimal.Decimal{d("0.001"), d("0.01"), d("0.5"), d("1"), d("0.00001")}

	for i := 0; i < 2000; i++ {
		step := steps[r.Intn(len(steps))]
		qty := decimal.NewFromInt(r.Int63n(10_000_000)).Shift(-int32(r.Intn(6)))

		got := Quantity(qty, step)
		if got.Sign() < 0 {
			t.Fatalf("Quantity(%s, %s) negative: %s", qty, step, got)
		}
		if got.GreaterThan(qty) {
			t.Fatalf("Quantity(%s, %s) = %s exceeds input", qty, step, got)
		}
		if !got.Mod(step).IsZero() {
			t.Fatalf("Quantity(%s, %s) = %s is not a step multiple", qty, step, got)
		}
		if qty.Sub(got).GreaterThanOrEqual(step) {
			t.Fatalf("Quantity(%s, %s) = %s dropped a whole step", qty, step, got)
		}
	}
}

func TestPrice(t *testing.T) {
	tests := []struct {
		price, tick, want string
	}{
		{"100.04", "0.1", "100"},
		{"100.06", "0.1", "100.1"},
		{"100.05", "0.1", "100"},
		{"100.15", "0.1", "100.2"},
		{"104", "5", "105"},
		{"102.5", "5", "100"},
		{"0", "0.1", "0"},
	}
	for _, tt := range tests {
		got := Price(d(tt.price), d(tt.tick))
		if !got.Equal(d(tt.want)) {
			t.Errorf("Price(%s, %s) = %s, want %s", tt.price, tt.tick, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	rules := model.SymbolRules{
		Symbol:      "BTCUSDT",
		TickSize:    d("0.1"),
		StepSize:    d("0.001"),
		MinQuantity: d("0.001"),
		MinNotional: d("10"),
	}

	tests := []struct {
		name    string
		in      Values
		ref     decimal.Decimal
		want    Values
		wantErr bool
	}{
		{
			name: "limit snapped",
			in:   Values{Quantity: d("0.12345"), Price: d("30000.04")},
			want: Values{Quantity: d("0.123"), Price: d("30000")},
		},
		{
			name:    "quantity rounds to zero",
			in:      Values{Quantity: d("0.0004"), Price: d("30000")},
			wantErr: true,
		},
		{
			name:    "notional too small",
			in:      Values{Quantity: d("0.001"), Price: d("100")},
			wantErr: true,
		},
		{
			name:    "market uses reference price",
			in:      Values{Quantity: d("0.001")},
			ref:     d("5000"),
			wantErr: true,
		},
		{
			name: "market without reference skips notional",
			in:   Values{Quantity: d("0.001")},
			want: Values{Quantity: d("0.001")},
		},
		{
			name: "stop price snapped",
			in:   Values{Quantity: d("1"), Price: d("99.99"), StopPrice: d("100.04")},
			want: Values{Quantity: d("1"), Price: d("100"), StopPrice: d("100")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in, rules, tt.ref)
			if tt.wantErr {
				if !errors.Is(err, model.ErrInvalidOrderParameters) {
					t.Fatalf("expected invalid parameters, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Quantity.Equal(tt.want.Quantity) || !got.Price.Equal(tt.want.Price) || !got.StopPrice.Equal(tt.want.StopPrice) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
