package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadSample(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("NATS_URL", "nats://nats:4222")

	cfg, err := Load("config.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Journal.NATSURL != "nats://nats:4222" {
		t.Fatalf("env not expanded: %+v %+v", cfg.Log, cfg.Journal)
	}
	if cfg.Supervisor.BackoffMax != 30*time.Second || cfg.Engine.Retry.Base != 200*time.Millisecond {
		t.Errorf("durations = %v %v", cfg.Supervisor.BackoffMax, cfg.Engine.Retry.Base)
	}
	if len(cfg.Exchange.Symbols) != 2 || !cfg.Exchange.Symbols[0].TickSize.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("symbols = %+v", cfg.Exchange.Symbols)
	}
	pc := cfg.PaperConfig()
	if !pc.Balances["USDT"].Equal(decimal.RequireFromString("10000")) || pc.Symbols[0].QuoteAsset != "USDT" {
		t.Errorf("paper account = %v %+v", pc.Balances, pc.Symbols[0])
	}
	if !cfg.Exchange.Feed.Enabled || cfg.Exchange.Feed.URL == "" {
		t.Errorf("feed = %+v", cfg.Exchange.Feed)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.FIX.Shards != 16 {
		t.Errorf("gateways = %+v %+v", cfg.HTTP, cfg.FIX)
	}
	if got := cfg.SymbolNames(); strings.Join(got, ",") != "BTCUSDT,ETHUSDT" {
		t.Errorf("symbol names = %v", got)
	}

	oc := cfg.OMSConfig()
	if oc.Retention != 24*time.Hour || oc.AnomalyLogCap != 1000 || oc.Supervisor.MaxRetries != 5 {
		t.Errorf("oms config = %+v", oc)
	}
}

func TestLoadFromEnvPath(t *testing.T) {
	t.Setenv("CONFIG_FILE", "config.yaml")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	if _, err := Load(""); err != nil {
		t.Fatalf("load via CONFIG_FILE: %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	const symbols = `
exchange:
  symbols:
    - symbol: BTCUSDT
      tick_size: "0.01"
      step_size: "0.001"
`
	tests := []struct {
		name string
		yaml string
	}{
		{"no symbols", "service_name: x\n"},
		{"unknown driver", symbols + "journal:\n  drivers: [mq]\n"},
		{"nats without url", symbols + "journal:\n  drivers: [nats]\n"},
		{"kafka without brokers", symbols + "journal:\n  drivers: [kafka]\n"},
		{"pebble without path", symbols + "journal:\n  drivers: [pebble]\n"},
		{"bad guard", symbols + "engine:\n  price_guard:\n    mode: strict\n"},
		{"bad yaml", "exchange: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatal("accepted")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.yaml"); !os.IsNotExist(err) {
		t.Fatalf("err = %v", err)
	}
}
