package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joripage/orderexec/config"
	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/exchange/paper"
	"github.com/joripage/orderexec/pkg/exchange/wsfeed"
	fixgateway "github.com/joripage/orderexec/pkg/gateway/fix"
	httpgateway "github.com/joripage/orderexec/pkg/gateway/http"
	redis_wrapper "github.com/joripage/orderexec/pkg/infra/redis"
	"github.com/joripage/orderexec/pkg/logging"
	"github.com/joripage/orderexec/pkg/oms"
	"github.com/joripage/orderexec/pkg/oms/journal"
	riskrule "github.com/joripage/orderexec/pkg/oms/risk_rule"
	"github.com/joripage/orderexec/pkg/oms/rules"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	var paperOnly bool
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.BoolVar(&paperOnly, "paper", false, "Run offline on static paper prices, ignoring the live feed")
	flag.Parse()

	if err := run(configFile, paperOnly); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string, paperOnly bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.File)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	undo := zap.ReplaceGlobals(logger.Zap())
	defer undo()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	ex := paper.New(cfg.PaperConfig())
	if cfg.Exchange.Feed.Enabled && !paperOnly {
		feedCfg := cfg.Exchange.Feed.Config
		if len(feedCfg.Symbols) == 0 {
			feedCfg.Symbols = cfg.SymbolNames()
		}
		feed := wsfeed.New(feedCfg, func(t exchange.PriceTick) {
			ex.SetPrice(t.Symbol, t.Price)
		})
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				zap.S().Errorf("price feed stopped: %v", err)
			}
		}()
		zap.S().Infof("paper exchange following %s", feed.StreamURL())
	} else {
		zap.S().Info("paper exchange on static prices")
	}

	cache, err := newRulesCache(ctx, cfg, ex)
	if err != nil {
		return err
	}
	if err := checkConnection(ctx, cache, cfg.SymbolNames()); err != nil {
		return err
	}

	logBalances(ctx, ex)

	sink, err := newJournal(cfg)
	if err != nil {
		return err
	}
	guards, err := riskrule.FromConfig(cfg.Engine.PriceGuard)
	if err != nil {
		return err
	}

	o := oms.NewOMS(ex, cfg.OMSConfig(),
		oms.WithJournal(sink),
		oms.WithLogger(logger),
		oms.WithGuards(guards...),
		oms.WithRules(cache),
	)
	if cfg.FIX.Enabled {
		fg := fixgateway.NewFixGateway(&cfg.FIX.FixGatewayConfig)
		fg.AddOmsInstance(o)
		o.AddGateway(fg)
	}
	if err := o.Start(ctx); err != nil {
		o.Stop()
		return err
	}
	if cfg.HTTP.Enabled {
		if err := httpgateway.NewServer(cfg.HTTP.Config, o, logger).Start(ctx); err != nil {
			o.Stop()
			return err
		}
	}

	zap.S().Infof("%s started", cfg.ServiceName)
	<-ctx.Done()
	zap.S().Info("shutting down")
	o.Stop()
	return nil
}

func newRulesCache(ctx context.Context, cfg *config.AppConfig, src rules.Source) (*rules.Cache, error) {
	if cfg.Rules.Redis == nil || cfg.Rules.Redis.ConnectionURL == "" {
		return rules.NewCache(src, nil), nil
	}
	rc, err := redis_wrapper.InitRedis(ctx, cfg.Rules.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rules.NewCache(src, rules.NewRedisStore(rc, cfg.Rules.RedisTTL)), nil
}

// checkConnection fetches the rules of every configured symbol so an
// unreachable exchange fails the start instead of the first order.
func checkConnection(ctx context.Context, cache *rules.Cache, symbols []string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, s := range symbols {
		r, err := cache.Get(ctx, s)
		if err != nil {
			return fmt.Errorf("connection test for %s: %w", s, err)
		}
		zap.S().Infof("%s tick=%s step=%s min_notional=%s", s, r.TickSize, r.StepSize, r.MinNotional)
	}
	return nil
}

func logBalances(ctx context.Context, client exchange.Client) {
	bals, err := client.Balances(ctx)
	if err != nil {
		zap.S().Warnf("fetch balances: %v", err)
		return
	}
	if len(bals) == 0 {
		zap.S().Info("account balances not tracked")
	}
	for _, b := range bals {
		zap.S().Infof("balance %s free=%s locked=%s", b.Asset, b.Free, b.Locked)
	}
}

func newJournal(cfg *config.AppConfig) (journal.Sink, error) {
	var sinks []journal.Sink
	fail := func(err error) (journal.Sink, error) {
		if len(sinks) > 0 {
			_ = journal.Multi(sinks...).Close()
		}
		return nil, err
	}
	for _, d := range cfg.Journal.Drivers {
		switch d {
		case config.JournalNATS:
			s, err := journal.NewNATSSink(cfg.Journal.NATSURL)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		case config.JournalKafka:
			sinks = append(sinks, journal.NewKafkaSink(cfg.Journal.Kafka))
		case config.JournalPebble:
			s, err := journal.OpenPebble(cfg.Journal.PebblePath)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, s)
		}
	}
	if len(sinks) == 0 {
		return journal.NewNop(), nil
	}
	return journal.Multi(sinks...), nil
}
