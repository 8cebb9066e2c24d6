package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/joripage/orderexec/pkg/exchange/paper"
	"github.com/joripage/orderexec/pkg/exchange/wsfeed"
	fixgateway "github.com/joripage/orderexec/pkg/gateway/fix"
	httpgateway "github.com/joripage/orderexec/pkg/gateway/http"
	postgres_wrapper "github.com/joripage/orderexec/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/orderexec/pkg/infra/redis"
	"github.com/joripage/orderexec/pkg/oms"
	"github.com/joripage/orderexec/pkg/oms/journal"
	"github.com/joripage/orderexec/pkg/oms/model"
	riskrule "github.com/joripage/orderexec/pkg/oms/risk_rule"
	"github.com/joripage/orderexec/pkg/oms/strategy"
	"github.com/joripage/orderexec/pkg/oms/supervisor"
	"github.com/joripage/orderexec/pkg/oms/worker"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	JournalNATS   = "nats"
	JournalKafka  = "kafka"
	JournalPebble = "pebble"
)

type AppConfig struct {
	ServiceName string                           `yaml:"service_name"`
	Log         LogConfig                        `yaml:"log"`
	Exchange    ExchangeConfig                   `yaml:"exchange"`
	Supervisor  supervisor.Config                `yaml:"supervisor"`
	Engine      EngineConfig                     `yaml:"engine"`
	Rules       RulesConfig                      `yaml:"rules"`
	Journal     JournalConfig                    `yaml:"journal"`
	OmsDB       *postgres_wrapper.PostgresConfig `yaml:"oms_db"`
	HTTP        HTTPConfig                       `yaml:"http"`
	FIX         FIXConfig                        `yaml:"fix"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File, when set, receives a copy of every log entry.
	File string `yaml:"file"`
}

// ExchangeConfig describes the simulated venue. With the feed enabled its
// prices follow a live websocket stream.
type ExchangeConfig struct {
	Symbols     []model.SymbolRules        `yaml:"symbols"`
	Prices      map[string]decimal.Decimal `yaml:"prices"`
	SpreadTicks int64                      `yaml:"spread_ticks"`
	// Balances seeds the paper account. Empty means unlimited funds.
	Balances map[string]decimal.Decimal `yaml:"balances"`
	Feed     FeedConfig                 `yaml:"feed"`
}

type FeedConfig struct {
	Enabled       bool `yaml:"enabled"`
	wsfeed.Config `yaml:",inline"`
}

type EngineConfig struct {
	Retry           strategy.RetryPolicy  `yaml:"retry"`
	Runner          strategy.RunnerConfig `yaml:"runner"`
	PriceGuard      riskrule.Config       `yaml:"price_guard"`
	Retention       time.Duration         `yaml:"retention"`
	CleanupInterval time.Duration         `yaml:"cleanup_interval"`
	AnomalyLogCap   int                   `yaml:"anomaly_log_cap"`
}

type RulesConfig struct {
	Refresh time.Duration `yaml:"refresh"`
	// Redis shares fetched rules between engine processes when set.
	Redis    *redis_wrapper.RedisConfig `yaml:"redis"`
	RedisTTL time.Duration              `yaml:"redis_ttl"`
}

type JournalConfig struct {
	Drivers    []string            `yaml:"drivers"`
	NATSURL    string              `yaml:"nats_url"`
	Kafka      journal.KafkaConfig `yaml:"kafka"`
	KafkaGroup string              `yaml:"kafka_group"`
	PebblePath string              `yaml:"pebble_path"`
	Worker     worker.Config       `yaml:"worker"`
}

type HTTPConfig struct {
	Enabled            bool `yaml:"enabled"`
	httpgateway.Config `yaml:",inline"`
}

type FIXConfig struct {
	Enabled                     bool `yaml:"enabled"`
	fixgateway.FixGatewayConfig `yaml:",inline"`
}

// Load load config from file and environment variables. A .env file next
// to the working directory is applied to the environment first.
func Load(filePath string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		zap.S().Warnf("load .env: %v", err)
	}
	if len(filePath) == 0 {
		filePath = os.Getenv("CONFIG_FILE")
	}

	fields := []interface{}{
		"func",
		"config.readFromFile",
		"filePath",
		filePath,
	}

	sugar := zap.S().With(fields...)

	sugar.Debug("Load config...")
	zap.S().Debugf("CONFIG_FILE=%v", filePath)

	configBytes, err := os.ReadFile(filePath)
	if err != nil {
		sugar.Error("Failed to load config file")
		return nil, err
	}
	return Parse(configBytes)
}

// Parse expands ${VAR} references and decodes YAML.
func Parse(configBytes []byte) (*AppConfig, error) {
	configBytes = []byte(os.ExpandEnv(string(configBytes)))

	cfg := &AppConfig{}
	if err := yaml.Unmarshal(configBytes, cfg); err != nil {
		zap.S().Error("Failed to parse config file")
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	for _, d := range c.Journal.Drivers {
		switch d {
		case JournalNATS:
			if c.Journal.NATSURL == "" {
				return fmt.Errorf("journal driver %s needs nats_url", d)
			}
		case JournalKafka:
			if len(c.Journal.Kafka.Brokers) == 0 {
				return fmt.Errorf("journal driver %s needs kafka.brokers", d)
			}
		case JournalPebble:
			if c.Journal.PebblePath == "" {
				return fmt.Errorf("journal driver %s needs pebble_path", d)
			}
		default:
			return fmt.Errorf("unknown journal driver %q", d)
		}
	}
	if _, err := riskrule.FromConfig(c.Engine.PriceGuard); err != nil {
		return err
	}
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("exchange needs at least one symbol")
	}
	return nil
}

// SymbolNames lists every configured symbol.
func (c *AppConfig) SymbolNames() []string {
	out := make([]string, 0, len(c.Exchange.Symbols))
	for _, s := range c.Exchange.Symbols {
		out = append(out, s.Symbol)
	}
	return out
}

func (c *AppConfig) PaperConfig() paper.Config {
	return paper.Config{
		Symbols:     c.Exchange.Symbols,
		Prices:      c.Exchange.Prices,
		SpreadTicks: c.Exchange.SpreadTicks,
		Balances:    c.Exchange.Balances,
	}
}

func (c *AppConfig) OMSConfig() oms.Config {
	return oms.Config{
		Supervisor:      c.Supervisor,
		Retry:           c.Engine.Retry,
		Runner:          c.Engine.Runner,
		RulesRefresh:    c.Rules.Refresh,
		Retention:       c.Engine.Retention,
		CleanupInterval: c.Engine.CleanupInterval,
		AnomalyLogCap:   c.Engine.AnomalyLogCap,
	}
}
