// Package postgres_wrapper opens the order journal database.
package postgres_wrapper

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	_ "github.com/lib/pq" // nolint
	"go.uber.org/zap"
	pg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

const defaultCreateBatchSize = 100

type PostgresConfig struct {
	DataSource       string   `yaml:"data_source"`
	ReplicaSources   []string `yaml:"replica_sources"`
	MigrationConnURL string   `yaml:"migration_conn_url"`

	// Pool bounds. Zero values are sized by Tune from the number of journal
	// consumers.
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// CreateBatchSize caps the rows per INSERT of a journal batch.
	CreateBatchSize int             `yaml:"create_batch_size"`
	SlowThreshold   time.Duration   `yaml:"slow_threshold"`
	LogLevel        logger.LogLevel `yaml:"log_level"`
	Location        string          `yaml:"location"`
}

// Tune fills unset pool and batch settings. Each consumer holds at most one
// connection while it flushes, plus one spare for migrations and pings.
func (c *PostgresConfig) Tune(consumers, batchSize int) {
	if consumers < 1 {
		consumers = 1
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = consumers + 1
	}
	if c.MaxIdleConns <= 0 || c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.CreateBatchSize <= 0 {
		c.CreateBatchSize = batchSize
	}
	if c.CreateBatchSize <= 0 {
		c.CreateBatchSize = defaultCreateBatchSize
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = time.Second
	}
	if c.LogLevel == 0 {
		c.LogLevel = logger.Warn
	}
}

// zapWriter routes gorm's logger into the global zap logger.
type zapWriter struct {
	s *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.s.Infof(format, args...)
}

func newGormLogger(cfg *PostgresConfig) logger.Interface {
	return logger.New(zapWriter{s: zap.S().Named("gorm")}, logger.Config{
		SlowThreshold:             cfg.SlowThreshold,
		LogLevel:                  cfg.LogLevel,
		IgnoreRecordNotFoundError: true,
	})
}

// InitPostgres opens the primary and registers any read replicas.
func InitPostgres(cfg *PostgresConfig) (*gorm.DB, error) {
	if cfg == nil || cfg.DataSource == "" {
		return nil, fmt.Errorf("postgres data source is not set")
	}
	cfg.Tune(1, 0)

	loc := time.UTC
	if cfg.Location != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Location); err != nil {
			return nil, fmt.Errorf("load location %q: %w", cfg.Location, err)
		}
	}
	db, err := gorm.Open(pg.Open(cfg.DataSource), &gorm.Config{
		Logger: newGormLogger(cfg),
		NowFunc: func() time.Time {
			return time.Now().In(loc)
		},
		// journal writes are single INSERT ... ON CONFLICT statements
		SkipDefaultTransaction: true,
		CreateBatchSize:        cfg.CreateBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	var repl []gorm.Dialector
	for _, s := range cfg.ReplicaSources {
		repl = append(repl, pg.Open(s))
	}
	if len(repl) > 0 {
		zap.S().Infof("register %d postgres replicas", len(repl))
		err := db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: repl,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			return nil, fmt.Errorf("register replicas: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// InitPostgresWithBackoff retries InitPostgres until it succeeds or
// maxElapsed passes. Zero retries forever.
func InitPostgresWithBackoff(cfg *PostgresConfig, maxElapsed time.Duration) (*gorm.DB, error) {
	var db *gorm.DB
	boff := backoff.NewExponentialBackOff()
	boff.MaxElapsedTime = maxElapsed
	err := backoff.Retry(func() error {
		var err error
		db, err = InitPostgres(cfg)
		if err != nil {
			zap.S().Warnf("connect postgres: %v", err)
		}
		return err
	}, boff)
	if err != nil {
		return nil, err
	}
	return db, nil
}
