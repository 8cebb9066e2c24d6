package infra

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// IMigrateTool applies schema migrations.
type IMigrateTool interface {
	// Migrate from current version to latest version.
	Migrate(source string, connStr string) error
	// Rollback undoes the last n migrations.
	Rollback(source string, connStr string, n int) error
}

type migrateTool struct {
	mu sync.Mutex
}

var once sync.Once         // nolint
var singleton IMigrateTool // nolint

// GetMigrateTool get singleton instance for migrate tool
func GetMigrateTool() IMigrateTool { // nolint
	once.Do(func() {
		singleton = &migrateTool{}
	})
	return singleton
}

func (mt *migrateTool) open(source, connStr string) (*migrate.Migrate, error) {
	mg, err := migrate.New(source, connStr)
	if err != nil {
		return nil, fmt.Errorf("create migration: %w", err)
	}
	version, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		mg.Close()
		return nil, err
	}
	if dirty {
		zap.S().Warnf("schema version %d is dirty, forcing %d", version, int(version)-1)
		if err := mg.Force(int(version) - 1); err != nil {
			mg.Close()
			return nil, err
		}
	}
	return mg, nil
}

// Migrate execute migration in serialize.
func (mt *migrateTool) Migrate(source string, connStr string) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	zap.S().Infof("migrating from %s", source)
	mg, err := mt.open(source, connStr)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	zap.S().Info("migration done")
	return nil
}

func (mt *migrateTool) Rollback(source string, connStr string, n int) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mg, err := mt.open(source, connStr)
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Steps(-n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	zap.S().Infof("rolled back %d migrations", n)
	return nil
}
