package main

import (
	"flag"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joripage/orderexec/config"
	"github.com/joripage/orderexec/pkg/infra"
	"go.uber.org/zap"
)

func main() {
	var configFile, source string
	var down int
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.StringVar(&source, "source", "file://migration/sql", "Migration source")
	flag.IntVar(&down, "down", 0, "Roll back this many migrations instead of migrating up")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	if cfg.OmsDB == nil || cfg.OmsDB.MigrationConnURL == "" {
		zap.S().Fatal("oms_db.migration_conn_url is not set")
	}

	mgTool := infra.GetMigrateTool()
	if down > 0 {
		err = mgTool.Rollback(source, cfg.OmsDB.MigrationConnURL, down)
	} else {
		err = mgTool.Migrate(source, cfg.OmsDB.MigrationConnURL)
	}
	if err != nil {
		zap.S().Fatalf("migrate: %v", err)
	}
}
