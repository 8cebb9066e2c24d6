package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joripage/orderexec/config"
	postgres_wrapper "github.com/joripage/orderexec/pkg/infra/postgres"
	kafkawrapper "github.com/joripage/orderexec/pkg/kafka_wrapper"
	"github.com/joripage/orderexec/pkg/logging"
	"github.com/joripage/orderexec/pkg/oms/journal"
	"github.com/joripage/orderexec/pkg/oms/repo"
	"github.com/joripage/orderexec/pkg/oms/worker"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}
	logger, err := logging.NewLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.File)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger.Zap())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OmsDB == nil {
		zap.S().Fatal("oms_db is not configured")
	}
	consumers := 0
	for _, d := range cfg.Journal.Drivers {
		if d == config.JournalNATS || d == config.JournalKafka {
			consumers++
		}
	}
	cfg.OmsDB.Tune(consumers, cfg.Journal.Worker.BatchSize)
	db, err := postgres_wrapper.InitPostgresWithBackoff(cfg.OmsDB, time.Minute)
	if err != nil {
		zap.S().Fatalf("init db fail with err: %v", err)
	}
	w := worker.NewWorker(repo.NewRepo(db), cfg.Journal.Worker)

	var wg sync.WaitGroup
	for _, d := range cfg.Journal.Drivers {
		switch d {
		case config.JournalNATS:
			nc, err := nats.Connect(cfg.Journal.NATSURL)
			if err != nil {
				zap.S().Fatalf("nats connect: %v", err)
			}
			defer nc.Drain()
			js, err := nc.JetStream()
			if err != nil {
				zap.S().Fatalf("jetstream: %v", err)
			}
			if err := journal.EnsureStream(js); err != nil {
				zap.S().Fatalf("ensure stream: %v", err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.ConsumeNATS(ctx, js); err != nil {
					zap.S().Errorf("nats consumer stopped: %v", err)
					stop()
				}
			}()
		case config.JournalKafka:
			topics := cfg.Journal.Kafka
			cg, err := kafkawrapper.NewConsumerGroup(kafkawrapper.ConsumerConfig{
				Brokers:   topics.Brokers,
				GroupID:   cfg.Journal.KafkaGroup,
				Topics:    []string{topics.EventsTopic, topics.AnomaliesTopic},
				BatchSize: cfg.Journal.Worker.BatchSize,
			})
			if err != nil {
				zap.S().Fatalf("kafka consumer: %v", err)
			}
			defer cg.Close()
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.ConsumeKafka(ctx, cg, topics); err != nil {
					zap.S().Errorf("kafka consumer stopped: %v", err)
					stop()
				}
			}()
		}
	}

	zap.S().Infof("%s journal worker started", cfg.ServiceName)
	wg.Wait()
	zap.S().Info("journal worker exited")
}
