// Package worker drains the order journal into the database.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkawrapper "github.com/joripage/orderexec/pkg/kafka_wrapper"
	"github.com/joripage/orderexec/pkg/oms/journal"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/joripage/orderexec/pkg/oms/repo"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Config struct {
	Durable   string        `yaml:"durable"`
	BatchSize int           `yaml:"batch_size"`
	FetchWait time.Duration `yaml:"fetch_wait"`
}

func (c *Config) setDefaults() {
	if c.Durable == "" {
		c.Durable = "order_journal"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FetchWait <= 0 {
		c.FetchWait = time.Second
	}
}

type recordKind int

const (
	kindUnknown recordKind = iota
	kindEvent
	kindAnomaly
)

type record struct {
	kind recordKind
	data []byte
}

type Worker struct {
	cfg        Config
	orderEvent repo.IOrderEvent
	anomaly    repo.IAnomaly
}

func NewWorker(r repo.IRepo, cfg Config) *Worker {
	cfg.setDefaults()
	return &Worker{
		cfg:        cfg,
		orderEvent: r.OrderEvent(),
		anomaly:    r.Anomaly(),
	}
}

// persist writes one batch. Undecodable records are logged and dropped so
// they cannot wedge the consumer; a database error fails the whole batch.
func (w *Worker) persist(ctx context.Context, recs []record) error {
	var events []*model.OrderEvent
	var anomalies []*model.Anomaly
	for _, rec := range recs {
		switch rec.kind {
		case kindEvent:
			ev := &model.OrderEvent{}
			if err := json.Unmarshal(rec.data, ev); err != nil || ev.EventID == "" {
				zap.S().Warnf("drop malformed order event %q: %v", rec.data, err)
				continue
			}
			events = append(events, ev)
		case kindAnomaly:
			a := &model.Anomaly{}
			if err := json.Unmarshal(rec.data, a); err != nil || a.ID == "" {
				zap.S().Warnf("drop malformed anomaly %q: %v", rec.data, err)
				continue
			}
			anomalies = append(anomalies, a)
		default:
			zap.S().Warnf("drop journal record of unknown kind")
		}
	}

	if _, err := w.orderEvent.BulkCreate(ctx, events); err != nil {
		return fmt.Errorf("store %d order events: %w", len(events), err)
	}
	if _, err := w.anomaly.BulkCreate(ctx, anomalies); err != nil {
		return fmt.Errorf("store %d anomalies: %w", len(anomalies), err)
	}
	return nil
}

func natsKind(subject string) recordKind {
	switch subject {
	case journal.SubjectEvents:
		return kindEvent
	case journal.SubjectAnomalies:
		return kindAnomaly
	}
	return kindUnknown
}

// ConsumeNATS pulls from the journal stream with a durable consumer until
// ctx is done. A batch is acked once stored and nacked for redelivery
// otherwise.
func (w *Worker) ConsumeNATS(ctx context.Context, js nats.JetStreamContext) error {
	sub, err := js.PullSubscribe(journal.StreamName+".*", w.cfg.Durable, nats.BindStream(journal.StreamName))
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for ctx.Err() == nil {
		fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchWait)
		msgs, err := sub.Fetch(w.cfg.BatchSize, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) || ctx.Err() != nil {
				continue
			}
			zap.S().Warnf("nats fetch: %v", err)
			continue
		}

		recs := make([]record, len(msgs))
		for i, msg := range msgs {
			recs[i] = record{kind: natsKind(msg.Subject), data: msg.Data}
		}
		if err := w.persist(ctx, recs); err != nil {
			zap.S().Errorf("persist journal batch: %v", err)
			for _, msg := range msgs {
				_ = msg.Nak()
			}
			continue
		}
		for _, msg := range msgs {
			_ = msg.Ack()
		}
	}
	return nil
}

func kafkaRecords(topics journal.KafkaConfig, msgs []kafkawrapper.Message) []record {
	recs := make([]record, len(msgs))
	for i, m := range msgs {
		kind := kindUnknown
		switch m.Topic {
		case topics.EventsTopic:
			kind = kindEvent
		case topics.AnomaliesTopic:
			kind = kindAnomaly
		}
		recs[i] = record{kind: kind, data: m.Value}
	}
	return recs
}

// ConsumeKafka stores batches from the journal topics until ctx is done.
func (w *Worker) ConsumeKafka(ctx context.Context, cg *kafkawrapper.ConsumerGroup, topics journal.KafkaConfig) error {
	err := cg.Run(ctx, func(ctx context.Context, msgs []kafkawrapper.Message) error {
		return w.persist(ctx, kafkaRecords(topics, msgs))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
