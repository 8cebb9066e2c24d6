package journal

import (
	"context"

	kafkawrapper "github.com/joripage/orderexec/pkg/kafka_wrapper"
	"github.com/joripage/orderexec/pkg/oms/model"
)

type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	EventsTopic    string   `yaml:"events_topic"`
	AnomaliesTopic string   `yaml:"anomalies_topic"`
}

func (c *KafkaConfig) setDefaults() {
	if c.EventsTopic == "" {
		c.EventsTopic = "orders.events"
	}
	if c.AnomaliesTopic == "" {
		c.AnomaliesTopic = "orders.anomalies"
	}
}

// KafkaSink keys events by client order id so one order stays on one
// partition.
type KafkaSink struct {
	cfg KafkaConfig
	p   *kafkawrapper.Producer
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	cfg.setDefaults()
	return &KafkaSink{
		cfg: cfg,
		p:   kafkawrapper.NewProducer(kafkawrapper.ProducerConfig{Brokers: cfg.Brokers}),
	}
}

func (s *KafkaSink) PublishEvent(ctx context.Context, ev model.OrderEvent) error {
	return s.p.PublishJSON(ctx, s.cfg.EventsTopic, ev.ClientOrderID, ev, map[string]string{"event_id": ev.EventID})
}

func (s *KafkaSink) PublishAnomaly(ctx context.Context, a model.Anomaly) error {
	return s.p.PublishJSON(ctx, s.cfg.AnomaliesTopic, string(a.Kind), a, map[string]string{"anomaly_id": a.ID})
}

func (s *KafkaSink) Close() error {
	return s.p.Close(context.Background())
}
