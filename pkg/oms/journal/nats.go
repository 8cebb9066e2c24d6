package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const StreamName = "ORDERS"

type NATSSink struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// EnsureStream creates the ORDERS stream when it does not exist yet.
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{StreamName + ".*"},
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", StreamName, err)
	}
	return nil
}

func NewNATSSink(url string) (*NATSSink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := nc.JetStream(nats.PublishAsyncMaxPending(65536))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := EnsureStream(js); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSSink{nc: nc, js: js}, nil
}

func (s *NATSSink) publish(subject, msgID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// message ids let JetStream drop replays of the same event
	ack, err := s.js.PublishAsync(subject, data, nats.MsgId(msgID))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	go func() {
		select {
		case <-ack.Ok():
		case err := <-ack.Err():
			zap.S().Warnf("journal: publish %s %s not acked: %v", subject, msgID, err)
		}
	}()
	return nil
}

func (s *NATSSink) PublishEvent(ctx context.Context, ev model.OrderEvent) error {
	return s.publish(SubjectEvents, ev.EventID, ev)
}

func (s *NATSSink) PublishAnomaly(ctx context.Context, a model.Anomaly) error {
	return s.publish(SubjectAnomalies, a.ID, a)
}

func (s *NATSSink) Close() error {
	select {
	case <-s.js.PublishAsyncComplete():
	case <-time.After(5 * time.Second):
		zap.S().Warnf("journal: closing with unacked publishes")
	}
	return s.nc.Drain()
}
