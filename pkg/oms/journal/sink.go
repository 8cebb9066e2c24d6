// Package journal ships committed order events and anomalies out of the
// engine process.
package journal

import (
	"context"
	"errors"

	"github.com/joripage/orderexec/pkg/oms/model"
)

const (
	SubjectEvents    = "ORDERS.events"
	SubjectAnomalies = "ORDERS.anomalies"
)

// Sink receives every committed event. Implementations must be safe for
// concurrent use.
type Sink interface {
	PublishEvent(ctx context.Context, ev model.OrderEvent) error
	PublishAnomaly(ctx context.Context, a model.Anomaly) error
	Close() error
}

type nopSink struct{}

func NewNop() Sink { return nopSink{} }

func (nopSink) PublishEvent(context.Context, model.OrderEvent) error { return nil }
func (nopSink) PublishAnomaly(context.Context, model.Anomaly) error  { return nil }
func (nopSink) Close() error                                         { return nil }

type multiSink []Sink

// Multi fans out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return multiSink(sinks)
}

func (m multiSink) PublishEvent(ctx context.Context, ev model.OrderEvent) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PublishEvent(ctx, ev))
	}
	return errors.Join(errs...)
}

func (m multiSink) PublishAnomaly(ctx context.Context, a model.Anomaly) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PublishAnomaly(ctx, a))
	}
	return errors.Join(errs...)
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
