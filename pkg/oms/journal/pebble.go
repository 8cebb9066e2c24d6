package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/joripage/orderexec/pkg/oms/model"
)

// PebbleSink is a local append-only journal. Events are keyed
// ev/<client order id>/<seq> so one order's history is a key range.
type PebbleSink struct {
	db  *pebble.DB
	seq atomic.Uint64
}

func OpenPebble(path string) (*PebbleSink, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	s := &PebbleSink{db: db}
	if err := s.restoreSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func seqKey(prefix string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, seq))
}

func eventPrefix(clientOrderID string) string {
	return "ev/" + clientOrderID + "/"
}

const anomalyPrefix = "an/"

func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// restoreSeq continues numbering after the persisted counter.
func (s *PebbleSink) restoreSeq() error {
	val, closer, err := s.db.Get([]byte("meta/seq"))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read seq: %w", err)
	}
	defer closer.Close()
	var seq uint64
	if _, err := fmt.Sscanf(string(val), "%d", &seq); err != nil {
		return fmt.Errorf("parse seq: %w", err)
	}
	s.seq.Store(seq)
	return nil
}

func (s *PebbleSink) put(key []byte, seq uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, data, nil); err != nil {
		return err
	}
	if err := b.Set([]byte("meta/seq"), []byte(fmt.Sprintf("%d", seq)), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleSink) PublishEvent(ctx context.Context, ev model.OrderEvent) error {
	seq := s.seq.Add(1)
	if err := s.put(seqKey(eventPrefix(ev.ClientOrderID), seq), seq, ev); err != nil {
		return fmt.Errorf("journal event %s: %w", ev.EventID, err)
	}
	return nil
}

func (s *PebbleSink) PublishAnomaly(ctx context.Context, a model.Anomaly) error {
	seq := s.seq.Add(1)
	if err := s.put(seqKey(anomalyPrefix, seq), seq, a); err != nil {
		return fmt.Errorf("journal anomaly %s: %w", a.ID, err)
	}
	return nil
}

// Events returns the journalled history of one order, oldest first.
func (s *PebbleSink) Events(clientOrderID string) ([]model.OrderEvent, error) {
	prefix := []byte(eventPrefix(clientOrderID))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []model.OrderEvent
	for iter.First(); iter.Valid(); iter.Next() {
		var ev model.OrderEvent
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, ev)
	}
	return out, iter.Error()
}

func (s *PebbleSink) Anomalies() ([]model.Anomaly, error) {
	prefix := []byte(anomalyPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []model.Anomaly
	for iter.First(); iter.Valid(); iter.Next() {
		var a model.Anomaly
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, a)
	}
	return out, iter.Error()
}

func (s *PebbleSink) Close() error {
	return s.db.Close()
}
