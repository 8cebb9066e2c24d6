package oms

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/joripage/orderexec/pkg/oms/strategy"
)

func (s *OMS) addRunner(r *strategy.Runner) {
	s.runners.Store(r.ID(), r)
}

func (s *OMS) getRunner(strategyID string) (*strategy.Runner, bool) {
	v, ok := s.runners.Load(strategyID)
	if !ok {
		return nil, false
	}
	return v.(*strategy.Runner), true
}

// onArchived moves a finished strategy out of the live set.
func (s *OMS) onArchived(inst model.StrategyInstance) {
	s.archived.Store(inst.StrategyID, inst)
	s.runners.Delete(inst.StrategyID)
	s.logger.Info(context.Background(), fmt.Sprintf("strategy %s archived in state %s", inst.StrategyID, inst.State))
}

func (s *OMS) lookupStrategy(strategyID string) (model.StrategyInstance, error) {
	if r, ok := s.getRunner(strategyID); ok {
		return r.Snapshot(), nil
	}
	if v, ok := s.archived.Load(strategyID); ok {
		return v.(model.StrategyInstance), nil
	}
	return model.StrategyInstance{}, fmt.Errorf("strategy %s: %w", strategyID, model.ErrNotFound)
}

func (s *OMS) allStrategies() []model.StrategyInstance {
	var out []model.StrategyInstance
	s.runners.Range(func(_, v any) bool {
		out = append(out, v.(*strategy.Runner).Snapshot())
		return true
	})
	s.archived.Range(func(_, v any) bool {
		out = append(out, v.(model.StrategyInstance))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ownedByLiveStrategy keeps a running strategy's children in the store.
func (s *OMS) ownedByLiveStrategy(o model.Order) bool {
	if o.StrategyID == "" {
		return false
	}
	_, ok := s.runners.Load(o.StrategyID)
	return ok
}

func (s *OMS) startCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup forgets archived strategies past the retention window.
func (s *OMS) cleanup() int {
	if s.cfg.Retention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.Retention)
	removed := 0
	s.archived.Range(func(k, v any) bool {
		if inst := v.(model.StrategyInstance); inst.CompletedAt.Before(cutoff) {
			s.archived.Delete(k)
			removed++
		}
		return true
	})
	if removed > 0 {
		s.logger.Debug(context.Background(), fmt.Sprintf("cleaned %d archived strategies", removed))
	}
	return removed
}
