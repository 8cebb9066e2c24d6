// Package supervisor reconciles live orders with the exchange.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/logging"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/joripage/orderexec/pkg/oms/store"
	"go.uber.org/zap"
)

const ReasonSupervisionTimeout = "SupervisionTimeout"

type Config struct {
	Interval      time.Duration `yaml:"interval"`
	MaxRetries    int           `yaml:"max_retries"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	Randomization float64       `yaml:"randomization"`
	// Retention is how long terminal orders stay in the store. Zero keeps
	// them forever.
	Retention    time.Duration `yaml:"retention"`
	WatchSymbols []string      `yaml:"watch_symbols"`
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.Randomization < 0 || c.Randomization > 1 {
		c.Randomization = 0.5
	}
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// track is the query state of one order that failed at least once.
type track struct {
	failures int
	next     time.Time
	boff     *backoff.ExponentialBackOff
}

type Supervisor struct {
	cfg    Config
	client exchange.Client
	store  *store.Store
	notify store.Notifier
	logger *logging.Logger
	now    func() time.Time
	keep   func(model.Order) bool

	mu      sync.Mutex
	tracks  map[string]*track
	orphans map[string]struct{}
}

type Option func(*Supervisor)

func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithKeep protects terminal orders from cleanup while keep reports true.
func WithKeep(keep func(model.Order) bool) Option {
	return func(s *Supervisor) { s.keep = keep }
}

func New(cfg Config, client exchange.Client, st *store.Store, notify store.Notifier, opts ...Option) *Supervisor {
	cfg.setDefaults()
	s := &Supervisor{
		cfg:     cfg,
		client:  client,
		store:   st,
		notify:  notify,
		logger:  logging.NewNop(),
		now:     time.Now,
		tracks:  make(map[string]*track),
		orphans: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BackoffBase
	b.MaxInterval = s.cfg.BackoffMax
	b.RandomizationFactor = s.cfg.Randomization
	b.MaxElapsedTime = 0
	b.Clock = clockFunc(s.now)
	b.Reset()
	return b
}

// Run polls on every interval until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "supervisor started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ticker.C:
			s.Poll(ctx)
			s.ScanOrphans(ctx)
			s.Cleanup()
		case <-ctx.Done():
			s.logger.Info(ctx, "supervisor stopped")
			return
		}
	}
}

// Poll queries every live order that the exchange has acknowledged and is
// not waiting out a backoff.
func (s *Supervisor) Poll(ctx context.Context) {
	live := make(map[string]struct{})
	for _, o := range s.store.ListActive() {
		if o.ExchangeOrderID == "" {
			continue
		}
		live[o.ClientOrderID] = struct{}{}
		if !s.due(o.ClientOrderID) {
			continue
		}
		s.check(ctx, o)
	}

	s.mu.Lock()
	for id := range s.tracks {
		if _, ok := live[id]; !ok {
			delete(s.tracks, id)
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) due(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[id]
	return !ok || !s.now().Before(t.next)
}

func (s *Supervisor) check(ctx context.Context, o model.Order) {
	snap, err := s.client.GetOrder(ctx, o.Symbol, o.ExchangeOrderID)
	if err != nil {
		s.fail(ctx, o, err)
		return
	}

	s.mu.Lock()
	delete(s.tracks, o.ClientOrderID)
	s.mu.Unlock()

	change, err := s.store.ApplySnapshot(o.ClientOrderID, snap)
	if err != nil {
		s.logger.Warn(ctx, "apply snapshot failed", zap.String("client_order_id", o.ClientOrderID), zap.Error(err))
		return
	}
	change.Publish(ctx, s.notify)
}

func (s *Supervisor) fail(ctx context.Context, o model.Order, err error) {
	s.mu.Lock()
	t, ok := s.tracks[o.ClientOrderID]
	if !ok {
		t = &track{boff: s.newBackOff()}
		s.tracks[o.ClientOrderID] = t
	}
	t.failures++
	failures := t.failures
	t.next = s.now().Add(t.boff.NextBackOff())
	s.mu.Unlock()

	s.logger.Warn(ctx, "order query failed",
		zap.String("client_order_id", o.ClientOrderID),
		zap.Int("failures", failures),
		zap.Error(err))

	if failures <= s.cfg.MaxRetries {
		return
	}
	s.expire(ctx, o, err)
}

func (s *Supervisor) expire(ctx context.Context, o model.Order, cause error) {
	s.mu.Lock()
	delete(s.tracks, o.ClientOrderID)
	s.mu.Unlock()

	change, err := s.store.Update(o.ClientOrderID, func(next *model.Order) {
		next.Status = model.OrderStatusExpired
		next.Reason = ReasonSupervisionTimeout
	})
	if err != nil || !change.Changed() {
		return
	}
	change.Publish(ctx, s.notify)

	a := model.Anomaly{
		Kind:            model.AnomalySupervisionTimeout,
		StrategyID:      o.StrategyID,
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: o.ExchangeOrderID,
		Symbol:          o.Symbol,
		Detail:          fmt.Sprintf("%v after %d retries: %v", model.ErrSupervisionTimeout, s.cfg.MaxRetries, cause),
		At:              s.now(),
	}
	s.logger.Warn(ctx, "order expired by supervisor", zap.String("client_order_id", o.ClientOrderID))
	if s.notify != nil {
		s.notify.OnAnomaly(ctx, a)
	}
}

func (s *Supervisor) symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(sym string) {
		if _, ok := seen[sym]; ok || sym == "" {
			return
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	for _, sym := range s.cfg.WatchSymbols {
		add(sym)
	}
	for _, o := range s.store.ListActive() {
		add(o.Symbol)
	}
	return out
}

// ScanOrphans reports each open exchange order the store does not know,
// once. Orphans are never adopted.
func (s *Supervisor) ScanOrphans(ctx context.Context) {
	for _, symbol := range s.symbols() {
		open, err := s.client.OpenOrders(ctx, symbol)
		if err != nil {
			s.logger.Warn(ctx, "open orders query failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		for _, snap := range open {
			if s.known(snap) {
				continue
			}
			s.mu.Lock()
			_, reported := s.orphans[snap.ExchangeOrderID]
			s.orphans[snap.ExchangeOrderID] = struct{}{}
			s.mu.Unlock()
			if reported {
				continue
			}

			s.logger.Warn(ctx, "orphan order", zap.String("symbol", symbol), zap.String("exchange_order_id", snap.ExchangeOrderID))
			if s.notify != nil {
				s.notify.OnAnomaly(ctx, model.Anomaly{
					Kind:            model.AnomalyOrphanOrder,
					ExchangeOrderID: snap.ExchangeOrderID,
					ClientOrderID:   snap.ClientOrderID,
					Symbol:          symbol,
					Detail:          fmt.Sprintf("%s %s %s @ %s", snap.Side, snap.Quantity, snap.Symbol, snap.Price),
					At:              s.now(),
				})
			}
		}
	}
}

// known matches by exchange id, or by client id for an order whose
// submission has not been recorded yet.
func (s *Supervisor) known(snap model.OrderSnapshot) bool {
	if _, err := s.store.GetByExchangeID(snap.ExchangeOrderID); err == nil {
		return true
	}
	if snap.ClientOrderID == "" {
		return false
	}
	_, err := s.store.Get(snap.ClientOrderID)
	return !errors.Is(err, model.ErrNotFound)
}

// Cleanup evicts terminal orders older than the retention window.
func (s *Supervisor) Cleanup() int {
	if s.cfg.Retention <= 0 {
		return 0
	}
	n := s.store.Cleanup(s.now().Add(-s.cfg.Retention), s.keep)
	if n > 0 {
		s.logger.Debug(context.Background(), "evicted terminal orders", zap.Int("count", n))
	}
	return n
}
