package oms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/logging"
	"github.com/joripage/orderexec/pkg/oms/journal"
	"github.com/joripage/orderexec/pkg/oms/model"
	riskrule "github.com/joripage/orderexec/pkg/oms/risk_rule"
	"github.com/joripage/orderexec/pkg/oms/rules"
	"github.com/joripage/orderexec/pkg/oms/store"
	"github.com/joripage/orderexec/pkg/oms/strategy"
	"github.com/joripage/orderexec/pkg/oms/supervisor"
	"go.uber.org/zap"
)

type Config struct {
	Supervisor supervisor.Config
	Retry      strategy.RetryPolicy
	Runner     strategy.RunnerConfig
	// RulesRefresh is how often cached symbol rules are refetched.
	RulesRefresh time.Duration
	// Retention is how long archived strategies stay queryable. Zero keeps
	// them forever.
	Retention       time.Duration
	CleanupInterval time.Duration
	AnomalyLogCap   int
}

func (c *Config) setDefaults() {
	if c.RulesRefresh <= 0 {
		c.RulesRefresh = time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.AnomalyLogCap <= 0 {
		c.AnomalyLogCap = 1000
	}
}

// OMS is the command surface. It owns the order store, one runner per
// strategy instance and the supervisor, and routes every committed order
// event to the owning strategy, the gateways and the journal.
type OMS struct {
	cfg      Config
	client   exchange.Client
	store    *store.Store
	rules    strategy.RulesSource
	guards   []riskrule.RiskRule
	journal  journal.Sink
	gateways []OrderGateway
	logger   *logging.Logger
	now      func() time.Time
	newID    func() string

	env        *strategy.Env
	supervisor *supervisor.Supervisor

	runners  sync.Map // strategy id -> *strategy.Runner
	archived sync.Map // strategy id -> model.StrategyInstance

	anomalyMu sync.Mutex
	anomalies deque.Deque[model.Anomaly]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*OMS)

func WithJournal(sink journal.Sink) Option {
	return func(s *OMS) { s.journal = sink }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *OMS) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *OMS) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *OMS) { s.newID = newID }
}

// WithGuards sets the pre-trade price checks applied to raw limit orders.
func WithGuards(guards ...riskrule.RiskRule) Option {
	return func(s *OMS) { s.guards = guards }
}

// WithRules replaces the default in-process rules cache.
func WithRules(src strategy.RulesSource) Option {
	return func(s *OMS) { s.rules = src }
}

func WithStore(st *store.Store) Option {
	return func(s *OMS) { s.store = st }
}

func NewOMS(client exchange.Client, cfg Config, opts ...Option) *OMS {
	cfg.setDefaults()
	s := &OMS{
		cfg:     cfg,
		client:  client,
		journal: journal.NewNop(),
		logger:  logging.GetLogger(context.Background()),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.NewStore(store.WithClock(s.now))
	}
	if s.rules == nil {
		s.rules = rules.NewCache(client, nil)
	}

	s.env = &strategy.Env{
		Exchange: client,
		Store:    s.store,
		Rules:    s.rules,
		Notify:   s,
		Logger:   s.logger,
		Guards:   s.guards,
		Retry:    cfg.Retry,
		Now:      s.now,
		NewID:    s.newID,
	}
	s.env.SetDefaults()
	s.supervisor = supervisor.New(cfg.Supervisor, client, s.store, s,
		supervisor.WithClock(s.now),
		supervisor.WithLogger(s.logger),
		supervisor.WithKeep(s.ownedByLiveStrategy),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// AddGateway registers a surface that receives order reports. Gateways
// must be added before Start.
func (s *OMS) AddGateway(g OrderGateway) {
	s.gateways = append(s.gateways, g)
}

func (s *OMS) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.supervisor.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.startCleaner(s.ctx, s.cfg.CleanupInterval)
	}()
	if c, ok := s.rules.(*rules.Cache); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.Run(s.ctx, s.cfg.RulesRefresh)
		}()
	}

	for _, g := range s.gateways {
		if err := g.Start(s.ctx); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
	}
	return nil
}

// Stop halts background work and every live runner. Strategies are not
// cancelled; their orders stay on the exchange.
func (s *OMS) Stop() {
	s.cancel()
	s.runners.Range(func(_, v any) bool {
		v.(*strategy.Runner).Stop()
		return true
	})
	s.wg.Wait()
	if err := s.journal.Close(); err != nil {
		s.logger.Warn(context.Background(), "close journal", zap.Error(err))
	}
}

// OnOrderEvent implements store.Notifier.
func (s *OMS) OnOrderEvent(ctx context.Context, ev model.OrderEvent) {
	if err := s.journal.PublishEvent(ctx, ev); err != nil {
		s.logger.Warn(ctx, "journal order event", zap.String("event_id", ev.EventID), zap.Error(err))
	}
	for _, g := range s.gateways {
		g.OnOrderReport(ctx, ev)
	}
	if ev.StrategyID == "" {
		return
	}
	if r, ok := s.getRunner(ev.StrategyID); ok {
		r.Deliver(ev)
	}
}

// OnAnomaly implements store.Notifier.
func (s *OMS) OnAnomaly(ctx context.Context, a model.Anomaly) {
	if a.ID == "" {
		a.ID = s.newID()
	}
	if a.At.IsZero() {
		a.At = s.now()
	}
	s.anomalyMu.Lock()
	s.anomalies.PushBack(a)
	for s.anomalies.Len() > s.cfg.AnomalyLogCap {
		s.anomalies.PopFront()
	}
	s.anomalyMu.Unlock()

	s.logger.Warn(ctx, "anomaly",
		zap.String("kind", string(a.Kind)),
		zap.String("strategy_id", a.StrategyID),
		zap.String("client_order_id", a.ClientOrderID),
		zap.String("detail", a.Detail),
	)
	if err := s.journal.PublishAnomaly(ctx, a); err != nil {
		s.logger.Warn(ctx, "journal anomaly", zap.String("id", a.ID), zap.Error(err))
	}
}

func (s *OMS) Submit(ctx context.Context, req Request) (Handle, error) {
	if err := req.check(); err != nil {
		return Handle{}, err
	}

	var st strategy.Strategy
	switch req.Kind {
	case KindMarket, KindLimit:
		p := *req.Order
		p.Type = model.OrderType(req.Kind)
		order, err := strategy.PlaceSingle(ctx, s.env, p)
		return Handle{OrderID: order.ClientOrderID}, err
	case KindStopLimit:
		st = strategy.NewStopLimit(s.env, *req.StopLimit)
	case KindOCO:
		st = strategy.NewOCO(s.env, *req.OCO)
	case KindTWAP:
		st = strategy.NewTWAP(s.env, *req.TWAP)
	case KindGrid:
		st = strategy.NewGrid(s.env, *req.Grid)
	}

	if err := st.Validate(ctx); err != nil {
		return Handle{}, err
	}
	r := strategy.NewRunner(s.env, st, s.cfg.Runner, s.onArchived)
	s.addRunner(r)
	r.Start(s.ctx)
	s.logger.Info(ctx, "strategy created", zap.String("strategy_id", st.ID()), zap.String("kind", string(st.Kind())))
	return Handle{StrategyID: st.ID()}, nil
}

// CancelOrder cancels a raw order. Orders owned by a strategy are only
// cancelled through the strategy.
func (s *OMS) CancelOrder(ctx context.Context, clientOrderID string) error {
	o, err := s.store.Get(clientOrderID)
	if err != nil {
		return err
	}
	if o.StrategyID != "" {
		return fmt.Errorf("%s belongs to %s: %w", clientOrderID, o.StrategyID, ErrOwnedByStrategy)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%s is %s: %w", clientOrderID, o.Status, ErrInvalidOrderStatus)
	}
	if o.ExchangeOrderID == "" {
		return fmt.Errorf("%s not accepted yet: %w", clientOrderID, ErrInvalidOrderStatus)
	}
	return strategy.CancelSingle(ctx, s.env, clientOrderID)
}

func (s *OMS) CancelStrategy(ctx context.Context, strategyID string) error {
	r, ok := s.getRunner(strategyID)
	if !ok {
		_, err := s.lookupStrategy(strategyID)
		return err
	}
	return r.Cancel(ctx)
}

func (s *OMS) PauseGrid(ctx context.Context, strategyID string) error {
	r, err := s.liveRunner(strategyID)
	if err != nil {
		return err
	}
	return r.Pause(ctx)
}

func (s *OMS) ResumeGrid(ctx context.Context, strategyID string) error {
	r, err := s.liveRunner(strategyID)
	if err != nil {
		return err
	}
	return r.Resume(ctx)
}

func (s *OMS) liveRunner(strategyID string) (*strategy.Runner, error) {
	if r, ok := s.getRunner(strategyID); ok {
		return r, nil
	}
	if _, err := s.lookupStrategy(strategyID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("strategy %s: %w", strategyID, strategy.ErrArchived)
}

func (s *OMS) GetOrder(clientOrderID string) (model.Order, error) {
	return s.store.Get(clientOrderID)
}

// ListOrders returns live orders, optionally for one symbol.
func (s *OMS) ListOrders(symbol string) []model.Order {
	var out []model.Order
	for _, o := range s.store.ListActive() {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *OMS) OrderHistory(clientOrderID string) []model.OrderEvent {
	return s.store.History(clientOrderID)
}

func (s *OMS) GetStrategy(strategyID string) (model.StrategyInstance, error) {
	return s.lookupStrategy(strategyID)
}

func (s *OMS) ListStrategies() []model.StrategyInstance {
	return s.allStrategies()
}

// Anomalies returns the retained anomaly log, oldest first.
func (s *OMS) Anomalies() []model.Anomaly {
	s.anomalyMu.Lock()
	defer s.anomalyMu.Unlock()
	out := make([]model.Anomaly, 0, s.anomalies.Len())
	for i := 0; i < s.anomalies.Len(); i++ {
		out = append(out, s.anomalies.At(i))
	}
	return out
}

// Balances reports the account balances held at the exchange.
func (s *OMS) Balances(ctx context.Context) ([]model.Balance, error) {
	bals, err := s.client.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("balances: %w", err)
	}
	return bals, nil
}

// IsNotFound reports whether err means an unknown order or strategy.
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
