package strategy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joripage/orderexec/pkg/oms/model"
	"go.uber.org/zap"
)

var (
	ErrNotPausable = errors.New("strategy cannot be paused")
	ErrArchived    = errors.New("strategy archived")
)

type RunnerConfig struct {
	FeedBackoffBase time.Duration `yaml:"feed_backoff_base"`
	FeedBackoffMax  time.Duration `yaml:"feed_backoff_max"`
}

// Runner owns one strategy instance. Everything that reaches the strategy
// goes through its mailbox and is handled on the runner goroutine.
type Runner struct {
	s      Strategy
	env    *Env
	cfg    RunnerConfig
	box    *mailbox
	onDone func(model.StrategyInstance)

	snap     atomic.Value
	archived atomic.Bool
	cancel   context.CancelFunc
	stopped  chan struct{}
	feeds    sync.WaitGroup
}

func NewRunner(env *Env, s Strategy, cfg RunnerConfig, onDone func(model.StrategyInstance)) *Runner {
	if cfg.FeedBackoffBase <= 0 {
		cfg.FeedBackoffBase = 500 * time.Millisecond
	}
	if cfg.FeedBackoffMax <= 0 {
		cfg.FeedBackoffMax = 30 * time.Second
	}
	r := &Runner{
		s:       s,
		env:     env,
		cfg:     cfg,
		box:     newMailbox(),
		onDone:  onDone,
		stopped: make(chan struct{}),
	}
	r.snap.Store(s.Snapshot())
	return r
}

func (r *Runner) ID() string { return r.s.ID() }

// Start launches the runner goroutine. The strategy's own Start is the
// first message it handles.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.box.push(message{control: &control{op: opStart}})
	go r.loop(ctx)
}

// Stop abandons the strategy without archiving it.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.stopped
	r.feeds.Wait()
}

// Stopped is closed when the runner goroutine exits.
func (r *Runner) Stopped() <-chan struct{} {
	return r.stopped
}

func (r *Runner) Snapshot() model.StrategyInstance {
	return r.snap.Load().(model.StrategyInstance)
}

func (r *Runner) Archived() bool {
	return r.archived.Load()
}

// Deliver queues an order event for the strategy.
func (r *Runner) Deliver(ev model.OrderEvent) {
	if r.archived.Load() {
		return
	}
	r.box.push(message{event: &ev})
}

func (r *Runner) Cancel(ctx context.Context) error {
	err := r.send(ctx, opCancel)
	if errors.Is(err, ErrArchived) {
		return nil
	}
	return err
}

func (r *Runner) Pause(ctx context.Context) error {
	if _, ok := r.s.(Pausable); !ok {
		return ErrNotPausable
	}
	return r.send(ctx, opPause)
}

func (r *Runner) Resume(ctx context.Context) error {
	if _, ok := r.s.(Pausable); !ok {
		return ErrNotPausable
	}
	return r.send(ctx, opResume)
}

func (r *Runner) send(ctx context.Context, op controlOp) error {
	if r.archived.Load() {
		return ErrArchived
	}
	reply := make(chan error, 1)
	r.box.push(message{control: &control{op: op, reply: reply}})
	select {
	case err := <-reply:
		return err
	case <-r.stopped:
		return ErrArchived
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.stopped)
	for {
		msg, ok := r.box.pop(ctx)
		if !ok {
			return
		}
		err := r.handle(ctx, msg)
		r.snap.Store(r.s.Snapshot())
		// reply after the snapshot so callers observe the new state
		if msg.control != nil && msg.control.reply != nil {
			msg.control.reply <- err
		}

		if r.s.Done() && r.s.ChildrenTerminal() {
			r.archive(ctx)
			return
		}
	}
}

func (r *Runner) handle(ctx context.Context, msg message) error {
	switch {
	case msg.event != nil:
		r.s.OnOrderEvent(ctx, *msg.event)
	case msg.tick != nil:
		r.s.OnTick(ctx, *msg.tick)
	case msg.control != nil:
		return r.control(ctx, msg.control.op)
	}
	return nil
}

func (r *Runner) control(ctx context.Context, op controlOp) error {
	switch op {
	case opStart:
		r.s.Start(ctx)
		r.startFeeds(ctx)
	case opCancel:
		r.s.Cancel(ctx)
	case opPause:
		return r.s.(Pausable).Pause(ctx)
	case opResume:
		return r.s.(Pausable).Resume(ctx)
	}
	return nil
}

func (r *Runner) archive(ctx context.Context) {
	inst := r.s.Snapshot()
	inst.Archived = true
	if inst.CompletedAt.IsZero() {
		inst.CompletedAt = r.env.Now()
	}
	r.snap.Store(inst)
	r.archived.Store(true)
	r.cancel()

	r.env.Logger.Info(ctx, "strategy archived",
		zap.String("strategy_id", inst.StrategyID),
		zap.String("state", string(inst.State)))
	if r.onDone != nil {
		r.onDone(inst)
	}
}

func (r *Runner) startFeeds(ctx context.Context) {
	if r.s.Done() {
		return
	}
	if w, ok := r.s.(PriceWatcher); ok {
		for _, symbol := range w.PriceSymbols() {
			r.feeds.Add(1)
			go r.watchPrice(ctx, symbol)
		}
	}
	if sch, ok := r.s.(Scheduler); ok {
		r.feeds.Add(1)
		go r.runSchedule(ctx, sch.Schedule())
	}
}

// watchPrice forwards ticks and resubscribes with backoff whenever the
// exchange closes the stream.
func (r *Runner) watchPrice(ctx context.Context, symbol string) {
	defer r.feeds.Done()
	boff := r.env.newBackOff(r.cfg.FeedBackoffBase, r.cfg.FeedBackoffMax)
	for {
		ch, err := r.env.Exchange.SubscribePriceUpdates(ctx, symbol)
		if err == nil {
			boff.Reset()
			for t := range ch {
				r.box.push(message{tick: &Tick{Kind: TickPrice, Symbol: t.Symbol, Price: t.Price, At: t.At}})
			}
		}
		if ctx.Err() != nil {
			return
		}
		delay := boff.NextBackOff()
		r.env.Logger.Warn(ctx, "price feed lost, resubscribing",
			zap.String("strategy_id", r.s.ID()),
			zap.String("symbol", symbol),
			zap.Duration("delay", delay),
			zap.Error(err))
		if sleepCtx(ctx, delay) != nil {
			return
		}
	}
}

func (r *Runner) runSchedule(ctx context.Context, offsets []time.Duration) {
	defer r.feeds.Done()
	start := time.Now()
	for i, off := range offsets {
		if wait := time.Until(start.Add(off)); wait > 0 {
			if sleepCtx(ctx, wait) != nil {
				return
			}
		}
		r.box.push(message{tick: &Tick{Kind: TickTimer, Slot: i, At: r.env.Now()}})
	}
}
