// Package wsfeed streams live trade prices from a Binance-compatible websocket.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	// URL is the stream endpoint, e.g. wss://stream.binance.com:9443/stream.
	URL          string        `yaml:"url"`
	Symbols      []string      `yaml:"symbols"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
}

// Feed keeps one websocket connection alive and hands every trade to onTick.
type Feed struct {
	cfg    Config
	onTick func(exchange.PriceTick)

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func New(cfg Config, onTick func(exchange.PriceTick)) *Feed {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Feed{cfg: cfg, onTick: onTick}
}

// StreamURL returns the combined-stream URL for the configured symbols.
func (f *Feed) StreamURL() string {
	streams := make([]string, 0, len(f.cfg.Symbols))
	for _, s := range f.cfg.Symbols {
		streams = append(streams, strings.ToLower(s)+"@trade")
	}
	sep := "?"
	if strings.Contains(f.cfg.URL, "?") {
		sep = "&"
	}
	return f.cfg.URL + sep + "streams=" + strings.Join(streams, "/")
}

func (f *Feed) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.BackoffBase
	b.MaxInterval = f.cfg.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run blocks until ctx is done, reconnecting with backoff whenever the
// connection fails or drops.
func (f *Feed) Run(ctx context.Context) error {
	boff := f.newBackOff()
	sugar := zap.S().With("func", "wsfeed.Run", "url", f.cfg.URL)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := f.connect(ctx); err != nil {
			delay := boff.NextBackOff()
			sugar.Warnw("connect failed", "err", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		boff.Reset()
		sugar.Infow("connected", "symbols", f.cfg.Symbols)
		f.process(ctx)
	}
}

func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.StreamURL(), make(http.Header))
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	if f.cfg.PingInterval > 0 {
		go f.pingLoop(ctx, conn)
	}
	go func() {
		<-ctx.Done()
		f.close()
	}()
	return nil
}

func (f *Feed) process(ctx context.Context) {
	for {
		f.mu.RLock()
		c := f.conn
		f.mu.RUnlock()
		if c == nil {
			return
		}

		_ = c.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				zap.S().Warnw("wsfeed: read failed", "err", err)
			}
			f.close()
			return
		}

		tick, ok, err := parseTrade(msg)
		if err != nil {
			zap.S().Debugw("wsfeed: skipping message", "err", err)
			continue
		}
		if ok {
			f.onTick(tick)
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.RLock()
			current := f.conn
			f.mu.RUnlock()
			if current != conn {
				return
			}
			f.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			f.writeMu.Unlock()
			if err != nil {
				f.close()
				return
			}
		}
	}
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}

type tradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// parseTrade accepts raw and combined-stream trade payloads. Non-trade
// messages are reported with ok=false.
func parseTrade(msg []byte) (exchange.PriceTick, bool, error) {
	var wrapped combinedMessage
	if err := json.Unmarshal(msg, &wrapped); err != nil {
		return exchange.PriceTick{}, false, err
	}
	if len(wrapped.Data) > 0 {
		msg = wrapped.Data
	}

	var ev tradeEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return exchange.PriceTick{}, false, err
	}
	if ev.EventType != "trade" && ev.EventType != "aggTrade" {
		return exchange.PriceTick{}, false, nil
	}

	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		return exchange.PriceTick{}, false, fmt.Errorf("price %q: %w", ev.Price, err)
	}
	at := time.Now()
	if ev.TradeTime > 0 {
		at = time.UnixMilli(ev.TradeTime)
	}
	return exchange.PriceTick{Symbol: strings.ToUpper(ev.Symbol), Price: price, At: at}, true, nil
}
