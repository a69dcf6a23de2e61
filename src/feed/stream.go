package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

const DefaultBinanceStreamURL = "wss://stream.binance.com:9443"

type klineEvent struct {
	Event string `json:"e"`
	Kline struct {
		Open     int64  `json:"t"`
		Interval string `json:"i"`
		Close    string `json:"c"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// StreamSource keeps one websocket kline subscription per symbol/timeframe
// and serves Latest from the most recent message. Subscriptions are opened
// lazily on the first Latest call and live until the source's context ends.
type StreamSource struct {
	ctx        context.Context
	baseURL    string
	retryDelay time.Duration
	closedOnly bool

	mu      sync.Mutex
	streams map[string]*atomic.Pointer[Candle]
}

type StreamOption func(*StreamSource)

func WithReconnectDelay(d time.Duration) StreamOption {
	return func(s *StreamSource) {
		s.retryDelay = d
	}
}

// WithClosedKlinesOnly ignores updates for bars that are still forming.
func WithClosedKlinesOnly() StreamOption {
	return func(s *StreamSource) {
		s.closedOnly = true
	}
}

func NewStreamSource(ctx context.Context, baseURL string, opts ...StreamOption) *StreamSource {
	if baseURL == "" {
		baseURL = DefaultBinanceStreamURL
	}
	s := &StreamSource{
		ctx:        ctx,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		retryDelay: 5 * time.Second,
		streams:    make(map[string]*atomic.Pointer[Candle]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func streamName(symbol, timeframe string) string {
	return strings.ToLower(ExchangeSymbol(symbol)) + "@kline_" + timeframe
}

func (s *StreamSource) Latest(ctx context.Context, symbol, timeframe string) (Candle, error) {
	if err := ctx.Err(); err != nil {
		return Candle{}, err
	}
	name := streamName(symbol, timeframe)

	s.mu.Lock()
	latest, ok := s.streams[name]
	if !ok {
		latest = &atomic.Pointer[Candle]{}
		s.streams[name] = latest
		go s.run(name, latest)
	}
	s.mu.Unlock()

	c := latest.Load()
	if c == nil {
		return Candle{}, ErrNoData
	}
	return *c, nil
}

func (s *StreamSource) run(name string, latest *atomic.Pointer[Candle]) {
	logger := log.WithField("stream", name)
	for {
		err := s.consume(name, latest)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warnf("kline stream dropped: %v", err)
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *StreamSource) consume(name string, latest *atomic.Pointer[Candle]) error {
	ws, _, err := websocket.Dial(s.ctx, s.baseURL+"/ws/"+name, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ws.SetReadLimit(1 << 16)
	defer ws.Close(websocket.StatusNormalClosure, "shutdown")

	for {
		typ, data, err := ws.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var ev klineEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.WithField("stream", name).Debugf("skipping malformed message: %v", err)
			continue
		}
		if ev.Event != "kline" || ev.Kline.Open == 0 {
			continue
		}
		if s.closedOnly && !ev.Kline.Closed {
			continue
		}
		c, err := newCandle(ev.Kline.Open, ev.Kline.Close)
		if err != nil {
			log.WithField("stream", name).Debugf("skipping kline: %v", err)
			continue
		}
		latest.Store(&c)
	}
}
