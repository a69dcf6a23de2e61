package feed

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	c   Candle
	err error
}

type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptedSource) Latest(ctx context.Context, symbol, timeframe string) (Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.steps) {
		return Candle{}, io.EOF
	}
	st := s.steps[s.calls]
	s.calls++
	return st.c, st.err
}

func candleAt(minute int, price string) Candle {
	return Candle{
		Open:  time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC),
		Close: decimal.RequireFromString(price),
	}
}

func collect(ch <-chan Observation) []Observation {
	var out []Observation
	for obs := range ch {
		out = append(out, obs)
	}
	return out
}

func TestPollerSkipsDuplicatesAndRetries(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{c: candleAt(1, "42000.10")},
		{c: candleAt(1, "42001.00")},
		{err: errors.New("exchange unavailable")},
		{err: ErrNoData},
		{c: candleAt(0, "41000")},
		{c: candleAt(2, "42002.5")},
		{c: candleAt(3, "42003")},
	}}

	out := make(chan Observation, 10)
	p := NewPoller(src, "BTC/USDT", "1m", out, WithInterval(0), WithRetryDelay(0))
	require.NoError(t, p.Run(context.Background()))
	close(out)

	got := collect(out)
	require.Len(t, got, 3)
	assert.Equal(t, candleAt(1, "0").Open, got[0].Time)
	assert.Equal(t, 42000.10, got[0].Price)
	assert.Equal(t, "42000.1", got[0].Raw.String())
	assert.Equal(t, "BTC/USDT", got[0].Symbol)
	assert.Equal(t, 42002.5, got[1].Price)
	assert.Equal(t, 42003.0, got[2].Price)

	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Time.After(got[i-1].Time))
	}
	assert.Equal(t, len(src.steps), src.calls)
}

func TestPollerStopsOnCancel(t *testing.T) {
	src := &blockingSource{}
	out := make(chan Observation)
	p := NewPoller(src, "ETH/USDT", "1m", out, WithRetryDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}

type blockingSource struct{}

func (blockingSource) Latest(ctx context.Context, symbol, timeframe string) (Candle, error) {
	return Candle{}, ErrNoData
}

func TestPollerStopsWhenConsumerGone(t *testing.T) {
	src := &scriptedSource{steps: []step{{c: candleAt(1, "1")}}}
	out := make(chan Observation)
	p := NewPoller(src, "X", "1m", out)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, p.Run(ctx))
}

func TestExchangeSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", ExchangeSymbol("BTC/USDT"))
	assert.Equal(t, "ETHBTC", ExchangeSymbol("eth-btc"))
	assert.Equal(t, "SOLUSDT", ExchangeSymbol("SOLUSDT"))
}

func TestTimeframeDuration(t *testing.T) {
	d, err := TimeframeDuration("15m")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	_, err = TimeframeDuration("7m")
	assert.Error(t, err)
}
