package stream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LucaChot/fairprice/src/feed"
	"github.com/LucaChot/fairprice/src/kalman"
)

const replayRows = `timestamp,close
2024-03-05T14:00:00Z,100
2024-03-05T14:01:00Z,101
2024-03-05T14:02:00Z,102.5
2024-03-05T14:03:00Z,101.75
2024-03-05T14:04:00Z,103
`

func TestPipelineReplaysEverySymbolIndependently(t *testing.T) {
	src, err := feed.ReadReplay(strings.NewReader(replayRows))
	require.NoError(t, err)

	sink := &memorySink{}
	observer := newCountingObserver()
	p := &Pipeline{
		Source:        src,
		Symbols:       []string{"BTC/USDT", "ETH/USDT"},
		Timeframe:     "1m",
		PollerOptions: []feed.PollerOption{feed.WithInterval(0), feed.WithRetryDelay(0)},
		Sinks:         []Sink{sink},
		Observer:      observer,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	reference := newFilter(t)
	var want []float64
	for _, z := range []float64{100, 101, 102.5, 101.75, 103} {
		est, err := reference.Step(z)
		require.NoError(t, err)
		want = append(want, est.FairPrice)
	}

	for _, symbol := range p.Symbols {
		recs := sink.bySymbol(symbol)
		require.Len(t, recs, 5, symbol)
		for i, rec := range recs {
			assert.Equal(t, time.Date(2024, 3, 5, 14, i, 0, 0, time.UTC), rec.Time)
			assert.Equal(t, want[i], rec.FairPrice, "%s step %d", symbol, i)
		}
		assert.Equal(t, 5, observer.steps[symbol])
	}
}

func TestPipelineRejectsBadFilterOptions(t *testing.T) {
	src, err := feed.ReadReplay(strings.NewReader(replayRows))
	require.NoError(t, err)

	p := &Pipeline{
		Source:        src,
		Symbols:       []string{"BTC/USDT"},
		Timeframe:     "1m",
		FilterOptions: []kalman.Option{kalman.WithR(-1)},
	}
	assert.Error(t, p.Run(context.Background()))
}
