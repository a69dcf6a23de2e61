package feed

import (
	"context"
	"errors"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
)

// Poller repeatedly asks a Source for the latest candle and forwards every
// candle whose open time is strictly later than the last one forwarded.
type Poller struct {
	source     Source
	symbol     string
	timeframe  string
	interval   time.Duration
	retryDelay time.Duration
	output     chan<- Observation
	logger     *log.Entry
}

type pollerOptions struct {
	interval   time.Duration
	retryDelay time.Duration
	logger     *log.Entry
}

// PollerOption configures a Poller
type PollerOption func(*pollerOptions)

// WithInterval sets the wait between two successful polls. Zero polls
// back to back, which is only sensible for replays.
func WithInterval(interval time.Duration) PollerOption {
	return func(o *pollerOptions) {
		o.interval = interval
	}
}

// WithRetryDelay sets the wait after a failed poll.
func WithRetryDelay(delay time.Duration) PollerOption {
	return func(o *pollerOptions) {
		o.retryDelay = delay
	}
}

func WithPollerLogger(logger *log.Entry) PollerOption {
	return func(o *pollerOptions) {
		o.logger = logger
	}
}

var defaultPollerOptions = pollerOptions{
	interval:   time.Second,
	retryDelay: 5 * time.Second,
}

func NewPoller(source Source, symbol, timeframe string, output chan<- Observation, opts ...PollerOption) *Poller {
	options := defaultPollerOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = log.WithField("symbol", symbol)
	}

	return &Poller{
		source:     source,
		symbol:     symbol,
		timeframe:  timeframe,
		interval:   options.interval,
		retryDelay: options.retryDelay,
		output:     output,
		logger:     options.logger,
	}
}

// Run polls until ctx is cancelled or the source reports io.EOF. Transient
// errors are logged and retried after the retry delay. Run does not close
// the output channel.
func (p *Poller) Run(ctx context.Context) error {
	var lastOpen time.Time
	for {
		c, err := p.source.Latest(ctx, p.symbol, p.timeframe)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			p.logger.Info("feed exhausted")
			return nil
		case errors.Is(err, ErrNoData):
			p.logger.Debug("no candle yet")
			if !sleep(ctx, p.retryDelay) {
				return nil
			}
			continue
		case err != nil:
			p.logger.Warnf("fetch failed: %v", err)
			if !sleep(ctx, p.retryDelay) {
				return nil
			}
			continue
		}

		if !lastOpen.IsZero() && !c.Open.After(lastOpen) {
			if c.Open.Before(lastOpen) {
				p.logger.Debugf("dropping out-of-order candle %s (last %s)", c.Open, lastOpen)
			}
		} else {
			lastOpen = c.Open
			obs := Observation{
				Symbol: p.symbol,
				Time:   c.Open,
				Price:  c.Close.InexactFloat64(),
				Raw:    c.Close,
			}
			select {
			case p.output <- obs:
			case <-ctx.Done():
				return nil
			}
		}

		if !sleep(ctx, p.interval) {
			return nil
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
