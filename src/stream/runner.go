// Package stream drives one adaptive filter per price stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/LucaChot/fairprice/src/feed"
	"github.com/LucaChot/fairprice/src/kalman"
	"github.com/LucaChot/fairprice/src/record"
	"github.com/LucaChot/fairprice/src/telemetry"
)

var (
	ErrOutOfOrder  = errors.New("observation is not later than the previous one")
	ErrWrongSymbol = errors.New("observation belongs to another stream")
)

// Sink receives one record per accepted observation.
type Sink interface {
	Write(rec record.Record) error
}

// Observer is told about every step outcome.
type Observer interface {
	ObserveStep(symbol string, raw float64, est kalman.Estimate)
	StepError(symbol, kind string)
}

type nopObserver struct{}

func (nopObserver) ObserveStep(string, float64, kalman.Estimate) {}
func (nopObserver) StepError(string, string)                      {}

// Runner owns the filter of a single symbol.
type Runner struct {
	symbol   string
	filter   kalman.KalmanFilter
	input    <-chan feed.Observation
	sinks    []Sink
	observer Observer
	logger   *log.Entry

	lastTime time.Time
}

type runnerOptions struct {
	sinks    []Sink
	observer Observer
	logger   *log.Entry
}

type Option func(*runnerOptions)

func WithSink(s Sink) Option {
	return func(o *runnerOptions) {
		o.sinks = append(o.sinks, s)
	}
}

func WithObserver(obs Observer) Option {
	return func(o *runnerOptions) {
		o.observer = obs
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(o *runnerOptions) {
		o.logger = logger
	}
}

func NewRunner(symbol string, filter kalman.KalmanFilter, input <-chan feed.Observation, opts ...Option) *Runner {
	options := runnerOptions{observer: nopObserver{}}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = log.WithField("symbol", symbol)
	}
	return &Runner{
		symbol:   symbol,
		filter:   filter,
		input:    input,
		sinks:    options.sinks,
		observer: options.observer,
		logger:   options.logger,
	}
}

// Run processes observations until the input is closed or ctx ends.
// Per-observation failures are logged and never stop the loop.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-r.input:
			if !ok {
				return
			}
			if err := r.Process(obs); err != nil {
				r.logger.Warnf("skipping observation at %s: %v", obs.Time.Format(time.RFC3339), err)
			}
		}
	}
}

// Process steps the filter with one observation and publishes the result.
// Sink failures are logged and counted but not returned.
func (r *Runner) Process(obs feed.Observation) error {
	if obs.Symbol != r.symbol {
		r.observer.StepError(r.symbol, telemetry.KindInvalidInput)
		return fmt.Errorf("%w: %q", ErrWrongSymbol, obs.Symbol)
	}
	if !r.lastTime.IsZero() && !obs.Time.After(r.lastTime) {
		r.observer.StepError(r.symbol, telemetry.KindInvalidInput)
		return fmt.Errorf("%w: %s <= %s", ErrOutOfOrder, obs.Time, r.lastTime)
	}

	est, err := r.filter.Step(obs.Price)
	if err != nil {
		if errors.Is(err, kalman.ErrNonFinite) {
			r.observer.StepError(r.symbol, telemetry.KindInvalidInput)
			return err
		}
		// The filter has consumed this timestamp even though the update failed.
		r.lastTime = obs.Time
		r.observer.StepError(r.symbol, telemetry.KindNumerical)
		return err
	}
	r.lastTime = obs.Time

	rec := record.Record{
		Time:         obs.Time,
		Symbol:       obs.Symbol,
		RawPrice:     obs.Raw,
		FairPrice:    est.FairPrice,
		FairVelocity: est.FairVelocity,
		QScale:       est.QScale,
		RScale:       est.RScale,
	}
	for _, s := range r.sinks {
		if err := s.Write(rec); err != nil {
			r.logger.Warnf("sink write failed: %v", err)
			r.observer.StepError(r.symbol, telemetry.KindSink)
		}
	}
	r.observer.ObserveStep(r.symbol, obs.Price, est)
	return nil
}
