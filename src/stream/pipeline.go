package stream

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/LucaChot/fairprice/src/feed"
	"github.com/LucaChot/fairprice/src/kalman"
)

// Pipeline runs an independent poller, filter and runner per symbol. The
// only state shared between symbols is the sinks and the observer.
type Pipeline struct {
	Source        feed.Source
	Symbols       []string
	Timeframe     string
	PollerOptions []feed.PollerOption
	FilterOptions []kalman.Option
	Sinks         []Sink
	Observer      Observer
}

type lane struct {
	poller *feed.Poller
	runner *Runner
	input  chan feed.Observation
}

// Run blocks until ctx is cancelled or every feed is exhausted.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := uuid.NewString()

	lanes := make([]lane, 0, len(p.Symbols))
	for _, symbol := range p.Symbols {
		logger := log.WithFields(log.Fields{
			"symbol": symbol,
			"run":    runID,
		})

		filterOpts := append(slices.Clone(p.FilterOptions), kalman.WithLogger(logger))
		kf, err := kalman.NewAdaptiveFilter(filterOpts...)
		if err != nil {
			return fmt.Errorf("creating filter for %s: %w", symbol, err)
		}

		input := make(chan feed.Observation)
		pollerOpts := append(slices.Clone(p.PollerOptions), feed.WithPollerLogger(logger))
		runnerOpts := []Option{WithLogger(logger)}
		for _, s := range p.Sinks {
			runnerOpts = append(runnerOpts, WithSink(s))
		}
		if p.Observer != nil {
			runnerOpts = append(runnerOpts, WithObserver(p.Observer))
		}

		lanes = append(lanes, lane{
			poller: feed.NewPoller(p.Source, symbol, p.Timeframe, input, pollerOpts...),
			runner: NewRunner(symbol, kf, input, runnerOpts...),
			input:  input,
		})
	}

	log.WithField("run", runID).Infof("starting %d stream(s)", len(lanes))

	var wg sync.WaitGroup
	errs := make([]error, len(lanes))
	for i, l := range lanes {
		i, l := i, l
		wg.Add(2)
		go func() {
			defer wg.Done()
			defer close(l.input)
			errs[i] = l.poller.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			l.runner.Run(ctx)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
