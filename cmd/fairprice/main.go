package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/LucaChot/fairprice/src/config"
	"github.com/LucaChot/fairprice/src/console"
	"github.com/LucaChot/fairprice/src/feed"
	"github.com/LucaChot/fairprice/src/kalman"
	"github.com/LucaChot/fairprice/src/profiler"
	"github.com/LucaChot/fairprice/src/record"
	"github.com/LucaChot/fairprice/src/stream"
	"github.com/LucaChot/fairprice/src/telemetry"
)

func init() {
	config.BindFlags(flag.CommandLine)
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		ForceColors: true,
	})
}

func main() {
	cfg, err := config.Load(flag.CommandLine)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source, err := feed.DefaultRegistry().New(ctx, cfg.Exchange, feed.Settings{
		BaseURL:    cfg.BaseURL,
		ReplayFile: cfg.ReplayFile,
		ClosedOnly: cfg.ClosedOnly,
	})
	if err != nil {
		log.Fatalf("Failed to create %s source: %v", cfg.Exchange, err)
	}

	out, err := record.Create(cfg.Out)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()

	sinks := []stream.Sink{out}
	if !cfg.Quiet {
		var opts []console.Option
		if len(cfg.Symbols) > 1 {
			opts = append(opts, console.WithSymbol())
		}
		sinks = append(sinks, console.New(os.Stdout, opts...))
	}

	metrics := telemetry.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	if cfg.PprofAddr != "" {
		go func() {
			if err := profiler.Serve(ctx, cfg.PprofAddr); err != nil {
				log.Errorf("profiling server: %v", err)
			}
		}()
	}

	var filterOpts []kalman.Option
	if cfg.CovarianceCheck {
		filterOpts = append(filterOpts, kalman.WithCovarianceCheck())
	}

	pipeline := &stream.Pipeline{
		Source:    source,
		Symbols:   cfg.Symbols,
		Timeframe: cfg.Timeframe,
		PollerOptions: []feed.PollerOption{
			feed.WithInterval(cfg.PollInterval),
			feed.WithRetryDelay(cfg.RetryDelay),
		},
		FilterOptions: filterOpts,
		Sinks:         sinks,
		Observer:      metrics,
	}

	log.Infof("estimating %v on %s (%s), writing %s", cfg.Symbols, cfg.Exchange, cfg.Timeframe, cfg.Out)
	if err := pipeline.Run(ctx); err != nil {
		log.Fatal(err)
	}
	log.Info("stopped")
}
