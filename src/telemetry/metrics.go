// Package telemetry exports per-stream filter state as Prometheus metrics.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/LucaChot/fairprice/src/kalman"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const namespace = "fairprice"

// Error kinds reported by StepError.
const (
	KindInvalidInput = "invalid_input"
	KindNumerical    = "numerical"
	KindSink         = "sink"
)

type Metrics struct {
	registry *prometheus.Registry

	rawPrice     *prometheus.GaugeVec
	fairPrice    *prometheus.GaugeVec
	fairVelocity *prometheus.GaugeVec
	qScale       *prometheus.GaugeVec
	rScale       *prometheus.GaugeVec
	innovation   *prometheus.GaugeVec
	observations *prometheus.CounterVec
	stepErrors   *prometheus.CounterVec
}

func gauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		[]string{"symbol"},
	)
}

// New creates the metric vectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry:     prometheus.NewRegistry(),
		rawPrice:     gauge("raw_price", "Last observed price"),
		fairPrice:    gauge("fair_price", "Filtered fair price estimate"),
		fairVelocity: gauge("fair_velocity", "Filtered price velocity per observation interval"),
		qScale:       gauge("q_scale", "Adaptive process-noise multiplier"),
		rScale:       gauge("r_scale", "Adaptive measurement-noise multiplier"),
		innovation:   gauge("innovation", "Last innovation (observed minus predicted price)"),
		observations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observations_total",
				Help:      "Observations accepted by the filter",
			},
			[]string{"symbol"},
		),
		stepErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_errors_total",
				Help:      "Observations that did not produce an estimate, by kind",
			},
			[]string{"symbol", "kind"},
		),
	}
	m.registry.MustRegister(
		m.rawPrice, m.fairPrice, m.fairVelocity,
		m.qScale, m.rScale, m.innovation,
		m.observations, m.stepErrors)
	return m
}

func (m *Metrics) ObserveStep(symbol string, raw float64, est kalman.Estimate) {
	m.rawPrice.WithLabelValues(symbol).Set(raw)
	m.fairPrice.WithLabelValues(symbol).Set(est.FairPrice)
	m.fairVelocity.WithLabelValues(symbol).Set(est.FairVelocity)
	m.qScale.WithLabelValues(symbol).Set(est.QScale)
	m.rScale.WithLabelValues(symbol).Set(est.RScale)
	m.innovation.WithLabelValues(symbol).Set(est.Innovation)
	m.observations.WithLabelValues(symbol).Inc()
}

func (m *Metrics) StepError(symbol, kind string) {
	m.stepErrors.WithLabelValues(symbol, kind).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("metrics server shutdown: %v", err)
		}
	}()

	log.Infof("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
