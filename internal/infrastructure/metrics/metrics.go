// Package metrics exposes mirror pass outcomes to Prometheus:
//
//	mirror_passes_total{agent}
//	mirror_pass_duration_seconds{agent}
//	mirror_actions_total{agent,kind,result}   result: success|failed|skipped
//	mirror_orphans_cancelled_total
//	mirror_released_margin_usd{agent}
//	mirror_errors_total{agent,stage}          stage: fetch|ledger|orphans
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"agentmirror/internal/domain/model"
)

type Observer struct {
	reg *prometheus.Registry

	passes         *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	actions        *prometheus.CounterVec
	orphans        prometheus.Counter
	orphanErrors   prometheus.Counter
	releasedMargin *prometheus.GaugeVec
	errors         *prometheus.CounterVec
}

// New registers the mirror metrics on a private registry.
func New() *Observer {
	o := &Observer{
		reg: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_passes_total",
			Help: "Reconciliation passes completed",
		}, []string{"agent"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mirror_pass_duration_seconds",
			Help:    "Wall time of one reconciliation pass",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"agent"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_actions_total",
			Help: "Actions by kind and result",
		}, []string{"agent", "kind", "result"}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirror_orphans_cancelled_total",
			Help: "Orphaned protective orders cancelled",
		}),
		orphanErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mirror_orphan_cancel_errors_total",
			Help: "Orphaned protective orders that could not be cancelled",
		}),
		releasedMargin: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mirror_released_margin_usd",
			Help: "Margin released by the exit phase of the last pass",
		}, []string{"agent"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mirror_errors_total",
			Help: "Pass-level failures by stage",
		}, []string{"agent", "stage"}),
	}
	o.reg.MustRegister(o.passes, o.passDuration, o.actions, o.orphans, o.orphanErrors, o.releasedMargin, o.errors)
	return o
}

func (o *Observer) Registry() *prometheus.Registry { return o.reg }

func (o *Observer) ObservePass(res *model.PassResult, took time.Duration) {
	if res == nil {
		return
	}
	o.passes.WithLabelValues(res.Agent).Inc()
	o.passDuration.WithLabelValues(res.Agent).Observe(took.Seconds())
	o.releasedMargin.WithLabelValues(res.Agent).Set(res.ReleasedMargin)
	for _, a := range res.Actions {
		o.actions.WithLabelValues(res.Agent, string(a.Action.Kind), a.Result()).Inc()
	}
}

func (o *Observer) ObserveOrphans(cancelled, errs int) {
	o.orphans.Add(float64(cancelled))
	o.orphanErrors.Add(float64(errs))
}

func (o *Observer) ObserveError(agent, stage string) {
	o.errors.WithLabelValues(agent, stage).Inc()
}

func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (o *Observer) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
