// Package metrics exposes adapter-internal Prometheus gauges/counters
// for operator scraping, complementing the externally readable
// csp-config document. These describe the adapter process itself and
// are distinct from the CSP metering calls.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "csp_billing_adapter",
		Name:      "cycles_total",
		Help:      "Total control-loop cycles persisted.",
	})

	BillFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "csp_billing_adapter",
		Name:      "bill_failures_total",
		Help:      "Total metering calls that failed or were rejected by the CSP.",
	})

	LedgerErrors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "csp_billing_adapter",
		Name:      "ledger_errors",
		Help:      "Number of error ledger entries in the most recently persisted cycle.",
	})

	ExpireSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "csp_billing_adapter",
		Name:      "expire_seconds",
		Help:      "Seconds until csp-config.expire lapses; negative means the adapter has missed its window.",
	})

	HealthState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "csp_billing_adapter",
		Name:      "health_state",
		Help:      "Health after the last persisted cycle: 0 healthy, 1 warning (errors, billing access intact), 2 degraded (errors, billing access down).",
	})
)

// HealthState values.
const (
	HealthHealthy  = 0
	HealthWarning  = 1
	HealthDegraded = 2
)

func init() {
	prometheus.MustRegister(CyclesTotal, BillFailuresTotal, LedgerErrors, ExpireSeconds, HealthState)
}

// ObserveExpire records the time remaining until expire, for operators
// to alert on a stalled adapter.
func ObserveExpire(expire time.Time) {
	ExpireSeconds.Set(time.Until(expire).Seconds())
}

// Serve runs the internal metrics HTTP endpoint until ctx is cancelled.
// Disabled deployments (metrics.enabled=false) never call this.
func Serve(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
