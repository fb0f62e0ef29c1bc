package daemon

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics exposes the scheduler's live counters as Prometheus gauges,
// scraped by whatever monitoring stack the deployment already runs
// (spec.md's ambient observability stack — not one of the nine control
// verbs, which stay JSON-over-socket for request/response RPC).
type metrics struct {
	processed prometheus.GaugeFunc
	indexed   prometheus.GaugeFunc
	remaining prometheus.GaugeFunc
}

func newMetrics(sched interface {
	Stats() (processed, indexed, remaining int)
}) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "trackerd", Name: "files_processed_total", Help: "Files drained from the scheduler this run."},
		func() float64 { p, _, _ := sched.Stats(); return float64(p) },
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "trackerd", Name: "files_indexed_total", Help: "Files successfully indexed this run."},
		func() float64 { _, i, _ := sched.Stats(); return float64(i) },
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "trackerd", Name: "queue_remaining", Help: "Files still queued."},
		func() float64 { _, _, r := sched.Stats(); return float64(r) },
	))

	return reg
}

// serveMetrics listens on addr and serves /metrics until ctx is cancelled.
// A listen failure is logged, not fatal: metrics are diagnostic, never
// load-bearing for indexing correctness.
func (d *Daemon) serveMetrics(ctx context.Context, addr string) {
	reg := newMetrics(d.sched)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		d.log.Warn().Err(err).Str("addr", addr).Msg("metrics-listen-failed")
		return
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.Serve(ln); err != nil && ctx.Err() == nil {
		d.log.Warn().Err(err).Msg("metrics-serve-failed")
	}
}
