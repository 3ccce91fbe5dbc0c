// Package metrics exposes histd's monitor samples as Prometheus
// gauges, served over an optional HTTP endpoint. The log line
// required by the monitor (spec section 4.4) is unconditional; this
// package is a strictly additive surface for operators who pass
// --metrics-addr.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is a private registry so histd never pollutes a process-wide
// default registry it doesn't own.
var Registry = prometheus.NewRegistry()

var (
	CPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "histd_monitor_cpu_percent",
		Help: "CPU percentage used by the histd server process.",
	})

	RSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "histd_monitor_rss_bytes",
		Help: "Resident memory of the histd server process, in bytes.",
	})

	DiskReadBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "histd_monitor_disk_read_bytes",
		Help: "Cumulative bytes read by the histd server process.",
	})

	DiskWriteBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "histd_monitor_disk_write_bytes",
		Help: "Cumulative bytes written by the histd server process.",
	})
)

func init() {
	Registry.MustRegister(CPUPercent, RSSBytes, DiskReadBytes, DiskWriteBytes)
}

// Server serves the registry over HTTP until its context is canceled.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer builds a metrics HTTP server bound to addr. The caller
// starts it with Serve.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Serve blocks until ctx is canceled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
