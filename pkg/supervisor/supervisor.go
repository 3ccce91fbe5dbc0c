// Package supervisor starts the Ingest, Query, and Monitor components
// and brings the process down on the first fatal failure or interrupt
// (spec section 4.5), following cmd/warren's sigCh/errCh select shape.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/basalt-labs/histd/pkg/config"
	"github.com/basalt-labs/histd/pkg/ingest"
	"github.com/basalt-labs/histd/pkg/log"
	"github.com/basalt-labs/histd/pkg/metrics"
	"github.com/basalt-labs/histd/pkg/monitor"
	"github.com/basalt-labs/histd/pkg/query"
	"github.com/basalt-labs/histd/pkg/store"
)

// Run bootstraps the store, starts Ingest, Query, and Monitor, and
// blocks until one of them fails or the process receives an
// interrupt. It returns the first fatal error, or nil on a clean
// interrupt shutdown.
func Run(ctx context.Context, cfg config.Server) error {
	logger := log.WithComponent("supervisor")

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ingestAddr := portAddr(cfg.Port)
	ingestListener := ingest.NewListener(st, ingestAddr)
	queryServer := query.NewServer(st, ingestAddr)

	interval := monitor.DefaultInterval
	if cfg.MonitorInterval > 0 {
		interval = time.Duration(cfg.MonitorInterval) * time.Second
	}
	mon, err := monitor.New(interval)
	if err != nil {
		st.Close()
		return err
	}

	var metricsServer *metrics.Server
	errCh := make(chan error, 3)
	go func() { errCh <- ingestListener.Run(runCtx) }()
	go func() { errCh <- queryServer.Serve(runCtx) }()
	mon.Start()
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr)
		go func() { errCh <- metricsServer.Serve(runCtx) }()
	}

	logger.Info().Str("ingest_addr", ingestAddr).Str("query_addr", ingestAddr).Msg("histd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		logger.Info().Msg("received interrupt, shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("component failed, shutting down")
			runErr = err
		}
	case <-ctx.Done():
		logger.Info().Msg("context canceled, shutting down")
	}

	cancel()
	mon.Stop()
	_ = queryServer.Close()
	_ = ingestListener.Stop()
	if err := st.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing store")
	}

	return runErr
}

func portAddr(port int) string {
	if port <= 0 {
		port = config.DefaultPort
	}
	return ":" + strconv.Itoa(port)
}
