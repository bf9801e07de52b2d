package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/exitcode"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// watch syncs once immediately, then on every tick of the schedule, until
// ctx is done. A tick that fires while a sync is still running is skipped.
func (a *App) watch(ctx context.Context, e *env) int {
	logger := e.logger.With("schedule", e.cfg.Watch.Schedule)
	clog := cronLogger{logger: logger}
	scheduler := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return a.withSyncer(ctx, e, reg, func(s *stagesync.Syncer) int {
		job := func() {
			code := a.sync(ctx, e, s)
			logger.Info("scheduled sync finished", "exit_code", code)
		}
		if _, err := scheduler.AddFunc(e.cfg.Watch.Schedule, job); err != nil {
			logger.Error("invalid schedule", "error", err)
			return exitcode.ConfigError
		}

		var srv *http.Server
		if addr := e.cfg.Watch.MetricsAddr; addr != "" {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				logger.Error("failed to listen for metrics", "addr", addr, "error", err)
				return exitcode.ConfigError
			}
			srv = metricsServer(reg)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server stopped", "error", err)
				}
			}()
			logger.Info("serving metrics", "addr", ln.Addr().String())
		}

		job()
		scheduler.Start()
		<-ctx.Done()

		logger.Info("stopping watch")
		<-scheduler.Stop().Done()
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown", "error", err)
			}
		}
		return exitcode.Success
	})
}

func metricsServer(reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
