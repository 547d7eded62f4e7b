package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/memengine/internal/config"
	"github.com/rcliao/memengine/internal/metrics"
)

func init() {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled maintenance and serve metrics",
		Long: "Run decay passes on the decay.schedule cron cadence, replay failed index writes, " +
			"and serve Prometheus metrics on metrics.addr until interrupted. When redis.addr is set, " +
			"only one daemon per database runs a pass at a time.",
		Run: runDaemon,
	}

	cmd.Flags().String("schedule", "@daily", "Cron spec for decay passes")
	cmd.Flags().String("metrics-addr", ":9464", "Metrics listen address (empty disables)")
	cmd.Flags().String("redis", "", "Redis address for the decay lock")
	cmd.Flags().Duration("reconcile-every", 5*time.Minute, "Index backlog replay interval")
	cmd.Flags().Bool("run-now", false, "Run one decay pass at startup")

	v.BindPFlag(config.KeyDecaySchedule, cmd.Flags().Lookup("schedule"))
	v.BindPFlag(config.KeyMetricsAddr, cmd.Flags().Lookup("metrics-addr"))
	v.BindPFlag(config.KeyRedisAddr, cmd.Flags().Lookup("redis"))

	RootCmd.AddCommand(cmd)
}

func runDaemon(cmd *cobra.Command, args []string) {
	every, _ := cmd.Flags().GetDuration("reconcile-every")
	runNow, _ := cmd.Flags().GetBool("run-now")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector("memengine", reg, logger)

	e := openEngine(cmd, m)
	defer e.Close()

	sched, closeLock, err := e.Scheduler(ctx)
	if err != nil {
		exitErr("scheduler", err)
	}
	defer closeLock()

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
				stop()
			}
		}()
		logger.Info("metrics server started", zap.String("addr", cfg.MetricsAddr))
	}

	if runNow {
		if _, err := sched.RunOnce(ctx); err != nil {
			logger.Warn("startup decay pass failed", zap.Error(err))
		}
	}
	sched.Start()
	logger.Info("daemon started",
		zap.String("schedule", cfg.Decay.Schedule),
		zap.Duration("reconcile_every", every))

	if every > 0 {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				if n, err := e.Reconcile(ctx); err != nil {
					logger.Warn("index reconcile incomplete", zap.Int("reconciled", n), zap.Error(err))
				}
			}
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")
	sched.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", zap.Error(err))
		}
	}
	logger.Sync()
}
