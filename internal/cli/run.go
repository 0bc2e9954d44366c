package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sabinanfranz/slack-data-ai/internal/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest active channels on the configured schedule",
	Long: "run starts batch ingests on SLACKDATA_SCHEDULE until interrupted and serves\n" +
		"/healthz and /metrics on SLACKDATA_METRICS_ADDR.",
	Args: cobra.NoArgs,
	RunE: runScheduler,
}

func init() {
	runCmd.Flags().Bool("now", false, "Run one batch immediately before waiting for the schedule")
	rootCmd.AddCommand(runCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	runNow, _ := cmd.Flags().GetBool("now")
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	client, err := a.slackClient()
	if err != nil {
		return err
	}
	botID, err := client.AuthTest(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	a.logger.Info("slack authenticated", "bot_user", botID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orch := a.orchestrator(client, orchestrator.NewMetrics(reg))
	sched, err := orchestrator.NewScheduler(orch, a.cfg.Schedule, a.logger)
	if err != nil {
		return err
	}

	if addr := a.cfg.MetricsAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           newHTTPHandler(a.store, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server failed", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http server shutdown", "error", err)
			}
		}()
	}

	if runNow {
		if _, err := sched.RunNow(ctx); err != nil {
			a.logger.Error("initial batch failed", "error", err)
		}
	}
	return sched.Run(ctx)
}
