package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/article-autopilot/internal/app"
	"github.com/article-autopilot/internal/config"
	"github.com/article-autopilot/internal/metrics"
	"github.com/article-autopilot/internal/resilience"
	"github.com/article-autopilot/internal/scheduler"
	"github.com/article-autopilot/pkg/logger"
)

var (
	cfgFile  string
	noServer bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Article autopilot daemon",
		Long: `Runs the crawl, publish, SEO and cleanup schedule in the background
and serves the operator HTTP API. Run it as a service.`,
		RunE: run,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.Flags().BoolVar(&noServer, "no-server", false, "do not start the HTTP API")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	log.Info().Msg("Starting article autopilot")
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A lost store ends the process so the service manager can restart it
	fatal := make(chan *resilience.Report, 1)
	a, err := app.Open(ctx, cfg, log, scheduler.OnFatal(func(r *resilience.Report) {
		select {
		case fatal <- r:
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer a.Close()

	if report := a.Monitor.Check(ctx); report.Fatal {
		return fmt.Errorf("store unavailable at startup: %s", report.Status)
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	var srv *http.Server
	if cfg.Server.Enabled && !noServer {
		server := a.Server(ctx)
		srv = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP API failed")
				stop()
			}
		}()
		defer server.Wait()
	}

	var exitErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case r := <-fatal:
		log.Error().Str("status", string(r.Status)).Msg("Store lost, shutting down")
		exitErr = errors.New("store unavailable")
	}

	a.Scheduler.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP API shutdown failed")
		}
	}
	return exitErr
}
