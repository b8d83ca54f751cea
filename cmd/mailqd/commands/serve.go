package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/odiseohq/mailqd/api"
	"github.com/odiseohq/mailqd/stats/prom"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Args:  cobra.NoArgs,
		Short: "Run the API server and the delivery worker together",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	s, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	recorder := buildRecorder(cfg)
	dispatcher, err := buildDispatcher(cfg, s, buildTransport(cfg), recorder)
	if err != nil {
		return err
	}

	l, err := buildLimiter(cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(s, dispatcher, l, api.Options{
		Addr:    cfg.API.Addr,
		APIKey:  cfg.API.APIKey,
		RunMode: cfg.API.RunMode,
	})

	if err := dispatcher.Start(ctx); err != nil {
		return err
	}

	go func() {
		if err := server.Start(); err != nil {
			slog.Error("API server error", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		if promRecorder, ok := recorder.(*prom.Recorder); ok {
			go serveMetrics(cfg.Metrics.Addr, promRecorder)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown error", "error", err)
	}

	return dispatcher.Stop()
}

func serveMetrics(addr string, recorder *prom.Recorder) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Metrics server error", "error", err)
	}
}
