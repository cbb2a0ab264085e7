package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.Close()

	reg := engine.NewRegistry(rt.store, rt.embedder, rt.logger, rt.networkOptions()...)
	reg.StartEvictionTimer(rt.cfg.Registry.IdleTimeout)
	defer reg.Stop()

	srv := server.New(rt.store, reg, rt.logger, VersionString())
	addr := rt.cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("recall serving",
			zap.String("addr", addr),
			zap.String("db", rt.where),
			zap.String("embedder", rt.embedder.Model()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return err
	}
	rt.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
