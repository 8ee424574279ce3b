// Command edge is the public entry point. It routes requests to the
// identity and listings services and admits protected routes only after the
// identity service resolves the bearer credential.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/example/sessionauth/internal/config"
	"github.com/example/sessionauth/internal/edge"
	"github.com/example/sessionauth/internal/httpx"
	"github.com/example/sessionauth/internal/logging"
)

func main() {
	configPath := pflag.String("config", os.Getenv("CONFIG_PATH"), "path to the edge config file")
	pflag.Parse()

	cfg, err := config.LoadEdge(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Setup(cfg.Env, os.Stdout)
	log.Info("starting edge",
		slog.String("env", cfg.Env),
		slog.String("identity", cfg.IdentityURL),
		slog.Int("routes", len(cfg.Routes)),
	)

	if err := run(cfg, log); err != nil {
		log.Error("edge stopped", logging.Err(err))
		os.Exit(1)
	}
	log.Info("edge exited properly")
}

func run(cfg *config.EdgeConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier := edge.NewVerifierClient(cfg.IdentityURL, cfg.VerifierTimeout, cfg.InternalKey)
	gw, err := edge.NewGateway(log, cfg.Routes, cfg.UpstreamURL, verifier, edge.WithInternalKey(cfg.InternalKey))
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	handler := httpx.SecurityHeaders(httpx.Logging(log)(httpx.CORS(cfg.CORSOrigins)(gw)))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
