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

	"github.com/gorilla/mux"

	"github.com/example/sessionauth/internal/config"
	"github.com/example/sessionauth/internal/credential"
	"github.com/example/sessionauth/internal/events"
	"github.com/example/sessionauth/internal/httpx"
	"github.com/example/sessionauth/internal/logging"
	"github.com/example/sessionauth/internal/migrations"
	"github.com/example/sessionauth/internal/password"
	"github.com/example/sessionauth/internal/session"
	"github.com/example/sessionauth/internal/store"
	"github.com/example/sessionauth/internal/store/memory"
	"github.com/example/sessionauth/internal/store/mongodb"
	"github.com/example/sessionauth/internal/store/sqlstore"
	"github.com/example/sessionauth/internal/token"
)

type App struct {
	log         *slog.Logger
	store       store.Store
	sessions    *session.Service
	verifier    *token.Verifier
	rateLimiter *httpx.RateLimiter
	internalKey string
	corsOrigins []string
}

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Setup(cfg.Env, os.Stdout)
	log.Info("starting identity service", slog.String("env", cfg.Env), slog.String("db_adapter", cfg.DBAdapter))

	if err := run(cfg, log); err != nil {
		log.Error("identity service stopped", logging.Err(err))
		os.Exit(1)
	}
	log.Info("server exited properly")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	app := newApp(cfg, log, st)

	go app.purgeLoop(ctx, cfg.TokenPurgeInterval)
	go app.sweepLoop(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
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

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func newApp(cfg *config.Config, log *slog.Logger, st store.Store) *App {
	codec := credential.NewCodec([]byte(cfg.JWTSecret))
	issuer := token.NewIssuer(log, codec, st, cfg.AccessTTL, cfg.RefreshTTL)
	verifier := token.NewVerifier(log, codec, st)

	sessions := session.New(
		log,
		st,
		issuer,
		codec,
		password.NewBcrypt(cfg.BcryptCost),
		events.NewLogPublisher(log),
		session.Options{RevokeSessionsOnPasswordChange: cfg.RevokeSessionsOnPasswordChange},
	)

	return &App{
		log:         log,
		store:       st,
		sessions:    sessions,
		verifier:    verifier,
		rateLimiter: httpx.NewRateLimiter(cfg.RateLimitPerMinute).TrustForwardedFor(cfg.InternalKey),
		internalKey: cfg.InternalKey,
		corsOrigins: cfg.CORSOrigins,
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.DBAdapter {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil
	case "sqlite":
		return sqlstore.OpenSQLite(ctx, cfg.SQLiteFile)
	case "postgres":
		dsn, err := cfg.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres config: %w", err)
		}
		if cfg.MigrateOnStart {
			if err := migrations.Apply(dsn, log); err != nil {
				return nil, err
			}
		}
		return sqlstore.OpenPostgres(ctx, dsn)
	case "mongo":
		return mongodb.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER %q (supported: postgres, sqlite, mongo, memory)", cfg.DBAdapter)
	}
}

// Router builds the HTTP surface of the identity service.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "Not found")
	})

	r.Use(httpx.SecurityHeaders)
	r.Use(httpx.Logging(a.log))
	r.Use(httpx.CORS(a.corsOrigins))

	r.HandleFunc("/health", a.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", a.HandleReady).Methods(http.MethodGet)

	// validate-token is called by the edge on every protected request, so it
	// is guarded by the internal key instead of the per-client limiter.
	r.Handle("/api/v1/auth/validate-token",
		httpx.InternalOnly(a.internalKey)(http.HandlerFunc(a.HandleValidateToken)),
	).Methods(http.MethodPost)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.rateLimiter.Middleware)

	v1.HandleFunc("/auth/register", a.HandleRegister).Methods(http.MethodPost)
	v1.HandleFunc("/auth/authenticate", a.HandleAuthenticate).Methods(http.MethodPost)
	v1.HandleFunc("/auth/refresh-token", a.HandleRefresh).Methods(http.MethodPost)
	v1.HandleFunc("/auth/logout", a.HandleLogout).Methods(http.MethodPost)

	v1.HandleFunc("/users", a.HandleChangePassword).Methods(http.MethodPut)
	v1.HandleFunc("/users", a.HandleDeleteAccount).Methods(http.MethodDelete)

	return r
}

func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		a.log.Warn("readiness check failed", logging.Err(err))
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// purgeLoop drops revoked ledger rows every interval until ctx is done.
// A non-positive interval disables it.
func (a *App) purgeLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// failures are logged by the service; the next tick retries
			_, _ = a.sessions.PurgeRevoked(ctx)
		}
	}
}

// sweepLoop drops rate limiter buckets of clients idle for a minute; their
// buckets are full again by then.
func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.rateLimiter.Sweep(time.Minute); n > 0 {
				a.log.Debug("idle rate limit buckets dropped", slog.Int("count", n))
			}
		}
	}
}
