package coachservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/LanreCloud/minicoach/internal/api"
	"github.com/LanreCloud/minicoach/internal/config"
	"github.com/LanreCloud/minicoach/internal/factory"
	"github.com/LanreCloud/minicoach/internal/generative"
	"github.com/LanreCloud/minicoach/internal/health"
	"github.com/LanreCloud/minicoach/internal/ledger"
	"github.com/LanreCloud/minicoach/internal/logger"
	"github.com/LanreCloud/minicoach/internal/outbox/natspub"
	"github.com/LanreCloud/minicoach/internal/store"
	"github.com/LanreCloud/minicoach/internal/suggest"
	"github.com/LanreCloud/minicoach/internal/suggest/rediscache"
	"github.com/LanreCloud/minicoach/internal/triggers"
)

// dependencies are the adapters the HTTP surface runs on. Cache and
// publisher are optional and nil when not configured.
type dependencies struct {
	store     store.Store
	provider  generative.Provider
	cache     *rediscache.Cache
	publisher *natspub.Publisher
}

func (d *dependencies) close(log zerolog.Logger) {
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("nats close")
		}
	}
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close")
		}
	}
	if err := d.store.Close(); err != nil {
		log.Warn().Err(err).Msg("store close")
	}
}

// Run starts the coach service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("coach-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	logger.SetLevel(cfg.LogLevel)

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("generative_provider", cfg.GenerativeProvider).
		Str("generative_model", cfg.GenerativeModel).
		Bool("outbox_embedded", cfg.OutboxEmbedded).
		Msg("Coach service starting")

	// Create cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	deps, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close(log)

	router := buildRouter(deps, cfg, log)

	svcHealth := startHealthCheckers(ctx, cfg, log, deps)

	// Block startup until dependencies report healthy; fail fast otherwise
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	if cfg.OutboxEmbedded {
		w := factory.NewOutboxWorker(deps.store.Outbox(), deps.publisher, cfg, log)
		go func() {
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("embedded outbox worker exit")
			}
		}()
	}

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	// Graceful shutdown on context cancel or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// initDependencies constructs required components and enforces fail-fast on
// missing deps. Optional adapters that are configured must connect.
func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*dependencies, error) {
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, err
	}
	deps := &dependencies{store: st, provider: factory.NewGenerativeProvider(ctx, cfg, log)}

	cache, err := factory.NewSuggestCache(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Suggestion cache unavailable")
		deps.close(log)
		return nil, err
	}
	deps.cache = cache

	if cfg.OutboxEmbedded {
		pub, err := factory.NewNATSPublisher(cfg, "coach-service")
		if err != nil {
			log.Error().Stack().Err(err).Msg("NATS publisher unavailable")
			deps.close(log)
			return nil, err
		}
		deps.publisher = pub
	}
	return deps, nil
}

// buildRouter assembles the domain services and wires HTTP routes to them.
func buildRouter(deps *dependencies, cfg *config.Config, log zerolog.Logger) *mux.Router {
	l := ledger.New(deps.store)
	engine := triggers.NewEngine(deps.store.Rules(), l, log)

	opts := suggest.Options{
		Timeout:     cfg.GenerativeTimeout,
		CacheTTL:    cfg.SuggestCacheTTL,
		EventsMax:   cfg.SuggestEventsMax,
		MessagesMax: cfg.SuggestMsgsMax,
	}
	if deps.provider != nil {
		opts.Generative = suggest.NewGenerative(deps.provider)
	}
	if deps.cache != nil {
		opts.Cache = deps.cache
	}
	svc := suggest.NewService(l, opts, log)
	log.Info().Str("mode", svc.Mode()).Msg("suggestion service ready")

	return api.NewRouter(api.Deps{
		Store:   deps.store,
		Ledger:  l,
		Engine:  engine,
		Suggest: svc,
		Log:     log,
	})
}

// startHealthCheckers starts component checkers and service-level aggregator; binds health.
// The generative backend is not a checker: the service degrades to rules without it.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, deps *dependencies) *health.ServiceHealthChecker {
	var checkers []health.HealthChecker
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	storeChecker := store.NewStoreHealthChecker(deps.store, log, probeTimeout)
	go storeChecker.Start(ctx, interval)
	checkers = append(checkers, storeChecker)

	if deps.cache != nil {
		c := health.NewPingChecker("redis", deps.cache, log, probeTimeout)
		go c.Start(ctx, interval)
		checkers = append(checkers, c)
	}
	if deps.publisher != nil {
		c := health.NewPingChecker("nats", deps.publisher, log, probeTimeout)
		go c.Start(ctx, interval)
		checkers = append(checkers, c)
	}

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	api.BindServiceHealth(svcHealth.IsHealthy)
	api.BindComponentHealth(svcHealth.Components)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in seconds,
// calculated as interval*2 with a minimum of 60 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
