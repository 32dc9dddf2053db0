package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/centrifugal/centrifuge"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/adapter/gateway"
	"github.com/pscheid92/fanout/internal/adapter/httpserver"
	"github.com/pscheid92/fanout/internal/adapter/memory"
	"github.com/pscheid92/fanout/internal/adapter/postgres"
	"github.com/pscheid92/fanout/internal/adapter/redis"
	"github.com/pscheid92/fanout/internal/adapter/websocket"
	"github.com/pscheid92/fanout/internal/app"
	"github.com/pscheid92/fanout/internal/broadcast"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/metrics"
	"github.com/pscheid92/fanout/internal/platform/config"
	"github.com/pscheid92/fanout/internal/platform/logging"
	"github.com/pscheid92/fanout/internal/platform/retry"
	"github.com/pscheid92/fanout/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

// transport is the realtime side of the process: it owns client sockets,
// delivers payloads to them and serves the upgrade endpoint.
type transport struct {
	sender  domain.Sender
	handler http.Handler
	close   func(ctx context.Context)
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := retry.Do(ctx, withRetryLog(retry.Startup, "postgres"), retry.Transient, func(ctx context.Context) (*pgxpool.Pool, error) {
		return postgres.Connect(ctx, cfg.DatabaseURL)
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := retry.Do(ctx, withRetryLog(retry.Startup, "redis"), retry.Transient, func(ctx context.Context) (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func withRetryLog(p retry.Policy, backend string) retry.Policy {
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Backend not ready, retrying", "backend", backend, "attempt", attempt, "backoff", backoff, "error", err)
	}
	return p
}

// setupStore returns the directory for one broadcast endpoint. Endpoints never
// share records: a sender only knows the connections its own side registered.
func setupStore(redisClient *goredis.Client, endpoint string) domain.ConnectionStore {
	if redisClient == nil {
		slog.Warn("REDIS_URL not set, connection directory is process-local", "endpoint", endpoint)
		return memory.NewConnectionStore()
	}
	return redis.NewConnectionStore(redisClient, endpoint)
}

func setupWebSocket(cfg *config.Config, lifecycle *app.Lifecycle, clock clockwork.Clock) transport {
	limits := websocket.NewConnectionLimits(int64(cfg.MaxWebSocketConnections), 0)
	hub := websocket.NewHub(lifecycle, limits, websocket.NewCheckOrigin(cfg.AppURL, !cfg.IsProduction()), clock)
	return transport{
		sender:  hub,
		handler: hub,
		close:   func(context.Context) { hub.Close() },
	}
}

func setupCentrifuge(cfg *config.Config, lifecycle *app.Lifecycle, redisClient *goredis.Client) transport {
	node, err := websocket.NewNode(lifecycle, cfg.LogLevel)
	if err != nil {
		slog.Error("Failed to create centrifuge node", "error", err)
		os.Exit(1)
	}

	if redisClient != nil {
		if err := websocket.SetupRedis(node, redisClient.Options().Addr); err != nil {
			slog.Error("Failed to set up centrifuge redis engine", "error", err)
			os.Exit(1)
		}
	}

	if err := node.Run(); err != nil {
		slog.Error("Failed to run centrifuge node", "error", err)
		os.Exit(1)
	}

	handler := centrifuge.NewWebsocketHandler(node, centrifuge.WebsocketConfig{
		CheckOrigin: websocket.NewCheckOrigin(cfg.AppURL, !cfg.IsProduction()),
	})
	return transport{
		sender:  websocket.NewNodeSender(node),
		handler: handler,
		close: func(ctx context.Context) {
			if err := node.Shutdown(ctx); err != nil {
				slog.Error("Centrifuge shutdown error", "error", err)
			}
		},
	}
}

func healthChecks(redisClient *goredis.Client, pool *pgxpool.Pool) []httpserver.HealthCheck {
	var checks []httpserver.HealthCheck
	if redisClient != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	if pool != nil {
		checks = append(checks, httpserver.HealthCheck{
			Name:  "postgres",
			Check: pool.Ping,
		})
	}
	return checks
}

func broadcastConfig(cfg *config.Config, endpoint string) broadcast.Config {
	return broadcast.Config{
		Transport:       endpoint,
		Concurrency:     cfg.BroadcastConcurrency,
		DeliveryTimeout: cfg.BroadcastDeliveryTimeout,
	}
}

// newHTTPServer wires the broadcasters and the HTTP surface. The local
// endpoint delivers through the process transport over localStore. When
// gatewaySender is set, the /connections routes register into gatewayStore
// and the gateway endpoint delivers to exactly those records.
func newHTTPServer(cfg *config.Config, clock clockwork.Clock, rt transport, localStore domain.ConnectionStore,
	gatewayStore domain.ConnectionStore, gatewaySender domain.Sender, logins app.LoginChecker, checks []httpserver.HealthCheck,
) *httpserver.Server {
	local := broadcast.NewBroadcaster(localStore, rt.sender, clock, broadcastConfig(cfg, domain.EndpointLocal))

	if gatewaySender == nil {
		slog.Info("GATEWAY_ENDPOINT not set, HTTP connection routes are disabled")
		return httpserver.NewServer(cfg, nil, httpserver.Broadcasters(local, nil), rt.handler, checks)
	}

	remote := broadcast.NewBroadcaster(gatewayStore, gatewaySender, clock, broadcastConfig(cfg, domain.EndpointGateway))
	connections := app.NewLifecycle(gatewayStore, logins)
	return httpserver.NewServer(cfg, connections, httpserver.Broadcasters(local, remote), rt.handler, checks)
}

func runGracefulShutdown(srv *httpserver.Server, rt transport) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		rt.close(shutdownCtx)
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.Get()
	metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.BuildTime, info.GoVersion).Set(1)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "transport", cfg.Transport, "version", info.Version)

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient = setupRedis(cfg)
		defer func() { _ = redisClient.Close() }()
	}
	// logins stays a nil interface without a database to avoid a typed-nil LoginChecker
	var (
		pool   *pgxpool.Pool
		logins app.LoginChecker
	)
	if cfg.TenantAuthEnabled() {
		pool = setupDB(cfg)
		defer pool.Close()

		tenants := app.NewTenantDirectory(postgres.NewTenantRepo(pool), cfg.TenantCacheTTL, clock)
		stopEviction := tenants.StartEvictionTimer(time.Minute)
		defer stopEviction()
		logins = tenants
	} else {
		slog.Info("DATABASE_URL not set, tenant logins are rejected")
	}

	localStore := setupStore(redisClient, domain.EndpointLocal)
	lifecycle := app.NewLifecycle(localStore, logins)

	var rt transport
	switch cfg.Transport {
	case config.TransportCentrifuge:
		rt = setupCentrifuge(cfg, lifecycle, redisClient)
	default:
		rt = setupWebSocket(cfg, lifecycle, clock)
	}

	var (
		gatewayStore  domain.ConnectionStore
		gatewaySender domain.Sender
	)
	if cfg.GatewayEndpoint != "" {
		gatewayStore = setupStore(redisClient, domain.EndpointGateway)
		gatewaySender = gateway.NewSender(cfg.GatewayEndpoint, nil)
	}

	srv := newHTTPServer(cfg, clock, rt, localStore, gatewayStore, gatewaySender, logins, healthChecks(redisClient, pool))

	done := runGracefulShutdown(srv, rt)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
