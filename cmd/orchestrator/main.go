package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/kavindya12/soa-microservices-platform/internal/adapter/cache"
	"github.com/kavindya12/soa-microservices-platform/internal/adapter/collaborator"
	"github.com/kavindya12/soa-microservices-platform/internal/bootstrap"
	"github.com/kavindya12/soa-microservices-platform/internal/broker"
	"github.com/kavindya12/soa-microservices-platform/internal/config"
	httptransport "github.com/kavindya12/soa-microservices-platform/internal/http"
	"github.com/kavindya12/soa-microservices-platform/internal/http/handler"
	httpmiddleware "github.com/kavindya12/soa-microservices-platform/internal/http/middleware"
	"github.com/kavindya12/soa-microservices-platform/internal/jwt"
	apimiddleware "github.com/kavindya12/soa-microservices-platform/internal/middleware"
	"github.com/kavindya12/soa-microservices-platform/internal/password"
	"github.com/kavindya12/soa-microservices-platform/internal/repository"
	"github.com/kavindya12/soa-microservices-platform/internal/saga"
	"github.com/kavindya12/soa-microservices-platform/internal/server"
	authservice "github.com/kavindya12/soa-microservices-platform/internal/service/auth"
	"github.com/kavindya12/soa-microservices-platform/internal/telemetry"
	"github.com/kavindya12/soa-microservices-platform/internal/workflow"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newHasher,
			newClientRegistry,
			newTokenStores,
			newKeyManager,
			newTokenGenerator,
			authservice.NewTokenService,
			newAuthMiddleware,
			newWorkflowStore,
			newBrokerGateway,
			newCollaborators,
			newTracker,
			newOrchestrator,
			newRateLimiter,
			newHandlers,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startSaga, startJanitors, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newHasher() *password.Hasher {
	return password.NewHasher(password.DefaultParams)
}

func newClientRegistry(cfg config.Config, hasher *password.Hasher) (repository.ClientRegistry, error) {
	return repository.NewStaticClientRegistry(cfg.OAuthClients, hasher)
}

// newTokenStores keeps grants and access tokens in Postgres when DATABASE_URL is set, in memory otherwise.
func newTokenStores(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.GrantStore, repository.AccessTokenStore, error) {
	if cfg.DatabaseURL == "" {
		return repository.NewMemoryGrantStore(), repository.NewMemoryTokenStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	logger.Info("oauth state stored in postgres")
	return repository.NewPostgresGrantStore(pool), repository.NewPostgresTokenStore(pool), nil
}

func newKeyManager(cfg config.Config) (*jwt.KeyManager, error) {
	return jwt.NewKeyManager(cfg.JWTKeyID, []byte(cfg.JWTSigningKey), cfg.JWTPreviousKeys)
}

func newTokenGenerator(manager *jwt.KeyManager, cfg config.Config, node *snowflake.Node) *jwt.Generator {
	return jwt.NewGenerator(manager, cfg.JWTIssuer, cfg.ClaimsTTL, node)
}

func newAuthMiddleware(tokens *authservice.TokenService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Verifier: tokens}
}

func newWorkflowStore(lc fx.Lifecycle, cfg config.Config) (workflow.Store, error) {
	if cfg.ContextStore != "redis" {
		return workflow.NewMemoryStore(cfg.ContextTTL), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return cacheadapter.NewRedisWorkflowStore(client, cfg.ContextTTL), nil
}

func newBrokerGateway(cfg config.Config, logger *zap.Logger) *broker.Gateway {
	var dial broker.Dialer
	switch cfg.BrokerDriver {
	case "sqs":
		dial = broker.DialSQS(cfg.SQSRegion, cfg.SQSEndpoint, logger)
	case "memory":
		dial = broker.DialMemory(broker.NewMemoryDriver(logger))
	default:
		dial = broker.DialAMQP(cfg.RabbitMQURL, logger)
	}
	return broker.NewGateway(dial, cfg.BrokerConnectAttempts, cfg.BrokerConnectDelay, logger)
}

// newCollaborators authenticates outbound calls with claims minted for this service's own identity.
func newCollaborators(cfg config.Config, tokens *authservice.TokenService) saga.Collaborators {
	source := func(ctx context.Context) (string, error) {
		return tokens.MintServiceClaims(ctx, cfg.ServiceIdentity, "read write")
	}
	return collaborator.NewHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}, collaborator.Endpoints{
		Orders:   cfg.OrdersURL,
		Payments: cfg.PaymentsURL,
		Shipping: cfg.ShippingURL,
		Catalog:  cfg.CatalogURL,
	}, source)
}

func newTracker(cfg config.Config) *saga.Tracker {
	return saga.NewTracker(cfg.ContextTTL)
}

func newOrchestrator(gateway *broker.Gateway, store workflow.Store, tracker *saga.Tracker, collab saga.Collaborators, logger *zap.Logger) *saga.Orchestrator {
	return saga.NewOrchestrator(gateway, store, tracker, collab, logger)
}

func newRateLimiter(cfg config.Config, logger *zap.Logger) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM, logger)
}

func newHandlers(gateway *broker.Gateway, tokens *authservice.TokenService, orchestrator *saga.Orchestrator, logger *zap.Logger) httptransport.Handlers {
	return httptransport.Handlers{
		System:   handler.NewSystemHandler(gateway),
		OAuth:    handler.NewOAuthHandler(tokens),
		Workflow: handler.NewWorkflowHandler(orchestrator, handler.NewValidator(), logger),
	}
}

func startSaga(lc fx.Lifecycle, gateway *broker.Gateway, orchestrator *saga.Orchestrator, logger *zap.Logger) {
	bootstrap.StartSaga(lc, gateway, orchestrator, logger)
}

func startJanitors(lc fx.Lifecycle, tokens *authservice.TokenService, store workflow.Store, tracker *saga.Tracker, logger *zap.Logger) {
	bootstrap.StartJanitors(lc, tokens, store, tracker, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
