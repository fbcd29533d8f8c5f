package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/vadim/neo-inbox/internal/broker"
	"github.com/vadim/neo-inbox/internal/config"
	httpcontroller "github.com/vadim/neo-inbox/internal/controller/http"
	"github.com/vadim/neo-inbox/internal/database"
	directdao "github.com/vadim/neo-inbox/internal/domain/direct/dao"
	directpolicy "github.com/vadim/neo-inbox/internal/domain/direct/policy"
	directservice "github.com/vadim/neo-inbox/internal/domain/direct/service"
	notificationdao "github.com/vadim/neo-inbox/internal/domain/notification/dao"
	notificationpolicy "github.com/vadim/neo-inbox/internal/domain/notification/policy"
	notificationservice "github.com/vadim/neo-inbox/internal/domain/notification/service"
	"github.com/vadim/neo-inbox/internal/httpx/auth"
	"github.com/vadim/neo-inbox/internal/realtime/session"
	"github.com/vadim/neo-inbox/internal/realtime/transport"
	"github.com/vadim/neo-inbox/internal/storage"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Infrastructure; nil when not configured
	pg    *pgxpool.Pool
	redis *redis.Client
	blobs *storage.S3Storage

	transport transport.Transport
	verifier  *auth.Verifier

	// Domain policies (interfaces for HTTP handlers)
	directPolicy       *directpolicy.Policy
	notificationPolicy *notificationpolicy.Policy

	consumer *broker.Consumer
	bg       sync.WaitGroup
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	return New(ctx, cfg, logger)
}

// New creates the application with an explicit logger
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)

	app := &App{
		cfg:      cfg,
		router:   r,
		logger:   logger,
		verifier: auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
	}

	if err := app.initInfrastructure(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	if err := app.initDomains(ctx); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	if err := app.registerRoutes(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("registering routes: %w", err)
	}

	// No write timeout: websocket sessions are long-lived
	app.httpServer = &http.Server{
		Addr:        cfg.Server.Address(),
		Handler:     app.router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	return app, nil
}

// Handler returns the root HTTP handler
func (a *App) Handler() http.Handler { return a.router }

// initInfrastructure connects to the configured backing services
func (a *App) initInfrastructure(ctx context.Context) error {
	if dsn := a.cfg.Database.PostgresDSN; dsn != "" {
		pool, err := database.NewPostgresPool(ctx, dsn, database.PoolConfig{
			MaxConns:     int32(a.cfg.Database.MaxOpenConns),
			MinConns:     int32(a.cfg.Database.MaxIdleConns),
			ConnLifetime: a.cfg.Database.ConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.pg = pool

		if a.cfg.Database.AutoMigrate {
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return fmt.Errorf("applying schema: %w", err)
			}
		}
		a.logger.Info("connected to postgres")
	} else {
		a.logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	if url := a.cfg.Redis.URL; url != "" {
		client, err := database.NewRedisClient(ctx, url)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		a.redis = client
		a.transport = transport.NewRedis(client, 0)
		a.logger.Info("connected to redis")
	} else {
		a.transport = transport.NewHub(0)
		a.logger.Warn("REDIS_URL not set, push events stay in this process")
	}

	if a.cfg.S3.Enabled {
		blobs, err := storage.NewS3Storage(storage.S3Config{
			Endpoint:        a.cfg.S3.Endpoint,
			AccessKeyID:     a.cfg.S3.AccessKeyID,
			SecretAccessKey: a.cfg.S3.SecretAccessKey,
			Bucket:          a.cfg.S3.Bucket,
			Region:          a.cfg.S3.Region,
			PublicURL:       a.cfg.S3.PublicURL,
		})
		if err != nil {
			return fmt.Errorf("creating s3 storage: %w", err)
		}
		a.blobs = blobs
	}

	return nil
}

// initDomains initializes domain layers (DAO, Service, Policy)
func (a *App) initDomains(_ context.Context) error {
	var (
		convRepo        directservice.ConversationRepository
		participantRepo directservice.ParticipantRepository
		msgRepo         directservice.MessageRepository
		notifRepo       notificationservice.Repository
	)
	if a.pg != nil {
		convRepo = directdao.NewConversationPostgres(a.pg)
		participantRepo = directdao.NewParticipantPostgres(a.pg)
		msgRepo = directdao.NewMessagePostgres(a.pg)
		notifRepo = notificationdao.NewNotificationPostgres(a.pg)
	} else {
		store := directdao.NewMemoryStore()
		convRepo = store.Conversations()
		participantRepo = store.Participants()
		msgRepo = store.Messages()
		notifRepo = notificationdao.NewNotificationMemory()
	}

	feed := transport.NewFeed(a.transport)

	notifService := notificationservice.New(notifRepo, feed, a.logger.With("domain", "notification"))
	a.notificationPolicy = notificationpolicy.New(notifService, a.cfg.Realtime.OpTimeout)

	directService := directservice.New(convRepo, participantRepo, msgRepo, a.logger.With("domain", "direct")).
		WithFeed(feed).
		WithNotifier(&messageNotifierAdapter{notifications: notifService})
	if a.blobs != nil {
		directService.WithBlobStore(&blobStoreAdapter{storage: a.blobs})
	}
	a.directPolicy = directpolicy.New(directService, a.cfg.Realtime.OpTimeout)

	if a.cfg.Broker.URL != "" {
		a.consumer = broker.NewConsumer(broker.Config{
			URL:       a.cfg.Broker.URL,
			Queue:     a.cfg.Broker.Queue,
			Prefetch:  a.cfg.Broker.Prefetch,
			MaxRedial: a.cfg.Broker.Redial,
		}, a.notificationPolicy, a.logger.With("component", "broker"))
	}

	return nil
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() error {
	// Health check
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	// API documentation
	swaggerHandler, err := httpcontroller.NewSwaggerHandler("Neo-Inbox API", OpenAPISpec)
	if err != nil {
		return err
	}
	swaggerHandler.RegisterRoutes(a.router)

	// API v1
	a.router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.verifier.Middleware)

		// Realtime sessions outlive request timeouts
		httpcontroller.NewRealtimeHandler(a.transport, a.directPolicy, a.notificationPolicy, httpcontroller.RealtimeConfig{
			Supervisor: session.Config{
				Reconnect: session.Reconnect{
					Initial:     a.cfg.Realtime.ReconnectInitial,
					Max:         a.cfg.Realtime.ReconnectMax,
					MaxAttempts: a.cfg.Realtime.MaxReconnectAttempts,
				},
				ReconcileInterval: a.cfg.Realtime.ReconcileInterval,
			},
			Alerts:         a.cfg.Realtime.Alerts,
			OriginPatterns: a.cfg.Server.AllowedOrigins,
		}, a.logger.With("component", "realtime")).RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			httpcontroller.NewDirectHandler(a.directPolicy, a.cfg.S3.MaxUploadSize).RegisterRoutes(r)
			httpcontroller.NewNotificationHandler(a.notificationPolicy).RegisterRoutes(r)
			httpcontroller.NewSocialHandler(a.notificationPolicy).RegisterRoutes(r)
		})
	})

	return nil
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler checks connectivity to the configured backing services
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if a.pg != nil {
		if err := a.pg.Ping(ctx); err != nil {
			a.logger.Warn("postgres not ready", "error", err)
			http.Error(w, `{"status":"postgres unavailable"}`, http.StatusServiceUnavailable)
			return
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warn("redis not ready", "error", err)
			http.Error(w, `{"status":"redis unavailable"}`, http.StatusServiceUnavailable)
			return
		}
	}
	if a.blobs != nil {
		if err := a.blobs.Ping(ctx); err != nil {
			a.logger.Warn("s3 not ready", "error", err)
			http.Error(w, `{"status":"storage unavailable"}`, http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.consumer != nil {
		a.bg.Add(1)
		go func() {
			defer a.bg.Done()
			if err := a.consumer.Run(ctx); err != nil {
				a.logger.Error("broker consumer stopped", "error", err)
			}
		}()
	}

	// Channel to receive errors from server
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	cancel()
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Hijacked websocket connections end with their request contexts
	err := a.httpServer.Shutdown(shutdownCtx)

	a.bg.Wait()
	a.closeInfrastructure()

	if err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
