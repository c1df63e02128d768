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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-core/internal/config"
	"messaging-core/internal/db"
	"messaging-core/internal/handlers"
	"messaging-core/internal/middleware"
	"messaging-core/internal/notifications"
	"messaging-core/internal/observability"
	"messaging-core/internal/rabbitmq"
	"messaging-core/internal/realtime"
	"messaging-core/internal/repositories"
	"messaging-core/internal/repositories/embedded"
	"messaging-core/internal/services"
	"messaging-core/internal/telemetry"
	"messaging-core/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "messaging-core: %v\n", err)
		os.Exit(1)
	}
}

type backend struct {
	rooms         repositories.RoomRepository
	messages      repositories.MessageRepository
	notifications repositories.NotificationRepository
	directory     repositories.DirectoryRepository
	close         func() error
}

func openBackend(cfg *config.Config, log zerolog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverBadger:
		store, err := embedded.Open(cfg.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		return &backend{rooms: store, messages: store, notifications: store, directory: store, close: store.Close}, nil
	case config.DriverPostgres:
		database, err := db.Connect(cfg.DatabaseDSN, log)
		if err != nil {
			return nil, err
		}
		return &backend{
			rooms:         repositories.NewRoomRepo(database),
			messages:      repositories.NewMessageRepo(database),
			notifications: repositories.NewNotificationRepo(database),
			directory:     repositories.NewDirectoryRepo(database),
			close:         database.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := observability.NewLogger(cfg.IsDevelopment(), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	store, err := openBackend(cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	log.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	bus := realtime.NewBus(store.messages, realtime.Config{
		QueueSize:    cfg.BusQueueSize,
		PageSize:     cfg.BusPageSize,
		PollInterval: cfg.BusPollInterval,
	}, log)

	var notifier services.Notifier = bus
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		relay := realtime.NewRedisRelay(bus, redisClient, realtime.DefaultRelayChannel, log)
		notifier = relay
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error().Err(err).Msg("redis relay stopped")
			}
		}()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	audit := telemetry.NewAuditEmitter(publisher, "audit.messaging", cfg.ServiceName, cfg.Env, log)

	resolver := services.NewRoomResolver(store.rooms, log)
	messages := services.NewMessageStore(store.rooms, store.messages, notifier, services.MessageStoreConfig{
		DefaultPageSize:  cfg.MessagePageSize,
		MaxPageSize:      cfg.MessagePageMax,
		MaxContentLength: cfg.MaxMessageLength,
	}, log)
	emitter := notifications.NewEmitter(store.notifications, store.directory, publisher, notifications.Config{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
	}, log)

	validator := middleware.NewTokenValidator(cfg.JWTSecret)
	hub := ws.NewHub(publisher, log)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(log),
		otelgin.Middleware(cfg.ServiceName), observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))
	router.GET("/ws/rooms/:room_id", ws.NewRoomWebSocketHandler(hub, messages, bus, validator, log).Handle)

	api := router.Group("/", middleware.AuthMiddleware(validator))
	handlers.NewRoomHandler(resolver, messages, audit).Register(api)
	handlers.NewNotificationHandler(emitter).Register(api)
	handlers.RegisterDebugRoutes(api, audit, cfg.IsDevelopment())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	bus.Close()
	hub.CloseAll()
	if err := emitter.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("notification emitter did not drain")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = publisher.Close()
	if err := store.close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown failed")
	}
	return nil
}
