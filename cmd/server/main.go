package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/mahdimonir/professionals-bd-sub001/internal/config"
	"github.com/mahdimonir/professionals-bd-sub001/internal/db"
	"github.com/mahdimonir/professionals-bd-sub001/internal/events"
	"github.com/mahdimonir/professionals-bd-sub001/internal/gateway"
	"github.com/mahdimonir/professionals-bd-sub001/internal/goroutine"
	httpHandlers "github.com/mahdimonir/professionals-bd-sub001/internal/http/handlers"
	"github.com/mahdimonir/professionals-bd-sub001/internal/http/middleware"
	httpRouter "github.com/mahdimonir/professionals-bd-sub001/internal/http/router"
	"github.com/mahdimonir/professionals-bd-sub001/internal/invoice"
	"github.com/mahdimonir/professionals-bd-sub001/internal/logger"
	"github.com/mahdimonir/professionals-bd-sub001/internal/metrics"
	"github.com/mahdimonir/professionals-bd-sub001/internal/mq"
	"github.com/mahdimonir/professionals-bd-sub001/internal/repository"
	"github.com/mahdimonir/professionals-bd-sub001/internal/service"
	"github.com/mahdimonir/professionals-bd-sub001/internal/slots"
	"github.com/mahdimonir/professionals-bd-sub001/internal/storage"
	"github.com/mahdimonir/professionals-bd-sub001/internal/ws"
)

const (
	webhookRateLimit    = 300
	sideEffectTimeout   = 30 * time.Second
	gatewayRetryBackoff = 500 * time.Millisecond
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}
	metrics.Register()

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("main: redis недоступен: %v", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Printf("main: ошибка закрытия redis: %v", err)
			}
		}()
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret)

	artifacts, err := storage.NewArtifactStorage(cfg.ArtifactStoragePath, 0)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	// Репозитории.
	bookingRepo := repository.NewBookingRepository(dbConn)
	paymentRepo := repository.NewPaymentRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	auditRepo := repository.NewAuditRepository(dbConn)
	directoryRepo := repository.NewDirectoryRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Уведомления: база, вебсокеты и, если настроен, брокер.
	notificationService := service.NewNotificationService(notificationRepo)

	hub := ws.NewHub()
	go hub.Run(ctx)

	sinks := []events.Sink{notificationService, ws.NewSink(hub)}
	if cfg.RabbitMQURL != "" {
		publisher, err := mq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			log.Fatalf("main: ошибка подключения к rabbitmq: %v", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Printf("main: ошибка закрытия rabbitmq: %v", err)
			}
		}()
		sinks = append(sinks, mq.NewSink(publisher))
	}

	dispatcher := events.NewDispatcher(events.Options{
		QueueSize:  cfg.NotifyQueueSize,
		RatePerSec: cfg.NotifyRatePerSec,
	}, sinks...)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// Сервисы.
	conflicts := service.NewConflictResolver(bookingRepo, cfg.HoldWindow)
	slotGenerator := slots.NewGenerator(conflicts, cfg.SlotDuration)
	bookingService := service.NewBookingService(bookingRepo, directoryRepo, conflicts, slotGenerator, dispatcher, service.BookingOptions{
		MinDuration:      cfg.MinBookingDuration,
		MaxHoldRefreshes: cfg.HoldMaxRefreshes,
	})

	runner := goroutine.NewAsyncRunner(goroutine.DefaultRecoveryHandler, sideEffectTimeout)
	paymentService := service.NewPaymentService(
		paymentRepo,
		bookingService,
		buildGateways(cfg),
		invoice.NewGenerator(artifacts, cfg.PublicBaseURL),
		dispatcher,
		runner,
		cfg.PaymentCurrency,
	)
	disputeService := service.NewDisputeService(disputeRepo, paymentRepo, bookingService, auditRepo, dispatcher)

	// Ограничение частоты запросов.
	apiStore, err := middleware.NewRateLimitStore(rdb, "consult_api")
	if err != nil {
		log.Fatalf("main: ошибка хранилища rate limit: %v", err)
	}
	webhookStore, err := middleware.NewRateLimitStore(rdb, "consult_webhook")
	if err != nil {
		log.Fatalf("main: ошибка хранилища rate limit: %v", err)
	}

	// HTTP хэндлеры.
	healthHandler := httpHandlers.NewHealthHandler(dbConn, rdb)
	bookingHandler := httpHandlers.NewBookingHandler(bookingService)
	paymentHandler := httpHandlers.NewPaymentHandler(paymentService, artifacts)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins)

	// Роутер.
	engine := httpRouter.SetupRouter(
		cfg,
		tokenManager,
		middleware.RateLimitMiddleware(apiStore, cfg.RateLimitLimit, cfg.RateLimitPeriod),
		middleware.RateLimitMiddleware(webhookStore, webhookRateLimit, time.Minute),
		healthHandler,
		bookingHandler,
		paymentHandler,
		disputeHandler,
		notificationHandler,
		wsHandler,
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// buildGateways собирает адаптеры включённых шлюзов.
func buildGateways(cfg *config.Config) *gateway.Registry {
	opts := gateway.HTTPOptions{
		Timeout: cfg.GatewayTimeout,
		Retries: cfg.GatewayRetries,
		Backoff: gatewayRetryBackoff,
	}

	var adapters []gateway.Adapter
	if s := cfg.Gateways.SSLCommerz; s != nil && s.Enabled {
		adapters = append(adapters, gateway.NewSSLCommerz(gateway.SSLCommerzConfig{
			BaseURL:       s.BaseURL,
			StoreID:       s.StoreID,
			StorePassword: s.StorePassword,
			SuccessURL:    s.SuccessURL,
			FailURL:       s.FailURL,
			CancelURL:     s.CancelURL,
			IPNURL:        s.IPNURL,
		}, opts))
	}
	if b := cfg.Gateways.BKash; b != nil && b.Enabled {
		adapters = append(adapters, gateway.NewBKash(gateway.BKashConfig{
			BaseURL:     b.BaseURL,
			AppKey:      b.AppKey,
			AppSecret:   b.AppSecret,
			Username:    b.Username,
			Password:    b.Password,
			CallbackURL: b.CallbackURL,
		}, opts))
	}
	if len(adapters) == 0 {
		log.Printf("main: платёжные шлюзы не настроены, оплата недоступна")
	}
	return gateway.NewRegistry(adapters...)
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
