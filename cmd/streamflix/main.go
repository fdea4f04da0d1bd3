package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/streamflix/backend/internal/api/rest"
	"github.com/streamflix/backend/internal/config"
	"github.com/streamflix/backend/internal/db"
	"github.com/streamflix/backend/internal/kafka"
	"github.com/streamflix/backend/internal/metrics"
	"github.com/streamflix/backend/internal/middleware"
	"github.com/streamflix/backend/internal/queue"
	"github.com/streamflix/backend/internal/repository"
	"github.com/streamflix/backend/internal/services"
	"github.com/streamflix/backend/internal/stripe"
	"github.com/streamflix/backend/pkg/logger"
)

func main() {
	// Контекст жизни фоновых процессов, отменяется при shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := initLogger()
	log.Infow("Streamflix backend starting up...")

	cfg, err := config.LoadConfig("config.yml")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}
	if cfg.Auth.JWTSecret == "" || cfg.Auth.JWTSecret == "YourVerySecretKeyHere" {
		log.Warnw("JWT Secret is not set or is using the default placeholder!")
	}
	if cfg.Stripe.APIKey == "" || cfg.Stripe.APIKey == "sk_test_YourSecretKeyHere" {
		log.Warnw("Stripe API Key is not set or is using the default placeholder!")
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Подключаемся к базе данных
	dbClient, err := db.NewDBClient(cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Errorw("Error closing database connection", "error", err)
		}
	}()
	log.Infow("Database connection established")

	// Инициализируем Redis кеш
	redisCache, err := repository.NewRedisCacheRepository(
		cfg.Redis.Addr,
		cfg.Redis.Password,
		cfg.Redis.DB,
		log,
	)
	if err != nil {
		// Не фатально, но предупреждаем
		log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
		redisCache = nil
	} else {
		log.Infow("Redis cache initialized successfully")
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Errorw("Error closing Redis connection", "error", err)
			}
		}()
	}

	// Хранилища
	baseStore := repository.NewPostgresSubscriptionStore(dbClient.DB(), log)
	var subscriptionStore repository.SubscriptionStore
	if redisCache != nil {
		subscriptionStore = repository.NewCachedSubscriptionStore(baseStore, redisCache, log)
		log.Infow("Using cached subscription store")
	} else {
		subscriptionStore = baseStore
		log.Infow("Using non-cached subscription store")
	}
	watchHistoryStore := repository.NewPostgresWatchHistoryStore(dbClient.DB(), log)

	// Клиент платежного провайдера
	stripeClient := stripe.NewStripeClient(
		cfg.Stripe.APIKey,
		cfg.Stripe.Currency,
		cfg.Stripe.SuccessURL,
		cfg.Stripe.CancelURL,
		log,
	)
	eventParser := stripe.NewEventParser(cfg.Stripe.WebhookSecret, log)

	// Kafka producer, при недоступности брокера работаем без публикации событий
	var kafkaProducer kafka.Producer
	if err := kafka.EnsureKafkaTopics(cfg.Kafka.Brokers, log); err != nil {
		log.Errorw("Failed to ensure Kafka topics, continuing without event publishing", "error", err)
		kafkaProducer = &kafka.NoOpProducer{}
	} else if kafkaProducer, err = kafka.NewKafkaProducer(cfg.Kafka.Brokers, log); err != nil {
		log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		kafkaProducer = &kafka.NoOpProducer{}
	} else {
		log.Infow("Kafka producer initialized")
		defer func() {
			if err := kafkaProducer.Close(); err != nil {
				log.Errorw("Error closing Kafka producer", "error", err)
			}
		}()
	}

	// Метрики
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	streamingMetrics := metrics.NewStreamingMetrics(registry, log)

	// Сервисы
	progressQueue := queue.NewProgressQueue()
	subscriptionService := services.NewSubscriptionService(subscriptionStore, stripeClient, kafkaProducer, streamingMetrics, log)
	progressService := services.NewProgressService(progressQueue, watchHistoryStore, streamingMetrics, log)

	// Фоновые процессы: писатель прогресса и процесс истечения подписок
	progressWriter := services.NewProgressWriter(
		progressQueue,
		watchHistoryStore,
		kafkaProducer,
		streamingMetrics,
		log,
		cfg.Progress.FlushInterval,
		cfg.Progress.BatchSize,
		cfg.Progress.StoreTimeout,
	)
	expirationSweeper := services.NewExpirationSweeper(
		subscriptionStore,
		kafkaProducer,
		streamingMetrics,
		log,
		cfg.Sweeper.Interval,
		cfg.Sweeper.StoreTimeout,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		progressWriter.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		expirationSweeper.Run(ctx)
	}()

	// HTTP сервер
	validator := &middleware.DefaultTokenValidator{
		Secret: []byte(cfg.Auth.JWTSecret),
	}
	router := rest.SetupRouter(rest.RouterDeps{
		Subscription: subscriptionService,
		Progress:     progressService,
		EventParser:  eventParser,
		Auth:         middleware.NewJWTMiddleware(log, validator),
		Registry:     registry,
		Log:          log,
	})
	server := rest.NewServer(router, cfg, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	}

	// Останавливаем фоновые процессы; писатель прогресса успеет сбросить очередь
	cancel()
	wg.Wait()

	log.Infow("Cleanup finished. Goodbye!")
}

// initLogger инициализирует логгер по переменной окружения LOG_LEVEL
func initLogger() *logger.Logger {
	logLevel := logger.INFO
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = logger.DEBUG
	}
	return logger.New(logLevel)
}
