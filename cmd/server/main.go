package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"manga-server/internal/config"
	"manga-server/internal/database"
	"manga-server/internal/feedback"
	"manga-server/internal/generator"
	"manga-server/internal/handler"
	"manga-server/internal/history"
	"manga-server/internal/hub"
	"manga-server/internal/messaging"
	"manga-server/internal/pipeline"
	"manga-server/internal/service"
	"manga-server/migrations"
	pkglogger "manga-server/pkg/logger"
	"manga-server/pkg/migration"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск Manga Server...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("Logger initialized", zap.String("log_level", cfg.LogLevel))

	// Подключение к PostgreSQL
	dbPool, err := setupDatabase(cfg)
	if err != nil {
		logger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()
	logger.Info("Успешное подключение к PostgreSQL")

	// Миграции
	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, dbPool)
	if err := migrator.Up(context.Background()); err != nil {
		logger.Fatal("Ошибка применения миграций", zap.Error(err))
	}
	logger.Info("Миграции применены")

	// Подключение к RabbitMQ
	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	logger.Info("Успешное подключение к RabbitMQ")

	// Подключение к Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	{
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
		}
		cancel()
	}
	logger.Info("Успешное подключение к Redis")

	// Репозитории
	sessionRepo := database.NewPgSessionRepository(dbPool, logger)
	phaseResultRepo := database.NewPgPhaseResultRepository(dbPool, logger)
	versionRepo := database.NewPgPreviewVersionRepository(dbPool, logger)
	feedbackRepo := database.NewPgUserFeedbackRepository(dbPool, logger)

	// Realtime-контур: хаб, история событий, паблишер и консьюмер очереди
	sessionHub := hub.NewSessionHub(cfg.SubscriberBufferSize, logger)
	eventHistory := history.NewEventHistory(redisClient, int(cfg.EventHistorySize), cfg.EventHistoryTTL, logger)

	eventPublisher, err := messaging.NewRabbitMQEventPublisher(rabbitConn, cfg.ClientUpdatesQueueName, logger)
	if err != nil {
		logger.Fatal("Не удалось создать EventPublisher", zap.Error(err))
	}

	eventConsumer := messaging.NewConsumer(rabbitConn, sessionHub, eventHistory, cfg.ClientUpdatesQueueName, logger)
	go func() {
		if err := eventConsumer.StartConsuming(); err != nil {
			logger.Error("Консьюмер событий завершился с ошибкой", zap.Error(err))
		}
	}()

	// Ядро пайплайна
	aiClient, err := generator.NewAIClient(cfg, logger)
	if err != nil {
		logger.Fatal("Не удалось создать AI клиент", zap.Error(err))
	}
	phaseGenerator := generator.NewPhaseGenerator(aiClient, logger)

	register := feedback.NewRegister(logger)
	applier := feedback.NewApplier(feedbackRepo, dbPool, logger)
	backoff := pipeline.ExponentialBackoff(cfg.PhaseRetryBaseDelay)
	guard := pipeline.NewGuard(sessionRepo, dbPool, eventPublisher, backoff, logger)
	orchestrator := pipeline.NewOrchestrator(
		dbPool, sessionRepo, phaseResultRepo, versionRepo,
		register, applier, phaseGenerator, eventPublisher, guard, cfg, backoff, logger)

	reconcilerCtx, stopReconciler := context.WithCancel(context.Background())
	defer stopReconciler()
	reconciler := pipeline.NewReconciler(dbPool, sessionRepo, eventPublisher,
		cfg.ReconcileInterval, cfg.StaleSessionTimeout, logger)
	go reconciler.Start(reconcilerCtx)

	// Сервисный слой и HTTP
	sessionService := service.NewSessionService(
		dbPool, sessionRepo, phaseResultRepo, versionRepo, feedbackRepo,
		register, orchestrator, eventHistory, cfg, logger)

	wsHandler := hub.NewWSHandler(sessionHub, sessionService, eventHistory, cfg.JWTSecret, logger)
	sessionHandler := handler.NewSessionHandler(sessionService, wsHandler, cfg.JWTSecret, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(handler.ZapLoggingMiddleware(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	sessionHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		logger.Info("HTTP сервер слушает", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Ошибка запуска HTTP сервера", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Получен сигнал завершения, начинаем graceful shutdown...")

	eventConsumer.Stop()
	stopReconciler()
	sessionService.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ошибка при graceful shutdown HTTP сервера", zap.Error(err))
	}

	logger.Info("Manga Server успешно остановлен")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	return pkglogger.New(pkglogger.Config{
		Level: cfg.LogLevel,
	})
}

// setupDatabase инициализирует и возвращает пул соединений с БД
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул соединений: %w", err)
	}
	if err = dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("не удалось подключиться к БД (ping failed): %w", err)
	}
	return dbPool, nil
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Не удалось подключиться к RabbitMQ",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}
