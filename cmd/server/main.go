package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shootsafe-server/internal/config"
	"shootsafe-server/internal/handler"
	"shootsafe-server/internal/logger"
	appMiddleware "shootsafe-server/internal/middleware"
	"shootsafe-server/internal/messaging"
	"shootsafe-server/internal/pipeline"
	"shootsafe-server/internal/refdata"
	"shootsafe-server/internal/repository"
	"shootsafe-server/internal/service"
	ws "shootsafe-server/internal/websocket"
	"shootsafe-server/migrations"
	"shootsafe-server/pkg/migration"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск API-сервера анализа сценариев...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	// Справочные таблицы: без них считать нечего, ошибка фатальна
	tables, err := refdata.Load()
	if err != nil {
		zapLogger.Fatal("Не удалось загрузить справочные таблицы", zap.Error(err))
	}

	dbPool, err := setupDatabase(cfg)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к БД", zap.Error(err))
	}
	defer dbPool.Close()
	zapLogger.Info("Успешное подключение к PostgreSQL")

	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, dbPool)
	if err := migrator.Up(context.Background()); err != nil {
		zapLogger.Fatal("Не удалось применить миграции", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		zapLogger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zapLogger.Info("Успешное подключение к Redis")

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zapLogger.Info("Успешное подключение к RabbitMQ")

	// Репозитории и сервис
	projectRepo := repository.NewPgProjectRepository(dbPool, zapLogger)
	runRepo := repository.NewPgAnalysisRunRepository(dbPool, zapLogger)
	statusRepo := repository.NewRedisRunStatusRepository(redisClient, cfg.RunStatusTTL, zapLogger)

	taskPublisher, err := messaging.NewTaskPublisher(rabbitConn, cfg.AnalysisQueue, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать TaskPublisher", zap.Error(err))
	}

	// What-if считается сервером синхронно и только детерминированно
	evaluator := pipeline.New(tables, nil, zapLogger)
	analysisService := service.NewAnalysisService(projectRepo, runRepo, statusRepo, taskPublisher, evaluator, zapLogger)

	// WebSocket-хаб получает обновления прогонов из очереди воркера
	hub := ws.NewHub(zapLogger)
	updateConsumer := messaging.NewRunUpdateConsumer(rabbitConn, cfg.RunUpdatesQueue, func(payload messaging.RunUpdatePayload) {
		message, err := json.Marshal(payload.Progress)
		if err != nil {
			zapLogger.Error("Failed to marshal run progress", zap.Error(err))
			return
		}
		hub.SendRunUpdate(payload.UserID, payload.Progress.RunID, message)
	}, zapLogger)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if err := updateConsumer.Start(consumerCtx); err != nil {
		zapLogger.Fatal("Не удалось запустить консьюмер обновлений", zap.Error(err))
	}

	// HTTP-сервер
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(appMiddleware.EchoZapLogger(zapLogger))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	httpHandler := handler.NewHTTPHandler(analysisService, zapLogger)
	api := e.Group("/api/v1", appMiddleware.JWTAuthMiddleware(cfg.JWTSecret))
	httpHandler.RegisterRoutes(api)

	wsHandler := handler.NewWSHandler(hub, cfg.JWTSecret, zapLogger)
	e.GET("/ws/runs/:id", wsHandler.ServeRunUpdates)

	go func() {
		addr := ":" + cfg.Port
		zapLogger.Info("HTTP server starting", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown error", zap.Error(err))
	}
	stopConsumer()
	updateConsumer.Stop()
	zapLogger.Info("Server stopped")
}

func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("не удалось разобрать DSN: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MaxConnIdleTime = cfg.DBIdleTimeout

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пул соединений: %w", err)
	}
	if err := dbPool.Ping(ctx); err != nil {
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
