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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shootsafe-server/internal/config"
	"shootsafe-server/internal/logger"
	"shootsafe-server/internal/messaging"
	"shootsafe-server/internal/pipeline"
	"shootsafe-server/internal/refdata"
	"shootsafe-server/internal/repository"
	"shootsafe-server/internal/worker"
	"shootsafe-server/pkg/ai"
)

func main() {
	_ = godotenv.Load()
	log.Println("Запуск воркера анализа сценариев...")

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		zapLogger.Fatal("Не удалось подключиться к Redis", zap.Error(err))
	}
	defer redisClient.Close()

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось подключиться к RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zapLogger.Info("Успешное подключение к RabbitMQ")

	// LLM-клиент опционален: без него пайплайн работает чисто детерминированно
	var llm pipeline.ModelCaller
	if cfg.AIEnabled {
		aiClient, err := ai.New(ai.Config{
			APIKey:     cfg.AIAPIKey,
			BaseURL:    cfg.AIBaseURL,
			ModelName:  cfg.AIModelName,
			Timeout:    cfg.AITimeout,
			MaxRetries: cfg.AIMaxRetries,
		})
		if err != nil {
			zapLogger.Fatal("Не удалось создать LLM-клиент", zap.Error(err))
		}
		llm = aiClient
		zapLogger.Info("LLM client initialized", zap.String("model", cfg.AIModelName))
	} else {
		zapLogger.Info("AI disabled, running deterministic pipeline only")
	}

	projectRepo := repository.NewPgProjectRepository(dbPool, zapLogger)
	runRepo := repository.NewPgAnalysisRunRepository(dbPool, zapLogger)
	statusRepo := repository.NewRedisRunStatusRepository(redisClient, cfg.RunStatusTTL, zapLogger)

	updatePublisher, err := messaging.NewRunUpdatePublisher(rabbitConn, cfg.RunUpdatesQueue, zapLogger)
	if err != nil {
		zapLogger.Fatal("Не удалось создать RunUpdatePublisher", zap.Error(err))
	}

	analysisPipeline := pipeline.New(tables, llm, zapLogger)
	processor := worker.NewProcessor(projectRepo, runRepo, statusRepo, updatePublisher, analysisPipeline, zapLogger)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	consumer := messaging.NewTaskConsumer(rabbitConn, cfg.AnalysisQueue, cfg.ConsumerPrefetch, processor.HandleTask, zapLogger)
	if err := consumer.Start(consumerCtx); err != nil {
		zapLogger.Fatal("Не удалось запустить консьюмер задач", zap.Error(err))
	}

	// Метрики и health-check воркера
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metricsServer := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		zapLogger.Info("Metrics server starting", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Metrics server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutdown signal received")

	stopConsumer()
	consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Metrics server shutdown error", zap.Error(err))
	}
	zapLogger.Info("Worker stopped")
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
