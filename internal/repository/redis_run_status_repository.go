package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shootsafe-server/internal/models"
)

const runStatusKeyPrefix = "run_status:"

type redisRunStatusRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// Проверка реализации интерфейса во время компиляции.
var _ RunStatusRepository = (*redisRunStatusRepository)(nil)

// NewRedisRunStatusRepository создает репозиторий статусов прогонов.
// Записи живут ttl и исчезают сами: источник истины — Postgres, Redis
// хранит только прогресс для polling'а.
func NewRedisRunStatusRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) RunStatusRepository {
	return &redisRunStatusRepository{
		client: client,
		ttl:    ttl,
		logger: logger.Named("RunStatusRepo"),
	}
}

// SetProgress перезаписывает прогресс прогона и продлевает TTL записи.
func (r *redisRunStatusRepository) SetProgress(ctx context.Context, progress models.RunProgress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать прогресс прогона: %w", err)
	}

	key := runStatusKeyPrefix + progress.RunID.String()
	if err := r.client.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		r.logger.Error("Error saving run progress", zap.Error(err), zap.String("run_id", progress.RunID.String()))
		return fmt.Errorf("не удалось сохранить прогресс прогона: %w", err)
	}
	return nil
}

// GetProgress возвращает прогресс прогона; истёкшая или отсутствующая
// запись — models.ErrNotFound.
func (r *redisRunStatusRepository) GetProgress(ctx context.Context, runID uuid.UUID) (*models.RunProgress, error) {
	payload, err := r.client.Get(ctx, runStatusKeyPrefix+runID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Error getting run progress", zap.Error(err), zap.String("run_id", runID.String()))
		return nil, fmt.Errorf("не удалось получить прогресс прогона: %w", err)
	}

	var progress models.RunProgress
	if err := json.Unmarshal(payload, &progress); err != nil {
		return nil, fmt.Errorf("не удалось распарсить прогресс прогона: %w", err)
	}
	return &progress, nil
}
