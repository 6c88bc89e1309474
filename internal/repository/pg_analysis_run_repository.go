package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"shootsafe-server/internal/models"
)

const (
	createRunQuery = `
        INSERT INTO analysis_runs (id, project_id, status)
        VALUES ($1, $2, $3)
        RETURNING created_at, updated_at
    `
	getRunByIDQuery = `
        SELECT id, project_id, status, result, error_message, created_at, updated_at
        FROM analysis_runs WHERE id = $1
    `
	listRunsByProjectQuery = `
        SELECT id, project_id, status, result, error_message, created_at, updated_at
        FROM analysis_runs WHERE project_id = $1 ORDER BY created_at DESC
    `
	setRunStatusQuery = `
        UPDATE analysis_runs SET status = $2, error_message = $3, updated_at = NOW() WHERE id = $1
    `
	saveRunResultQuery = `
        UPDATE analysis_runs SET status = $2, result = $3, updated_at = NOW() WHERE id = $1
    `
)

type pgAnalysisRunRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// Проверка реализации интерфейса во время компиляции.
var _ AnalysisRunRepository = (*pgAnalysisRunRepository)(nil)

// NewPgAnalysisRunRepository создает новый репозиторий прогонов анализа.
func NewPgAnalysisRunRepository(db *pgxpool.Pool, logger *zap.Logger) AnalysisRunRepository {
	return &pgAnalysisRunRepository{
		db:     db,
		logger: logger.Named("AnalysisRunRepo"),
	}
}

// Create сохраняет новый прогон в статусе pending.
func (r *pgAnalysisRunRepository) Create(ctx context.Context, run *models.AnalysisRun) error {
	err := r.db.QueryRow(ctx, createRunQuery, run.ID, run.ProjectID, run.Status).
		Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		r.logger.Error("Error creating analysis run", zap.Error(err), zap.String("run_id", run.ID.String()))
		return fmt.Errorf("не удалось создать прогон анализа: %w", err)
	}
	r.logger.Info("Analysis run created",
		zap.String("run_id", run.ID.String()),
		zap.String("project_id", run.ProjectID.String()))
	return nil
}

// GetByID возвращает прогон по его ID.
func (r *pgAnalysisRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	err := pgxscan.Get(ctx, r.db, &run, getRunByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Error getting analysis run", zap.Error(err), zap.String("run_id", id.String()))
		return nil, fmt.Errorf("не удалось получить прогон %s: %w", id, err)
	}
	return &run, nil
}

// ListByProject возвращает прогоны проекта, новые первыми.
func (r *pgAnalysisRunRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.AnalysisRun, error) {
	var runs []*models.AnalysisRun
	err := pgxscan.Select(ctx, r.db, &runs, listRunsByProjectQuery, projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []*models.AnalysisRun{}, nil
		}
		r.logger.Error("Error listing analysis runs", zap.Error(err), zap.String("project_id", projectID.String()))
		return nil, fmt.Errorf("не удалось получить список прогонов: %w", err)
	}
	return runs, nil
}

// SetStatus переводит прогон в новый статус (с текстом ошибки для failed).
func (r *pgAnalysisRunRepository) SetStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error {
	tag, err := r.db.Exec(ctx, setRunStatusQuery, id, status, errorMessage)
	if err != nil {
		r.logger.Error("Error setting run status", zap.Error(err), zap.String("run_id", id.String()))
		return fmt.Errorf("не удалось обновить статус прогона %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SaveResult пишет итоговый JSON-блоб и переводит прогон в completed.
func (r *pgAnalysisRunRepository) SaveResult(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	tag, err := r.db.Exec(ctx, saveRunResultQuery, id, models.RunStatusCompleted, result)
	if err != nil {
		r.logger.Error("Error saving run result", zap.Error(err), zap.String("run_id", id.String()))
		return fmt.Errorf("не удалось сохранить результат прогона %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	r.logger.Info("Analysis run result saved", zap.String("run_id", id.String()))
	return nil
}
