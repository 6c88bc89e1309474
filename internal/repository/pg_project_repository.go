package repository

import (
	"context"
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
	createProjectQuery = `
        INSERT INTO projects (id, user_id, name, base_city, scale, script_text)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING created_at, updated_at
    `
	getProjectByIDQuery = `
        SELECT id, user_id, name, base_city, scale, script_text, created_at, updated_at
        FROM projects WHERE id = $1
    `
	listProjectsByUserQuery = `
        SELECT id, user_id, name, base_city, scale, script_text, created_at, updated_at
        FROM projects WHERE user_id = $1 ORDER BY created_at DESC
    `
	updateProjectScriptQuery = `
        UPDATE projects SET script_text = $2, updated_at = NOW() WHERE id = $1
    `
	deleteProjectQuery = `DELETE FROM projects WHERE id = $1`
)

type pgProjectRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// Проверка реализации интерфейса во время компиляции.
var _ ProjectRepository = (*pgProjectRepository)(nil)

// NewPgProjectRepository создает новый репозиторий проектов.
func NewPgProjectRepository(db *pgxpool.Pool, logger *zap.Logger) ProjectRepository {
	return &pgProjectRepository{
		db:     db,
		logger: logger.Named("ProjectRepo"),
	}
}

// Create сохраняет новый проект. ID генерируется на стороне вызывающего.
func (r *pgProjectRepository) Create(ctx context.Context, project *models.Project) error {
	err := r.db.QueryRow(ctx, createProjectQuery,
		project.ID, project.UserID, project.Name, project.BaseCity, project.Scale, project.ScriptText,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		r.logger.Error("Error creating project", zap.Error(err), zap.String("project_id", project.ID.String()))
		return fmt.Errorf("не удалось создать проект: %w", err)
	}
	r.logger.Info("Project created", zap.String("project_id", project.ID.String()))
	return nil
}

// GetByID возвращает проект по его ID.
func (r *pgProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var project models.Project
	err := pgxscan.Get(ctx, r.db, &project, getProjectByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Error getting project by ID", zap.Error(err), zap.String("project_id", id.String()))
		return nil, fmt.Errorf("не удалось получить проект %s: %w", id, err)
	}
	return &project, nil
}

// ListByUser возвращает проекты пользователя, новые первыми.
func (r *pgProjectRepository) ListByUser(ctx context.Context, userID uint64) ([]*models.Project, error) {
	var projects []*models.Project
	err := pgxscan.Select(ctx, r.db, &projects, listProjectsByUserQuery, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []*models.Project{}, nil
		}
		r.logger.Error("Error listing projects", zap.Error(err), zap.Uint64("user_id", userID))
		return nil, fmt.Errorf("не удалось получить список проектов: %w", err)
	}
	return projects, nil
}

// UpdateScript заменяет текст сценария проекта.
func (r *pgProjectRepository) UpdateScript(ctx context.Context, id uuid.UUID, scriptText string) error {
	tag, err := r.db.Exec(ctx, updateProjectScriptQuery, id, scriptText)
	if err != nil {
		r.logger.Error("Error updating project script", zap.Error(err), zap.String("project_id", id.String()))
		return fmt.Errorf("не удалось обновить сценарий проекта %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Delete удаляет проект вместе с его прогонами (ON DELETE CASCADE).
func (r *pgProjectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, deleteProjectQuery, id)
	if err != nil {
		r.logger.Error("Error deleting project", zap.Error(err), zap.String("project_id", id.String()))
		return fmt.Errorf("не удалось удалить проект %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	r.logger.Info("Project deleted", zap.String("project_id", id.String()))
	return nil
}
