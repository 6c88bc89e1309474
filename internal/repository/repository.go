// Package repository — доступ к хранилищам: Postgres для проектов и прогонов,
// Redis для эфемерного статуса выполняющихся прогонов.
package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"shootsafe-server/internal/models"
)

// ProjectRepository — операции над проектами.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListByUser(ctx context.Context, userID uint64) ([]*models.Project, error)
	UpdateScript(ctx context.Context, id uuid.UUID, scriptText string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AnalysisRunRepository — операции над прогонами анализа.
// Result пишется одним JSON-блобом только при переходе в completed.
type AnalysisRunRepository interface {
	Create(ctx context.Context, run *models.AnalysisRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.AnalysisRun, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error
	SaveResult(ctx context.Context, id uuid.UUID, result json.RawMessage) error
}

// RunStatusRepository — эфемерный прогресс прогона (polling и WebSocket).
type RunStatusRepository interface {
	SetProgress(ctx context.Context, progress models.RunProgress) error
	GetProgress(ctx context.Context, runID uuid.UUID) (*models.RunProgress, error)
}
