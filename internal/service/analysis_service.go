// Package service — прикладная логика поверх репозиториев и очередей:
// проекты, запуск прогонов анализа, выдача результатов и what-if расчёты.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shootsafe-server/internal/messaging"
	"shootsafe-server/internal/models"
	"shootsafe-server/internal/repository"
)

// Evaluator — синхронный детерминированный расчёт одной карты атрибутов
// (what-if). Реализуется пайплайном.
type Evaluator interface {
	Evaluate(attrs models.SceneAttributes, baseCity, scale string) (models.RiskResult, models.BudgetResult)
}

// AnalysisService — операции API-сервера. Сам анализ выполняет воркер;
// сервис только ставит задачи и читает результаты.
type AnalysisService struct {
	projects  repository.ProjectRepository
	runs      repository.AnalysisRunRepository
	status    repository.RunStatusRepository
	publisher messaging.TaskPublisher
	evaluator Evaluator
	logger    *zap.Logger
}

// NewAnalysisService создает AnalysisService.
func NewAnalysisService(
	projects repository.ProjectRepository,
	runs repository.AnalysisRunRepository,
	status repository.RunStatusRepository,
	publisher messaging.TaskPublisher,
	evaluator Evaluator,
	logger *zap.Logger,
) *AnalysisService {
	return &AnalysisService{
		projects:  projects,
		runs:      runs,
		status:    status,
		publisher: publisher,
		evaluator: evaluator,
		logger:    logger.Named("AnalysisService"),
	}
}

// CreateProject создает проект с валидацией масштаба производства.
func (s *AnalysisService) CreateProject(ctx context.Context, userID uint64, name, baseCity, scale string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: пустое имя проекта", models.ErrValidation)
	}
	if !models.ValidScale(scale) {
		return nil, models.ErrInvalidScale
	}

	project := &models.Project{
		ID:       uuid.New(),
		UserID:   userID,
		Name:     name,
		BaseCity: baseCity,
		Scale:    scale,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// GetProject возвращает проект, проверяя владельца.
func (s *AnalysisService) GetProject(ctx context.Context, userID uint64, id uuid.UUID) (*models.Project, error) {
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, models.ErrAccessDenied
	}
	return project, nil
}

// ListProjects возвращает проекты пользователя.
func (s *AnalysisService) ListProjects(ctx context.Context, userID uint64) ([]*models.Project, error) {
	return s.projects.ListByUser(ctx, userID)
}

// UploadScript заменяет текст сценария проекта.
func (s *AnalysisService) UploadScript(ctx context.Context, userID uint64, projectID uuid.UUID, scriptText string) error {
	if strings.TrimSpace(scriptText) == "" {
		return models.ErrScriptEmpty
	}
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return err
	}
	return s.projects.UpdateScript(ctx, projectID, scriptText)
}

// DeleteProject удаляет проект вместе с прогонами.
func (s *AnalysisService) DeleteProject(ctx context.Context, userID uint64, projectID uuid.UUID) error {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return err
	}
	return s.projects.Delete(ctx, projectID)
}

// StartRun создает прогон в статусе pending и публикует задачу воркеру.
// Прогон остаётся pending до того, как воркер возьмёт задачу.
func (s *AnalysisService) StartRun(ctx context.Context, userID uint64, projectID uuid.UUID) (*models.AnalysisRun, error) {
	project, err := s.GetProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(project.ScriptText) == "" {
		return nil, models.ErrScriptEmpty
	}

	run := &models.AnalysisRun{
		ID:        uuid.New(),
		ProjectID: projectID,
		Status:    models.RunStatusPending,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	progress := models.RunProgress{
		RunID:     run.ID,
		Status:    models.RunStatusPending,
		Phase:     "queued",
		Percent:   0,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.status.SetProgress(ctx, progress); err != nil {
		// Прогресс в Redis не критичен, прогон продолжается
		s.logger.Warn("Failed to seed run progress", zap.Error(err), zap.String("run_id", run.ID.String()))
	}

	err = s.publisher.PublishAnalysisTask(ctx, messaging.AnalysisTaskPayload{
		RunID:     run.ID,
		ProjectID: projectID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		// Задача не ушла — прогон помечается failed сразу, иначе он повиснет в pending
		msg := "не удалось поставить задачу анализа в очередь"
		if stErr := s.runs.SetStatus(ctx, run.ID, models.RunStatusFailed, &msg); stErr != nil {
			s.logger.Error("Failed to mark run as failed", zap.Error(stErr), zap.String("run_id", run.ID.String()))
		}
		return nil, fmt.Errorf("не удалось опубликовать задачу анализа: %w", err)
	}

	s.logger.Info("Analysis run enqueued",
		zap.String("run_id", run.ID.String()),
		zap.String("project_id", projectID.String()))
	return run, nil
}

// GetRun возвращает прогон с проверкой владельца через проект.
func (s *AnalysisService) GetRun(ctx context.Context, userID uint64, runID uuid.UUID) (*models.AnalysisRun, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetProject(ctx, userID, run.ProjectID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns возвращает прогоны проекта.
func (s *AnalysisService) ListRuns(ctx context.Context, userID uint64, projectID uuid.UUID) ([]*models.AnalysisRun, error) {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.runs.ListByProject(ctx, projectID)
}

// GetRunResult возвращает десериализованный результат завершённого прогона.
// Для незавершённого прогона — models.ErrRunNotReady.
func (s *AnalysisService) GetRunResult(ctx context.Context, userID uint64, runID uuid.UUID) (*models.AnalysisResult, error) {
	run, err := s.GetRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusCompleted || len(run.Result) == 0 {
		return nil, models.ErrRunNotReady
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(run.Result, &result); err != nil {
		return nil, fmt.Errorf("не удалось распарсить результат прогона %s: %w", runID, err)
	}
	return &result, nil
}

// GetRunProgress возвращает прогресс прогона: живую запись из Redis, а при её
// отсутствии — синтезированную из статуса в Postgres.
func (s *AnalysisService) GetRunProgress(ctx context.Context, userID uint64, runID uuid.UUID) (*models.RunProgress, error) {
	run, err := s.GetRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}

	progress, err := s.status.GetProgress(ctx, runID)
	if err == nil {
		return progress, nil
	}

	percent := 0
	if run.Status == models.RunStatusCompleted {
		percent = 100
	}
	return &models.RunProgress{
		RunID:     runID,
		Status:    run.Status,
		Phase:     run.Status,
		Percent:   percent,
		UpdatedAt: run.UpdatedAt,
	}, nil
}

// WhatIfRequest — пара карт атрибутов для сравнительного расчёта.
type WhatIfRequest struct {
	BaseCity string                 `json:"base_city"`
	Scale    string                 `json:"scale"`
	Base     models.SceneAttributes `json:"base"`
	Modified models.SceneAttributes `json:"modified"`
}

// WhatIfScenario — результат расчёта одной карты атрибутов.
type WhatIfScenario struct {
	Risk   models.RiskResult   `json:"risk"`
	Budget models.BudgetResult `json:"budget"`
}

// WhatIfResult — оба сценария плюс дельты по риску и вероятной стоимости.
type WhatIfResult struct {
	Base            WhatIfScenario `json:"base"`
	Modified        WhatIfScenario `json:"modified"`
	RiskDelta       int            `json:"risk_delta"`
	CostLikelyDelta int            `json:"cost_likely_delta"`
}

// WhatIf — синхронный детерминированный расчёт базового и изменённого
// сценария. LLM не участвует, ответ воспроизводим.
func (s *AnalysisService) WhatIf(ctx context.Context, req WhatIfRequest) (*WhatIfResult, error) {
	if !models.ValidScale(req.Scale) {
		return nil, models.ErrInvalidScale
	}

	baseRisk, baseBudget := s.evaluator.Evaluate(req.Base, req.BaseCity, req.Scale)
	modRisk, modBudget := s.evaluator.Evaluate(req.Modified, req.BaseCity, req.Scale)

	return &WhatIfResult{
		Base:            WhatIfScenario{Risk: baseRisk, Budget: baseBudget},
		Modified:        WhatIfScenario{Risk: modRisk, Budget: modBudget},
		RiskDelta:       modRisk.FinalScore - baseRisk.FinalScore,
		CostLikelyDelta: modBudget.CostLikely - baseBudget.CostLikely,
	}, nil
}
