// Package worker — обработчик задач анализа: берет задачу из очереди,
// прогоняет пайплайн и раскладывает результат по хранилищам, транслируя
// прогресс в Redis и очередь обновлений.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shootsafe-server/internal/messaging"
	"shootsafe-server/internal/models"
	"shootsafe-server/internal/pipeline"
	"shootsafe-server/internal/repository"
)

// Processor выполняет один прогон анализа на задачу.
type Processor struct {
	projects repository.ProjectRepository
	runs     repository.AnalysisRunRepository
	status   repository.RunStatusRepository
	updates  messaging.RunUpdatePublisher
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

// NewProcessor создает Processor.
func NewProcessor(
	projects repository.ProjectRepository,
	runs repository.AnalysisRunRepository,
	status repository.RunStatusRepository,
	updates messaging.RunUpdatePublisher,
	p *pipeline.Pipeline,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		projects: projects,
		runs:     runs,
		status:   status,
		updates:  updates,
		pipeline: p,
		logger:   logger.Named("Processor"),
	}
}

// HandleTask — обработчик для messaging.TaskConsumer. Ошибка возвращается
// только когда задача неисполнима (сообщение уйдёт в DLQ); ошибка самого
// анализа фиксируется в статусе прогона и не требует redelivery.
func (p *Processor) HandleTask(ctx context.Context, payload messaging.AnalysisTaskPayload) error {
	log := p.logger.With(
		zap.String("run_id", payload.RunID.String()),
		zap.String("project_id", payload.ProjectID.String()))
	started := time.Now()

	run, err := p.runs.GetByID(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("прогон %s не найден: %w", payload.RunID, err)
	}
	if run.Status != models.RunStatusPending {
		// Повторная доставка уже обработанной задачи — молча подтверждаем
		log.Warn("Run is not pending, skipping task", zap.String("status", run.Status))
		return nil
	}

	project, err := p.projects.GetByID(ctx, payload.ProjectID)
	if err != nil {
		p.failRun(ctx, payload, fmt.Sprintf("проект не найден: %v", err))
		return nil
	}

	if err := p.runs.SetStatus(ctx, payload.RunID, models.RunStatusRunning, nil); err != nil {
		return fmt.Errorf("не удалось перевести прогон в running: %w", err)
	}
	p.reportProgress(ctx, payload, models.RunStatusRunning, "starting", 0)

	result, err := p.pipeline.Run(ctx, *project, payload.RunID, func(phase string, percent int) {
		p.reportProgress(ctx, payload, models.RunStatusRunning, phase, percent)
	})
	if err != nil {
		log.Error("Pipeline failed", zap.Error(err))
		p.failRun(ctx, payload, err.Error())
		runsProcessedTotal.WithLabelValues(models.RunStatusFailed).Inc()
		return nil
	}

	blob, err := json.Marshal(result)
	if err != nil {
		p.failRun(ctx, payload, fmt.Sprintf("сериализация результата: %v", err))
		runsProcessedTotal.WithLabelValues(models.RunStatusFailed).Inc()
		return nil
	}
	if err := p.runs.SaveResult(ctx, payload.RunID, blob); err != nil {
		return fmt.Errorf("не удалось сохранить результат прогона: %w", err)
	}

	p.reportProgress(ctx, payload, models.RunStatusCompleted, "done", 100)
	runsProcessedTotal.WithLabelValues(models.RunStatusCompleted).Inc()
	runDurationSeconds.Observe(time.Since(started).Seconds())
	scenesAnalyzedTotal.Add(float64(len(result.Scenes)))

	log.Info("Analysis run completed",
		zap.Int("scenes", len(result.Scenes)),
		zap.Int("insights", len(result.Insights)),
		zap.Duration("duration", time.Since(started)))
	return nil
}

// failRun фиксирует ошибку прогона. Сбои самих хранилищ здесь только логируются:
// сделать больше уже нечего.
func (p *Processor) failRun(ctx context.Context, payload messaging.AnalysisTaskPayload, message string) {
	if err := p.runs.SetStatus(ctx, payload.RunID, models.RunStatusFailed, &message); err != nil {
		p.logger.Error("Failed to mark run as failed",
			zap.Error(err), zap.String("run_id", payload.RunID.String()))
	}
	p.reportProgress(ctx, payload, models.RunStatusFailed, "failed", 100)
}

// reportProgress пишет прогресс в Redis и очередь обновлений. Оба канала
// best-effort: их сбой не влияет на прогон.
func (p *Processor) reportProgress(ctx context.Context, payload messaging.AnalysisTaskPayload, status, phase string, percent int) {
	progress := models.RunProgress{
		RunID:     payload.RunID,
		Status:    status,
		Phase:     phase,
		Percent:   percent,
		UpdatedAt: time.Now().UTC(),
	}

	if err := p.status.SetProgress(ctx, progress); err != nil {
		p.logger.Warn("Failed to store run progress", zap.Error(err), zap.String("run_id", payload.RunID.String()))
	}
	if err := p.updates.PublishRunUpdate(ctx, messaging.RunUpdatePayload{
		UserID:   payload.UserID,
		Progress: progress,
	}); err != nil {
		p.logger.Warn("Failed to publish run update", zap.Error(err), zap.String("run_id", payload.RunID.String()))
	}
}
