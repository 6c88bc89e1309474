// Package messaging — обмен задачами и уведомлениями через RabbitMQ:
// сервер публикует задачи анализа, воркер их потребляет и публикует
// обновления прогресса для WebSocket-хаба.
package messaging

import (
	"time"

	"github.com/google/uuid"

	"shootsafe-server/internal/models"
)

// Имя DLX для очереди задач анализа. Сообщения, отвергнутые воркером без
// requeue, уходят туда для ручного разбора.
const (
	AnalysisTasksDLX        = "analysis_tasks_dlx"
	AnalysisTasksDLQRouting = "dlq"
)

// AnalysisTaskPayload — задача на прогон анализа.
type AnalysisTaskPayload struct {
	RunID     uuid.UUID `json:"run_id"`
	ProjectID uuid.UUID `json:"project_id"`
	UserID    uint64    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RunUpdatePayload — обновление статуса прогона для подписчиков WebSocket.
type RunUpdatePayload struct {
	UserID   uint64             `json:"user_id"`
	Progress models.RunProgress `json:"progress"`
}
