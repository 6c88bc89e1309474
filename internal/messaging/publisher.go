package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// TaskPublisher публикует задачи анализа в очередь воркеров.
type TaskPublisher interface {
	PublishAnalysisTask(ctx context.Context, payload AnalysisTaskPayload) error
}

// RunUpdatePublisher публикует обновления прогресса прогонов.
type RunUpdatePublisher interface {
	PublishRunUpdate(ctx context.Context, payload RunUpdatePayload) error
}

type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewTaskPublisher открывает канал и объявляет очередь задач с DLX.
// Параметры очереди должны совпадать с консьюмером воркера.
func NewTaskPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (TaskPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("task publisher: не удалось открыть канал: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    AnalysisTasksDLX,
		"x-dead-letter-routing-key": AnalysisTasksDLQRouting,
	}
	if _, err = ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("task publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}

	logger.Info("Task publisher initialized", zap.String("queue", queueName))
	return &rabbitMQPublisher{channel: ch, queueName: queueName, logger: logger.Named("TaskPublisher")}, nil
}

// NewRunUpdatePublisher открывает канал и объявляет очередь обновлений (без DLX:
// пропущенное обновление прогресса ничего не ломает).
func NewRunUpdatePublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (RunUpdatePublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("run update publisher: не удалось открыть канал: %w", err)
	}

	if _, err = ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("run update publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}

	logger.Info("Run update publisher initialized", zap.String("queue", queueName))
	return &rabbitMQPublisher{channel: ch, queueName: queueName, logger: logger.Named("RunUpdatePublisher")}, nil
}

// PublishAnalysisTask публикует задачу анализа (persistent delivery).
func (p *rabbitMQPublisher) PublishAnalysisTask(ctx context.Context, payload AnalysisTaskPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации задачи анализа для RunID %s: %w", payload.RunID, err)
	}
	if err := p.publishMessage(ctx, body); err != nil {
		p.logger.Error("Error publishing analysis task",
			zap.Error(err), zap.String("run_id", payload.RunID.String()))
		return fmt.Errorf("ошибка публикации задачи анализа для RunID %s: %w", payload.RunID, err)
	}
	p.logger.Info("Analysis task published", zap.String("run_id", payload.RunID.String()))
	return nil
}

// PublishRunUpdate публикует обновление прогресса прогона.
func (p *rabbitMQPublisher) PublishRunUpdate(ctx context.Context, payload RunUpdatePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации обновления прогона %s: %w", payload.Progress.RunID, err)
	}
	if err := p.publishMessage(ctx, body); err != nil {
		return fmt.Errorf("ошибка публикации обновления прогона %s: %w", payload.Progress.RunID, err)
	}
	return nil
}

func (p *rabbitMQPublisher) publishMessage(ctx context.Context, body []byte) error {
	return p.channel.PublishWithContext(ctx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}
