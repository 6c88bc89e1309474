package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// TaskHandler обрабатывает одну задачу анализа. Ошибка отправляет сообщение
// в DLQ (Nack без requeue) — повторная доставка той же битой задачи бессмысленна.
type TaskHandler func(ctx context.Context, payload AnalysisTaskPayload) error

// TaskConsumer потребляет задачи анализа с ручным подтверждением.
type TaskConsumer struct {
	conn      *amqp.Connection
	queueName string
	prefetch  int
	handler   TaskHandler
	logger    *zap.Logger
	channel   *amqp.Channel
	done      chan struct{}
}

// NewTaskConsumer создает консьюмер очереди задач анализа.
func NewTaskConsumer(conn *amqp.Connection, queueName string, prefetch int, handler TaskHandler, logger *zap.Logger) *TaskConsumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &TaskConsumer{
		conn:      conn,
		queueName: queueName,
		prefetch:  prefetch,
		handler:   handler,
		logger:    logger.Named("TaskConsumer"),
		done:      make(chan struct{}),
	}
}

// Start объявляет DLX, DLQ и рабочую очередь, затем запускает цикл обработки
// в отдельной горутине. Возвращается сразу после успешной подписки.
func (c *TaskConsumer) Start(ctx context.Context) error {
	var err error
	c.channel, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("task consumer: не удалось открыть канал: %w", err)
	}

	if err = c.channel.ExchangeDeclare(AnalysisTasksDLX, "direct", true, false, false, false, nil); err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("task consumer: не удалось объявить DLX: %w", err)
	}
	dlq, err := c.channel.QueueDeclare(c.queueName+"_dlq", true, false, false, false, nil)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("task consumer: не удалось объявить DLQ: %w", err)
	}
	if err = c.channel.QueueBind(dlq.Name, AnalysisTasksDLQRouting, AnalysisTasksDLX, false, nil); err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("task consumer: не удалось привязать DLQ: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    AnalysisTasksDLX,
		"x-dead-letter-routing-key": AnalysisTasksDLQRouting,
	}
	if _, err = c.channel.QueueDeclare(c.queueName, true, false, false, false, args); err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("task consumer: не удалось объявить очередь '%s': %w", c.queueName, err)
	}

	if err = c.channel.Qos(c.prefetch, 0, false); err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("task consumer: не удалось установить prefetch: %w", err)
	}

	deliveries, err := c.channel.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("task consumer: не удалось подписаться на очередь '%s': %w", c.queueName, err)
	}

	c.logger.Info("Task consumer started",
		zap.String("queue", c.queueName),
		zap.Int("prefetch", c.prefetch))

	go c.loop(ctx, deliveries)
	return nil
}

func (c *TaskConsumer) loop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Task consumer context cancelled")
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("Task delivery channel closed")
				return
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *TaskConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var payload AnalysisTaskPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		c.logger.Error("Failed to unmarshal analysis task, sending to DLQ", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	log := c.logger.With(zap.String("run_id", payload.RunID.String()))
	log.Info("Analysis task received")

	if err := c.handler(ctx, payload); err != nil {
		log.Error("Analysis task failed, sending to DLQ", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Error("Failed to ack analysis task", zap.Error(err))
		return
	}
	log.Info("Analysis task acknowledged")
}

// Stop закрывает канал и дожидается завершения цикла обработки.
func (c *TaskConsumer) Stop() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	<-c.done
	c.logger.Info("Task consumer stopped")
}

// RunUpdateHandler обрабатывает обновление прогресса. Ошибки только логируются:
// обновления эфемерны, терять их допустимо.
type RunUpdateHandler func(payload RunUpdatePayload)

// RunUpdateConsumer потребляет обновления прогонов на стороне API-сервера
// и отдает их WebSocket-хабу.
type RunUpdateConsumer struct {
	conn      *amqp.Connection
	queueName string
	handler   RunUpdateHandler
	logger    *zap.Logger
	channel   *amqp.Channel
	done      chan struct{}
}

// NewRunUpdateConsumer создает консьюмер очереди обновлений.
func NewRunUpdateConsumer(conn *amqp.Connection, queueName string, handler RunUpdateHandler, logger *zap.Logger) *RunUpdateConsumer {
	return &RunUpdateConsumer{
		conn:      conn,
		queueName: queueName,
		handler:   handler,
		logger:    logger.Named("RunUpdateConsumer"),
		done:      make(chan struct{}),
	}
}

// Start объявляет очередь обновлений и запускает цикл обработки.
func (c *RunUpdateConsumer) Start(ctx context.Context) error {
	var err error
	c.channel, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("run update consumer: не удалось открыть канал: %w", err)
	}

	if _, err = c.channel.QueueDeclare(c.queueName, true, false, false, false, nil); err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("run update consumer: не удалось объявить очередь '%s': %w", c.queueName, err)
	}

	deliveries, err := c.channel.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("run update consumer: не удалось подписаться на очередь '%s': %w", c.queueName, err)
	}

	c.logger.Info("Run update consumer started", zap.String("queue", c.queueName))

	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var payload RunUpdatePayload
				if err := json.Unmarshal(d.Body, &payload); err != nil {
					c.logger.Error("Failed to unmarshal run update", zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				c.handler(payload)
				_ = d.Ack(false)
			}
		}
	}()
	return nil
}

// Stop закрывает канал и дожидается завершения цикла обработки.
func (c *RunUpdateConsumer) Stop() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	<-c.done
	c.logger.Info("Run update consumer stopped")
}
