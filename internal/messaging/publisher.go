package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"manga-server/internal/model"
)

const publishTimeout = 10 * time.Second

// EventPublisher defines the interface for publishing session events
// destined for connected clients.
//
//go:generate mockery --name EventPublisher --output ../mocks --filename mock_event_publisher.go
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event model.SessionEvent) error
}

// rabbitMQPublisher implements EventPublisher for RabbitMQ.
type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQEventPublisher creates a new EventPublisher.
// Паблишер объявляет очередь сам, чтобы не зависеть от порядка запуска
// инстансов. Параметры должны совпадать с параметрами консьюмера.
func NewRabbitMQEventPublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("event publisher: не удалось открыть канал: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("event publisher: не удалось объявить очередь '%s': %w", queueName, err)
	}

	log := logger.Named("EventPublisher")
	log.Info("Очередь клиентских событий объявлена", zap.String("queue", queueName))

	return &rabbitMQPublisher{channel: ch, queueName: queueName, logger: log}, nil
}

// PublishSessionEvent publishes a session event to the client updates queue.
func (p *rabbitMQPublisher) PublishSessionEvent(ctx context.Context, event model.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка подготовки сообщения SessionEvent: %w", err)
	}
	return p.publishMessage(ctx, body)
}

// publishMessage выполняет одну попытку публикации под таймаутом.
// Политика ретраев принадлежит вызывающему: аварийные уведомления
// ретраит гвард, остальные события best-effort.
func (p *rabbitMQPublisher) publishMessage(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return errors.New("канал RabbitMQ не инициализирован")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.channel.PublishWithContext(ctx,
		"",          // exchange (используем default)
		p.queueName, // routing key (имя очереди)
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			AppId:        "manga-server",
		},
	)
	if err != nil {
		p.logger.Warn("Ошибка публикации в очередь",
			zap.String("queue", p.queueName),
			zap.Error(err))
		return fmt.Errorf("не удалось опубликовать сообщение в очередь '%s': %w", p.queueName, err)
	}
	return nil
}
