package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"manga-server/internal/hub"
	"manga-server/internal/model"
)

// EventRecorder persists delivered events so late WebSocket subscribers can
// replay them on connect.
type EventRecorder interface {
	AppendEvent(ctx context.Context, event model.SessionEvent) error
}

// Consumer отвечает за получение событий сессий из RabbitMQ и их доставку
// подписчикам этого инстанса через SessionHub.
type Consumer struct {
	conn        *amqp.Connection
	hub         *hub.SessionHub
	history     EventRecorder
	queueName   string
	logger      *zap.Logger
	stopChannel chan struct{}
}

// NewConsumer создает нового консьюмера RabbitMQ.
func NewConsumer(conn *amqp.Connection, sessionHub *hub.SessionHub, history EventRecorder, queueName string, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:        conn,
		hub:         sessionHub,
		history:     history,
		queueName:   queueName,
		logger:      logger.Named("EventConsumer"),
		stopChannel: make(chan struct{}),
	}
}

// StartConsuming начинает прослушивание очереди клиентских событий.
// Функция блокирующая, запускать в отдельной горутине.
func (c *Consumer) StartConsuming() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	// Объявляем очередь (параметры должны совпадать с паблишером)
	q, err := ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", c.queueName, err)
	}

	// Обрабатываем по одному сообщению за раз
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"manga-server-consumer", // consumer tag
		false,                   // auto-ack (подтверждаем вручную)
		false,                   // exclusive
		false,                   // no-local
		false,                   // no-wait
		nil,                     // args
	)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	c.logger.Info("Консьюмер запущен, ожидание событий", zap.String("queue", q.Name))

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("Канал сообщений RabbitMQ закрыт")
				return nil
			}
			c.handleDelivery(d)

		case <-c.stopChannel:
			c.logger.Info("Получен сигнал остановки консьюмера")
			return nil
		}
	}
}

func (c *Consumer) handleDelivery(d amqp.Delivery) {
	var event model.SessionEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.logger.Error("Ошибка десериализации события, Nack без requeue", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	sessionID, err := uuid.Parse(event.SessionID)
	if err != nil {
		c.logger.Error("Событие с невалидным session_id, Nack без requeue",
			zap.String("event_type", string(event.Type)),
			zap.String("session_id", event.SessionID))
		_ = d.Nack(false, false)
		return
	}

	// История пишется до рассылки: подписчик, подключившийся сразу после
	// доставки, увидит событие при реплее.
	if c.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.history.AppendEvent(ctx, event); err != nil {
			// Ошибка истории не блокирует доставку онлайн-подписчикам
			c.logger.Warn("Не удалось сохранить событие в историю",
				zap.String("session_id", event.SessionID),
				zap.Error(err))
		}
		cancel()
	}

	c.hub.Publish(sessionID, event)
	c.logger.Debug("Событие доставлено подписчикам",
		zap.String("session_id", event.SessionID),
		zap.String("event_type", string(event.Type)),
		zap.Int("subscribers", c.hub.SubscriberCount(sessionID)))

	_ = d.Ack(false)
}

// Stop останавливает консьюмер.
func (c *Consumer) Stop() {
	close(c.stopChannel)
}
