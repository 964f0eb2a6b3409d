package hub

import (
	"context"
	"encoding/json"
	"time"

	"manga-server/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер сообщения, разрешенный от клиента.
	maxMessageSize = 16 * 1024
	// Буфер исходящих сообщений, порожденных на стороне чтения (ошибки фидбека).
	outboundBufferSize = 16
)

// client - одно WebSocket соединение, привязанное к сессии.
// Соединение владеет своей подпиской: при закрытии соединения подписка
// снимается здесь, а не пайплайн-таской.
// Все записи в conn идут только из writePump: gorilla/websocket допускает
// не больше одного пишущего, поэтому readPump отправляет свои события
// через канал outbound, а не напрямую.
type client struct {
	conn      *websocket.Conn
	hub       *SessionHub
	gateway   SessionGateway
	sub       *Subscriber
	outbound  chan model.SessionEvent
	sessionID uuid.UUID
	userID    uuid.UUID
	logger    *zap.Logger
}

func newClient(conn *websocket.Conn, h *SessionHub, gateway SessionGateway, sessionID, userID uuid.UUID, logger *zap.Logger) *client {
	return &client{
		conn:      conn,
		hub:       h,
		gateway:   gateway,
		outbound:  make(chan model.SessionEvent, outboundBufferSize),
		sessionID: sessionID,
		userID:    userID,
		logger:    logger,
	}
}

// replay отправляет клиенту сохраненные события до начала live-доставки.
func (c *client) replay(events []model.SessionEvent) {
	for _, event := range events {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(event); err != nil {
			c.logger.Warn("Failed to replay event", zap.Error(err))
			return
		}
	}
}

// start подписывается на события сессии и запускает горутины чтения и записи.
func (c *client) start() {
	c.sub = c.hub.Subscribe(c.sessionID)
	go c.writePump()
	go c.readPump()
}

// readPump откачивает входящие сообщения от клиента: фидбек и keep-alive пинги.
func (c *client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c.sessionID, c.sub)
		_ = c.conn.Close()
		c.logger.Info("readPump finished")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			} else {
				c.logger.Info("WebSocket connection closed (expected)")
			}
			break
		}

		var msg model.ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("Failed to parse client message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case model.ClientMessagePing:
			// Keep-alive на уровне приложения: просто продлеваем дедлайн чтения
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		case model.ClientMessageFeedback:
			c.handleFeedback(msg)
		default:
			c.logger.Warn("Unknown client message type (ignored)", zap.String("type", string(msg.Type)))
		}
	}
}

// handleFeedback передает фидбек сервисному слою. Ошибка отправки не рвет
// соединение: клиент получает событие error и может повторить.
func (c *client) handleFeedback(msg model.ClientMessage) {
	if msg.Feedback == nil {
		c.logger.Warn("Feedback message without feedback body (ignored)")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.gateway.SubmitFeedback(ctx, c.userID, c.sessionID, *msg.Feedback); err != nil {
		c.logger.Warn("Failed to submit feedback", zap.Int("phase", msg.Feedback.Phase), zap.Error(err))
		errText := err.Error()
		errEvent := model.NewSessionEvent(model.EventError, c.sessionID, c.userID)
		errEvent.ErrorDetails = &errText
		c.enqueue(errEvent)
		return
	}

	c.logger.Info("Feedback submitted via WebSocket", zap.Int("phase", msg.Feedback.Phase))
}

// enqueue передает событие со стороны чтения в writePump.
// Отправка неблокирующая: при заполненном буфере событие отбрасывается.
func (c *client) enqueue(event model.SessionEvent) {
	select {
	case c.outbound <- event:
	default:
		c.logger.Warn("Outbound buffer full, event dropped", zap.String("type", string(event.Type)))
	}
}

// writePump откачивает события из подписки в WebSocket соединение.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.logger.Info("writePump finished")
	}()

	for {
		select {
		case event, ok := <-c.sub.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Подписка закрыта (Unsubscribe), завершаем соединение
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Error("Failed to write event", zap.Error(err))
				return
			}
		case event := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Error("Failed to write event", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}
