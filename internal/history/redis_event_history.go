package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"manga-server/internal/model"
)

// EventHistory хранит последние события сессии для реплея при подключении.
// Ключи: session_events:{SessionID} -> list of JSON-encoded events
type EventHistory struct {
	client  *redis.Client
	maxSize int
	ttl     time.Duration
	logger  *zap.Logger
}

// NewEventHistory creates a Redis-backed event history store.
func NewEventHistory(client *redis.Client, maxSize int, ttl time.Duration, logger *zap.Logger) *EventHistory {
	return &EventHistory{
		client:  client,
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger.Named("EventHistory"),
	}
}

func sessionEventsKey(sessionID uuid.UUID) string {
	return fmt.Sprintf("session_events:%s", sessionID.String())
}

// AppendEvent appends an event to the session's history, trimming it to the
// configured maximum size.
func (h *EventHistory) AppendEvent(ctx context.Context, event model.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	key := fmt.Sprintf("session_events:%s", event.SessionID)

	// Пайплайн: RPUSH сохраняет порядок доставки, LTRIM держит хвост списка
	pipe := h.client.Pipeline()
	pipe.RPush(ctx, key, body)
	pipe.LTrim(ctx, key, int64(-h.maxSize), -1)
	pipe.Expire(ctx, key, h.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		h.logger.Error("Не удалось сохранить событие в историю",
			zap.String("session_id", event.SessionID),
			zap.Error(err))
		return fmt.Errorf("ошибка записи истории событий: %w", err)
	}

	return nil
}

// ListEvents returns the session's recorded events in delivery order.
// An unknown session yields an empty slice, not an error.
func (h *EventHistory) ListEvents(ctx context.Context, sessionID uuid.UUID) ([]model.SessionEvent, error) {
	key := sessionEventsKey(sessionID)

	raw, err := h.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения истории событий: %w", err)
	}

	events := make([]model.SessionEvent, 0, len(raw))
	for _, item := range raw {
		var event model.SessionEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			// Битые записи пропускаем, реплей не должен падать целиком
			h.logger.Warn("Пропущена нечитаемая запись истории",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// DropSession removes the session's history, e.g. after terminal cleanup.
func (h *EventHistory) DropSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := h.client.Del(ctx, sessionEventsKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("ошибка удаления истории событий: %w", err)
	}
	return nil
}
