package hub

import (
	"sync"

	"manga-server/internal/model"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var droppedEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "manga_hub_dropped_events_total",
		Help: "Total number of events dropped because a subscriber buffer was full.",
	},
	[]string{"event_type"},
)

// Subscriber - одна подписка на события сессии (например, одна вкладка браузера).
// Канал событий ограничен: медленный потребитель теряет события, а не блокирует пайплайн.
type Subscriber struct {
	events chan model.SessionEvent
}

// Events возвращает канал событий подписчика для чтения.
func (s *Subscriber) Events() <-chan model.SessionEvent {
	return s.events
}

// SessionHub - реестр подписчиков по сессиям с fan-out доставкой событий.
// Хаб не является durable-логом: события без подписчиков молча отбрасываются,
// история для повторной доставки хранится отдельно (internal/history).
type SessionHub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[*Subscriber]struct{}
	bufferSize  int
	logger      *zap.Logger
}

// NewSessionHub создает хаб с заданным размером буфера подписчика.
func NewSessionHub(bufferSize int, logger *zap.Logger) *SessionHub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &SessionHub{
		subscribers: make(map[uuid.UUID]map[*Subscriber]struct{}),
		bufferSize:  bufferSize,
		logger:      logger.Named("SessionHub"),
	}
}

// Subscribe регистрирует нового подписчика сессии.
// Несколько подписчиков на одну сессию разрешены.
func (h *SessionHub) Subscribe(sessionID uuid.UUID) *Subscriber {
	sub := &Subscriber{events: make(chan model.SessionEvent, h.bufferSize)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[sessionID] == nil {
		h.subscribers[sessionID] = make(map[*Subscriber]struct{})
	}
	h.subscribers[sessionID][sub] = struct{}{}

	h.logger.Debug("Subscriber registered",
		zap.String("sessionID", sessionID.String()),
		zap.Int("subscribers", len(h.subscribers[sessionID])))
	return sub
}

// Unsubscribe удаляет подписчика и закрывает его канал.
// Безопасен при повторном вызове и для неизвестного подписчика.
func (h *SessionHub) Unsubscribe(sessionID uuid.UUID, sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sessionID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.events)
	if len(subs) == 0 {
		delete(h.subscribers, sessionID)
	}

	h.logger.Debug("Subscriber removed", zap.String("sessionID", sessionID.String()))
}

// Publish рассылает событие всем текущим подписчикам сессии.
// Отправка неблокирующая: при заполненном буфере событие отбрасывается
// (drop-new), чтобы медленный клиент не останавливал публикующего.
func (h *SessionHub) Publish(sessionID uuid.UUID, event model.SessionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.subscribers[sessionID]
	if !ok || len(subs) == 0 {
		// Нет подписчиков - событие просто теряется, это не ошибка
		return
	}

	for sub := range subs {
		select {
		case sub.events <- event:
		default:
			droppedEventsTotal.WithLabelValues(string(event.Type)).Inc()
			h.logger.Warn("Subscriber buffer full, event dropped",
				zap.String("sessionID", sessionID.String()),
				zap.String("eventType", string(event.Type)))
		}
	}
}

// SubscriberCount возвращает число подписчиков сессии (для метрик и тестов).
func (h *SessionHub) SubscriberCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}
