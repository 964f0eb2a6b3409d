package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType определяет тип исходящего события для клиента.
type EventType string

// Типы событий, публикуемых ядром пайплайна.
const (
	EventPhaseProgress   EventType = "phase_progress"
	EventFeedbackRequest EventType = "feedback_request"
	EventSessionStatus   EventType = "session_status"
	EventFeedbackTimeout EventType = "feedback_timeout"
	EventSessionComplete EventType = "session_complete"
	EventEmergencyStop   EventType = "emergency_stop"
	EventError           EventType = "error"
)

// Автоматическое действие, применяемое при таймауте фидбека.
const AutoActionApproved = "auto_approved"

// SessionEvent - конверт события, доставляемого клиенту через Realtime Hub.
// Сериализуется в JSON как для RabbitMQ, так и для WebSocket.
type SessionEvent struct {
	Type           EventType       `json:"type"`
	SessionID      string          `json:"session_id"`
	UserID         string          `json:"user_id,omitempty"`
	Phase          *int            `json:"phase,omitempty"`
	Status         string          `json:"status,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	TimeoutSeconds *int            `json:"timeout_seconds,omitempty"`
	AutoAction     *string         `json:"auto_action,omitempty"`
	ErrorDetails   *string         `json:"error_details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewSessionEvent создает событие с заполненным временем создания.
func NewSessionEvent(t EventType, sessionID, userID uuid.UUID) SessionEvent {
	return SessionEvent{
		Type:      t,
		SessionID: sessionID.String(),
		UserID:    userID.String(),
		CreatedAt: time.Now().UTC(),
	}
}

// ClientMessageType определяет тип входящего сообщения от клиента.
type ClientMessageType string

const (
	ClientMessageFeedback ClientMessageType = "user_feedback"
	ClientMessagePing     ClientMessageType = "ping"
)

// ClientMessage - входящий конверт сообщения от клиента по WebSocket.
type ClientMessage struct {
	Type      ClientMessageType `json:"type"`
	SessionID string            `json:"session_id"`
	Feedback  *FeedbackRequest  `json:"feedback,omitempty"`
}

// FeedbackRequest - тело отправки фидбека (WebSocket и HTTP используют одно и то же).
type FeedbackRequest struct {
	Phase             int             `json:"phase"`
	Type              FeedbackType    `json:"type"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	SatisfactionScore *float64        `json:"satisfaction_score,omitempty"`
}
