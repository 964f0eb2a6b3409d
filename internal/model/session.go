package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus определяет статус сессии генерации манги.
type SessionStatus string

// Возможные статусы сессии. Переходы между ними описаны в CanTransitionTo.
const (
	StatusQueued          SessionStatus = "queued"
	StatusProcessing      SessionStatus = "processing"
	StatusWaitingFeedback SessionStatus = "waiting_feedback"
	StatusCompleted       SessionStatus = "completed"
	StatusFailed          SessionStatus = "failed"
	StatusCancelled       SessionStatus = "cancelled"
)

// IsTerminal сообщает, является ли статус конечным (сессия больше не меняется).
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что строка является известным статусом.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusWaitingFeedback,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода по графу состояний пайплайна.
// Любой переход из терминального статуса запрещен.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed || next == StatusCancelled
	case StatusProcessing:
		return next == StatusProcessing || next == StatusWaitingFeedback ||
			next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	case StatusWaitingFeedback:
		return next == StatusProcessing || next == StatusFailed || next == StatusCancelled
	case StatusCompleted, StatusFailed, StatusCancelled:
		return false
	default:
		return false
	}
}

// Session представляет одну сессию генерации манги, проходящую через фазы пайплайна.
// Сессия никогда не удаляется, только переходит в терминальный статус.
type Session struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	UserID            uuid.UUID       `json:"user_id" db:"user_id"`
	Title             string          `json:"title" db:"title"`
	CurrentPhase      int             `json:"current_phase" db:"current_phase"`
	TotalPhases       int             `json:"total_phases" db:"total_phases"`
	Status            SessionStatus   `json:"status" db:"status"`
	RetryCount        int             `json:"retry_count" db:"retry_count"`
	Metadata          json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	FeedbackTimeoutAt *time.Time      `json:"feedback_timeout_at,omitempty" db:"feedback_timeout_at"`
	ErrorMessage      *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// SessionContext содержит данные сессии, передаваемые генератору контента.
// Включает результаты уже завершенных фаз, чтобы генератор видел контекст.
type SessionContext struct {
	SessionID      uuid.UUID               `json:"session_id"`
	UserID         uuid.UUID               `json:"user_id"`
	Title          string                  `json:"title"`
	Metadata       json.RawMessage         `json:"metadata,omitempty"`
	PreviousPhases map[int]json.RawMessage `json:"previous_phases,omitempty"`
}
