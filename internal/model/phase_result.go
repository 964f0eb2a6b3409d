package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PhaseResultStatus определяет статус одной попытки выполнения фазы.
type PhaseResultStatus string

const (
	PhaseResultPending   PhaseResultStatus = "pending"
	PhaseResultRunning   PhaseResultStatus = "running"
	PhaseResultCompleted PhaseResultStatus = "completed"
	PhaseResultFailed    PhaseResultStatus = "failed"
)

// PhaseResult хранит результат одной попытки выполнения фазы.
// Ретраи создают новые строки (attempt увеличивается), история не перезаписывается.
// Инвариант: не более одной completed строки на пару (session, phase).
type PhaseResult struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	SessionID        uuid.UUID         `json:"session_id" db:"session_id"`
	Phase            int               `json:"phase" db:"phase"`
	Attempt          int               `json:"attempt" db:"attempt"`
	Status           PhaseResultStatus `json:"status" db:"status"`
	Content          json.RawMessage   `json:"content,omitempty" db:"content"`
	QualityScore     float64           `json:"quality_score" db:"quality_score"`
	PreviewVersionID *uuid.UUID        `json:"preview_version_id,omitempty" db:"preview_version_id"`
	Error            *string           `json:"error,omitempty" db:"error"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// PreviewVersion - снимок состояния сессии, предлагаемый пользователю на фазе фидбека.
// Версии образуют цепочку через ParentVersionID (DAG, ветвление разрешено).
// Инвариант: родительская версия принадлежит той же сессии и фазе не выше текущей.
type PreviewVersion struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	SessionID       uuid.UUID       `json:"session_id" db:"session_id"`
	Phase           int             `json:"phase" db:"phase"`
	ParentVersionID *uuid.UUID      `json:"parent_version_id,omitempty" db:"parent_version_id"`
	Payload         json.RawMessage `json:"payload" db:"payload"`
	ChangeSummary   string          `json:"change_summary" db:"change_summary"`
	QualityScore    float64         `json:"quality_score" db:"quality_score"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
