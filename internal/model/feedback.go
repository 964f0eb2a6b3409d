package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FeedbackType определяет тип фидбека пользователя.
type FeedbackType string

const (
	FeedbackApproval        FeedbackType = "approval"
	FeedbackModification    FeedbackType = "modification"
	FeedbackSkip            FeedbackType = "skip"
	FeedbackNaturalLanguage FeedbackType = "natural_language"
)

// IsValidFeedbackType проверяет, является ли строка допустимым FeedbackType.
func IsValidFeedbackType(ft FeedbackType) bool {
	switch ft {
	case FeedbackApproval, FeedbackModification, FeedbackSkip, FeedbackNaturalLanguage:
		return true
	default:
		return false
	}
}

// Границы оценки удовлетворенности пользователя.
const (
	MinSatisfactionScore = 1.0
	MaxSatisfactionScore = 5.0
)

// UserFeedback - одна отправка фидбека пользователем для пары (session, phase).
// Строки append-only: фидбек никогда не редактируется и не удаляется.
type UserFeedback struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	SessionID         uuid.UUID       `json:"session_id" db:"session_id"`
	Phase             int             `json:"phase" db:"phase"`
	Type              FeedbackType    `json:"type" db:"feedback_type"`
	Payload           json.RawMessage `json:"payload,omitempty" db:"payload"`
	SatisfactionScore *float64        `json:"satisfaction_score,omitempty" db:"satisfaction_score"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// FeedbackPayload - разобранное содержимое UserFeedback.Payload.
// QualityScore (1.0-5.0) переопределяет оценку фазы; Adjustments перезаписывают
// только поля, уже присутствующие в результате фазы.
type FeedbackPayload struct {
	QualityScore   *float64                   `json:"quality_score,omitempty"`
	Adjustments    map[string]json.RawMessage `json:"adjustments,omitempty"`
	Comment        string                     `json:"comment,omitempty"`
	SelectedOption *string                    `json:"selected_option,omitempty"`
}
