package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"manga-server/internal/interfaces"
	"manga-server/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// appliedFeedbackAnnotation - аннотация происхождения, добавляемая в контент
// скорректированного результата для аудита.
type appliedFeedbackAnnotation struct {
	FeedbackID           string    `json:"feedback_id"`
	OriginalQualityScore float64   `json:"original_quality_score"`
	AdjustedQualityScore float64   `json:"adjusted_quality_score"`
	AppliedAt            time.Time `json:"applied_at"`
}

// Applier применяет последний фидбек пользователя к результату фазы.
// Применение - best-effort улучшение: любая ошибка на этом пути деградирует
// до возврата исходного результата и никогда не блокирует пайплайн.
type Applier struct {
	feedbackRepo interfaces.UserFeedbackRepository
	db           interfaces.DBTX
	logger       *zap.Logger
}

// NewApplier создает новый Applier.
func NewApplier(feedbackRepo interfaces.UserFeedbackRepository, db interfaces.DBTX, logger *zap.Logger) *Applier {
	return &Applier{
		feedbackRepo: feedbackRepo,
		db:           db,
		logger:       logger.Named("FeedbackApplier"),
	}
}

// Apply возвращает результат фазы, скорректированный самым свежим фидбеком
// для пары (session, phase). Если фидбека нет - вход возвращается без изменений.
// Функция не персистит: одно чтение, один merge; сохраняет оркестратор.
func (a *Applier) Apply(ctx context.Context, sessionID uuid.UUID, phase int, result *model.PhaseResult) *model.PhaseResult {
	logFields := []zap.Field{
		zap.String("sessionID", sessionID.String()),
		zap.Int("phase", phase),
	}

	fb, err := a.feedbackRepo.GetLatest(ctx, a.db, sessionID, phase)
	if err != nil {
		if !errors.Is(err, model.ErrFeedbackNotFound) {
			a.logger.Warn("Failed to load feedback, returning original result",
				append(logFields, zap.Error(err))...)
		}
		return result
	}

	adjusted, err := a.merge(result, fb)
	if err != nil {
		a.logger.Warn("Failed to apply feedback, returning original result",
			append(logFields, zap.String("feedbackID", fb.ID.String()), zap.Error(err))...)
		return result
	}

	a.logger.Info("Feedback applied to phase result",
		append(logFields,
			zap.String("feedbackID", fb.ID.String()),
			zap.String("feedbackType", string(fb.Type)),
			zap.Float64("originalScore", result.QualityScore),
			zap.Float64("adjustedScore", adjusted.QualityScore))...)
	return adjusted
}

// merge выполняет слияние фидбека с результатом фазы.
// Оценка качества из фидбека переопределяет вычисленную оценку фазы.
// Adjustments перезаписывают только поля, уже присутствующие в контенте;
// отсутствующие в результате поля игнорируются (схема не расширяется).
func (a *Applier) merge(result *model.PhaseResult, fb *model.UserFeedback) (*model.PhaseResult, error) {
	adjusted := *result

	var payload model.FeedbackPayload
	if len(fb.Payload) > 0 {
		if err := json.Unmarshal(fb.Payload, &payload); err != nil {
			return nil, err
		}
	}

	if payload.QualityScore != nil {
		adjusted.QualityScore = *payload.QualityScore
	}

	content := map[string]json.RawMessage{}
	if len(result.Content) > 0 {
		if err := json.Unmarshal(result.Content, &content); err != nil {
			return nil, err
		}
	}

	for key, value := range payload.Adjustments {
		if _, exists := content[key]; exists {
			content[key] = value
		}
	}

	annotation, err := json.Marshal(appliedFeedbackAnnotation{
		FeedbackID:           fb.ID.String(),
		OriginalQualityScore: result.QualityScore,
		AdjustedQualityScore: adjusted.QualityScore,
		AppliedAt:            time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	content["applied_feedback"] = annotation

	mergedContent, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	adjusted.Content = mergedContent

	return &adjusted, nil
}
