package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"manga-server/internal/config"
	"manga-server/internal/feedback"
	"manga-server/internal/generator"
	"manga-server/internal/interfaces"
	"manga-server/internal/messaging"
	"manga-server/internal/model"
)

// Orchestrator drives a session through the generation phases: it runs the
// generator under the emergency stop guard, pauses on feedback phases and
// applies the submitted feedback, and publishes progress events along the way.
type Orchestrator struct {
	db           interfaces.DBTX
	sessions     interfaces.SessionRepository
	phaseResults interfaces.PhaseResultRepository
	versions     interfaces.PreviewVersionRepository
	register     *feedback.Register
	applier      *feedback.Applier
	gen          generator.Client
	publisher    messaging.EventPublisher
	guard        *Guard
	cfg          *config.Config
	backoff      BackoffStrategy
	logger       *zap.Logger
}

func NewOrchestrator(
	db interfaces.DBTX,
	sessions interfaces.SessionRepository,
	phaseResults interfaces.PhaseResultRepository,
	versions interfaces.PreviewVersionRepository,
	register *feedback.Register,
	applier *feedback.Applier,
	gen generator.Client,
	publisher messaging.EventPublisher,
	guard *Guard,
	cfg *config.Config,
	backoff BackoffStrategy,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:           db,
		sessions:     sessions,
		phaseResults: phaseResults,
		versions:     versions,
		register:     register,
		applier:      applier,
		gen:          gen,
		publisher:    publisher,
		guard:        guard,
		cfg:          cfg,
		backoff:      backoff,
		logger:       logger.Named("Orchestrator"),
	}
}

// Run выполняет пайплайн сессии от текущей фазы до завершения.
// Блокирующая функция: запускается в отдельной горутине на сессию.
// Все ошибки терминальны для сессии и уже записаны в БД к моменту возврата.
func (o *Orchestrator) Run(ctx context.Context, sessionID uuid.UUID) error {
	log := o.logger.With(zap.String("session_id", sessionID.String()))

	session, err := o.sessions.GetByID(ctx, o.db, sessionID)
	if err != nil {
		log.Error("Сессия не найдена при запуске пайплайна", zap.Error(err))
		return err
	}
	if session.Status.IsTerminal() {
		log.Warn("Пайплайн не запущен: сессия в терминальном статусе",
			zap.String("status", string(session.Status)))
		return nil
	}

	if session.Status == model.StatusQueued {
		if err := o.sessions.MarkStarted(ctx, o.db, sessionID); err != nil {
			log.Error("Не удалось перевести сессию в processing", zap.Error(err))
			return err
		}
		session.Status = model.StatusProcessing
		o.publishStatus(ctx, session, model.StatusProcessing, nil)
	}

	sctx := model.SessionContext{
		SessionID: session.ID,
		UserID:    session.UserID,
		Title:     session.Title,
		Metadata:  session.Metadata,
	}
	if err := o.loadCompletedPhases(ctx, session, &sctx); err != nil {
		log.Error("Не удалось загрузить завершенные фазы", zap.Error(err))
		return err
	}

	startPhase := session.CurrentPhase
	if startPhase < 1 {
		startPhase = 1
	}

	for phaseNum := startPhase; phaseNum <= session.TotalPhases; phaseNum++ {
		if err := ctx.Err(); err != nil {
			o.cancelSession(session)
			return err
		}

		phase := model.Phase(phaseNum)

		result, err := o.runPhaseWithRetries(ctx, session, phase, sctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				o.cancelSession(session)
			}
			// Принудительный отказ уже записан гвардом
			return err
		}

		if o.cfg.IsFeedbackPhase(phaseNum) {
			result, err = o.collectFeedback(ctx, session, phase, result)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					o.cancelSession(session)
					return err
				}
				log.Error("Ошибка цикла фидбека", zap.String("phase", phase.String()), zap.Error(err))
				o.guard.ForceFail(ctx, session, phase, fmt.Sprintf("ошибка обработки фидбека: %v", err))
				return err
			}
		}

		sctx.PreviousPhases = appendPhase(sctx.PreviousPhases, phaseNum, result.Content)

		if phaseNum < session.TotalPhases {
			if err := o.sessions.AdvancePhase(ctx, o.db, session.ID, phaseNum+1, model.StatusProcessing); err != nil {
				log.Error("Не удалось продвинуть фазу", zap.Error(err))
				o.guard.ForceFail(ctx, session, phase, fmt.Sprintf("ошибка продвижения фазы: %v", err))
				return err
			}
			session.CurrentPhase = phaseNum + 1
		}
	}

	if err := o.sessions.MarkCompleted(ctx, o.db, session.ID); err != nil {
		log.Error("Не удалось завершить сессию", zap.Error(err))
		return err
	}
	sessionsFinished.WithLabelValues(string(model.StatusCompleted)).Inc()

	event := model.NewSessionEvent(model.EventSessionComplete, session.ID, session.UserID)
	event.Status = string(model.StatusCompleted)
	if final, ok := sctx.PreviousPhases[session.TotalPhases]; ok {
		event.Payload = final
	}
	o.publish(ctx, event)

	log.Info("Пайплайн сессии завершен", zap.Int("total_phases", session.TotalPhases))
	return nil
}

// runPhaseWithRetries выполняет одну фазу с ретраями по политике конфигурации.
// Каждая попытка - отдельная строка phase_results, история не перезаписывается.
func (o *Orchestrator) runPhaseWithRetries(ctx context.Context, session *model.Session, phase model.Phase, sctx model.SessionContext) (*model.PhaseResult, error) {
	log := o.logger.With(
		zap.String("session_id", session.ID.String()),
		zap.String("phase", phase.String()))

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxPhaseRetries; attempt++ {
		result := &model.PhaseResult{
			ID:        uuid.New(),
			SessionID: session.ID,
			Phase:     int(phase),
			Status:    model.PhaseResultRunning,
		}
		if err := o.phaseResults.CreateAttempt(ctx, o.db, result); err != nil {
			return nil, fmt.Errorf("ошибка создания попытки фазы: %w", err)
		}

		started := time.Now()
		artifact, err := o.guard.RunWithProtection(ctx, session, phase, o.cfg.PhaseTimeout,
			func(phaseCtx context.Context) (generator.PhaseArtifact, error) {
				return o.gen.Generate(phaseCtx, phase, sctx)
			})

		if err == nil {
			if err := o.phaseResults.MarkCompleted(ctx, o.db, result.ID, artifact.Content, artifact.QualityScore); err != nil {
				return nil, fmt.Errorf("ошибка сохранения результата фазы: %w", err)
			}
			result.Status = model.PhaseResultCompleted
			result.Content = artifact.Content
			result.QualityScore = artifact.QualityScore
			phaseDuration.WithLabelValues(phase.String(), "completed").Observe(time.Since(started).Seconds())

			o.publishPhaseProgress(ctx, session, phase, result)
			return result, nil
		}

		errText := err.Error()
		if markErr := o.phaseResults.MarkFailed(context.WithoutCancel(ctx), o.db, result.ID, errText); markErr != nil {
			log.Warn("Не удалось записать отказ попытки", zap.Error(markErr))
		}
		phaseDuration.WithLabelValues(phase.String(), "failed").Observe(time.Since(started).Seconds())

		// Таймаут фазы и отмена не ретраятся: гвард уже завершил сессию
		// или вызывающий отменил контекст.
		if errors.Is(err, model.ErrPhaseTimeout) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		retryCount, rcErr := o.sessions.IncrementRetryCount(ctx, o.db, session.ID)
		if rcErr != nil {
			log.Warn("Не удалось инкрементировать счетчик ретраев", zap.Error(rcErr))
		} else {
			session.RetryCount = retryCount
		}

		log.Warn("Попытка фазы не удалась",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.cfg.MaxPhaseRetries),
			zap.Error(err))

		if attempt == o.cfg.MaxPhaseRetries {
			break
		}

		select {
		case <-time.After(o.backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	o.guard.Escalate(ctx, session, phase, lastErr)
	return nil, fmt.Errorf("%w: %v", model.ErrGenerationFailed, lastErr)
}

// collectFeedback выполняет цикл фидбека фазы: публикует превью, ждет ответа
// пользователя в пределах таймаута и применяет полученный фидбек к результату.
// Таймаут - автоаппрув: пайплайн продолжает с немодифицированным результатом.
func (o *Orchestrator) collectFeedback(ctx context.Context, session *model.Session, phase model.Phase, result *model.PhaseResult) (*model.PhaseResult, error) {
	log := o.logger.With(
		zap.String("session_id", session.ID.String()),
		zap.String("phase", phase.String()))

	version, err := o.createPreviewVersion(ctx, session, phase, result)
	if err != nil {
		return nil, err
	}

	// Ожидание регистрируется до анонса превью: фидбек, пришедший сразу после
	// события feedback_request, уже найдет запись реестра.
	wait, err := o.register.RegisterWait(session.ID, int(phase))
	if err != nil {
		return nil, err
	}

	deadline := time.Now().UTC().Add(o.cfg.FeedbackTimeout)
	if err := o.sessions.SetWaitingFeedback(ctx, o.db, session.ID, deadline); err != nil {
		// До Await запись реестра снимается вручную, иначе ключ (session, phase)
		// останется занят навсегда
		o.register.Abandon(wait)
		return nil, fmt.Errorf("ошибка перевода в waiting_feedback: %w", err)
	}
	session.Status = model.StatusWaitingFeedback

	o.publishFeedbackRequest(ctx, session, phase, version)

	outcome, waitErr := o.register.Await(ctx, wait, o.cfg.FeedbackTimeout)
	if waitErr != nil {
		return nil, waitErr
	}

	// Дедлайн в БД больше не нужен: ожидание разрешилось в этом процессе
	if err := o.sessions.ClearFeedbackDeadline(context.WithoutCancel(ctx), o.db, session.ID); err != nil {
		log.Warn("Не удалось сбросить дедлайн фидбека", zap.Error(err))
	}

	switch outcome {
	case feedback.WaitResolved:
		feedbackWaitOutcomes.WithLabelValues("resolved").Inc()
		adjusted := o.applier.Apply(ctx, session.ID, int(phase), result)
		if adjusted != result {
			if err := o.phaseResults.UpdateAdjusted(ctx, o.db, result.ID, adjusted.Content, adjusted.QualityScore); err != nil {
				log.Warn("Не удалось сохранить скорректированный результат", zap.Error(err))
			} else {
				result = adjusted
			}
		}
	case feedback.WaitTimedOut:
		feedbackWaitOutcomes.WithLabelValues("timed_out").Inc()
		log.Info("Таймаут ожидания фидбека, автоаппрув")
		o.publishFeedbackTimeout(ctx, session, phase)
	}

	// waiting_feedback -> processing; результат фазы зафиксирован
	updated, err := o.sessions.UpdateStatus(ctx, o.db, session.ID,
		[]model.SessionStatus{model.StatusWaitingFeedback}, model.StatusProcessing, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка возврата в processing: %w", err)
	}
	if !updated {
		// Кто-то перевел сессию в терминальный статус, пока мы ждали
		fresh, getErr := o.sessions.GetByID(ctx, o.db, session.ID)
		if getErr == nil && fresh.Status == model.StatusCancelled {
			return nil, context.Canceled
		}
		return nil, model.ErrInvalidTransition
	}
	session.Status = model.StatusProcessing

	return result, nil
}

// createPreviewVersion фиксирует снимок результата фазы, предлагаемый
// пользователю. Родитель - последняя версия сессии, если она есть.
func (o *Orchestrator) createPreviewVersion(ctx context.Context, session *model.Session, phase model.Phase, result *model.PhaseResult) (*model.PreviewVersion, error) {
	var parentID *uuid.UUID
	latest, err := o.versions.GetLatestBySession(ctx, o.db, session.ID)
	if err != nil && !errors.Is(err, model.ErrVersionNotFound) {
		return nil, fmt.Errorf("ошибка поиска родительской версии: %w", err)
	}
	if latest != nil {
		parentID = &latest.ID
	}

	version := &model.PreviewVersion{
		ID:              uuid.New(),
		SessionID:       session.ID,
		Phase:           int(phase),
		ParentVersionID: parentID,
		Payload:         result.Content,
		ChangeSummary:   fmt.Sprintf("фаза %s завершена", phase.String()),
		QualityScore:    result.QualityScore,
	}
	if err := o.versions.Create(ctx, o.db, version); err != nil {
		return nil, fmt.Errorf("ошибка создания превью-версии: %w", err)
	}
	if err := o.phaseResults.SetPreviewVersion(ctx, o.db, result.ID, version.ID); err != nil {
		return nil, fmt.Errorf("ошибка привязки превью-версии: %w", err)
	}
	result.PreviewVersionID = &version.ID

	return version, nil
}

// loadCompletedPhases восстанавливает контекст генератора из завершенных фаз.
// Нужна при повторном запуске пайплайна не с первой фазы.
func (o *Orchestrator) loadCompletedPhases(ctx context.Context, session *model.Session, sctx *model.SessionContext) error {
	if session.CurrentPhase <= 1 {
		return nil
	}
	for phaseNum := 1; phaseNum < session.CurrentPhase; phaseNum++ {
		result, err := o.phaseResults.GetLatestCompleted(ctx, o.db, session.ID, phaseNum)
		if err != nil {
			if errors.Is(err, model.ErrPhaseResultNotFound) {
				continue
			}
			return err
		}
		sctx.PreviousPhases = appendPhase(sctx.PreviousPhases, phaseNum, result.Content)
	}
	return nil
}

// cancelSession переводит сессию в cancelled, если она еще не терминальна.
func (o *Orchestrator) cancelSession(session *model.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reason := "сессия отменена"
	updated, err := o.sessions.UpdateStatus(ctx, o.db, session.ID,
		[]model.SessionStatus{model.StatusQueued, model.StatusProcessing, model.StatusWaitingFeedback},
		model.StatusCancelled, &reason)
	if err != nil {
		o.logger.Error("Не удалось записать отмену сессии",
			zap.String("session_id", session.ID.String()), zap.Error(err))
		return
	}
	if !updated {
		return
	}
	sessionsFinished.WithLabelValues(string(model.StatusCancelled)).Inc()
	session.Status = model.StatusCancelled
	o.publishStatus(ctx, session, model.StatusCancelled, &reason)
}

func (o *Orchestrator) publishPhaseProgress(ctx context.Context, session *model.Session, phase model.Phase, result *model.PhaseResult) {
	event := model.NewSessionEvent(model.EventPhaseProgress, session.ID, session.UserID)
	phaseInt := int(phase)
	event.Phase = &phaseInt
	event.Status = string(session.Status)
	event.Payload = progressPayload(phase, session.TotalPhases, result.QualityScore)
	o.publish(ctx, event)
}

func (o *Orchestrator) publishFeedbackRequest(ctx context.Context, session *model.Session, phase model.Phase, version *model.PreviewVersion) {
	event := model.NewSessionEvent(model.EventFeedbackRequest, session.ID, session.UserID)
	phaseInt := int(phase)
	event.Phase = &phaseInt
	event.Status = string(model.StatusWaitingFeedback)
	timeoutSec := int(o.cfg.FeedbackTimeout.Seconds())
	event.TimeoutSeconds = &timeoutSec
	event.Payload = feedbackRequestPayload(version)
	o.publish(ctx, event)
}

func (o *Orchestrator) publishFeedbackTimeout(ctx context.Context, session *model.Session, phase model.Phase) {
	event := model.NewSessionEvent(model.EventFeedbackTimeout, session.ID, session.UserID)
	phaseInt := int(phase)
	event.Phase = &phaseInt
	autoAction := model.AutoActionApproved
	event.AutoAction = &autoAction
	o.publish(ctx, event)
}

func (o *Orchestrator) publishStatus(ctx context.Context, session *model.Session, status model.SessionStatus, errorDetails *string) {
	event := model.NewSessionEvent(model.EventSessionStatus, session.ID, session.UserID)
	event.Status = string(status)
	event.ErrorDetails = errorDetails
	o.publish(ctx, event)
}

// publish отправляет событие в очередь клиентских обновлений. Ошибка доставки
// прогресса не прерывает пайплайн.
func (o *Orchestrator) publish(ctx context.Context, event model.SessionEvent) {
	if err := o.publisher.PublishSessionEvent(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Warn("Не удалось опубликовать событие",
			zap.String("session_id", event.SessionID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

func progressPayload(phase model.Phase, totalPhases int, qualityScore float64) json.RawMessage {
	payload, _ := json.Marshal(map[string]interface{}{
		"phase_name":    phase.String(),
		"total_phases":  totalPhases,
		"quality_score": qualityScore,
	})
	return payload
}

func feedbackRequestPayload(version *model.PreviewVersion) json.RawMessage {
	payload, _ := json.Marshal(map[string]interface{}{
		"version_id":    version.ID.String(),
		"preview":       version.Payload,
		"quality_score": version.QualityScore,
	})
	return payload
}

func appendPhase(phases map[int]json.RawMessage, phase int, content json.RawMessage) map[int]json.RawMessage {
	if phases == nil {
		phases = make(map[int]json.RawMessage)
	}
	phases[phase] = content
	return phases
}
