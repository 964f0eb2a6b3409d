package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"manga-server/internal/generator"
	"manga-server/internal/interfaces"
	"manga-server/internal/messaging"
	"manga-server/internal/model"
)

const notifyMaxAttempts = 3

// Статусы, из которых разрешен принудительный перевод в failed.
// Терминальные статусы не трогаются, повторный вызов - no-op.
var forceFailAllowedFrom = []model.SessionStatus{
	model.StatusProcessing,
	model.StatusWaitingFeedback,
}

// Guard enforces a hard upper bound on phase execution time and owns the
// forced-failure path: a session that hit the bound, or exhausted its
// retries, is atomically failed and the client is notified.
type Guard struct {
	sessions  interfaces.SessionRepository
	db        interfaces.DBTX
	publisher messaging.EventPublisher
	backoff   BackoffStrategy
	logger    *zap.Logger
}

func NewGuard(sessions interfaces.SessionRepository, db interfaces.DBTX, publisher messaging.EventPublisher, backoff BackoffStrategy, logger *zap.Logger) *Guard {
	return &Guard{
		sessions:  sessions,
		db:        db,
		publisher: publisher,
		backoff:   backoff,
		logger:    logger.Named("EmergencyStopGuard"),
	}
}

type guardResult struct {
	artifact generator.PhaseArtifact
	err      error
}

// RunWithProtection выполняет fn под жестким таймаутом фазы.
// Превышение таймаута - принудительный отказ сессии и model.ErrPhaseTimeout.
// Прочие ошибки fn возвращаются вызывающему как есть: решение о ретрае
// принимает оркестратор, принудительный отказ при исчерпании ретраев
// выполняется через Escalate.
func (g *Guard) RunWithProtection(
	ctx context.Context,
	session *model.Session,
	phase model.Phase,
	timeout time.Duration,
	fn func(context.Context) (generator.PhaseArtifact, error),
) (generator.PhaseArtifact, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan guardResult, 1)
	go func() {
		defer func() {
			// Паника генератора не должна ронять процесс
			if r := recover(); r != nil {
				done <- guardResult{err: fmt.Errorf("%w: паника генератора: %v", model.ErrGenerationFailed, r)}
			}
		}()
		artifact, err := fn(phaseCtx)
		done <- guardResult{artifact: artifact, err: err}
	}()

	select {
	case res := <-done:
		return res.artifact, res.err

	case <-phaseCtx.Done():
		// Отмена родительского контекста - не аварийная остановка,
		// путь отмены сессии обрабатывает оркестратор.
		if ctx.Err() != nil {
			return generator.PhaseArtifact{}, ctx.Err()
		}

		reason := fmt.Sprintf("фаза %d (%s) превысила лимит %s", int(phase), phase.String(), timeout)
		g.logger.Error("Аварийная остановка: таймаут фазы",
			zap.String("session_id", session.ID.String()),
			zap.String("phase", phase.String()),
			zap.Duration("timeout", timeout))

		g.ForceFail(ctx, session, phase, reason)
		return generator.PhaseArtifact{}, fmt.Errorf("%w: %s", model.ErrPhaseTimeout, reason)
	}
}

// Escalate принудительно завершает сессию после исчерпания ретраев фазы.
func (g *Guard) Escalate(ctx context.Context, session *model.Session, phase model.Phase, cause error) {
	reason := fmt.Sprintf("фаза %d (%s): исчерпаны попытки генерации: %v", int(phase), phase.String(), cause)
	g.logger.Error("Аварийная остановка: исчерпаны ретраи",
		zap.String("session_id", session.ID.String()),
		zap.String("phase", phase.String()),
		zap.Error(cause))
	g.ForceFail(ctx, session, phase, reason)
}

// ForceFail атомарно переводит сессию в failed и уведомляет клиента.
// Сессия уже в терминальном статусе - no-op (идемпотентность).
func (g *Guard) ForceFail(ctx context.Context, session *model.Session, phase model.Phase, reason string) {
	// Для записи статуса используем фоновый контекст: отмена ctx вызывающего
	// не должна оставить сессию висеть в активном статусе.
	dbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	updated, err := g.sessions.UpdateStatus(dbCtx, g.db, session.ID, forceFailAllowedFrom, model.StatusFailed, &reason)
	if err != nil {
		g.logger.Error("Не удалось записать принудительный отказ сессии",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		return
	}
	if !updated {
		g.logger.Info("Принудительный отказ пропущен: сессия уже в терминальном статусе",
			zap.String("session_id", session.ID.String()))
		return
	}

	emergencyStops.Inc()
	sessionsFinished.WithLabelValues(string(model.StatusFailed)).Inc()

	event := model.NewSessionEvent(model.EventEmergencyStop, session.ID, session.UserID)
	event.Status = string(model.StatusFailed)
	phaseInt := int(phase)
	event.Phase = &phaseInt
	event.ErrorDetails = &reason

	g.publishWithRetry(dbCtx, event)
}

// publishWithRetry - ограниченный ретрай уведомления; паблишер сам не
// ретраит, это единственный слой повторов. Неудача всех попыток
// логируется и проглатывается: статус в БД уже записан, клиент увидит его
// при следующем запросе.
func (g *Guard) publishWithRetry(ctx context.Context, event model.SessionEvent) {
	var err error
	for attempt := 1; attempt <= notifyMaxAttempts; attempt++ {
		err = g.publisher.PublishSessionEvent(ctx, event)
		if err == nil {
			return
		}
		g.logger.Warn("Не удалось опубликовать уведомление об аварийной остановке",
			zap.String("session_id", event.SessionID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == notifyMaxAttempts {
			break
		}
		select {
		case <-time.After(g.backoff(attempt)):
		case <-ctx.Done():
			g.logger.Error("Публикация уведомления прервана контекстом",
				zap.String("session_id", event.SessionID),
				zap.Error(ctx.Err()))
			return
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Error("Уведомление об аварийной остановке не доставлено",
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}
