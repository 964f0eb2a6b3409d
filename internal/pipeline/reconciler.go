package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"manga-server/internal/interfaces"
	"manga-server/internal/messaging"
	"manga-server/internal/model"
)

const reconcileSweepTimeout = 30 * time.Second

// Reconciler подчищает сессии, осиротевшие после рестарта процесса:
// ожидания фидбека с истекшим персистентным дедлайном и сессии, зависшие
// в processing без обновлений. In-memory реестр ожиданий рестарт не
// переживает, поэтому источником истины служит feedback_timeout_at в БД.
type Reconciler struct {
	db           interfaces.DBTX
	sessions     interfaces.SessionRepository
	publisher    messaging.EventPublisher
	interval     time.Duration
	staleTimeout time.Duration
	logger       *zap.Logger
}

func NewReconciler(db interfaces.DBTX, sessions interfaces.SessionRepository, publisher messaging.EventPublisher, interval, staleTimeout time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:           db,
		sessions:     sessions,
		publisher:    publisher,
		interval:     interval,
		staleTimeout: staleTimeout,
		logger:       logger.Named("Reconciler"),
	}
}

// Start запускает периодическую чистку. Первый проход выполняется сразу,
// чтобы рестарт процесса не оставлял сессии висеть до первого тика.
// Блокирующая функция, запускать в отдельной горутине.
func (r *Reconciler) Start(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			r.logger.Info("Реконсайлер остановлен")
			return
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, reconcileSweepTimeout)
	defer cancel()

	r.sweepExpiredFeedbackWaits(sweepCtx)
	r.sweepStaleProcessing(sweepCtx)
}

// sweepExpiredFeedbackWaits находит сессии в waiting_feedback, чей дедлайн
// истек, а живого ожидания в этом процессе нет (иначе оно бы уже разрешилось
// таймаутом). Такие сессии возобновить нельзя - контекст генерации потерян
// вместе с горутиной пайплайна, поэтому они завершаются с описанием причины.
func (r *Reconciler) sweepExpiredFeedbackWaits(ctx context.Context) {
	// Грейс в один интервал: живое ожидание успевает разрешиться само
	olderThan := time.Now().UTC().Add(-r.interval)

	sessions, err := r.sessions.FindExpiredFeedbackWaits(ctx, r.db, olderThan)
	if err != nil {
		r.logger.Error("Ошибка поиска истекших ожиданий фидбека", zap.Error(err))
		return
	}

	for _, session := range sessions {
		reason := "ожидание фидбека не пережило рестарт процесса"
		updated, err := r.sessions.UpdateStatus(ctx, r.db, session.ID,
			[]model.SessionStatus{model.StatusWaitingFeedback}, model.StatusFailed, &reason)
		if err != nil {
			r.logger.Error("Не удалось завершить осиротевшую сессию",
				zap.String("session_id", session.ID.String()), zap.Error(err))
			continue
		}
		if !updated {
			continue
		}

		reconciledSessions.WithLabelValues("expired_feedback_wait").Inc()
		sessionsFinished.WithLabelValues(string(model.StatusFailed)).Inc()
		r.logger.Warn("Осиротевшая сессия завершена",
			zap.String("session_id", session.ID.String()),
			zap.Int("phase", session.CurrentPhase))

		event := model.NewSessionEvent(model.EventSessionStatus, session.ID, session.UserID)
		event.Status = string(model.StatusFailed)
		event.ErrorDetails = &reason
		if err := r.publisher.PublishSessionEvent(ctx, event); err != nil {
			r.logger.Warn("Не удалось опубликовать событие реконсайлера",
				zap.String("session_id", session.ID.String()), zap.Error(err))
		}
	}
}

// sweepStaleProcessing завершает сессии, зависшие в processing дольше
// допустимого без единого обновления строки.
func (r *Reconciler) sweepStaleProcessing(ctx context.Context) {
	count, err := r.sessions.FindAndMarkStaleProcessing(ctx, r.db, r.staleTimeout,
		"сессия зависла в processing и была завершена реконсайлером")
	if err != nil {
		r.logger.Error("Ошибка чистки зависших сессий", zap.Error(err))
		return
	}
	if count > 0 {
		reconciledSessions.WithLabelValues("stale_processing").Add(float64(count))
		r.logger.Warn("Завершены зависшие сессии", zap.Int64("count", count))
	}
}
