package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"manga-server/internal/interfaces"
	"manga-server/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Константы запросов для работы с сессиями
const (
	createSessionQuery = `
        INSERT INTO sessions (id, user_id, title, current_phase, total_phases, status, retry_count, metadata, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
    `
	getSessionByIDQuery = `
        SELECT id, user_id, title, current_phase, total_phases, status, retry_count, metadata,
               feedback_timeout_at, error_message, created_at, updated_at, started_at, completed_at
        FROM sessions WHERE id = $1
    `
	listSessionsByUserQuery = `
        SELECT id, user_id, title, current_phase, total_phases, status, retry_count, metadata,
               feedback_timeout_at, error_message, created_at, updated_at, started_at, completed_at
        FROM sessions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
    `
	countActiveSessionsQuery = `
        SELECT COUNT(*) FROM sessions
        WHERE user_id = $1 AND status = ANY($2::session_status[])
    `
	updateSessionStatusQuery = `
        UPDATE sessions
        SET status = $2::session_status,
            error_message = COALESCE($3, error_message),
            completed_at = CASE WHEN $2 = ANY('{completed,failed,cancelled}'::session_status[]) AND completed_at IS NULL
                                THEN NOW() ELSE completed_at END,
            updated_at = NOW()
        WHERE id = $1 AND status = ANY($4::session_status[])
    `
	markSessionStartedQuery = `
        UPDATE sessions
        SET status = $2::session_status,
            started_at = COALESCE(started_at, NOW()),
            updated_at = NOW()
        WHERE id = $1 AND status = $3::session_status
    `
	markSessionCompletedQuery = `
        UPDATE sessions
        SET status = 'completed', completed_at = COALESCE(completed_at, NOW()), updated_at = NOW()
        WHERE id = $1 AND status = 'processing'
    `
	advancePhaseQuery = `
        UPDATE sessions
        SET current_phase = $2, status = $3::session_status, updated_at = NOW()
        WHERE id = $1 AND current_phase <= $2 AND status = ANY('{processing,waiting_feedback}'::session_status[])
    `
	setWaitingFeedbackQuery = `
        UPDATE sessions
        SET status = 'waiting_feedback', feedback_timeout_at = $2, updated_at = NOW()
        WHERE id = $1 AND status = 'processing'
    `
	clearFeedbackDeadlineQuery = `
        UPDATE sessions SET feedback_timeout_at = NULL, updated_at = NOW() WHERE id = $1
    `
	incrementRetryCountQuery = `
        UPDATE sessions SET retry_count = retry_count + 1, updated_at = NOW()
        WHERE id = $1 RETURNING retry_count
    `
	findExpiredFeedbackWaitsQuery = `
        SELECT id, user_id, title, current_phase, total_phases, status, retry_count, metadata,
               feedback_timeout_at, error_message, created_at, updated_at, started_at, completed_at
        FROM sessions
        WHERE status = 'waiting_feedback' AND feedback_timeout_at IS NOT NULL AND feedback_timeout_at < $1
    `
	markStaleSessionsQuery = `
        UPDATE sessions
        SET status = 'failed', error_message = $1, completed_at = COALESCE(completed_at, NOW()), updated_at = NOW()
        WHERE status = ANY($2::session_status[]) AND updated_at < $3
    `
)

type pgSessionRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgSessionRepository создает репозиторий сессий на основе PostgreSQL.
func NewPgSessionRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.SessionRepository {
	return &pgSessionRepository{
		db:     db,
		logger: logger.Named("PgSessionRepo"),
	}
}

// Create создает новую запись сессии.
func (r *pgSessionRepository) Create(ctx context.Context, querier interfaces.DBTX, session *model.Session) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = model.StatusQueued
	}

	_, err := querier.Exec(ctx, createSessionQuery,
		session.ID, session.UserID, session.Title, session.CurrentPhase, session.TotalPhases,
		session.Status, session.RetryCount, session.Metadata, now)
	if err != nil {
		r.logger.Error("Failed to create session",
			zap.String("sessionID", session.ID.String()), zap.Error(err))
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}

	r.logger.Debug("Session created",
		zap.String("sessionID", session.ID.String()),
		zap.String("userID", session.UserID.String()))
	return nil
}

// GetByID возвращает сессию по ID.
func (r *pgSessionRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*model.Session, error) {
	row := querier.QueryRow(ctx, getSessionByIDQuery, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		r.logger.Error("Failed to get session", zap.String("sessionID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения сессии %s: %w", id, err)
	}
	return session, nil
}

// ListByUserID возвращает последние сессии пользователя.
func (r *pgSessionRepository) ListByUserID(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID, limit int) ([]*model.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := querier.Query(ctx, listSessionsByUserQuery, userID, limit)
	if err != nil {
		r.logger.Error("Failed to list sessions", zap.String("userID", userID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения списка сессий: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сессии: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CountActiveForUser возвращает число незавершенных сессий пользователя.
func (r *pgSessionRepository) CountActiveForUser(ctx context.Context, querier interfaces.DBTX, userID uuid.UUID) (int, error) {
	activeStatuses := []model.SessionStatus{
		model.StatusQueued,
		model.StatusProcessing,
		model.StatusWaitingFeedback,
	}
	var count int
	err := querier.QueryRow(ctx, countActiveSessionsQuery, userID, pq.Array(statusStrings(activeStatuses))).Scan(&count)
	if err != nil {
		r.logger.Error("Failed to count active sessions", zap.String("userID", userID.String()), zap.Error(err))
		return 0, fmt.Errorf("ошибка подсчета активных сессий: %w", err)
	}
	return count, nil
}

// UpdateStatus атомарно переводит сессию в новый статус, если текущий входит в allowedFrom.
// Возвращает false без ошибки, если переход не применился (сессия уже в другом статусе).
func (r *pgSessionRepository) UpdateStatus(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, allowedFrom []model.SessionStatus, newStatus model.SessionStatus, errorMessage *string) (bool, error) {
	logFields := []zap.Field{
		zap.String("sessionID", id.String()),
		zap.String("newStatus", string(newStatus)),
		zap.Any("allowedFrom", allowedFrom),
	}

	commandTag, err := querier.Exec(ctx, updateSessionStatusQuery,
		id, newStatus, errorMessage, pq.Array(statusStrings(allowedFrom)))
	if err != nil {
		r.logger.Error("Failed to update session status", append(logFields, zap.Error(err))...)
		return false, fmt.Errorf("ошибка обновления статуса сессии %s: %w", id, err)
	}

	updated := commandTag.RowsAffected() > 0
	if !updated {
		r.logger.Debug("Session status update skipped (no matching status)", logFields...)
	}
	return updated, nil
}

// MarkStarted переводит queued -> processing и выставляет started_at один раз.
func (r *pgSessionRepository) MarkStarted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) error {
	commandTag, err := querier.Exec(ctx, markSessionStartedQuery, id, model.StatusProcessing, model.StatusQueued)
	if err != nil {
		r.logger.Error("Failed to mark session started", zap.String("sessionID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка старта сессии %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

// MarkCompleted переводит processing -> completed и выставляет completed_at один раз.
func (r *pgSessionRepository) MarkCompleted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) error {
	commandTag, err := querier.Exec(ctx, markSessionCompletedQuery, id)
	if err != nil {
		r.logger.Error("Failed to mark session completed", zap.String("sessionID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка завершения сессии %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

// AdvancePhase обновляет текущую фазу и статус. Запрос запрещает уменьшение current_phase.
func (r *pgSessionRepository) AdvancePhase(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, newPhase int, status model.SessionStatus) error {
	commandTag, err := querier.Exec(ctx, advancePhaseQuery, id, newPhase, status)
	if err != nil {
		r.logger.Error("Failed to advance session phase",
			zap.String("sessionID", id.String()), zap.Int("newPhase", newPhase), zap.Error(err))
		return fmt.Errorf("ошибка перехода на фазу %d сессии %s: %w", newPhase, id, err)
	}
	if commandTag.RowsAffected() == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

// SetWaitingFeedback переводит processing -> waiting_feedback и сохраняет дедлайн ожидания.
func (r *pgSessionRepository) SetWaitingFeedback(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, deadline time.Time) error {
	commandTag, err := querier.Exec(ctx, setWaitingFeedbackQuery, id, deadline.UTC())
	if err != nil {
		r.logger.Error("Failed to set waiting_feedback", zap.String("sessionID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка перевода сессии %s в ожидание фидбека: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

// ClearFeedbackDeadline сбрасывает сохраненный дедлайн ожидания фидбека.
func (r *pgSessionRepository) ClearFeedbackDeadline(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) error {
	_, err := querier.Exec(ctx, clearFeedbackDeadlineQuery, id)
	if err != nil {
		r.logger.Error("Failed to clear feedback deadline", zap.String("sessionID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка сброса дедлайна фидбека сессии %s: %w", id, err)
	}
	return nil
}

// IncrementRetryCount увеличивает счетчик ретраев и возвращает новое значение.
func (r *pgSessionRepository) IncrementRetryCount(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (int, error) {
	var retryCount int
	err := querier.QueryRow(ctx, incrementRetryCountQuery, id).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, model.ErrSessionNotFound
		}
		r.logger.Error("Failed to increment retry count", zap.String("sessionID", id.String()), zap.Error(err))
		return 0, fmt.Errorf("ошибка инкремента retry_count сессии %s: %w", id, err)
	}
	return retryCount, nil
}

// FindExpiredFeedbackWaits возвращает сессии, застрявшие в waiting_feedback с истекшим дедлайном.
func (r *pgSessionRepository) FindExpiredFeedbackWaits(ctx context.Context, querier interfaces.DBTX, olderThan time.Time) ([]*model.Session, error) {
	rows, err := querier.Query(ctx, findExpiredFeedbackWaitsQuery, olderThan.UTC())
	if err != nil {
		r.logger.Error("Failed to query expired feedback waits", zap.Error(err))
		return nil, fmt.Errorf("ошибка поиска просроченных ожиданий фидбека: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сессии: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// FindAndMarkStaleProcessing находит "зависшие" активные сессии и переводит их в failed.
func (r *pgSessionRepository) FindAndMarkStaleProcessing(ctx context.Context, querier interfaces.DBTX, staleThreshold time.Duration, errorMessage string) (int64, error) {
	staleStatuses := []model.SessionStatus{
		model.StatusQueued,
		model.StatusProcessing,
	}
	// Нулевой порог означает проверку всех записей в указанных статусах
	if staleThreshold < 0 {
		staleThreshold = 0
	}
	threshold := time.Now().UTC().Add(-staleThreshold)

	commandTag, err := querier.Exec(ctx, markStaleSessionsQuery,
		errorMessage, pq.Array(statusStrings(staleStatuses)), threshold)
	if err != nil {
		r.logger.Error("Failed to mark stale sessions", zap.Error(err))
		return 0, fmt.Errorf("ошибка пометки зависших сессий: %w", err)
	}

	updatedCount := commandTag.RowsAffected()
	if updatedCount > 0 {
		r.logger.Info("Stale sessions marked as failed", zap.Int64("count", updatedCount))
	}
	return updatedCount, nil
}

// scanSession сканирует одну строку сессии из row или rows.
func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.Title, &s.CurrentPhase, &s.TotalPhases, &s.Status, &s.RetryCount,
		&s.Metadata, &s.FeedbackTimeoutAt, &s.ErrorMessage,
		&s.CreatedAt, &s.UpdatedAt, &s.StartedAt, &s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// statusStrings конвертирует статусы в []string для pq.Array.
func statusStrings(statuses []model.SessionStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
