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
	"go.uber.org/zap"
)

// Константы запросов для работы с фидбеком пользователей
const (
	createUserFeedbackQuery = `
        INSERT INTO user_feedback (id, session_id, phase, feedback_type, payload, satisfaction_score, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	getLatestFeedbackQuery = `
        SELECT id, session_id, phase, feedback_type, payload, satisfaction_score, created_at
        FROM user_feedback
        WHERE session_id = $1 AND phase = $2
        ORDER BY created_at DESC LIMIT 1
    `
	listFeedbackBySessionQuery = `
        SELECT id, session_id, phase, feedback_type, payload, satisfaction_score, created_at
        FROM user_feedback WHERE session_id = $1 ORDER BY created_at DESC
    `
)

type pgUserFeedbackRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgUserFeedbackRepository создает репозиторий фидбека на основе PostgreSQL.
func NewPgUserFeedbackRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.UserFeedbackRepository {
	return &pgUserFeedbackRepository{
		db:     db,
		logger: logger.Named("PgUserFeedbackRepo"),
	}
}

// Create вставляет новую запись фидбека. Записи append-only и никогда не изменяются.
func (r *pgUserFeedbackRepository) Create(ctx context.Context, querier interfaces.DBTX, feedback *model.UserFeedback) error {
	if feedback.ID == uuid.Nil {
		feedback.ID = uuid.New()
	}
	feedback.CreatedAt = time.Now().UTC()

	_, err := querier.Exec(ctx, createUserFeedbackQuery,
		feedback.ID, feedback.SessionID, feedback.Phase, feedback.Type,
		feedback.Payload, feedback.SatisfactionScore, feedback.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create user feedback",
			zap.String("sessionID", feedback.SessionID.String()),
			zap.Int("phase", feedback.Phase), zap.Error(err))
		return fmt.Errorf("ошибка сохранения фидбека: %w", err)
	}

	r.logger.Debug("User feedback created",
		zap.String("feedbackID", feedback.ID.String()),
		zap.String("sessionID", feedback.SessionID.String()),
		zap.Int("phase", feedback.Phase),
		zap.String("type", string(feedback.Type)))
	return nil
}

// GetLatest возвращает самый свежий фидбек для пары (session, phase).
func (r *pgUserFeedbackRepository) GetLatest(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID, phase int) (*model.UserFeedback, error) {
	row := querier.QueryRow(ctx, getLatestFeedbackQuery, sessionID, phase)
	feedback, err := scanUserFeedback(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrFeedbackNotFound
		}
		r.logger.Error("Failed to get latest feedback",
			zap.String("sessionID", sessionID.String()), zap.Int("phase", phase), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения фидбека для фазы %d: %w", phase, err)
	}
	return feedback, nil
}

// ListBySession возвращает весь фидбек сессии, новые записи первыми.
func (r *pgUserFeedbackRepository) ListBySession(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID) ([]*model.UserFeedback, error) {
	rows, err := querier.Query(ctx, listFeedbackBySessionQuery, sessionID)
	if err != nil {
		r.logger.Error("Failed to list feedback", zap.String("sessionID", sessionID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения фидбека сессии: %w", err)
	}
	defer rows.Close()

	var feedbackList []*model.UserFeedback
	for rows.Next() {
		feedback, err := scanUserFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования фидбека: %w", err)
		}
		feedbackList = append(feedbackList, feedback)
	}
	return feedbackList, rows.Err()
}

// scanUserFeedback сканирует одну строку фидбека.
func scanUserFeedback(row pgx.Row) (*model.UserFeedback, error) {
	var f model.UserFeedback
	err := row.Scan(
		&f.ID, &f.SessionID, &f.Phase, &f.Type, &f.Payload, &f.SatisfactionScore, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
