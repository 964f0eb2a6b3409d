package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"manga-server/internal/interfaces"
	"manga-server/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Константы запросов для работы с результатами фаз
const (
	createPhaseAttemptQuery = `
        INSERT INTO phase_results (id, session_id, phase, attempt, status, quality_score, created_at, updated_at)
        VALUES ($1, $2, $3,
                (SELECT COALESCE(MAX(attempt), 0) + 1 FROM phase_results WHERE session_id = $2 AND phase = $3),
                $4, 0, $5, $5)
        RETURNING attempt
    `
	markPhaseCompletedQuery = `
        UPDATE phase_results
        SET status = 'completed', content = $2, quality_score = $3, updated_at = NOW()
        WHERE id = $1 AND status = 'running'
    `
	markPhaseFailedQuery = `
        UPDATE phase_results
        SET status = 'failed', error = $2, updated_at = NOW()
        WHERE id = $1 AND status = 'running'
    `
	updateAdjustedResultQuery = `
        UPDATE phase_results
        SET content = $2, quality_score = $3, updated_at = NOW()
        WHERE id = $1 AND status = 'completed'
    `
	setPreviewVersionQuery = `
        UPDATE phase_results SET preview_version_id = $2, updated_at = NOW() WHERE id = $1
    `
	getLatestCompletedQuery = `
        SELECT id, session_id, phase, attempt, status, content, quality_score, preview_version_id, error, created_at, updated_at
        FROM phase_results
        WHERE session_id = $1 AND phase = $2 AND status = 'completed'
        ORDER BY attempt DESC LIMIT 1
    `
	listPhaseResultsQuery = `
        SELECT id, session_id, phase, attempt, status, content, quality_score, preview_version_id, error, created_at, updated_at
        FROM phase_results WHERE session_id = $1 ORDER BY phase, attempt
    `
)

type pgPhaseResultRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgPhaseResultRepository создает репозиторий результатов фаз на основе PostgreSQL.
func NewPgPhaseResultRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.PhaseResultRepository {
	return &pgPhaseResultRepository{
		db:     db,
		logger: logger.Named("PgPhaseResultRepo"),
	}
}

// CreateAttempt вставляет новую попытку выполнения фазы со статусом running.
// Номер попытки вычисляется в запросе (max+1), история попыток не перезаписывается.
func (r *pgPhaseResultRepository) CreateAttempt(ctx context.Context, querier interfaces.DBTX, result *model.PhaseResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	if result.Status == "" {
		result.Status = model.PhaseResultRunning
	}
	now := time.Now().UTC()
	result.CreatedAt = now
	result.UpdatedAt = now

	err := querier.QueryRow(ctx, createPhaseAttemptQuery,
		result.ID, result.SessionID, result.Phase, result.Status, now).Scan(&result.Attempt)
	if err != nil {
		r.logger.Error("Failed to create phase attempt",
			zap.String("sessionID", result.SessionID.String()),
			zap.Int("phase", result.Phase), zap.Error(err))
		return fmt.Errorf("ошибка создания попытки фазы %d: %w", result.Phase, err)
	}

	r.logger.Debug("Phase attempt created",
		zap.String("sessionID", result.SessionID.String()),
		zap.Int("phase", result.Phase), zap.Int("attempt", result.Attempt))
	return nil
}

// MarkCompleted сохраняет контент и оценку качества успешной попытки.
func (r *pgPhaseResultRepository) MarkCompleted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, content json.RawMessage, qualityScore float64) error {
	commandTag, err := querier.Exec(ctx, markPhaseCompletedQuery, id, content, qualityScore)
	if err != nil {
		r.logger.Error("Failed to mark phase result completed", zap.String("resultID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка завершения результата фазы %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		return model.ErrPhaseResultNotFound
	}
	return nil
}

// MarkFailed записывает причину неудачи попытки.
func (r *pgPhaseResultRepository) MarkFailed(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, errorMessage string) error {
	commandTag, err := querier.Exec(ctx, markPhaseFailedQuery, id, errorMessage)
	if err != nil {
		r.logger.Error("Failed to mark phase result failed", zap.String("resultID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка пометки результата фазы %s как failed: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		return model.ErrPhaseResultNotFound
	}
	return nil
}

// UpdateAdjusted перезаписывает контент и оценку после применения фидбека.
func (r *pgPhaseResultRepository) UpdateAdjusted(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, content json.RawMessage, qualityScore float64) error {
	commandTag, err := querier.Exec(ctx, updateAdjustedResultQuery, id, content, qualityScore)
	if err != nil {
		r.logger.Error("Failed to update adjusted phase result", zap.String("resultID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка сохранения скорректированного результата %s: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		return model.ErrPhaseResultNotFound
	}
	return nil
}

// SetPreviewVersion связывает результат фазы с созданной preview-версией.
func (r *pgPhaseResultRepository) SetPreviewVersion(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, versionID uuid.UUID) error {
	_, err := querier.Exec(ctx, setPreviewVersionQuery, id, versionID)
	if err != nil {
		r.logger.Error("Failed to set preview version on phase result",
			zap.String("resultID", id.String()), zap.String("versionID", versionID.String()), zap.Error(err))
		return fmt.Errorf("ошибка привязки preview-версии к результату %s: %w", id, err)
	}
	return nil
}

// GetLatestCompleted возвращает последнюю успешную попытку для пары (session, phase).
func (r *pgPhaseResultRepository) GetLatestCompleted(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID, phase int) (*model.PhaseResult, error) {
	row := querier.QueryRow(ctx, getLatestCompletedQuery, sessionID, phase)
	result, err := scanPhaseResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrPhaseResultNotFound
		}
		r.logger.Error("Failed to get latest completed phase result",
			zap.String("sessionID", sessionID.String()), zap.Int("phase", phase), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения результата фазы %d: %w", phase, err)
	}
	return result, nil
}

// ListBySession возвращает все попытки сессии по порядку фаз и попыток.
func (r *pgPhaseResultRepository) ListBySession(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID) ([]*model.PhaseResult, error) {
	rows, err := querier.Query(ctx, listPhaseResultsQuery, sessionID)
	if err != nil {
		r.logger.Error("Failed to list phase results", zap.String("sessionID", sessionID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения результатов фаз: %w", err)
	}
	defer rows.Close()

	var results []*model.PhaseResult
	for rows.Next() {
		result, err := scanPhaseResult(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования результата фазы: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// scanPhaseResult сканирует одну строку результата фазы.
func scanPhaseResult(row pgx.Row) (*model.PhaseResult, error) {
	var pr model.PhaseResult
	err := row.Scan(
		&pr.ID, &pr.SessionID, &pr.Phase, &pr.Attempt, &pr.Status, &pr.Content,
		&pr.QualityScore, &pr.PreviewVersionID, &pr.Error, &pr.CreatedAt, &pr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pr, nil
}
