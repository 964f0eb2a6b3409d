package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"manga-server/internal/interfaces"
	"manga-server/internal/model"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Константы запросов для работы с preview-версиями
const (
	checkParentVersionQuery = `
        SELECT session_id, phase FROM preview_versions WHERE id = $1
    `
	createPreviewVersionQuery = `
        INSERT INTO preview_versions (id, session_id, phase, parent_version_id, payload, change_summary, quality_score, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	getPreviewVersionByIDQuery = `
        SELECT id, session_id, phase, parent_version_id, payload, change_summary, quality_score, created_at
        FROM preview_versions WHERE id = $1
    `
	getLatestPreviewVersionQuery = `
        SELECT id, session_id, phase, parent_version_id, payload, change_summary, quality_score, created_at
        FROM preview_versions WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1
    `
	listPreviewVersionsQuery = `
        SELECT id, session_id, phase, parent_version_id, payload, change_summary, quality_score, created_at
        FROM preview_versions WHERE session_id = $1 ORDER BY created_at
    `
)

type pgPreviewVersionRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgPreviewVersionRepository создает репозиторий preview-версий на основе PostgreSQL.
func NewPgPreviewVersionRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.PreviewVersionRepository {
	return &pgPreviewVersionRepository{
		db:     db,
		logger: logger.Named("PgPreviewVersionRepo"),
	}
}

// Create создает новую preview-версию, проверяя инвариант цепочки версий:
// родитель принадлежит той же сессии и фазе не выше текущей (без ссылок вперед).
func (r *pgPreviewVersionRepository) Create(ctx context.Context, querier interfaces.DBTX, version *model.PreviewVersion) error {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	version.CreatedAt = time.Now().UTC()

	if version.ParentVersionID != nil {
		var parentSessionID uuid.UUID
		var parentPhase int
		err := querier.QueryRow(ctx, checkParentVersionQuery, *version.ParentVersionID).Scan(&parentSessionID, &parentPhase)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrVersionNotFound
			}
			return fmt.Errorf("ошибка проверки родительской версии: %w", err)
		}
		if parentSessionID != version.SessionID || parentPhase > version.Phase {
			r.logger.Warn("Preview version parent violates phase ordering",
				zap.String("sessionID", version.SessionID.String()),
				zap.Int("phase", version.Phase),
				zap.Int("parentPhase", parentPhase))
			return model.ErrVersionPhaseOrder
		}
	}

	_, err := querier.Exec(ctx, createPreviewVersionQuery,
		version.ID, version.SessionID, version.Phase, version.ParentVersionID,
		version.Payload, version.ChangeSummary, version.QualityScore, version.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create preview version",
			zap.String("sessionID", version.SessionID.String()), zap.Error(err))
		return fmt.Errorf("ошибка создания preview-версии: %w", err)
	}

	r.logger.Debug("Preview version created",
		zap.String("versionID", version.ID.String()),
		zap.String("sessionID", version.SessionID.String()),
		zap.Int("phase", version.Phase))
	return nil
}

// GetByID возвращает preview-версию по ID.
func (r *pgPreviewVersionRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*model.PreviewVersion, error) {
	var version model.PreviewVersion
	err := pgxscan.Get(ctx, querier, &version, getPreviewVersionByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrVersionNotFound
		}
		r.logger.Error("Failed to get preview version", zap.String("versionID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения preview-версии %s: %w", id, err)
	}
	return &version, nil
}

// GetLatestBySession возвращает последнюю preview-версию сессии.
func (r *pgPreviewVersionRepository) GetLatestBySession(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID) (*model.PreviewVersion, error) {
	var version model.PreviewVersion
	err := pgxscan.Get(ctx, querier, &version, getLatestPreviewVersionQuery, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrVersionNotFound
		}
		r.logger.Error("Failed to get latest preview version",
			zap.String("sessionID", sessionID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения последней preview-версии: %w", err)
	}
	return &version, nil
}

// ListBySession возвращает все preview-версии сессии в порядке создания.
func (r *pgPreviewVersionRepository) ListBySession(ctx context.Context, querier interfaces.DBTX, sessionID uuid.UUID) ([]*model.PreviewVersion, error) {
	var versions []*model.PreviewVersion
	err := pgxscan.Select(ctx, querier, &versions, listPreviewVersionsQuery, sessionID)
	if err != nil {
		r.logger.Error("Failed to list preview versions",
			zap.String("sessionID", sessionID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения списка preview-версий: %w", err)
	}
	return versions, nil
}
