package interfaces

import (
	"context"
	"encoding/json"

	"manga-server/internal/model"

	"github.com/google/uuid"
)

// PhaseResultRepository defines the interface for interacting with phase execution attempts.
// Attempts are append-only: a retry creates a new row, history is never overwritten.
//
//go:generate mockery --name PhaseResultRepository --output ../mocks --outpkg mocks --case=underscore
type PhaseResultRepository interface {
	// CreateAttempt inserts a new attempt row in the running status.
	// The attempt number is computed inside the query (max attempt for the key + 1).
	CreateAttempt(ctx context.Context, querier DBTX, result *model.PhaseResult) error

	// MarkCompleted stores the generated content and quality score on a running attempt.
	MarkCompleted(ctx context.Context, querier DBTX, id uuid.UUID, content json.RawMessage, qualityScore float64) error

	// MarkFailed records the failure reason on a running attempt.
	MarkFailed(ctx context.Context, querier DBTX, id uuid.UUID, errorMessage string) error

	// UpdateAdjusted overwrites content and quality score after feedback application.
	UpdateAdjusted(ctx context.Context, querier DBTX, id uuid.UUID, content json.RawMessage, qualityScore float64) error

	// SetPreviewVersion links a completed attempt to the preview version built from it.
	SetPreviewVersion(ctx context.Context, querier DBTX, id uuid.UUID, versionID uuid.UUID) error

	// GetLatestCompleted returns the newest completed attempt for (session, phase).
	// Returns model.ErrPhaseResultNotFound when the phase has no completed attempt.
	GetLatestCompleted(ctx context.Context, querier DBTX, sessionID uuid.UUID, phase int) (*model.PhaseResult, error)

	// ListBySession returns all attempts of a session ordered by phase, then attempt.
	ListBySession(ctx context.Context, querier DBTX, sessionID uuid.UUID) ([]*model.PhaseResult, error)
}
