package interfaces

import (
	"context"
	"time"

	"manga-server/internal/model"

	"github.com/google/uuid"
)

// SessionRepository defines the interface for interacting with generation session data.
// The database is the system of record for session state; all status transitions
// go through the atomic update methods below.
//
//go:generate mockery --name SessionRepository --output ../mocks --outpkg mocks --case=underscore
type SessionRepository interface {
	// Create inserts a new session record in the queued status.
	Create(ctx context.Context, querier DBTX, session *model.Session) error

	// GetByID retrieves a session by its unique ID.
	// Returns model.ErrSessionNotFound if no such session exists.
	GetByID(ctx context.Context, querier DBTX, id uuid.UUID) (*model.Session, error)

	// ListByUserID retrieves the most recent sessions of a user, newest first.
	ListByUserID(ctx context.Context, querier DBTX, userID uuid.UUID, limit int) ([]*model.Session, error)

	// CountActiveForUser returns the number of non-terminal sessions owned by the user.
	CountActiveForUser(ctx context.Context, querier DBTX, userID uuid.UUID) (int, error)

	// UpdateStatus atomically moves the session from one of the allowed statuses to
	// newStatus. Returns false (without error) when the session was not in any of the
	// allowed statuses, which makes forced-failure calls idempotent.
	UpdateStatus(ctx context.Context, querier DBTX, id uuid.UUID, allowedFrom []model.SessionStatus, newStatus model.SessionStatus, errorMessage *string) (bool, error)

	// MarkStarted moves queued -> processing and sets started_at exactly once.
	MarkStarted(ctx context.Context, querier DBTX, id uuid.UUID) error

	// MarkCompleted moves processing -> completed and sets completed_at exactly once.
	MarkCompleted(ctx context.Context, querier DBTX, id uuid.UUID) error

	// AdvancePhase sets current_phase and status in one statement.
	// current_phase must be monotonically non-decreasing; enforced by the query.
	AdvancePhase(ctx context.Context, querier DBTX, id uuid.UUID, newPhase int, status model.SessionStatus) error

	// SetWaitingFeedback moves processing -> waiting_feedback and persists the wait
	// deadline so in-flight waits can be reconciled after a process restart.
	SetWaitingFeedback(ctx context.Context, querier DBTX, id uuid.UUID, deadline time.Time) error

	// ClearFeedbackDeadline resets feedback_timeout_at after a wait resolves.
	ClearFeedbackDeadline(ctx context.Context, querier DBTX, id uuid.UUID) error

	// IncrementRetryCount increments retry_count and returns the new value.
	IncrementRetryCount(ctx context.Context, querier DBTX, id uuid.UUID) (int, error)

	// FindExpiredFeedbackWaits returns sessions stuck in waiting_feedback whose
	// persisted deadline passed before the given moment. Used by the reconciler.
	FindExpiredFeedbackWaits(ctx context.Context, querier DBTX, olderThan time.Time) ([]*model.Session, error)

	// FindAndMarkStaleProcessing force-fails sessions left in an active status with no
	// update for longer than staleThreshold. Returns the number of affected rows.
	FindAndMarkStaleProcessing(ctx context.Context, querier DBTX, staleThreshold time.Duration, errorMessage string) (int64, error)
}
