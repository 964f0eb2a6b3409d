package interfaces

import (
	"context"

	"manga-server/internal/model"

	"github.com/google/uuid"
)

// PreviewVersionRepository defines the interface for interacting with preview version snapshots.
//
//go:generate mockery --name PreviewVersionRepository --output ../mocks --outpkg mocks --case=underscore
type PreviewVersionRepository interface {
	// Create inserts a new preview version. When ParentVersionID is set, the parent must
	// belong to the same session and to a phase not greater than the new version's phase;
	// model.ErrVersionPhaseOrder is returned otherwise.
	Create(ctx context.Context, querier DBTX, version *model.PreviewVersion) error

	// GetByID retrieves a preview version by its unique ID.
	GetByID(ctx context.Context, querier DBTX, id uuid.UUID) (*model.PreviewVersion, error)

	// GetLatestBySession returns the newest preview version of a session, if any.
	// Returns model.ErrVersionNotFound when the session has no versions yet.
	GetLatestBySession(ctx context.Context, querier DBTX, sessionID uuid.UUID) (*model.PreviewVersion, error)

	// ListBySession returns all preview versions of a session ordered by creation time.
	ListBySession(ctx context.Context, querier DBTX, sessionID uuid.UUID) ([]*model.PreviewVersion, error)
}

// UserFeedbackRepository defines the interface for interacting with feedback submissions.
// Feedback is append-only history; rows are never updated or deleted.
//
//go:generate mockery --name UserFeedbackRepository --output ../mocks --outpkg mocks --case=underscore
type UserFeedbackRepository interface {
	// Create inserts a new feedback row.
	Create(ctx context.Context, querier DBTX, feedback *model.UserFeedback) error

	// GetLatest returns the most recent feedback row for (session, phase).
	// Returns model.ErrFeedbackNotFound when none exists.
	GetLatest(ctx context.Context, querier DBTX, sessionID uuid.UUID, phase int) (*model.UserFeedback, error)

	// ListBySession returns all feedback of a session, newest first.
	ListBySession(ctx context.Context, querier DBTX, sessionID uuid.UUID) ([]*model.UserFeedback, error)
}
