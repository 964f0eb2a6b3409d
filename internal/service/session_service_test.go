package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manga-server/internal/config"
	"manga-server/internal/feedback"
	"manga-server/internal/mocks"
	"manga-server/internal/model"
	"manga-server/internal/pipeline"
)

type serviceFixture struct {
	sessions  *mocks.MockSessionRepository
	results   *mocks.MockPhaseResultRepository
	versions  *mocks.MockPreviewVersionRepository
	feedbacks *mocks.MockUserFeedbackRepository
	register  *feedback.Register
	svc       *SessionService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	logger := zap.NewNop()
	cfg := &config.Config{
		MaxActiveSessions: 3,
		PhaseTimeout:      time.Second,
		FeedbackTimeout:   time.Second,
		MaxPhaseRetries:   1,
	}

	f := &serviceFixture{
		sessions:  mocks.NewMockSessionRepository(t),
		results:   mocks.NewMockPhaseResultRepository(t),
		versions:  mocks.NewMockPreviewVersionRepository(t),
		feedbacks: mocks.NewMockUserFeedbackRepository(t),
		register:  feedback.NewRegister(logger),
	}

	publisher := mocks.NewMockEventPublisher(t)
	publisher.On("PublishSessionEvent", mock.Anything, mock.Anything).Return(nil).Maybe()

	applier := feedback.NewApplier(f.feedbacks, nil, logger)
	guard := pipeline.NewGuard(f.sessions, nil, publisher, pipeline.NoBackoff(), logger)
	gen := mocks.NewMockGeneratorClient(t)
	orch := pipeline.NewOrchestrator(nil, f.sessions, f.results, f.versions,
		f.register, applier, gen, publisher, guard, cfg, pipeline.NoBackoff(), logger)

	f.svc = NewSessionService(nil, f.sessions, f.results, f.versions, f.feedbacks,
		f.register, orch, nil, cfg, logger)
	return f
}

func activeSession(userID uuid.UUID) *model.Session {
	return &model.Session{
		ID:           uuid.New(),
		UserID:       userID,
		Title:        "Хроники стального города",
		CurrentPhase: 4,
		TotalPhases:  model.PhaseCount,
		Status:       model.StatusWaitingFeedback,
	}
}

func TestCreateSession_ValidatesTitle(t *testing.T) {
	f := newServiceFixture(t)
	userID := uuid.New()

	_, err := f.svc.CreateSession(context.Background(), userID, CreateSessionRequest{Title: "   "})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	long := make([]byte, maxTitleLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.svc.CreateSession(context.Background(), userID, CreateSessionRequest{Title: string(long)})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.CreateSession(context.Background(), userID, CreateSessionRequest{
		Title:    "Манга",
		Metadata: json.RawMessage(`{broken`),
	})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestCreateSession_EnforcesActiveLimit(t *testing.T) {
	f := newServiceFixture(t)
	userID := uuid.New()

	f.sessions.On("CountActiveForUser", mock.Anything, mock.Anything, userID).Return(3, nil).Once()

	_, err := f.svc.CreateSession(context.Background(), userID, CreateSessionRequest{Title: "Манга"})
	assert.ErrorIs(t, err, model.ErrUserHasActiveSession)
}

func TestCreateSession_StartsPipeline(t *testing.T) {
	f := newServiceFixture(t)
	userID := uuid.New()

	f.sessions.On("CountActiveForUser", mock.Anything, mock.Anything, userID).Return(0, nil).Once()
	f.sessions.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	// Горутина пайплайна стартует асинхронно; для теста достаточно,
	// что она корректно завершается на несуществующей сессии
	f.sessions.On("GetByID", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, model.ErrSessionNotFound).Maybe()

	session, err := f.svc.CreateSession(context.Background(), userID, CreateSessionRequest{
		Title:    "  Манга про роботов  ",
		Metadata: json.RawMessage(`{"genre": "sci-fi"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "Манга про роботов", session.Title)
	assert.Equal(t, userID, session.UserID)
	assert.Equal(t, model.StatusQueued, session.Status)
	assert.Equal(t, 1, session.CurrentPhase)
	assert.Equal(t, model.PhaseCount, session.TotalPhases)

	f.svc.Shutdown()
}

func TestGetSession_ForeignSessionLooksMissing(t *testing.T) {
	f := newServiceFixture(t)
	owner := uuid.New()
	stranger := uuid.New()
	session := activeSession(owner)

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Times(2)

	got, err := f.svc.GetSession(context.Background(), owner, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	_, err = f.svc.GetSession(context.Background(), stranger, session.ID)
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestSubmitFeedback_ValidatesRequest(t *testing.T) {
	f := newServiceFixture(t)
	userID := uuid.New()
	session := activeSession(userID)

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil)

	badScore := 7.5
	cases := []struct {
		name string
		req  model.FeedbackRequest
	}{
		{"unknown type", model.FeedbackRequest{Phase: 4, Type: "thumbs_up"}},
		{"phase out of range", model.FeedbackRequest{Phase: 99, Type: model.FeedbackApproval}},
		{"score out of range", model.FeedbackRequest{Phase: 4, Type: model.FeedbackApproval, SatisfactionScore: &badScore}},
		{"broken payload", model.FeedbackRequest{Phase: 4, Type: model.FeedbackModification, Payload: json.RawMessage(`{`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.SubmitFeedback(context.Background(), userID, session.ID, tc.req)
			assert.ErrorIs(t, err, model.ErrInvalidFeedback)
		})
	}
}

func TestSubmitFeedback_RejectedForTerminalSession(t *testing.T) {
	f := newServiceFixture(t)
	userID := uuid.New()
	session := activeSession(userID)
	session.Status = model.StatusCompleted

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()

	_, err := f.svc.SubmitFeedback(context.Background(), userID, session.ID, model.FeedbackRequest{
		Phase: 4,
		Type:  model.FeedbackApproval,
	})
	assert.ErrorIs(t, err, model.ErrSessionTerminal)
}

func TestSubmitFeedback_ResolvesActiveWait(t *testing.T) {
	f := newServiceFixture(t)
	userID := uuid.New()
	session := activeSession(userID)

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()
	f.feedbacks.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	wait, err := f.register.RegisterWait(session.ID, 4)
	require.NoError(t, err)

	score := 4.5
	fb, err := f.svc.SubmitFeedback(context.Background(), userID, session.ID, model.FeedbackRequest{
		Phase:             4,
		Type:              model.FeedbackModification,
		Payload:           json.RawMessage(`{"quality_score": 4.5}`),
		SatisfactionScore: &score,
	})
	require.NoError(t, err)
	assert.Equal(t, session.ID, fb.SessionID)
	assert.Equal(t, 4, fb.Phase)

	outcome, err := f.register.Await(context.Background(), wait, time.Second)
	require.NoError(t, err)
	assert.Equal(t, feedback.WaitResolved, outcome)
}

func TestSubmitFeedback_RecordedEvenWithoutWait(t *testing.T) {
	f := newServiceFixture(t)
	userID := uuid.New()
	session := activeSession(userID)

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()
	f.feedbacks.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	// Фидбек после таймаута ожидания: запись создается, сигнал - no-op
	fb, err := f.svc.SubmitFeedback(context.Background(), userID, session.ID, model.FeedbackRequest{
		Phase: 4,
		Type:  model.FeedbackApproval,
	})
	require.NoError(t, err)
	require.NotNil(t, fb)
	assert.Equal(t, 0, f.register.ActiveWaits())
}

func TestCancelSession_TerminalSession(t *testing.T) {
	f := newServiceFixture(t)
	userID := uuid.New()
	session := activeSession(userID)
	session.Status = model.StatusFailed

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()

	err := f.svc.CancelSession(context.Background(), userID, session.ID)
	assert.ErrorIs(t, err, model.ErrSessionTerminal)
}

func TestCancelSession_NonLocalPipelineWritesStatus(t *testing.T) {
	f := newServiceFixture(t)
	userID := uuid.New()
	session := activeSession(userID)

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()
	f.sessions.On("UpdateStatus", mock.Anything, mock.Anything, session.ID,
		mock.Anything, model.StatusCancelled, mock.Anything).Return(true, nil).Once()

	err := f.svc.CancelSession(context.Background(), userID, session.ID)
	require.NoError(t, err)
}

func TestListSessions_ClampsLimit(t *testing.T) {
	f := newServiceFixture(t)
	userID := uuid.New()

	f.sessions.On("ListByUserID", mock.Anything, mock.Anything, userID, 20).
		Return([]*model.Session{}, nil).Times(2)
	f.sessions.On("ListByUserID", mock.Anything, mock.Anything, userID, 50).
		Return([]*model.Session{}, nil).Once()

	_, err := f.svc.ListSessions(context.Background(), userID, 0)
	require.NoError(t, err)
	_, err = f.svc.ListSessions(context.Background(), userID, 500)
	require.NoError(t, err)
	_, err = f.svc.ListSessions(context.Background(), userID, 50)
	require.NoError(t, err)
}
