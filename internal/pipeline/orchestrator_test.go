package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manga-server/internal/config"
	"manga-server/internal/feedback"
	"manga-server/internal/generator"
	"manga-server/internal/mocks"
	"manga-server/internal/model"
)

// eventLog собирает события, опубликованные через мок паблишера,
// для последующих проверок.
type eventLog struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (l *eventLog) record(args mock.Arguments) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, args.Get(1).(model.SessionEvent))
}

func (l *eventLog) byType(t model.EventType) []model.SessionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.SessionEvent
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type orchestratorFixture struct {
	sessions  *mocks.MockSessionRepository
	results   *mocks.MockPhaseResultRepository
	versions  *mocks.MockPreviewVersionRepository
	feedbacks *mocks.MockUserFeedbackRepository
	gen       *mocks.MockGeneratorClient
	publisher *mocks.MockEventPublisher
	register  *feedback.Register
	orch      *Orchestrator
	published *eventLog
}

func newOrchestratorFixture(t *testing.T, cfg *config.Config) *orchestratorFixture {
	logger := zap.NewNop()

	f := &orchestratorFixture{
		sessions:  mocks.NewMockSessionRepository(t),
		results:   mocks.NewMockPhaseResultRepository(t),
		versions:  mocks.NewMockPreviewVersionRepository(t),
		feedbacks: mocks.NewMockUserFeedbackRepository(t),
		gen:       mocks.NewMockGeneratorClient(t),
		publisher: mocks.NewMockEventPublisher(t),
		register:  feedback.NewRegister(logger),
		published: &eventLog{},
	}

	applier := feedback.NewApplier(f.feedbacks, nil, logger)
	guard := NewGuard(f.sessions, nil, f.publisher, NoBackoff(), logger)
	f.orch = NewOrchestrator(nil, f.sessions, f.results, f.versions,
		f.register, applier, f.gen, f.publisher, guard, cfg, NoBackoff(), logger)
	return f
}

func pipelineConfig() *config.Config {
	return &config.Config{
		PhaseTimeout:    5 * time.Second,
		FeedbackTimeout: 5 * time.Second,
		FeedbackPhases:  []int{2},
		MaxPhaseRetries: 3,
	}
}

func queuedSession(totalPhases int) *model.Session {
	return &model.Session{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Title:        "Тестовая манга",
		CurrentPhase: 1,
		TotalPhases:  totalPhases,
		Status:       model.StatusQueued,
	}
}

func TestOrchestrator_HappyPathWithResolvedFeedback(t *testing.T) {
	cfg := pipelineConfig()
	f := newOrchestratorFixture(t, cfg)
	session := queuedSession(3)

	artifact := generator.PhaseArtifact{
		Content:      json.RawMessage(`{"panels": 6, "quality_score": 4.2}`),
		QualityScore: 4.2,
	}
	f.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(artifact, nil)

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()
	f.sessions.On("MarkStarted", mock.Anything, mock.Anything, session.ID).Return(nil).Once()
	f.sessions.On("SetWaitingFeedback", mock.Anything, mock.Anything, session.ID, mock.Anything).Return(nil).Once()
	f.sessions.On("ClearFeedbackDeadline", mock.Anything, mock.Anything, session.ID).Return(nil).Once()
	f.sessions.On("UpdateStatus", mock.Anything, mock.Anything, session.ID,
		[]model.SessionStatus{model.StatusWaitingFeedback}, model.StatusProcessing, mock.Anything).
		Return(true, nil).Once()
	f.sessions.On("AdvancePhase", mock.Anything, mock.Anything, session.ID, mock.Anything, model.StatusProcessing).
		Return(nil).Times(2)
	f.sessions.On("MarkCompleted", mock.Anything, mock.Anything, session.ID).Return(nil).Once()

	f.results.On("CreateAttempt", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.results.On("MarkCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.results.On("SetPreviewVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	f.results.On("UpdateAdjusted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, 4.9).Return(nil).Once()

	f.versions.On("GetLatestBySession", mock.Anything, mock.Anything, session.ID).
		Return(nil, model.ErrVersionNotFound).Once()
	f.versions.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	// Пользователь поднял оценку качества своим фидбеком
	f.feedbacks.On("GetLatest", mock.Anything, mock.Anything, session.ID, 2).Return(&model.UserFeedback{
		ID:        uuid.New(),
		SessionID: session.ID,
		Phase:     2,
		Type:      model.FeedbackModification,
		Payload:   json.RawMessage(`{"quality_score": 4.9}`),
	}, nil).Once()

	f.publisher.On("PublishSessionEvent", mock.Anything, mock.Anything).Return(nil).
		Run(func(args mock.Arguments) {
			f.published.record(args)
			ev := args.Get(1).(model.SessionEvent)
			if ev.Type == model.EventFeedbackRequest {
				// Фидбек приходит в ответ на анонс превью
				go f.register.SignalFeedback(session.ID, 2)
			}
		})

	err := f.orch.Run(context.Background(), session.ID)
	require.NoError(t, err)

	complete := f.published.byType(model.EventSessionComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, string(model.StatusCompleted), complete[0].Status)

	requests := f.published.byType(model.EventFeedbackRequest)
	require.Len(t, requests, 1)
	require.NotNil(t, requests[0].TimeoutSeconds)
	assert.Equal(t, int(cfg.FeedbackTimeout.Seconds()), *requests[0].TimeoutSeconds)

	assert.Empty(t, f.published.byType(model.EventFeedbackTimeout))
	assert.Equal(t, 0, f.register.ActiveWaits())
}

func TestOrchestrator_FeedbackTimeoutAutoApproves(t *testing.T) {
	cfg := pipelineConfig()
	cfg.FeedbackTimeout = 30 * time.Millisecond
	f := newOrchestratorFixture(t, cfg)
	session := queuedSession(2)

	artifact := generator.PhaseArtifact{
		Content:      json.RawMessage(`{"quality_score": 3.8}`),
		QualityScore: 3.8,
	}
	f.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(artifact, nil)

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()
	f.sessions.On("MarkStarted", mock.Anything, mock.Anything, session.ID).Return(nil).Once()
	f.sessions.On("SetWaitingFeedback", mock.Anything, mock.Anything, session.ID, mock.Anything).Return(nil).Once()
	f.sessions.On("ClearFeedbackDeadline", mock.Anything, mock.Anything, session.ID).Return(nil).Once()
	f.sessions.On("UpdateStatus", mock.Anything, mock.Anything, session.ID,
		[]model.SessionStatus{model.StatusWaitingFeedback}, model.StatusProcessing, mock.Anything).
		Return(true, nil).Once()
	f.sessions.On("AdvancePhase", mock.Anything, mock.Anything, session.ID, 2, model.StatusProcessing).Return(nil).Once()
	f.sessions.On("MarkCompleted", mock.Anything, mock.Anything, session.ID).Return(nil).Once()

	f.results.On("CreateAttempt", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.results.On("MarkCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.results.On("SetPreviewVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	f.versions.On("GetLatestBySession", mock.Anything, mock.Anything, session.ID).
		Return(nil, model.ErrVersionNotFound).Once()
	f.versions.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	f.publisher.On("PublishSessionEvent", mock.Anything, mock.Anything).Return(nil).Run(f.published.record)

	err := f.orch.Run(context.Background(), session.ID)
	require.NoError(t, err)

	// Фидбек не пришел: таймаут с автоаппрувом, результат не корректировался
	timeouts := f.published.byType(model.EventFeedbackTimeout)
	require.Len(t, timeouts, 1)
	require.NotNil(t, timeouts[0].AutoAction)
	assert.Equal(t, model.AutoActionApproved, *timeouts[0].AutoAction)

	f.results.AssertNotCalled(t, "UpdateAdjusted",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, f.published.byType(model.EventSessionComplete), 1)
}

func TestOrchestrator_RetryThenSuccess(t *testing.T) {
	cfg := pipelineConfig()
	cfg.FeedbackPhases = nil
	f := newOrchestratorFixture(t, cfg)
	session := queuedSession(1)

	artifact := generator.PhaseArtifact{
		Content:      json.RawMessage(`{"quality_score": 4.0}`),
		QualityScore: 4.0,
	}
	f.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(generator.PhaseArtifact{}, errors.New("модель перегружена")).Once()
	f.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(artifact, nil).Once()

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()
	f.sessions.On("MarkStarted", mock.Anything, mock.Anything, session.ID).Return(nil).Once()
	f.sessions.On("IncrementRetryCount", mock.Anything, mock.Anything, session.ID).Return(1, nil).Once()
	f.sessions.On("MarkCompleted", mock.Anything, mock.Anything, session.ID).Return(nil).Once()

	f.results.On("CreateAttempt", mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(2)
	f.results.On("MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	f.results.On("MarkCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	f.publisher.On("PublishSessionEvent", mock.Anything, mock.Anything).Return(nil).Run(f.published.record)

	err := f.orch.Run(context.Background(), session.ID)
	require.NoError(t, err)

	f.gen.AssertNumberOfCalls(t, "Generate", 2)
	require.Len(t, f.published.byType(model.EventSessionComplete), 1)
}

func TestOrchestrator_RetriesExhaustedFailsSession(t *testing.T) {
	cfg := pipelineConfig()
	cfg.FeedbackPhases = nil
	cfg.MaxPhaseRetries = 2
	f := newOrchestratorFixture(t, cfg)
	session := queuedSession(1)

	f.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(generator.PhaseArtifact{}, errors.New("невалидный JSON от модели"))

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()
	f.sessions.On("MarkStarted", mock.Anything, mock.Anything, session.ID).Return(nil).Once()
	f.sessions.On("IncrementRetryCount", mock.Anything, mock.Anything, session.ID).Return(1, nil)
	// Эскалация гварда: сессия принудительно переводится в failed
	f.sessions.On("UpdateStatus", mock.Anything, mock.Anything, session.ID,
		mock.Anything, model.StatusFailed, mock.Anything).Return(true, nil).Once()

	f.results.On("CreateAttempt", mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(2)
	f.results.On("MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(2)

	f.publisher.On("PublishSessionEvent", mock.Anything, mock.Anything).Return(nil).Run(f.published.record)

	err := f.orch.Run(context.Background(), session.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrGenerationFailed)

	f.gen.AssertNumberOfCalls(t, "Generate", 2)

	stops := f.published.byType(model.EventEmergencyStop)
	require.Len(t, stops, 1)
	assert.Equal(t, string(model.StatusFailed), stops[0].Status)
	require.NotNil(t, stops[0].ErrorDetails)
	assert.Empty(t, f.published.byType(model.EventSessionComplete))
}

func TestOrchestrator_WaitReleasedWhenWaitingTransitionFails(t *testing.T) {
	cfg := pipelineConfig()
	f := newOrchestratorFixture(t, cfg)
	session := queuedSession(2)

	artifact := generator.PhaseArtifact{
		Content:      json.RawMessage(`{"quality_score": 4.1}`),
		QualityScore: 4.1,
	}
	f.gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(artifact, nil)

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()
	f.sessions.On("MarkStarted", mock.Anything, mock.Anything, session.ID).Return(nil).Once()
	f.sessions.On("AdvancePhase", mock.Anything, mock.Anything, session.ID, 2, model.StatusProcessing).Return(nil).Once()
	// Переход в waiting_feedback не удался: БД недоступна
	f.sessions.On("SetWaitingFeedback", mock.Anything, mock.Anything, session.ID, mock.Anything).
		Return(errors.New("подключение к БД потеряно")).Once()
	// Оркестратор принудительно завершает сессию через гвард
	f.sessions.On("UpdateStatus", mock.Anything, mock.Anything, session.ID,
		mock.Anything, model.StatusFailed, mock.Anything).Return(true, nil).Once()

	f.results.On("CreateAttempt", mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(2)
	f.results.On("MarkCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(2)
	f.results.On("SetPreviewVersion", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	f.versions.On("GetLatestBySession", mock.Anything, mock.Anything, session.ID).
		Return(nil, model.ErrVersionNotFound).Once()
	f.versions.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	f.publisher.On("PublishSessionEvent", mock.Anything, mock.Anything).Return(nil).Run(f.published.record)

	err := f.orch.Run(context.Background(), session.ID)
	require.Error(t, err)

	// Запись реестра не утекла: ключ (session, phase) снова свободен
	assert.Equal(t, 0, f.register.ActiveWaits())
	_, regErr := f.register.RegisterWait(session.ID, 2)
	assert.NoError(t, regErr)

	require.Len(t, f.published.byType(model.EventEmergencyStop), 1)
}

func TestOrchestrator_CancelledContextCancelsSession(t *testing.T) {
	cfg := pipelineConfig()
	f := newOrchestratorFixture(t, cfg)
	session := queuedSession(3)
	session.Status = model.StatusProcessing

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()
	f.sessions.On("UpdateStatus", mock.Anything, mock.Anything, session.ID,
		mock.Anything, model.StatusCancelled, mock.Anything).Return(true, nil).Once()

	f.publisher.On("PublishSessionEvent", mock.Anything, mock.Anything).Return(nil).Run(f.published.record)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.orch.Run(ctx, session.ID)
	assert.ErrorIs(t, err, context.Canceled)

	statuses := f.published.byType(model.EventSessionStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, string(model.StatusCancelled), statuses[0].Status)
	f.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_TerminalSessionIsNoOp(t *testing.T) {
	cfg := pipelineConfig()
	f := newOrchestratorFixture(t, cfg)
	session := queuedSession(3)
	session.Status = model.StatusCompleted

	f.sessions.On("GetByID", mock.Anything, mock.Anything, session.ID).Return(session, nil).Once()

	err := f.orch.Run(context.Background(), session.ID)
	require.NoError(t, err)
	f.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}
