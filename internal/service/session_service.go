package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"manga-server/internal/config"
	"manga-server/internal/feedback"
	"manga-server/internal/interfaces"
	"manga-server/internal/model"
	"manga-server/internal/pipeline"
)

const maxTitleLength = 200

// CreateSessionRequest - тело запроса на создание сессии.
type CreateSessionRequest struct {
	Title    string          `json:"title" binding:"required"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// EventReplayer отдает сохраненную историю событий сессии.
type EventReplayer interface {
	ListEvents(ctx context.Context, sessionID uuid.UUID) ([]model.SessionEvent, error)
}

// SessionService implements the session lifecycle: creation spawns the
// pipeline, feedback submissions resolve in-flight waits, cancellation stops
// the pipeline goroutine. Ownership is checked on every read and write.
type SessionService struct {
	db           interfaces.DBTX
	sessions     interfaces.SessionRepository
	phaseResults interfaces.PhaseResultRepository
	versions     interfaces.PreviewVersionRepository
	feedbackRepo interfaces.UserFeedbackRepository
	register     *feedback.Register
	orchestrator *pipeline.Orchestrator
	history      EventReplayer
	cfg          *config.Config
	logger       *zap.Logger

	// Активные горутины пайплайна этого инстанса, для отмены по запросу
	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

func NewSessionService(
	db interfaces.DBTX,
	sessions interfaces.SessionRepository,
	phaseResults interfaces.PhaseResultRepository,
	versions interfaces.PreviewVersionRepository,
	feedbackRepo interfaces.UserFeedbackRepository,
	register *feedback.Register,
	orchestrator *pipeline.Orchestrator,
	history EventReplayer,
	cfg *config.Config,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		db:           db,
		sessions:     sessions,
		phaseResults: phaseResults,
		versions:     versions,
		feedbackRepo: feedbackRepo,
		register:     register,
		orchestrator: orchestrator,
		history:      history,
		cfg:          cfg,
		logger:       logger.Named("SessionService"),
		running:      make(map[uuid.UUID]context.CancelFunc),
	}
}

// CreateSession создает сессию и запускает для нее горутину пайплайна.
func (s *SessionService) CreateSession(ctx context.Context, userID uuid.UUID, req CreateSessionRequest) (*model.Session, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: недопустимый заголовок", model.ErrInvalidInput)
	}
	if len(req.Metadata) > 0 && !json.Valid(req.Metadata) {
		return nil, fmt.Errorf("%w: metadata не является валидным JSON", model.ErrInvalidInput)
	}

	active, err := s.sessions.CountActiveForUser(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета активных сессий: %w", err)
	}
	if active >= s.cfg.MaxActiveSessions {
		return nil, model.ErrUserHasActiveSession
	}

	session := &model.Session{
		ID:           uuid.New(),
		UserID:       userID,
		Title:        title,
		CurrentPhase: 1,
		TotalPhases:  model.PhaseCount,
		Status:       model.StatusQueued,
		Metadata:     req.Metadata,
	}
	if err := s.sessions.Create(ctx, s.db, session); err != nil {
		return nil, fmt.Errorf("ошибка создания сессии: %w", err)
	}

	s.logger.Info("Сессия создана",
		zap.String("session_id", session.ID.String()),
		zap.String("user_id", userID.String()))

	s.startPipeline(session.ID)
	return session, nil
}

// startPipeline запускает горутину пайплайна с отменяемым контекстом,
// не привязанным к HTTP-запросу.
func (s *SessionService) startPipeline(sessionID uuid.UUID) {
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.running[sessionID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, sessionID)
			s.mu.Unlock()
			cancel()
		}()
		if err := s.orchestrator.Run(runCtx, sessionID); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Пайплайн сессии завершился с ошибкой",
				zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}()
}

// GetSession возвращает сессию, проверяя владельца.
func (s *SessionService) GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*model.Session, error) {
	session, err := s.sessions.GetByID(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		// Чужая сессия неотличима от несуществующей
		return nil, model.ErrSessionNotFound
	}
	return session, nil
}

// ListSessions возвращает сессии пользователя, новые первыми.
func (s *SessionService) ListSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.sessions.ListByUserID(ctx, s.db, userID, limit)
}

// CancelSession останавливает пайплайн и переводит сессию в cancelled.
func (s *SessionService) CancelSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if session.Status.IsTerminal() {
		return model.ErrSessionTerminal
	}

	s.mu.Lock()
	cancel, local := s.running[sessionID]
	s.mu.Unlock()

	if local {
		// Горутина пайплайна этого инстанса сама запишет cancelled
		cancel()
		return nil
	}

	// Пайплайн не в этом процессе (рестарт или другой инстанс) - пишем статус напрямую
	reason := "сессия отменена пользователем"
	updated, err := s.sessions.UpdateStatus(ctx, s.db, sessionID,
		[]model.SessionStatus{model.StatusQueued, model.StatusProcessing, model.StatusWaitingFeedback},
		model.StatusCancelled, &reason)
	if err != nil {
		return fmt.Errorf("ошибка отмены сессии: %w", err)
	}
	if !updated {
		return model.ErrSessionTerminal
	}
	return nil
}

// SubmitFeedback валидирует и сохраняет фидбек, затем сигналит активному
// ожиданию. Фидбек записывается даже когда ожидания уже нет (после таймаута):
// история отправок полна, а сигнал - безопасный no-op.
func (s *SessionService) SubmitFeedback(ctx context.Context, userID, sessionID uuid.UUID, req model.FeedbackRequest) (*model.UserFeedback, error) {
	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, model.ErrSessionTerminal
	}

	if err := validateFeedback(session, req); err != nil {
		return nil, err
	}

	fb := &model.UserFeedback{
		ID:                uuid.New(),
		SessionID:         sessionID,
		Phase:             req.Phase,
		Type:              req.Type,
		Payload:           req.Payload,
		SatisfactionScore: req.SatisfactionScore,
	}
	if err := s.feedbackRepo.Create(ctx, s.db, fb); err != nil {
		return nil, fmt.Errorf("ошибка сохранения фидбека: %w", err)
	}

	resolved := s.register.SignalFeedback(sessionID, req.Phase)
	s.logger.Info("Фидбек принят",
		zap.String("session_id", sessionID.String()),
		zap.Int("phase", req.Phase),
		zap.String("type", string(req.Type)),
		zap.Bool("wait_resolved", resolved))

	return fb, nil
}

func validateFeedback(session *model.Session, req model.FeedbackRequest) error {
	if !model.IsValidFeedbackType(req.Type) {
		return fmt.Errorf("%w: неизвестный тип фидбека '%s'", model.ErrInvalidFeedback, req.Type)
	}
	if req.Phase < 1 || req.Phase > session.TotalPhases {
		return fmt.Errorf("%w: фаза %d вне диапазона", model.ErrInvalidFeedback, req.Phase)
	}
	if req.SatisfactionScore != nil {
		score := *req.SatisfactionScore
		if score < model.MinSatisfactionScore || score > model.MaxSatisfactionScore {
			return fmt.Errorf("%w: оценка %.1f вне диапазона %.1f-%.1f",
				model.ErrInvalidFeedback, score, model.MinSatisfactionScore, model.MaxSatisfactionScore)
		}
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return fmt.Errorf("%w: payload не является валидным JSON", model.ErrInvalidFeedback)
	}
	return nil
}

// GetResults возвращает все попытки фаз сессии.
func (s *SessionService) GetResults(ctx context.Context, userID, sessionID uuid.UUID) ([]*model.PhaseResult, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.phaseResults.ListBySession(ctx, s.db, sessionID)
}

// GetVersions возвращает превью-версии сессии в порядке создания.
func (s *SessionService) GetVersions(ctx context.Context, userID, sessionID uuid.UUID) ([]*model.PreviewVersion, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.versions.ListBySession(ctx, s.db, sessionID)
}

// GetEvents возвращает сохраненную историю событий сессии.
func (s *SessionService) GetEvents(ctx context.Context, userID, sessionID uuid.UUID) ([]model.SessionEvent, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.history.ListEvents(ctx, sessionID)
}

// Shutdown отменяет все горутины пайплайна этого инстанса.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sessionID, cancel := range s.running {
		s.logger.Info("Остановка пайплайна при завершении процесса",
			zap.String("session_id", sessionID.String()))
		cancel()
	}
}
