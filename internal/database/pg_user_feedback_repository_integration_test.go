package database_test

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"manga-server/internal/model"
)

// newFeedback сохраняет запись фидбека для пары (session, phase).
func (s *SessionRepositorySuite) newFeedback(sessionID uuid.UUID, phase int, ft model.FeedbackType, payload string) *model.UserFeedback {
	fb := &model.UserFeedback{
		SessionID: sessionID,
		Phase:     phase,
		Type:      ft,
		Payload:   json.RawMessage(payload),
	}
	require.NoError(s.T(), s.feedbackRepo.Create(s.ctx, s.pool, fb))
	return fb
}

func (s *SessionRepositorySuite) TestFeedbackMostRecentWins() {
	t := s.T()
	session := s.newSession(uuid.New())

	first := s.newFeedback(session.ID, 4, model.FeedbackApproval, `{"approved": true}`)
	// created_at должен различаться: репозиторий проставляет его сам
	time.Sleep(2 * time.Millisecond)
	second := s.newFeedback(session.ID, 4, model.FeedbackModification, `{"quality_score": 4.5}`)
	require.True(t, second.CreatedAt.After(first.CreatedAt))

	// Две записи на одну пару (session, phase): выигрывает более поздняя
	got, err := s.feedbackRepo.GetLatest(s.ctx, s.pool, session.ID, 4)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
	require.Equal(t, model.FeedbackModification, got.Type)
	require.JSONEq(t, `{"quality_score": 4.5}`, string(got.Payload))

	// Обе записи сохранены, фидбек append-only
	list, err := s.feedbackRepo.ListBySession(s.ctx, s.pool, session.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.ID, list[0].ID)
	require.Equal(t, first.ID, list[1].ID)
}

func (s *SessionRepositorySuite) TestFeedbackGetLatestScopedByPhase() {
	t := s.T()
	session := s.newSession(uuid.New())

	s.newFeedback(session.ID, 4, model.FeedbackApproval, `{"approved": true}`)
	time.Sleep(2 * time.Millisecond)
	s.newFeedback(session.ID, 5, model.FeedbackSkip, `{}`)

	// Более свежий фидбек фазы 5 не подменяет фидбек фазы 4
	got, err := s.feedbackRepo.GetLatest(s.ctx, s.pool, session.ID, 4)
	require.NoError(t, err)
	require.Equal(t, model.FeedbackApproval, got.Type)

	_, err = s.feedbackRepo.GetLatest(s.ctx, s.pool, session.ID, 7)
	require.ErrorIs(t, err, model.ErrFeedbackNotFound)
}
