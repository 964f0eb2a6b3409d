package hub

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manga-server/internal/model"
)

func TestSessionHub_PublishDeliversToAllSubscribers(t *testing.T) {
	h := NewSessionHub(4, zap.NewNop())
	sessionID := uuid.New()
	userID := uuid.New()

	first := h.Subscribe(sessionID)
	second := h.Subscribe(sessionID)
	assert.Equal(t, 2, h.SubscriberCount(sessionID))

	event := model.NewSessionEvent(model.EventPhaseProgress, sessionID, userID)
	h.Publish(sessionID, event)

	got := <-first.Events()
	assert.Equal(t, model.EventPhaseProgress, got.Type)
	assert.Equal(t, sessionID.String(), got.SessionID)

	got = <-second.Events()
	assert.Equal(t, model.EventPhaseProgress, got.Type)
}

func TestSessionHub_PublishWithoutSubscribers(t *testing.T) {
	h := NewSessionHub(4, zap.NewNop())
	sessionID := uuid.New()

	// Не должно паниковать и не должно блокировать
	h.Publish(sessionID, model.NewSessionEvent(model.EventSessionStatus, sessionID, uuid.New()))
	assert.Equal(t, 0, h.SubscriberCount(sessionID))
}

func TestSessionHub_PublishIsolatedBySession(t *testing.T) {
	h := NewSessionHub(4, zap.NewNop())
	mine := uuid.New()
	other := uuid.New()

	sub := h.Subscribe(mine)
	h.Publish(other, model.NewSessionEvent(model.EventPhaseProgress, other, uuid.New()))

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event for foreign session: %v", ev.Type)
	default:
	}
}

func TestSessionHub_DropNewWhenBufferFull(t *testing.T) {
	h := NewSessionHub(2, zap.NewNop())
	sessionID := uuid.New()
	userID := uuid.New()

	sub := h.Subscribe(sessionID)

	for phase := 1; phase <= 3; phase++ {
		p := phase
		event := model.NewSessionEvent(model.EventPhaseProgress, sessionID, userID)
		event.Phase = &p
		h.Publish(sessionID, event)
	}

	// Буфер на 2 события: третье отброшено, первые два сохранены по порядку
	first := <-sub.Events()
	require.NotNil(t, first.Phase)
	assert.Equal(t, 1, *first.Phase)

	second := <-sub.Events()
	require.NotNil(t, second.Phase)
	assert.Equal(t, 2, *second.Phase)

	select {
	case ev := <-sub.Events():
		t.Fatalf("expected third event to be dropped, got phase %v", ev.Phase)
	default:
	}
}

func TestSessionHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewSessionHub(4, zap.NewNop())
	sessionID := uuid.New()

	sub := h.Subscribe(sessionID)
	h.Unsubscribe(sessionID, sub)

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, h.SubscriberCount(sessionID))

	// Повторная отписка и отписка nil безопасны
	h.Unsubscribe(sessionID, sub)
	h.Unsubscribe(sessionID, nil)
}

func TestSessionHub_PublishAfterUnsubscribe(t *testing.T) {
	h := NewSessionHub(4, zap.NewNop())
	sessionID := uuid.New()

	kept := h.Subscribe(sessionID)
	gone := h.Subscribe(sessionID)
	h.Unsubscribe(sessionID, gone)

	h.Publish(sessionID, model.NewSessionEvent(model.EventSessionComplete, sessionID, uuid.New()))

	got := <-kept.Events()
	assert.Equal(t, model.EventSessionComplete, got.Type)
	assert.Equal(t, 1, h.SubscriberCount(sessionID))
}
