package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, StatusWaitingFeedback.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestSessionStatus_IsValid(t *testing.T) {
	assert.True(t, StatusWaitingFeedback.IsValid())
	assert.False(t, SessionStatus("paused").IsValid())
	assert.False(t, SessionStatus("").IsValid())
}

func TestSessionStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from    SessionStatus
		to      SessionStatus
		allowed bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusWaitingFeedback, false},
		{StatusQueued, StatusCompleted, false},

		{StatusProcessing, StatusWaitingFeedback, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusQueued, false},

		{StatusWaitingFeedback, StatusProcessing, true},
		{StatusWaitingFeedback, StatusFailed, true},
		{StatusWaitingFeedback, StatusCancelled, true},
		{StatusWaitingFeedback, StatusCompleted, false},

		// Терминальные статусы не имеют исходящих переходов
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusQueued, false},
		{StatusCancelled, StatusProcessing, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}
