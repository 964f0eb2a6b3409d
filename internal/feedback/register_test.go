package feedback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manga-server/internal/model"
)

func TestRegister_ResolveBeforeTimeout(t *testing.T) {
	r := NewRegister(zap.NewNop())
	sessionID := uuid.New()

	wait, err := r.RegisterWait(sessionID, 4)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.True(t, r.SignalFeedback(sessionID, 4))
	}()

	outcome, err := r.Await(context.Background(), wait, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, WaitResolved, outcome)
	assert.Equal(t, 0, r.ActiveWaits())
}

func TestRegister_Timeout(t *testing.T) {
	r := NewRegister(zap.NewNop())
	sessionID := uuid.New()

	wait, err := r.RegisterWait(sessionID, 4)
	require.NoError(t, err)

	outcome, err := r.Await(context.Background(), wait, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, WaitTimedOut, outcome)
	assert.Equal(t, 0, r.ActiveWaits())
}

func TestRegister_DuplicateWait(t *testing.T) {
	r := NewRegister(zap.NewNop())
	sessionID := uuid.New()

	_, err := r.RegisterWait(sessionID, 4)
	require.NoError(t, err)

	_, err = r.RegisterWait(sessionID, 4)
	assert.ErrorIs(t, err, model.ErrDuplicateWait)

	// Та же сессия, другая фаза - не дубликат
	_, err = r.RegisterWait(sessionID, 5)
	assert.NoError(t, err)
}

func TestRegister_SignalWithoutWait(t *testing.T) {
	r := NewRegister(zap.NewNop())
	assert.False(t, r.SignalFeedback(uuid.New(), 4))
}

func TestRegister_SignalExactlyOnce(t *testing.T) {
	r := NewRegister(zap.NewNop())
	sessionID := uuid.New()

	wait, err := r.RegisterWait(sessionID, 4)
	require.NoError(t, err)

	// Конкурирующие отправки: ровно одна выигрывает
	const submitters = 8
	var wg sync.WaitGroup
	resolved := make(chan bool, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolved <- r.SignalFeedback(sessionID, 4)
		}()
	}
	wg.Wait()
	close(resolved)

	wins := 0
	for ok := range resolved {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	outcome, err := r.Await(context.Background(), wait, time.Second)
	require.NoError(t, err)
	assert.Equal(t, WaitResolved, outcome)
}

func TestRegister_ContextCancellation(t *testing.T) {
	r := NewRegister(zap.NewNop())
	sessionID := uuid.New()

	wait, err := r.RegisterWait(sessionID, 7)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome, err := r.Await(ctx, wait, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, WaitTimedOut, outcome)
	assert.Equal(t, 0, r.ActiveWaits())
}

func TestRegister_AbandonFreesKey(t *testing.T) {
	r := NewRegister(zap.NewNop())
	sessionID := uuid.New()

	wait, err := r.RegisterWait(sessionID, 4)
	require.NoError(t, err)
	require.Equal(t, 1, r.ActiveWaits())

	// Ошибка между регистрацией и Await: ожидание снимается вручную
	r.Abandon(wait)
	assert.Equal(t, 0, r.ActiveWaits())

	_, err = r.RegisterWait(sessionID, 4)
	assert.NoError(t, err)

	// Повторный вызов со старым хэндлом не снимает новую запись, nil безопасен
	r.Abandon(wait)
	r.Abandon(nil)
	assert.Equal(t, 1, r.ActiveWaits())
}

func TestRegister_ReregisterAfterResolution(t *testing.T) {
	r := NewRegister(zap.NewNop())
	sessionID := uuid.New()

	wait, err := r.RegisterWait(sessionID, 4)
	require.NoError(t, err)
	r.SignalFeedback(sessionID, 4)

	_, err = r.Await(context.Background(), wait, time.Second)
	require.NoError(t, err)

	// После разрешения ключ свободен
	_, err = r.RegisterWait(sessionID, 4)
	assert.NoError(t, err)
}
