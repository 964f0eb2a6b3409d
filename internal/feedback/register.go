package feedback

import (
	"context"
	"sync"
	"time"

	"manga-server/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WaitOutcome - результат ожидания фидбека.
type WaitOutcome int

const (
	// WaitResolved - фидбек получен до истечения таймаута.
	WaitResolved WaitOutcome = iota
	// WaitTimedOut - таймаут истек, фидбек не получен.
	WaitTimedOut
)

type waitKey struct {
	sessionID uuid.UUID
	phase     int
}

type waitEntry struct {
	done chan struct{}
	once sync.Once
}

func (e *waitEntry) resolve() {
	e.once.Do(func() { close(e.done) })
}

// Wait - хэндл одного зарегистрированного ожидания фидбека.
type Wait struct {
	key   waitKey
	entry *waitEntry
}

// Register отслеживает активные ожидания фидбека по ключу (session, phase).
// Реестр передается оркестратору через DI, а не живет процесс-глобальным
// синглтоном. Состояние транзитное: при рестарте процесса реестр пуст,
// просроченные ожидания добирает реконсайлер по дедлайну в базе.
type Register struct {
	mu     sync.Mutex
	waits  map[waitKey]*waitEntry
	logger *zap.Logger
}

// NewRegister создает пустой реестр ожиданий.
func NewRegister(logger *zap.Logger) *Register {
	return &Register{
		waits:  make(map[waitKey]*waitEntry),
		logger: logger.Named("FeedbackRegister"),
	}
}

// RegisterWait регистрирует ожидание фидбека для пары (session, phase).
// Возвращает model.ErrDuplicateWait, если ожидание для ключа уже активно:
// это нарушение предусловия оркестратора, а не гонка, которую надо разрешать.
func (r *Register) RegisterWait(sessionID uuid.UUID, phase int) (*Wait, error) {
	key := waitKey{sessionID: sessionID, phase: phase}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.waits[key]; exists {
		r.logger.Error("Duplicate feedback wait registration",
			zap.String("sessionID", sessionID.String()), zap.Int("phase", phase))
		return nil, model.ErrDuplicateWait
	}

	entry := &waitEntry{done: make(chan struct{})}
	r.waits[key] = entry

	r.logger.Debug("Feedback wait registered",
		zap.String("sessionID", sessionID.String()), zap.Int("phase", phase))
	return &Wait{key: key, entry: entry}, nil
}

// Await блокирует вызывающую горутину до получения фидбека, истечения таймаута
// или отмены контекста. Запись реестра удаляется на любом пути выхода,
// поэтому утечек ожиданий не бывает.
func (r *Register) Await(ctx context.Context, wait *Wait, timeout time.Duration) (WaitOutcome, error) {
	defer r.remove(wait)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wait.entry.done:
		r.logger.Debug("Feedback wait resolved",
			zap.String("sessionID", wait.key.sessionID.String()), zap.Int("phase", wait.key.phase))
		return WaitResolved, nil
	case <-timer.C:
		r.logger.Info("Feedback wait timed out",
			zap.String("sessionID", wait.key.sessionID.String()),
			zap.Int("phase", wait.key.phase),
			zap.Duration("timeout", timeout))
		return WaitTimedOut, nil
	case <-ctx.Done():
		return WaitTimedOut, ctx.Err()
	}
}

// SignalFeedback разрешает активное ожидание ровно один раз.
// Вызов без активного ожидания (фидбек пришел после таймаута или для фазы,
// которая не ждет) - безопасный no-op, возвращает false.
func (r *Register) SignalFeedback(sessionID uuid.UUID, phase int) bool {
	key := waitKey{sessionID: sessionID, phase: phase}

	r.mu.Lock()
	entry, exists := r.waits[key]
	if exists {
		delete(r.waits, key)
	}
	r.mu.Unlock()

	if !exists {
		r.logger.Debug("SignalFeedback with no matching wait (no-op)",
			zap.String("sessionID", sessionID.String()), zap.Int("phase", phase))
		return false
	}

	entry.resolve()
	return true
}

// Abandon снимает зарегистрированное ожидание, до которого Await не дошел.
// Используется на ошибочных путях между RegisterWait и Await, чтобы запись
// реестра не жила вечно. Безопасен для nil и уже снятого хэндла.
func (r *Register) Abandon(wait *Wait) {
	if wait == nil {
		return
	}
	r.remove(wait)
}

// ActiveWaits возвращает число активных ожиданий (для метрик и тестов).
func (r *Register) ActiveWaits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waits)
}

// remove удаляет запись из реестра, только если она все еще принадлежит этому хэндлу.
func (r *Register) remove(wait *Wait) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, exists := r.waits[wait.key]; exists && entry == wait.entry {
		delete(r.waits, wait.key)
	}
}
