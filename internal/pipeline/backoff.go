package pipeline

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy возвращает задержку перед попыткой с номером attempt (с 1).
// Инжектится в Guard и Orchestrator, чтобы тесты могли не спать.
type BackoffStrategy func(attempt int) time.Duration

// ExponentialBackoff - экспоненциальная задержка от baseDelay с джиттером ±10%.
func ExponentialBackoff(baseDelay time.Duration) BackoffStrategy {
	return func(attempt int) time.Duration {
		delay := float64(baseDelay) * math.Pow(2, float64(attempt-1))
		jitter := delay * 0.1
		delay += jitter * (rand.Float64()*2 - 1)
		wait := time.Duration(delay)
		if wait < baseDelay {
			wait = baseDelay
		}
		return wait
	}
}

// NoBackoff - нулевая задержка, для тестов.
func NoBackoff() BackoffStrategy {
	return func(int) time.Duration { return 0 }
}
