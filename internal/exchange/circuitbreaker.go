package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// failureKind categorises provider failures for the circuit breaker,
// matching the ErrCircuitBreakerOpen policy in spec §7 ("categorised by
// error kind: network / rate-limit / timeout / service").
type failureKind string

const (
	failureNetwork   failureKind = "network"
	failureRateLimit failureKind = "rate_limit"
	failureTimeout   failureKind = "timeout"
	failureService   failureKind = "service"
)

// CircuitBreaker trips per error kind after a run of consecutive failures
// and rejects submissions for a cool-down window, the same
// trip-then-cooldown shape as the teacher risk Manager's kill switch
// (killSwitchActive / killSwitchUntil), applied here per exchange call
// instead of per market.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures map[failureKind]int
	openUntil map[failureKind]time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		failures:  make(map[failureKind]int),
		openUntil: make(map[failureKind]time.Time),
	}
}

// Allow reports whether a call of the given kind may proceed.
func (cb *CircuitBreaker) Allow(kind failureKind) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	until, tripped := cb.openUntil[kind]
	if !tripped {
		return true
	}
	if time.Now().After(until) {
		delete(cb.openUntil, kind)
		cb.failures[kind] = 0
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess(kind failureKind) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures[kind] = 0
}

func (cb *CircuitBreaker) RecordFailure(kind failureKind) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures[kind]++
	if cb.failures[kind] >= cb.threshold {
		cb.openUntil[kind] = time.Now().Add(cb.cooldown)
	}
}

// Execute runs op guarded by the breaker: rejects immediately with
// ErrCircuitBreakerOpen if kind's breaker is open, otherwise runs op and
// records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, kind failureKind, op func(ctx context.Context) error) error {
	if !cb.Allow(kind) {
		return fmt.Errorf("%w: %s", domain.ErrCircuitBreakerOpen, kind)
	}
	err := op(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrProviderRetriable) {
			cb.RecordFailure(kind)
		}
		return err
	}
	cb.RecordSuccess(kind)
	return nil
}
