/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package resilience guards repeated sub-agent dispatch failures with a
// failure-rate circuit breaker. It is adapted from the teacher's own
// pkg/orchestration/dependency circuit breaker rather than reaching for
// sony/gobreaker — the teacher already solved this with a minimum-window
// failure-rate breaker, so Substrate's Dispatcher keeps that design instead
// of running two breaker implementations side by side (see DESIGN.md).
package resilience

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the three-state machine of a CircuitBreaker.
type CircuitState int

const (
	CircuitStateClosed CircuitState = iota
	CircuitStateOpen
	CircuitStateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitStateClosed:
		return "closed"
	case CircuitStateOpen:
		return "open"
	case CircuitStateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// minSampleWindow is the minimum number of calls observed before the
// failure rate is allowed to trip the breaker open. Below this window a
// single unlucky failure would otherwise open the circuit.
const minSampleWindow = 5

// CircuitBreaker trips open once the observed failure rate (over at least
// minSampleWindow calls) crosses failureThreshold, short-circuits calls
// while open, and probes a single call after resetTimeout to decide whether
// to close again (half-open).
type CircuitBreaker struct {
	name             string
	failureThreshold float64
	resetTimeout     time.Duration

	mu          sync.Mutex
	state       CircuitState
	total       int64
	failures    int64
	openedAt    time.Time
	halfOpening bool
}

// NewCircuitBreaker constructs a closed breaker named name that opens once
// the failure rate exceeds failureThreshold (0..1) and probes again after
// resetTimeout.
func NewCircuitBreaker(name string, failureThreshold float64, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            CircuitStateClosed,
	}
}

func (cb *CircuitBreaker) GetName() string                { return cb.name }
func (cb *CircuitBreaker) GetFailureThreshold() float64    { return cb.failureThreshold }
func (cb *CircuitBreaker) GetResetTimeout() time.Duration  { return cb.resetTimeout }

func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) GetFailures() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) GetFailureRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureRateLocked()
}

func (cb *CircuitBreaker) failureRateLocked() float64 {
	if cb.total == 0 {
		return 0.0
	}
	return float64(cb.failures) / float64(cb.total)
}

// Call executes fn if the breaker allows it, recording the outcome. It
// returns a "circuit breaker is open" error without invoking fn when the
// breaker is open and the reset timeout has not yet elapsed.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitStateOpen {
		if time.Since(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return fmt.Errorf("circuit breaker is open: %s", cb.name)
		}
		// Reset timeout elapsed: allow exactly one probe call through as
		// half-open without yet resetting counters.
		cb.state = CircuitStateHalfOpen
		cb.halfOpening = true
	}
	probing := cb.halfOpening
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probing {
		cb.halfOpening = false
		if err != nil {
			cb.state = CircuitStateOpen
			cb.openedAt = time.Now()
			cb.total++
			cb.failures++
			return err
		}
		// Recovery: reset counters and close.
		cb.state = CircuitStateClosed
		cb.total = 0
		cb.failures = 0
		return nil
	}

	cb.total++
	if err != nil {
		cb.failures++
	}
	if cb.total >= minSampleWindow && cb.failureRateLocked() > cb.failureThreshold {
		cb.state = CircuitStateOpen
		cb.openedAt = time.Now()
	}
	return err
}
