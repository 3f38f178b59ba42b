// Package breaker implements the circuit breaker primitive shared by the
// connection pool and health monitor, wrapping sony/gobreaker behind a
// spec-shaped API (FailureThreshold/SuccessThreshold/Timeout/Window)
// rather than exposing gobreaker's own configuration surface.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// State mirrors the engine's three-state circuit breaker model.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Settings configures a Breaker. FailureThreshold is the consecutive
// failure count that trips the breaker from Closed to Open.
// SuccessThreshold is the consecutive success count in HalfOpen required
// to close it again. Timeout is how long the breaker stays Open before
// allowing a HalfOpen trial. Window is the rolling interval after which
// Closed-state failure counts reset.
type Settings struct {
	Name             string
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
	Window           time.Duration
	OnStateChange    func(name string, from, to State)
}

// Breaker gates calls through sony/gobreaker's state machine.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New constructs a Breaker from Settings.
func New(settings Settings) *Breaker {
	st := gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.SuccessThreshold,
		Interval:    settings.Window,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
	}
	if settings.OnStateChange != nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			settings.OnStateChange(name, translateState(from), translateState(to))
		}
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

func translateState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// Call executes fn through the breaker. If the breaker is Open, it
// returns a flowerrors.KindCircuitOpen error without invoking fn.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, flowerrors.NewCircuitOpen(b.cb.Name(), err.Error())
	}
	return result, err
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	return translateState(b.cb.State())
}

// Counts exposes the breaker's rolling request/failure counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
