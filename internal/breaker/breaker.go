package breaker

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the breaker short-circuits a call, either because
// it is open or because the half-open trial budget is spent.
var ErrOpen = errors.New("circuit breaker is open")

// Settings shape the per-destination failure-rate state machine.
type Settings struct {
	Name                 string
	WindowSize           uint32
	FailureRateThreshold float64
	OpenTimeout          time.Duration
	HalfOpenMaxCalls     uint32
}

// Breaker gates delivery attempts to a destination. It trips open once the
// failure ratio over the observed window crosses the threshold, short-circuits
// while open, and lets a bounded number of trial calls through when half-open.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenMaxCalls,
		Interval:    0, // counts reset only on state change
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.WindowSize {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= s.FailureRateThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logrus.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return &Breaker{cb: cb}
}

// Execute runs fn behind the breaker. A short-circuited call returns ErrOpen;
// fn's own error passes through and counts as a failure.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the breaker state name (closed, half-open, open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}
