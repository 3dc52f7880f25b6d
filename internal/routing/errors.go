package routing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoProviders is returned when no candidate is available to route to
	ErrNoProviders = errors.New("no providers available")
	// ErrAttemptTimeout marks an attempt that exceeded the per-attempt deadline
	ErrAttemptTimeout = errors.New("attempt timed out")
)

// AttemptError is a single failed provider attempt. It is recorded and the
// waterfall moves on to the next candidate.
type AttemptError struct {
	Provider string
	Attempt  int
	TimedOut bool
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d on %s failed: %v", e.Attempt, e.Provider, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// RouteExhaustedError is returned when every attempted candidate failed
type RouteExhaustedError struct {
	AttemptsNeeded int
	History        []Attempt
	Err            error
}

func (e *RouteExhaustedError) Error() string {
	if e.AttemptsNeeded == 0 {
		return fmt.Sprintf("route exhausted: %v", e.Err)
	}
	failed := make([]string, 0, len(e.History))
	for _, a := range e.History {
		failed = append(failed, a.Provider)
	}
	return fmt.Sprintf("route exhausted after %d attempts [%s]: %v", e.AttemptsNeeded, strings.Join(failed, ", "), e.Err)
}

func (e *RouteExhaustedError) Unwrap() error {
	return e.Err
}
