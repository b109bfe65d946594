package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/joss/taskmesh/internal/config"
	"github.com/joss/taskmesh/internal/metrics"
	"github.com/joss/taskmesh/internal/planner"
)

// ErrCircuitOpen fast-fails dispatch while a resource class is suspended.
var ErrCircuitOpen = errors.New("circuit open for resource class")

const breakerWindow = 20

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker suspends dispatch to a resource signature once its recent failure
// rate crosses the threshold, and half-opens after the recovery timeout.
type breaker struct {
	settings config.Settings
	metrics  *metrics.Metrics

	mu       sync.Mutex
	states   map[planner.Signature]breakerState
	outcomes map[planner.Signature][]bool // ring of recent outcomes, newest last
	openedAt map[planner.Signature]time.Time
	probing  map[planner.Signature]bool
}

func newBreaker(settings config.Settings, m *metrics.Metrics) *breaker {
	if m == nil {
		m = metrics.New()
	}
	return &breaker{
		settings: settings,
		metrics:  m,
		states:   make(map[planner.Signature]breakerState),
		outcomes: make(map[planner.Signature][]bool),
		openedAt: make(map[planner.Signature]time.Time),
		probing:  make(map[planner.Signature]bool),
	}
}

// Allow reports whether dispatch to the signature is currently permitted.
func (b *breaker) Allow(sig planner.Signature) error {
	if !b.settings.BreakerEnabled {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.states[sig] {
	case breakerOpen:
		if time.Since(b.openedAt[sig]) >= b.settings.BreakerRecovery {
			// One probe task is let through; everyone else keeps waiting
			// until the probe's outcome lands.
			b.states[sig] = breakerHalfOpen
			b.probing[sig] = true
			return nil
		}
		return ErrCircuitOpen
	case breakerHalfOpen:
		if b.probing[sig] {
			return ErrCircuitOpen
		}
		b.probing[sig] = true
		return nil
	default:
		return nil
	}
}

// Record feeds an outcome into the failure window and moves the state.
func (b *breaker) Record(sig planner.Signature, success bool) {
	if !b.settings.BreakerEnabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.states[sig] == breakerHalfOpen {
		b.probing[sig] = false
		if success {
			b.states[sig] = breakerClosed
			b.outcomes[sig] = nil
		} else {
			b.states[sig] = breakerOpen
			b.openedAt[sig] = time.Now()
			b.metrics.BreakerOpens.Add(1)
		}
		return
	}

	window := append(b.outcomes[sig], success)
	if len(window) > breakerWindow {
		window = window[len(window)-breakerWindow:]
	}
	b.outcomes[sig] = window

	// Need a minimum sample before tripping.
	if len(window) < 5 {
		return
	}
	failures := 0
	for _, ok := range window {
		if !ok {
			failures++
		}
	}
	if rate := float64(failures) / float64(len(window)); rate >= b.settings.BreakerThreshold {
		b.states[sig] = breakerOpen
		b.openedAt[sig] = time.Now()
		b.metrics.BreakerOpens.Add(1)
	}
}

// State returns the current state name for a signature, for introspection.
func (b *breaker) State(sig planner.Signature) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.states[sig] {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
