// Package health tracks per-agent failure history and gates agent
// availability with exponential backoff. It is the circuit breaker between
// completion events and the scheduler's routing decisions.
package health

import (
	"log"
	"sync"
	"time"

	"github.com/herdctl/herd/pkg/models"
)

// Config holds the backoff policy. The curve parameters are policy, not
// structure, so they are configurable rather than hard-coded.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int
	// BaseDelay is the backoff base for generic failures.
	BaseDelay time.Duration
	// RateLimitDelay is the backoff base for rate-limit failures.
	RateLimitDelay time.Duration
	// MaxBackoff caps the computed backoff window.
	MaxBackoff time.Duration
}

// DefaultConfig returns the default backoff policy.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		BaseDelay:        30 * time.Second,
		RateLimitDelay:   2 * time.Minute,
		MaxBackoff:       30 * time.Minute,
	}
}

// Tracker maintains the per-agent health ledger. All methods are safe for
// concurrent use. Only completion events mutate it; operator overrides act
// on the supervisor, never on the breaker state.
type Tracker struct {
	mu     sync.RWMutex
	cfg    Config
	agents map[string]*models.AgentHealth

	// now is swappable for tests.
	now func() time.Time
}

// NewTracker creates a Tracker with the given policy.
func NewTracker(cfg Config) *Tracker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	return &Tracker{
		cfg:    cfg,
		agents: make(map[string]*models.AgentHealth),
		now:    time.Now,
	}
}

// Restore seeds the ledger from persisted counters. Used at startup so
// backoff windows survive a runner restart.
func (t *Tracker) Restore(entries []models.AgentHealth) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range entries {
		entry := entries[i]
		t.agents[entry.Agent] = &entry
	}
}

// RecordSuccess resets the consecutive-failure count, clears any backoff,
// and increments the lifetime counters.
func (t *Tracker) RecordSuccess(agent string) models.AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.ledger(agent)
	now := t.now()
	h.ConsecutiveFailures = 0
	h.BackoffUntil = nil
	h.LastSuccess = &now
	h.TotalRuns++
	h.TotalSuccesses++
	return *h
}

// RecordFailure increments the consecutive-failure count and, once the
// threshold is reached, opens the breaker with an exponentially growing
// window: base * 2^(failures - threshold), capped at MaxBackoff.
// Rate-limit failures use the longer RateLimitDelay base.
func (t *Tracker) RecordFailure(agent string, failure models.FailureType) models.AgentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.ledger(agent)
	now := t.now()
	h.ConsecutiveFailures++
	h.LastFailure = &now
	h.TotalRuns++

	if h.ConsecutiveFailures >= t.cfg.FailureThreshold {
		delay := t.backoffDelay(failure, h.ConsecutiveFailures)
		until := now.Add(delay)
		h.BackoffUntil = &until
		log.Printf("[health] agent %s in backoff until %s after %d consecutive failures (%s)",
			agent, until.Format(time.RFC3339), h.ConsecutiveFailures, failure)
	}
	return *h
}

// IsAvailable returns true iff the agent has no backoff window or the
// window has elapsed. An agent past its window is eligible again, but its
// failure count is intact: one more failure re-opens a longer window.
func (t *Tracker) IsAvailable(agent string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.agents[agent]
	if !ok {
		return true
	}
	return !h.InBackoff(t.now())
}

// Get returns a copy of the agent's ledger.
func (t *Tracker) Get(agent string) models.AgentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h, ok := t.agents[agent]; ok {
		return *h
	}
	return models.AgentHealth{Agent: agent}
}

// Snapshot returns a copy of every agent's ledger.
func (t *Tracker) Snapshot() []models.AgentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.AgentHealth, 0, len(t.agents))
	for _, h := range t.agents {
		out = append(out, *h)
	}
	return out
}

// SetClock replaces the time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// ledger returns the agent's entry, creating it on first reference.
// Caller must hold t.mu.
func (t *Tracker) ledger(agent string) *models.AgentHealth {
	h, ok := t.agents[agent]
	if !ok {
		h = &models.AgentHealth{Agent: agent}
		t.agents[agent] = h
	}
	return h
}

// backoffDelay computes the capped exponential delay for the given failure
// count. failures is at least the threshold when called.
func (t *Tracker) backoffDelay(failure models.FailureType, failures int) time.Duration {
	base := t.cfg.BaseDelay
	if failure == models.FailureRateLimited {
		base = t.cfg.RateLimitDelay
	}

	delay := base
	for i := t.cfg.FailureThreshold; i < failures; i++ {
		delay *= 2
		if delay >= t.cfg.MaxBackoff {
			return t.cfg.MaxBackoff
		}
	}
	if delay > t.cfg.MaxBackoff {
		return t.cfg.MaxBackoff
	}
	return delay
}
