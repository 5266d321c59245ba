package channel

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/prdflow/internal/logging"
	"github.com/aretw0/prdflow/pkg/domain"
	"github.com/cenkalti/backoff/v4"
)

// ErrReconnectStopped is returned by BeginAttempt after Stop.
var ErrReconnectStopped = errors.New("reconnector stopped")

// Policy bounds reconnection timing.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration `yaml:"base"`
	// Max caps the delay between retries.
	Max time.Duration `yaml:"max"`
	// Cooldown is the minimum spacing between any two connection attempts.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DefaultPolicy returns the standard reconnection policy.
func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Max: 10 * time.Second, Cooldown: 3 * time.Second}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.Cooldown < 0 {
		p.Cooldown = 0
	}
	return p
}

// Reconnector schedules reconnection attempts with capped exponential
// backoff. The n-th consecutive retry waits min(Base*2^n, Max), pushed past
// the cooldown window when needed.
type Reconnector struct {
	policy Policy
	clock  Clock
	logger *slog.Logger

	mu          sync.Mutex
	backoff     *backoff.ExponentialBackOff
	lastAttempt time.Time
	attempted   bool
	stopTimer   func() bool
	attempts    int
	stopped     bool

	onSchedule func(attempt int, delay time.Duration)
}

// ReconnectOption configures a Reconnector.
type ReconnectOption func(*Reconnector)

// WithReconnectLogger configures a logger for the Reconnector.
func WithReconnectLogger(logger *slog.Logger) ReconnectOption {
	return func(r *Reconnector) { r.logger = logger }
}

// WithScheduleHook registers f to be called each time a retry is scheduled.
func WithScheduleHook(f func(attempt int, delay time.Duration)) ReconnectOption {
	return func(r *Reconnector) { r.onSchedule = f }
}

// NewReconnector creates a Reconnector. A nil clock means the system clock.
func NewReconnector(p Policy, clock Clock, opts ...ReconnectOption) *Reconnector {
	if clock == nil {
		clock = SystemClock{}
	}
	p = p.withDefaults()
	r := &Reconnector{
		policy: p,
		clock:  clock,
		logger: logging.NewNop(),
		backoff: &backoff.ExponentialBackOff{
			InitialInterval:     p.Base,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         p.Max,
			MaxElapsedTime:      0,
			Stop:                backoff.Stop,
			Clock:               clock,
		},
	}
	r.backoff.Reset()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the effective policy.
func (r *Reconnector) Policy() Policy { return r.policy }

// BeginAttempt records a connection attempt. It fails with
// domain.ErrCooldown when the previous attempt is more recent than the
// cooldown.
func (r *Reconnector) BeginAttempt() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrReconnectStopped
	}
	now := r.clock.Now()
	if r.attempted && now.Sub(r.lastAttempt) < r.policy.Cooldown {
		return domain.ErrCooldown
	}
	r.lastAttempt = now
	r.attempted = true
	return nil
}

// Connected resets the backoff after a successful connection.
func (r *Reconnector) Connected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoff.Reset()
	r.attempts = 0
}

// Closed reacts to a connection close. Unless the close was deliberate
// (CloseNormal) or a retry is already pending, it schedules dial and returns
// the delay.
func (r *Reconnector) Closed(code CloseReason, dial func()) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || code == CloseNormal || r.stopTimer != nil {
		return 0, false
	}

	delay := r.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = r.policy.Max
	}
	if r.attempted {
		if remaining := r.policy.Cooldown - r.clock.Now().Sub(r.lastAttempt); remaining > delay {
			delay = remaining
		}
	}
	r.attempts++

	r.logger.Info("scheduling reconnect", "attempt", r.attempts, "delay", delay, "code", int(code))
	if r.onSchedule != nil {
		r.onSchedule(r.attempts, delay)
	}
	r.stopTimer = r.clock.AfterFunc(delay, func() {
		r.mu.Lock()
		r.stopTimer = nil
		stopped := r.stopped
		r.mu.Unlock()
		if !stopped {
			dial()
		}
	})
	return delay, true
}

// Attempts returns the number of retries scheduled since the last successful connection.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Pending reports whether a retry is scheduled.
func (r *Reconnector) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopTimer != nil
}

// Stop cancels any pending retry and disables future ones. It is idempotent.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.stopTimer != nil {
		r.stopTimer()
		r.stopTimer = nil
	}
}
