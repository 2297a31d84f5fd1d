// Package breaker implements a per-host circuit breaker with durable state,
// so hosts blocked before a restart stay blocked until their timeout elapses.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a circuit breaker state for one host.
type State string

// Circuit states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds breaker tuning knobs.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens a host.
	FailureThreshold int
	// ResetTimeout is how long a host stays open before a half-open trial.
	ResetTimeout time.Duration
	// StatePath is the JSON file breaker state is persisted to. Empty
	// disables persistence.
	StatePath string
}

type hostState struct {
	State       State
	Failures    int
	LastFailure time.Time
	probing     bool
}

// Breaker tracks per-host failure state. Safe for concurrent use.
type Breaker struct {
	mu     sync.Mutex
	hosts  map[string]*hostState
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New builds a Breaker, restoring any persisted state from cfg.StatePath.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Breaker, error) {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		hosts:  make(map[string]*hostState),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.restore(); err != nil {
		return nil, err
	}
	return b, nil
}

// Admit reports whether work for host may proceed. While open, it flips to
// half-open once the reset timeout has elapsed and admits exactly one trial;
// concurrent callers keep being rejected until that trial resolves.
func (b *Breaker) Admit(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.hosts[host]
	if !ok {
		return true
	}
	switch hs.State {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(hs.LastFailure) < b.cfg.ResetTimeout {
			return false
		}
		hs.State = StateHalfOpen
		hs.probing = true
		b.persistLocked()
		b.logger.Info("circuit half-open, admitting trial request", zap.String("host", host))
		return true
	case StateHalfOpen:
		if hs.probing {
			return false
		}
		hs.probing = true
		return true
	}
	return true
}

// RecordFailure notes a failure for host. It returns true when this failure
// opened the circuit, so callers can log or alert once.
func (b *Breaker) RecordFailure(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs := b.host(host)
	hs.Failures++
	hs.LastFailure = b.now()

	switch {
	case hs.State == StateHalfOpen:
		// Trial failed, back to open for another full timeout.
		hs.State = StateOpen
		hs.probing = false
		b.persistLocked()
		b.logger.Warn("circuit re-opened after failed trial", zap.String("host", host))
		return false
	case hs.State == StateClosed && hs.Failures >= b.cfg.FailureThreshold:
		hs.State = StateOpen
		b.persistLocked()
		b.logger.Warn("circuit opened",
			zap.String("host", host),
			zap.Int("failures", hs.Failures),
		)
		return true
	}
	return false
}

// RecordSuccess clears the consecutive-failure count and closes the circuit
// when a half-open trial succeeds.
func (b *Breaker) RecordSuccess(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.hosts[host]
	if !ok {
		return
	}
	hs.Failures = 0
	if hs.State != StateClosed {
		hs.State = StateClosed
		hs.probing = false
		b.persistLocked()
		b.logger.Info("circuit closed", zap.String("host", host))
	}
}

// Reset is an administrative override back to closed with failures zeroed.
func (b *Breaker) Reset(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.hosts[host]
	if !ok {
		return
	}
	hs.State = StateClosed
	hs.Failures = 0
	hs.probing = false
	b.persistLocked()
	b.logger.Info("circuit reset", zap.String("host", host))
}

// HostState returns the current state for host, defaulting to closed for
// hosts the breaker has never seen.
func (b *Breaker) HostState(host string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hs, ok := b.hosts[host]; ok {
		return hs.State
	}
	return StateClosed
}

func (b *Breaker) host(host string) *hostState {
	hs, ok := b.hosts[host]
	if !ok {
		hs = &hostState{State: StateClosed}
		b.hosts[host] = hs
	}
	return hs
}
