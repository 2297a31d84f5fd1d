// Package admission bounds concurrent in-flight work globally and per target
// host, and enforces a minimum idle spacing between requests to the same host.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Config holds admission controller limits.
type Config struct {
	// GlobalLimit caps in-flight items across all hosts.
	GlobalLimit int
	// PerHostLimit caps in-flight items per host.
	PerHostLimit int
	// HostCooldown is the minimum idle gap between consecutive requests to
	// the same host. It only applies while the host has nothing in flight.
	HostCooldown time.Duration
}

// Controller grants admission permits. Acquisition order is strict: global
// slot, then cooldown wait, then per-host slot. Taking the global slot first
// keeps hosts waiting on their own cooldown from starving the global budget
// they already hold.
type Controller struct {
	cfg    Config
	global *semaphore.Weighted
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	hosts map[string]*hostGate
}

type hostGate struct {
	slots *semaphore.Weighted

	mu          sync.Mutex
	inFlight    int
	lastRequest time.Time
}

// Permit represents one unit of admitted work. Release it exactly once.
type Permit struct {
	ctrl *Controller
	gate *hostGate
	host string
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New builds a Controller. Zero or negative limits fall back to 1.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Controller {
	if cfg.GlobalLimit <= 0 {
		cfg.GlobalLimit = 1
	}
	if cfg.PerHostLimit <= 0 {
		cfg.PerHostLimit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		cfg:    cfg,
		global: semaphore.NewWeighted(int64(cfg.GlobalLimit)),
		logger: logger,
		now:    time.Now,
		hosts:  make(map[string]*hostGate),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit blocks until a permit for host is granted or ctx finishes.
func (c *Controller) Admit(ctx context.Context, host string) (*Permit, error) {
	if err := c.global.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire global slot: %w", err)
	}

	gate := c.gate(host)
	if err := c.waitCooldown(ctx, gate, host); err != nil {
		c.global.Release(1)
		return nil, err
	}
	if err := gate.slots.Acquire(ctx, 1); err != nil {
		c.global.Release(1)
		return nil, fmt.Errorf("acquire host slot for %s: %w", host, err)
	}

	gate.mu.Lock()
	gate.inFlight++
	gate.mu.Unlock()

	return &Permit{ctrl: c, gate: gate, host: host}, nil
}

// Release frees the permit's host and global slots and stamps the host's
// last-request time, which anchors the next cooldown window.
func (p *Permit) Release() {
	if p == nil || p.ctrl == nil {
		return
	}
	p.gate.mu.Lock()
	p.gate.inFlight--
	p.gate.lastRequest = p.ctrl.now()
	p.gate.mu.Unlock()

	p.gate.slots.Release(1)
	p.ctrl.global.Release(1)
	p.ctrl = nil
}

// Host returns the host this permit was granted for.
func (p *Permit) Host() string {
	return p.host
}

// gate returns the per-host gate, creating it on first sight of the host.
func (c *Controller) gate(host string) *hostGate {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate, ok := c.hosts[host]
	if !ok {
		gate = &hostGate{slots: semaphore.NewWeighted(int64(c.cfg.PerHostLimit))}
		c.hosts[host] = gate
	}
	return gate
}

// waitCooldown suspends the caller until the host's idle spacing has elapsed.
// The spacing rule governs idle gaps only: when the host already has work in
// flight the wait is skipped.
func (c *Controller) waitCooldown(ctx context.Context, gate *hostGate, host string) error {
	if c.cfg.HostCooldown <= 0 {
		return nil
	}
	gate.mu.Lock()
	var wait time.Duration
	if gate.inFlight == 0 && !gate.lastRequest.IsZero() {
		if since := c.now().Sub(gate.lastRequest); since < c.cfg.HostCooldown {
			wait = c.cfg.HostCooldown - since
		}
	}
	gate.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	c.logger.Debug("host cooldown wait",
		zap.String("host", host),
		zap.Duration("wait", wait),
	)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("cooldown wait for %s: %w", host, ctx.Err())
	case <-timer.C:
		return nil
	}
}
