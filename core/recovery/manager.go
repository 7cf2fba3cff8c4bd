/*
 * === This file is part of orchestra ===
 *
 * Copyright 2025 the orchestra authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package recovery restarts unhealthy components within a per-component
// budget. A component whose budget is spent ends in ERROR and is never
// restarted again during the run; other components are unaffected.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/core/component"
	"github.com/sensornode/orchestra/core/executor"
	"github.com/sensornode/orchestra/core/health"
	"github.com/sensornode/orchestra/core/metrics"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "recovery")

const DefaultMaxRestarts = 2

type Options struct {
	MaxRestarts      int
	CommandTimeout   time.Duration
	HealthMultiplier float64
	// RestartInterval spaces consecutive restart cycles in Settle.
	RestartInterval time.Duration
}

type Manager struct {
	ex     executor.Executor
	prober *health.Prober
	opts   Options

	mu   sync.Mutex
	used map[string]int
}

func NewManager(ex executor.Executor, prober *health.Prober, opts Options) *Manager {
	if opts.MaxRestarts <= 0 {
		opts.MaxRestarts = DefaultMaxRestarts
	}
	return &Manager{
		ex:     ex,
		prober: prober,
		opts:   opts,
		used:   make(map[string]int),
	}
}

// Used returns how many restart cycles c has consumed.
func (m *Manager) Used(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[id]
}

// Remaining returns how many restart cycles id may still get.
func (m *Manager) Remaining(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return max(0, m.opts.MaxRestarts-m.used[id])
}

func (m *Manager) Exhausted(id string) bool {
	return m.Remaining(id) == 0
}

func (m *Manager) MaxRestarts() int {
	return m.opts.MaxRestarts
}

// Reset gives id its full budget back. Used for operator restarts.
func (m *Manager) Reset(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.used, id)
}

func (m *Manager) consume(id string) (used int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used[id] >= m.opts.MaxRestarts {
		return m.used[id], false
	}
	m.used[id]++
	return m.used[id], true
}

// NeedsRecovery reports whether Recover would act on c.
func NeedsRecovery(c *component.Component) bool {
	s := c.Current()
	return s == sm.UNHEALTHY || s == sm.DEGRADED
}

// Recover runs at most one restart cycle for an UNHEALTHY or DEGRADED
// component: stop command, start command, health probe. The outcome is
// HEALTHY, DEGRADED while budget remains, or ERROR once it is spent.
// Components in any other state are returned untouched.
func (m *Manager) Recover(ctx context.Context, c *component.Component) (sm.State, error) {
	if !NeedsRecovery(c) {
		return c.Current(), nil
	}
	id := c.Spec.ID

	used, ok := m.consume(id)
	if !ok {
		err := fmt.Errorf("restart budget of %d exhausted", m.opts.MaxRestarts)
		if tErr := c.Fail(sm.ERROR, err.Error(), lastErrorOr(c, err)); tErr != nil {
			return c.Current(), tErr
		}
		log.ForService(id).Error("restart budget exhausted, giving up")
		return sm.ERROR, nil
	}
	metrics.RestartCount.WithLabelValues(id).Inc()

	return m.cycle(ctx, c, fmt.Sprintf("restart %d/%d", used, m.opts.MaxRestarts), func(healthy bool) sm.State {
		switch {
		case healthy:
			return sm.HEALTHY
		case used < m.opts.MaxRestarts:
			return sm.DEGRADED
		default:
			return sm.ERROR
		}
	})
}

// Restart runs one cycle on operator request, outside of the budget. It
// accepts HEALTHY, UNHEALTHY and DEGRADED components; a failed cycle
// leaves the component DEGRADED for supervision to pick up.
func (m *Manager) Restart(ctx context.Context, c *component.Component) (sm.State, error) {
	if !c.Can(sm.RESTARTING) {
		return c.Current(), sm.InvalidTransitionError{
			EntityID: c.Spec.ID,
			Kind:     sm.KIND_COMPONENT,
			From:     c.Current(),
			To:       sm.RESTARTING,
		}
	}
	return m.cycle(ctx, c, "operator restart", func(healthy bool) sm.State {
		if healthy {
			return sm.HEALTHY
		}
		return sm.DEGRADED
	})
}

func (m *Manager) cycle(ctx context.Context, c *component.Component, reason string, outcome func(healthy bool) sm.State) (sm.State, error) {
	id := c.Spec.ID
	if err := c.Apply(sm.RESTARTING, reason); err != nil {
		return c.Current(), err
	}
	entry := log.ForService(id).WithField("cycle", reason)
	entry.Info("restarting")

	if err := c.StopCommand(ctx, m.ex, m.opts.CommandTimeout); err != nil {
		entry.WithError(err).Warn("stop command failed during restart, starting anyway")
	}

	var cause error
	if err := c.StartCommand(ctx, m.ex, m.opts.CommandTimeout); err != nil {
		cause = err
	} else {
		report := m.prober.Probe(ctx, c.Spec, health.PolicyFor(c.Spec.HealthCheck, m.opts.HealthMultiplier))
		if !report.Healthy {
			cause = report.Err
		}
	}

	next := outcome(cause == nil)
	if cause == nil {
		if err := c.Fail(next, "healthy after restart", nil); err != nil {
			return c.Current(), err
		}
		entry.Info("recovered")
		return next, nil
	}

	if err := c.Fail(next, "restart did not restore health", cause); err != nil {
		return c.Current(), err
	}
	if next == sm.ERROR {
		entry.WithError(cause).Error("restart failed, budget exhausted")
	} else {
		entry.WithError(cause).Warn("restart failed")
	}
	return next, nil
}

// Settle repeats restart cycles, spaced by the restart interval, until c
// is HEALTHY, in ERROR, or ctx is done.
func (m *Manager) Settle(ctx context.Context, c *component.Component) (sm.State, error) {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if m.opts.RestartInterval > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = m.opts.RestartInterval
		eb.RandomizationFactor = 0
		b = eb
	}

	for NeedsRecovery(c) {
		if ctx.Err() != nil {
			return c.Current(), ctx.Err()
		}
		state, err := m.Recover(ctx, c)
		if err != nil {
			return state, err
		}
		if state != sm.DEGRADED {
			break
		}

		wait := b.NextBackOff()
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return c.Current(), ctx.Err()
		case <-t.C:
		}
	}
	return c.Current(), nil
}

func lastErrorOr(c *component.Component, fallback error) error {
	if err := c.LastError(); err != nil {
		return err
	}
	return fallback
}
