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

package lifecycle

import (
	"context"
	"sort"
	"time"

	"github.com/sensornode/orchestra/core/component"
	"github.com/sensornode/orchestra/core/health"
	"github.com/sensornode/orchestra/core/recovery"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/sensornode/orchestra/core/status"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultMonitorInterval = 5 * time.Second

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}

func (c *Controller) monitorInterval() time.Duration {
	if c.opts.MonitorInterval > 0 {
		return c.opts.MonitorInterval
	}
	if iv := c.deployment.MonitorInterval(); iv > 0 {
		return iv
	}
	return DefaultMonitorInterval
}

// enter moves the system to a supervisor sub-state, skipping a move onto
// the current state.
func (c *Controller) enter(to sm.State, reason string) error {
	if c.Current() == to {
		return nil
	}
	return c.Apply(to, reason)
}

// Supervise runs the monitoring loop until ctx is cancelled, then shuts
// the components down. It returns *SupervisionFailed if the aggregate
// turns KO with no restart budget left.
func (c *Controller) Supervise(ctx context.Context) error {
	if err := c.Apply(sm.SUPERVISOR_RUNNING, "deployment complete"); err != nil {
		return err
	}
	if err := c.enter(sm.SUPERVISOR_MONITORING, "supervision started"); err != nil {
		return err
	}

	interval := c.monitorInterval()
	log.WithField("interval", interval.String()).Info("supervising deployment")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.shutdown(context.WithoutCancel(ctx), "stop requested")
		case <-ticker.C:
		}

		agg, failed, err := c.SupervisePass(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return err
		}
		if failed != nil {
			log.WithError(failed).Error("supervision cannot recover the deployment")
			c.stopComponents(context.WithoutCancel(ctx))
			if tErr := c.Fail(sm.STOPPED, "unrecoverable failure", failed); tErr != nil {
				return tErr
			}
			return failed
		}
		log.WithField("status", agg.String()).Trace("supervision pass complete")
	}
}

// SupervisePass re-probes every supervised component, runs one restart
// cycle for each that needs recovery, and maps the aggregate onto the
// supervisor sub-states. A non-nil *SupervisionFailed means the caller
// must stop the system.
func (c *Controller) SupervisePass(ctx context.Context) (status.PipelineStatus, *SupervisionFailed, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.reprobe(ctx)
	agg := c.refreshAggregate()

	var needy []*component.Component
	for _, comp := range c.fleet.All() {
		if recovery.NeedsRecovery(comp) {
			needy = append(needy, comp)
		}
	}
	if len(needy) > 0 {
		if err := c.enter(sm.SUPERVISOR_RECOVERING, "recovering components"); err != nil {
			return agg, nil, err
		}
		c.recover(ctx, needy)
		agg = c.refreshAggregate()
	}

	if ctx.Err() != nil {
		return agg, nil, ctx.Err()
	}

	switch agg {
	case status.OK, status.UNKNOWN:
		return agg, nil, c.enter(sm.SUPERVISOR_MONITORING, "all components healthy")
	case status.DEGRADED:
		return agg, nil, c.enter(sm.SUPERVISOR_DEGRADED, "some components failing")
	case status.RECOVERING:
		return agg, nil, c.enter(sm.SUPERVISOR_RECOVERING, "components restarting")
	}

	// KO: every component is failing.
	failed := &SupervisionFailed{Components: map[string]string{}}
	for _, comp := range c.fleet.All() {
		if !status.IsFailing(comp.Current()) {
			continue
		}
		if comp.Current() != sm.ERROR && !c.recovery.Exhausted(comp.ID()) {
			return agg, nil, c.enter(sm.SUPERVISOR_DEGRADED, "failing components still have restart budget")
		}
		msg := "restart budget exhausted"
		if err := comp.LastError(); err != nil {
			msg = err.Error()
		}
		failed.Components[comp.ID()] = msg
	}
	return agg, failed, nil
}

func (c *Controller) workers() int {
	if n := c.deployment.Orchestrator.Workers; n > 0 {
		return n
	}
	return 1
}

func (c *Controller) supervised(comp *component.Component) bool {
	switch comp.Current() {
	case sm.RUNNING, sm.HEALTHY, sm.UNHEALTHY, sm.DEGRADED:
		return true
	}
	return false
}

// reprobe runs one health check per supervised component. Supervision
// probes once per pass; the monitoring interval spaces the attempts.
func (c *Controller) reprobe(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())

	for _, comp := range c.fleet.All() {
		if !c.supervised(comp) {
			continue
		}
		comp := comp
		g.Go(func() error {
			pol := health.PolicyFor(comp.Spec.HealthCheck, 1)
			pol.MaxAttempts = 1
			report := c.prober.Probe(gctx, comp.Spec, pol)
			if gctx.Err() != nil {
				return nil
			}
			c.applyProbe(comp, report)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Controller) applyProbe(comp *component.Component, report health.Report) {
	clog := log.ForService(comp.ID())
	current := comp.Current()
	if report.Healthy {
		switch current {
		case sm.RUNNING, sm.UNHEALTHY, sm.DEGRADED:
			if err := comp.Apply(sm.HEALTHY, "health check passed"); err != nil {
				clog.WithError(err).Warn("cannot mark component healthy")
			}
		}
		return
	}

	clog.WithError(report.Err).Warn("health check failed")
	switch current {
	case sm.RUNNING, sm.HEALTHY:
		if err := comp.Fail(sm.UNHEALTHY, "health check failed", report.Err); err != nil {
			clog.WithError(err).Warn("cannot mark component unhealthy")
		}
	}
}

func (c *Controller) recover(ctx context.Context, needy []*component.Component) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for _, comp := range needy {
		comp := comp
		g.Go(func() error {
			state, err := c.recovery.Recover(gctx, comp)
			entry := log.ForService(comp.ID()).WithFields(logrus.Fields{
				"state":    state.String(),
				"restarts": c.recovery.Used(comp.ID()),
			})
			if err != nil {
				entry.WithError(err).Warn("recovery cycle did not restore health")
			} else {
				entry.Info("recovery cycle complete")
			}
			return nil
		})
	}
	_ = g.Wait()
}
