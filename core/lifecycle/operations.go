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
	"time"

	"github.com/gobwas/glob"
	"github.com/hashicorp/go-multierror"
	"github.com/sensornode/orchestra/core/component"
	"github.com/sensornode/orchestra/core/health"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/sensornode/orchestra/core/status"
	"golang.org/x/sync/errgroup"
)

type ComponentStatus struct {
	ID           string          `json:"id"`
	State        sm.State        `json:"state"`
	Batch        int             `json:"batch"`
	DependsOn    []string        `json:"dependsOn,omitempty"`
	Restarts     int             `json:"restarts"`
	RestartsLeft int             `json:"restartsLeft"`
	LastError    string          `json:"lastError,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	History      []sm.Transition `json:"history,omitempty"`
}

// Report is a point-in-time view assembled from published snapshots.
type Report struct {
	RunID      string            `json:"runId"`
	Target     string            `json:"target,omitempty"`
	System     sm.State          `json:"system"`
	Pipeline   sm.State          `json:"pipeline,omitempty"`
	Attempts   int               `json:"attempts"`
	Aggregate  string            `json:"aggregate"`
	Plan       [][]string        `json:"plan,omitempty"`
	Components []ComponentStatus `json:"components"`
}

// Status reads snapshots only and never blocks on a running operation.
func (c *Controller) Status() Report {
	report := Report{
		RunID:     c.runID.String(),
		System:    c.Snapshot().State,
		Aggregate: status.UNKNOWN.String(),
	}
	if !c.prepared.Load() {
		return report
	}
	report.Target = c.transport.Target()
	report.Pipeline = c.pipeline.Snapshot().State
	report.Attempts = c.pipeline.Attempts()
	report.Plan = c.plan.Batches

	snaps := c.fleet.Snapshots()
	report.Aggregate = status.ReduceSnapshots(snaps).String()
	for _, snap := range snaps {
		comp, _ := c.fleet.Get(snap.ID)
		report.Components = append(report.Components, ComponentStatus{
			ID:           snap.ID,
			State:        snap.State,
			Batch:        c.plan.BatchOf(snap.ID),
			DependsOn:    comp.Spec.DependsOn,
			Restarts:     c.recovery.Used(snap.ID),
			RestartsLeft: c.recovery.Remaining(snap.ID),
			LastError:    snap.LastError,
			UpdatedAt:    snap.UpdatedAt,
			History:      snap.History,
		})
	}
	return report
}

// Component returns the status of one component.
func (c *Controller) Component(id string) (ComponentStatus, bool) {
	for _, cs := range c.Status().Components {
		if cs.ID == id {
			return cs, true
		}
	}
	return ComponentStatus{}, false
}

func (c *Controller) match(pattern string) ([]*component.Component, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var matched []*component.Component
	for _, comp := range c.fleet.All() {
		if g.Match(comp.ID()) {
			matched = append(matched, comp)
		}
	}
	if len(matched) == 0 {
		return nil, NoMatchError{Pattern: pattern}
	}
	return matched, nil
}

// acceptsRestart reports whether components may be driven by an operator
// in the given system state. Between START_COMMAND and the end of the
// pipeline run only the pipeline drives them.
func acceptsRestart(s sm.State) bool {
	switch s {
	case sm.WAIT_USER, sm.STOPPED,
		sm.SUPERVISOR_RUNNING, sm.SUPERVISOR_MONITORING,
		sm.SUPERVISOR_DEGRADED, sm.SUPERVISOR_RECOVERING:
		return true
	}
	return false
}

// RestartService restarts every service whose id matches the glob
// pattern. Operator restarts do not consume the restart budget; a
// component in ERROR is stopped, gets a fresh budget and starts again.
// It returns the resulting state per matched service.
func (c *Controller) RestartService(ctx context.Context, pattern string) (map[string]sm.State, error) {
	if state := c.Current(); !acceptsRestart(state) {
		return nil, NotSupervisingError{State: state}
	}
	if err := c.prepare(ctx); err != nil {
		return nil, err
	}
	matched, err := c.match(pattern)
	if err != nil {
		return nil, err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	if state := c.Current(); !acceptsRestart(state) {
		return nil, NotSupervisingError{State: state}
	}

	var (
		merr   *multierror.Error
		result = make(map[string]sm.State, len(matched))
	)
	for _, comp := range matched {
		state, rErr := c.restartOne(ctx, comp)
		result[comp.ID()] = state
		if rErr != nil {
			merr = multierror.Append(merr, rErr)
		}
	}
	c.refreshAggregate()
	return result, merr.ErrorOrNil()
}

func (c *Controller) restartOne(ctx context.Context, comp *component.Component) (sm.State, error) {
	timeout := c.deployment.CommandTimeout()
	clog := log.ForService(comp.ID())

	switch comp.Current() {
	case sm.PENDING, sm.STOPPED, sm.ERROR:
		if comp.Current() == sm.PENDING {
			if err := comp.StopCommand(ctx, c.transport, timeout); err != nil {
				clog.WithError(err).Debug("stop before restart failed")
			}
		}
		if err := comp.Stop(ctx, c.transport, timeout); err != nil {
			return comp.Current(), err
		}
		c.recovery.Reset(comp.ID())
		if err := comp.Start(ctx, c.transport, timeout); err != nil {
			return comp.Current(), err
		}
		pol := health.PolicyFor(comp.Spec.HealthCheck, c.deployment.Orchestrator.HealthBackoffMultiplier)
		report := c.prober.Probe(ctx, comp.Spec, pol)
		if !report.Healthy {
			if err := comp.Fail(sm.UNHEALTHY, "health check failed after restart", report.Err); err != nil {
				return comp.Current(), err
			}
			return comp.Current(), report.Err
		}
		err := comp.Apply(sm.HEALTHY, "health check passed after restart")
		return comp.Current(), err
	default:
		clog.Info("operator restart")
		return c.recovery.Restart(ctx, comp)
	}
}

// Sweep probes every service once, without touching component state.
// It backs the one-shot status command when no supervisor is reachable.
func (c *Controller) Sweep(ctx context.Context) ([]health.Report, error) {
	if err := c.prepare(ctx); err != nil {
		return nil, err
	}
	all := c.fleet.All()
	reports := make([]health.Report, len(all))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for i, comp := range all {
		i, comp := i, comp
		g.Go(func() error {
			pol := health.PolicyFor(comp.Spec.HealthCheck, 1)
			pol.MaxAttempts = 1
			reports[i] = c.prober.Probe(gctx, comp.Spec, pol)
			return nil
		})
	}
	_ = g.Wait()
	return reports, ctx.Err()
}
