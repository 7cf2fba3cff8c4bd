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

// Package lifecycle drives the orchestrator's top level state machine:
// it validates the deployment, runs the deployment pipeline, supervises
// the deployed components and shuts them down in reverse dependency
// order.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/k0kubun/pp"
	"github.com/sensornode/orchestra/common/event"
	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/common/utils/uid"
	"github.com/sensornode/orchestra/configuration"
	"github.com/sensornode/orchestra/core/component"
	"github.com/sensornode/orchestra/core/executor"
	"github.com/sensornode/orchestra/core/graph"
	"github.com/sensornode/orchestra/core/health"
	"github.com/sensornode/orchestra/core/metrics"
	"github.com/sensornode/orchestra/core/pipeline"
	"github.com/sensornode/orchestra/core/recovery"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/sensornode/orchestra/core/status"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "lifecycle")

// Dialer opens the transport to the deployment target.
type Dialer func(ctx context.Context, d *configuration.Deployment, dryRun bool) (executor.Transport, error)

type Options struct {
	// Descriptor is the location of the deployment descriptor. It is
	// ignored when Deployment is set.
	Descriptor string
	Deployment *configuration.Deployment
	Overrides  configuration.Overrides
	DryRun     bool

	Dial Dialer
	// Sink receives transition records next to the sinks the descriptor
	// configures.
	Sink event.Sink
	// MonitorInterval overrides the descriptor's monitoring interval.
	MonitorInterval time.Duration
	// OnReady is called once initialization succeeded, before deployment.
	OnReady func(c *Controller)
}

// Controller owns the system entity and everything it drives. Only the
// goroutine running Run mutates the fleet; other callers go through
// Stop, RequestStop, RestartService or read Status.
type Controller struct {
	*sm.Entity

	opts  Options
	runID uid.ID
	sinks *sinkSwitch

	deployment *configuration.Deployment
	transport  executor.Transport
	plan       *graph.DeploymentPlan
	fleet      *component.Fleet
	prober     *health.Prober
	recovery   *recovery.Manager
	pipeline   *pipeline.Pipeline
	aggregate  status.SafeStatus

	prepMu   sync.Mutex
	prepared atomic.Bool
	opMu     sync.Mutex // serialises restarts, passes and shutdown
	running  atomic.Bool
	cancelMu sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(opts Options) *Controller {
	if opts.Dial == nil {
		opts.Dial = DialTarget
	}
	runID := uid.New()
	sinks := newSinkSwitch(opts.Sink)
	return &Controller{
		Entity: sm.NewEntity(sm.KIND_SYSTEM, "system", sm.WithSink(sinks), sm.WithRunID(runID)),
		opts:   opts,
		runID:  runID,
		sinks:  sinks,
		done:   make(chan struct{}),
	}
}

func (c *Controller) RunID() uid.ID {
	return c.runID
}

func (c *Controller) Deployment() *configuration.Deployment {
	return c.deployment
}

func (c *Controller) Plan() *graph.DeploymentPlan {
	return c.plan
}

func (c *Controller) Fleet() *component.Fleet {
	return c.fleet
}

func (c *Controller) entityOptions() []sm.Option {
	return []sm.Option{sm.WithSink(c.sinks), sm.WithRunID(c.runID)}
}

// prepare loads the descriptor, plans the graph, opens the sinks and the
// transport, and builds the fleet. It does not touch the system entity.
func (c *Controller) prepare(ctx context.Context) error {
	c.prepMu.Lock()
	defer c.prepMu.Unlock()
	if c.prepared.Load() {
		return nil
	}
	d := c.opts.Deployment
	if d == nil {
		var err error
		if d, err = configuration.Load(ctx, c.opts.Descriptor, c.opts.Overrides); err != nil {
			return err
		}
	}

	specs := d.Specs()
	plan, err := graph.Plan(specs)
	if err != nil {
		return err
	}
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		log.WithField("batches", len(plan.Batches)).Debug("deployment plan:\n" + pp.Sprint(plan.Batches))
	}

	if err = c.sinks.attach(d); err != nil {
		log.WithError(err).Warn("transition log unavailable")
	}

	tr, err := c.opts.Dial(ctx, d, c.opts.DryRun)
	if err != nil {
		return err
	}

	c.deployment = d
	c.plan = plan
	c.transport = tr
	c.fleet = component.NewFleet(specs, c.entityOptions()...)
	c.prober = health.NewProber(tr)
	c.recovery = recovery.NewManager(tr, c.prober, d.RecoveryOptions())
	c.pipeline = pipeline.New(tr, c.fleet, plan, c.prober, c.recovery, d.PipelineOptions(), c.entityOptions()...)
	c.prepared.Store(true)

	log.WithFields(logrus.Fields{
		"target":   tr.Target(),
		"services": c.fleet.Len(),
		"batches":  len(plan.Batches),
		"run":      c.runID.String(),
	}).Info("deployment prepared")
	return nil
}

// Initialize moves the system from WAIT_USER through INITIALIZING. Any
// configuration, planning or connection failure stops the system.
func (c *Controller) Initialize(ctx context.Context) error {
	if err := c.Apply(sm.START_COMMAND, "deploy requested"); err != nil {
		return err
	}
	if err := c.Apply(sm.INITIALIZING, "validating deployment"); err != nil {
		return err
	}
	if err := c.prepare(ctx); err != nil {
		log.WithError(err).Error("initialization failed")
		if tErr := c.Fail(sm.STOPPED, "initialization failed", err); tErr != nil {
			return errors.Join(err, tErr)
		}
		return err
	}
	if c.opts.OnReady != nil {
		c.opts.OnReady(c)
	}
	return nil
}

// Deploy runs the deployment pipeline. An aborted deployment stops the
// components it started and escapes to STOPPED; an operator cancellation
// takes the regular shutdown path.
func (c *Controller) Deploy(ctx context.Context) error {
	if err := c.Apply(sm.COMPONENTS_STARTING, "starting components"); err != nil {
		return err
	}

	c.opMu.Lock()
	err := c.pipeline.Run(ctx)
	c.refreshAggregate()
	c.opMu.Unlock()
	if err == nil {
		return nil
	}

	var aborted *pipeline.DeploymentAborted
	if errors.As(err, &aborted) && aborted.Canceled {
		log.Warn("deployment cancelled, shutting down started components")
		if sErr := c.shutdown(context.WithoutCancel(ctx), "deployment cancelled"); sErr != nil {
			log.WithError(sErr).Error("shutdown after cancellation failed")
		}
		return err
	}

	log.WithError(err).Error("deployment aborted")
	if !c.opts.DryRun {
		c.stopComponents(context.WithoutCancel(ctx))
	}
	if tErr := c.Fail(sm.STOPPED, "deployment aborted", err); tErr != nil {
		return errors.Join(err, tErr)
	}
	return err
}

// Run drives the full lifecycle and returns once the system is STOPPED.
// A dry run stops right after the pipeline finishes.
func (c *Controller) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
	c.running.Store(true)
	defer func() {
		cancel()
		c.running.Store(false)
		close(c.done)
	}()

	if err := c.Initialize(runCtx); err != nil {
		return err
	}
	if err := c.Deploy(runCtx); err != nil {
		return err
	}
	if c.opts.DryRun {
		return c.Apply(sm.STOPPED, "dry run complete")
	}
	return c.Supervise(runCtx)
}

// Close releases the transport and flushes the transition sinks.
func (c *Controller) Close() error {
	var err error
	if c.transport != nil {
		err = c.transport.Close()
	}
	if sErr := c.sinks.Close(); sErr != nil && err == nil {
		err = sErr
	}
	return err
}

func (c *Controller) refreshAggregate() status.PipelineStatus {
	agg := status.ReduceSnapshots(c.fleet.Snapshots())
	if c.aggregate.Set(agg) {
		log.WithField("status", agg.String()).Info("aggregate status changed")
	}
	metrics.SetPipelineStatus(agg.String(), status.Names())
	return agg
}
