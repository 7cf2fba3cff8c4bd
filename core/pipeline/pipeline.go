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

// Package pipeline drives one deployment through its phases: prerequisite
// checks, dependency installation, image builds, batched service startup
// and a final health verification, with a bounded number of start and
// verify rounds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/k0kubun/pp"
	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/common/utils"
	"github.com/sensornode/orchestra/core/component"
	"github.com/sensornode/orchestra/core/executor"
	"github.com/sensornode/orchestra/core/graph"
	"github.com/sensornode/orchestra/core/health"
	"github.com/sensornode/orchestra/core/metrics"
	"github.com/sensornode/orchestra/core/recovery"
	"github.com/sensornode/orchestra/core/service"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logger.New(logrus.StandardLogger(), "pipeline")

const (
	DefaultMaxAttempts = 2
	DefaultWorkers     = 4
)

type PhaseCommand struct {
	Name     string
	Line     string
	Elevated bool
}

type Upload struct {
	Local  string
	Remote string
	Dir    bool
}

type Phases struct {
	Prereqs      []PhaseCommand
	Dependencies []PhaseCommand
	Build        []PhaseCommand
}

type Options struct {
	// MaxAttempts bounds the start and verify rounds; 2 allows one retry.
	MaxAttempts      int
	Policy           service.DegradedStartPolicy
	Workers          int
	CommandTimeout   time.Duration
	CommandRetries   uint
	RetryInterval    time.Duration
	HealthMultiplier float64
	Phases           Phases
	Uploads          []Upload
}

type Pipeline struct {
	*sm.Entity

	opts     Options
	tr       executor.Transport
	fleet    *component.Fleet
	plan     *graph.DeploymentPlan
	prober   *health.Prober
	recovery *recovery.Manager

	attempts atomic.Int32
}

func New(tr executor.Transport,
	fleet *component.Fleet,
	plan *graph.DeploymentPlan,
	prober *health.Prober,
	rec *recovery.Manager,
	opts Options,
	entityOpts ...sm.Option,
) *Pipeline {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Pipeline{
		Entity:   sm.NewEntity(sm.KIND_PIPELINE, "pipeline", entityOpts...),
		opts:     opts,
		tr:       tr,
		fleet:    fleet,
		plan:     plan,
		prober:   prober,
		recovery: rec,
	}
}

// Attempts returns how many start and verify rounds have begun.
func (p *Pipeline) Attempts() int {
	return int(p.attempts.Load())
}

// Run executes the pipeline to DEPLOYED, or returns a *DeploymentAborted
// after the pipeline entered ABORTED. Any other error is an
// InvalidTransitionError and means a controller bug.
func (p *Pipeline) Run(ctx context.Context) error {
	defer utils.TimeTrack(time.Now(), "deployment pipeline", log.WithPrefix("pipeline"))
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		log.Debugf("deployment plan: %s", pp.Sprint(p.plan.Batches))
	}

	steps := []struct {
		active, ok, failed sm.State
		before             func(context.Context) error
		commands           []PhaseCommand
	}{
		{sm.CHECKING_PREREQ, sm.PREREQ_OK, sm.PREREQ_FAILED, nil, p.opts.Phases.Prereqs},
		{sm.INSTALLING_DEPS, sm.DEPS_INSTALLED, sm.DEPS_FAILED, p.upload, p.opts.Phases.Dependencies},
		{sm.BUILDING_IMAGES, sm.IMAGES_BUILT, sm.BUILD_FAILED, nil, p.opts.Phases.Build},
	}
	for _, step := range steps {
		if err := p.Apply(step.active, "phase started"); err != nil {
			return err
		}
		err := p.runPhase(ctx, step.active, step.before, step.commands)
		if ctx.Err() != nil {
			return p.abort(step.active, ctx.Err(), true)
		}
		if err != nil {
			if tErr := p.Fail(step.failed, "phase failed", err); tErr != nil {
				return tErr
			}
			return p.abort(step.active, err, false)
		}
		if err = p.Apply(step.ok, "phase succeeded"); err != nil {
			return err
		}
	}

	for {
		attempt := int(p.attempts.Add(1))
		metrics.DeploymentAttempts.Inc()
		if err := p.Apply(sm.STARTING_SERVICES, fmt.Sprintf("attempt %d/%d", attempt, p.opts.MaxAttempts)); err != nil {
			return err
		}

		failedPhase := sm.STARTING_SERVICES
		failedState := sm.SERVICES_FAILED
		err := p.startServices(ctx)
		if err == nil && ctx.Err() == nil {
			if err = p.Apply(sm.SERVICES_STARTED, "all batches started"); err != nil {
				return err
			}
			if err = p.Apply(sm.VERIFYING_HEALTH, "verification sweep"); err != nil {
				return err
			}
			failedPhase = sm.VERIFYING_HEALTH
			failedState = sm.HEALTH_FAILED
			err = p.verify(ctx)
		}
		if ctx.Err() != nil {
			return p.abort(failedPhase, ctx.Err(), true)
		}

		if err == nil {
			if err = p.Apply(sm.HEALTH_OK, "all required services healthy"); err != nil {
				return err
			}
			log.WithField("attempts", attempt).Info("deployment complete")
			return p.Apply(sm.DEPLOYED, "deployment complete")
		}

		if tErr := p.Fail(failedState, "phase failed", err); tErr != nil {
			return tErr
		}
		if attempt >= p.opts.MaxAttempts {
			return p.abort(failedPhase, err, false)
		}

		log.WithError(err).
			WithField("phase", failedPhase).
			WithField("attempt", attempt).
			Warn("deployment round failed, retrying")
		if tErr := p.Apply(sm.RETRYING, "retry budget remaining"); tErr != nil {
			return tErr
		}
		p.resetUnhealthy(ctx)
		if ctx.Err() != nil {
			return p.abort(sm.RETRYING, ctx.Err(), true)
		}
	}
}

func (p *Pipeline) runPhase(ctx context.Context, phase sm.State, before func(context.Context) error, commands []PhaseCommand) error {
	entry := log.WithField("phase", phase.String())
	if before != nil {
		if err := before(ctx); err != nil {
			return err
		}
	}
	if len(commands) == 0 {
		entry.Debug("nothing to do")
		return nil
	}
	for _, c := range commands {
		entry.WithField("step", c.Name).Info("running")
		cmd := executor.Command{
			Line:     c.Line,
			Elevated: c.Elevated,
			Timeout:  p.opts.CommandTimeout,
			Kind:     executor.KIND_PHASE,
		}
		if _, err := executor.ExecuteWithRetry(ctx, p.tr, cmd, p.opts.CommandRetries, p.opts.RetryInterval); err != nil {
			name := c.Name
			if name == "" {
				name = c.Line
			}
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (p *Pipeline) upload(ctx context.Context) error {
	for _, u := range p.opts.Uploads {
		log.WithField("phase", sm.INSTALLING_DEPS.String()).
			Infof("uploading %s to %s", u.Local, u.Remote)
		var err error
		if u.Dir {
			err = p.tr.PutDir(ctx, u.Local, u.Remote)
		} else {
			err = p.tr.Put(ctx, u.Local, u.Remote)
		}
		if err != nil {
			return fmt.Errorf("upload %s: %w", u.Local, err)
		}
	}
	return nil
}

// startServices starts batch after batch. Services of one batch run
// concurrently on the worker pool; a failing batch stops progression.
func (p *Pipeline) startServices(ctx context.Context) error {
	for i, batch := range p.plan.Batches {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry := log.WithField("batch", i).WithField("services", strings.Join(batch, ","))
		entry.Info("starting batch")

		var (
			g    errgroup.Group
			mu   sync.Mutex
			merr *multierror.Error
		)
		g.SetLimit(p.opts.Workers)
		for _, c := range p.fleet.Select(batch) {
			c := c
			g.Go(func() error {
				if err := p.startOne(ctx, c); err != nil {
					mu.Lock()
					merr = multierror.Append(merr, fmt.Errorf("%s: %w", c.Spec.ID, err))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := merr.ErrorOrNil(); err != nil {
			entry.WithError(err).Error("batch failed")
			return err
		}
	}
	return nil
}

func (p *Pipeline) startOne(ctx context.Context, c *component.Component) error {
	switch c.Current() {
	case sm.HEALTHY:
		return nil
	case sm.PENDING, sm.STOPPED:
	default:
		if err := c.Stop(ctx, p.tr, p.opts.CommandTimeout); err != nil {
			return err
		}
	}

	if err := c.Start(ctx, p.tr, p.opts.CommandTimeout); err != nil {
		var invalid sm.InvalidTransitionError
		if ctx.Err() != nil || errors.As(err, &invalid) {
			return err
		}
		return p.settle(ctx, c)
	}

	report := p.prober.Probe(ctx, c.Spec, health.PolicyFor(c.Spec.HealthCheck, p.opts.HealthMultiplier))
	if report.Healthy {
		return c.Apply(sm.HEALTHY, "health check passed")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if p.opts.Policy == service.BEST_EFFORT {
		c.SetLastError(report.Err)
		log.ForService(c.Spec.ID).
			WithField("attempts", report.Attempts).
			Warn("not healthy after health wait, continuing with best-effort policy")
		return nil
	}

	if err := c.Fail(sm.UNHEALTHY, "health check failed", report.Err); err != nil {
		return err
	}
	return p.settle(ctx, c)
}

func (p *Pipeline) settle(ctx context.Context, c *component.Component) error {
	state, err := p.recovery.Settle(ctx, c)
	if err != nil {
		return err
	}
	if state == sm.HEALTHY {
		return nil
	}
	if last := c.LastError(); last != nil {
		return fmt.Errorf("%s after recovery: %w", state, last)
	}
	return fmt.Errorf("%s after recovery", state)
}

// verify probes every component once more. STRICT needs all of them
// healthy, BEST_EFFORT at least one.
func (p *Pipeline) verify(ctx context.Context) error {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		merr    *multierror.Error
		healthy int
	)
	g.SetLimit(p.opts.Workers)
	for _, c := range p.fleet.All() {
		c := c
		g.Go(func() error {
			err := p.verifyOne(ctx, c)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", c.Spec.ID, err))
			} else {
				healthy++
			}
			return nil
		})
	}
	_ = g.Wait()

	err := merr.ErrorOrNil()
	if err == nil {
		return nil
	}
	if p.opts.Policy == service.BEST_EFFORT && healthy > 0 {
		log.WithError(err).
			WithField("healthy", healthy).
			Warn("some services are not healthy, deploying anyway with best-effort policy")
		return nil
	}
	return err
}

func (p *Pipeline) verifyOne(ctx context.Context, c *component.Component) error {
	if c.Current() == sm.ERROR {
		return lastErrorOr(c, errors.New("in ERROR"))
	}
	report := p.prober.Probe(ctx, c.Spec, health.PolicyFor(c.Spec.HealthCheck, p.opts.HealthMultiplier))
	if report.Healthy {
		if c.Current() != sm.HEALTHY {
			return c.Fail(sm.HEALTHY, "verified healthy", nil)
		}
		return nil
	}
	if c.Can(sm.UNHEALTHY) {
		if err := c.Fail(sm.UNHEALTHY, "verification failed", report.Err); err != nil {
			return err
		}
	} else {
		c.SetLastError(report.Err)
	}
	return report.Err
}

// resetUnhealthy stops every component that is not healthy so the next
// round starts it afresh.
func (p *Pipeline) resetUnhealthy(ctx context.Context) {
	for _, c := range p.fleet.All() {
		switch c.Current() {
		case sm.HEALTHY, sm.PENDING, sm.STOPPED:
			continue
		}
		if err := c.Stop(ctx, p.tr, p.opts.CommandTimeout); err != nil {
			log.ForService(c.Spec.ID).WithError(err).Warn("could not reset service before retry")
		}
	}
}

func (p *Pipeline) abort(phase sm.State, cause error, canceled bool) error {
	report := &DeploymentAborted{
		Phase:           phase,
		Attempts:        p.Attempts(),
		ComponentErrors: make(map[string]string),
		Cause:           cause,
		Canceled:        canceled,
	}
	for _, c := range p.fleet.All() {
		if c.Current() == sm.HEALTHY {
			continue
		}
		if err := c.LastError(); err != nil {
			report.ComponentErrors[c.Spec.ID] = err.Error()
		}
	}
	if err := p.Fail(sm.ABORTED, report.Error(), report); err != nil {
		return err
	}
	log.WithField("phase", phase.String()).
		WithField("attempts", report.Attempts).
		Error(report.Error())
	return report
}

func lastErrorOr(c *component.Component, fallback error) error {
	if err := c.LastError(); err != nil {
		return err
	}
	return fallback
}
