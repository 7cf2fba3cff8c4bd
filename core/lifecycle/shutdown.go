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
	"errors"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/sensornode/orchestra/core/component"
	"github.com/sensornode/orchestra/core/sm"
	"golang.org/x/sync/errgroup"
)

// ErrNotPrepared is returned by operations that need a loaded deployment.
var ErrNotPrepared = errors.New("deployment not loaded")

// RequestStop cancels a running Run; Run then shuts the components down.
// It is safe to call from signal handlers and HTTP handlers.
func (c *Controller) RequestStop() {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.cancel != nil {
		log.Info("stop requested")
		c.cancel()
	}
}

// Stop brings the system to STOPPED. While Run is active it cancels it and
// waits for the shutdown to finish. Calling Stop on a STOPPED system is a
// no-op.
func (c *Controller) Stop(ctx context.Context) error {
	if c.Current() == sm.STOPPED {
		return nil
	}
	if c.running.Load() {
		c.RequestStop()
		select {
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.shutdown(ctx, "stop requested")
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// shutdown takes the STOPPING path when the current state allows it and
// escapes straight to STOPPED otherwise.
func (c *Controller) shutdown(ctx context.Context, reason string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	switch {
	case c.Current() == sm.STOPPED:
		return nil
	case c.Can(sm.STOPPING):
		if err := c.Apply(sm.STOPPING, reason); err != nil {
			return err
		}
		if c.prepared.Load() {
			c.stopComponents(ctx)
		}
	}
	return c.Apply(sm.STOPPED, reason)
}

// stopComponents stops every component, one batch at a time in reverse
// dependency order. Components within a batch stop concurrently.
func (c *Controller) stopComponents(ctx context.Context) {
	c.stopBatches(ctx, func(ctx context.Context, comp *component.Component) error {
		return comp.Stop(ctx, c.transport, c.deployment.CommandTimeout())
	})
}

func (c *Controller) stopBatches(ctx context.Context, stop func(context.Context, *component.Component) error) {
	for _, batch := range c.plan.ShutdownOrder() {
		g := new(errgroup.Group)
		g.SetLimit(c.workers())
		for _, comp := range c.fleet.Select(batch) {
			comp := comp
			g.Go(func() error {
				if err := stop(ctx, comp); err != nil {
					log.ForService(comp.ID()).WithError(err).Warn("stop failed")
				}
				return nil
			})
		}
		_ = g.Wait()
	}
}

// Teardown stops a deployment this process did not start. Every service
// gets its stop command, in reverse dependency order, via the
// WAIT_USER -> STOPPING path.
func (c *Controller) Teardown(ctx context.Context) error {
	if err := c.prepare(ctx); err != nil {
		if tErr := c.Fail(sm.STOPPED, "teardown failed", err); tErr != nil {
			return errors.Join(err, tErr)
		}
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.Apply(sm.STOPPING, "teardown requested"); err != nil {
		return err
	}
	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	c.stopBatches(ctx, func(ctx context.Context, comp *component.Component) error {
		err := comp.StopCommand(ctx, c.transport, c.deployment.CommandTimeout())
		if err != nil {
			mu.Lock()
			merr = multierror.Append(merr, err)
			mu.Unlock()
			comp.SetLastError(err)
		}
		if tErr := comp.Apply(sm.STOPPED, "teardown"); tErr != nil {
			return tErr
		}
		return err
	})
	if err := c.Apply(sm.STOPPED, "teardown complete"); err != nil {
		return err
	}
	return merr.ErrorOrNil()
}
