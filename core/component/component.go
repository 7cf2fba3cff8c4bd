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

// Package component binds a service description to its lifecycle state
// machine and provides the start and stop actions the controllers drive.
package component

import (
	"context"
	"fmt"
	"time"

	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/core/executor"
	"github.com/sensornode/orchestra/core/service"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "component")

type Component struct {
	*sm.Entity
	Spec service.ServiceSpec
}

func New(spec service.ServiceSpec, opts ...sm.Option) *Component {
	return &Component{
		Entity: sm.NewEntity(sm.KIND_COMPONENT, spec.ID, opts...),
		Spec:   spec,
	}
}

func (c *Component) command(line, kind string, timeout time.Duration) executor.Command {
	return executor.Command{
		Line:     line,
		Elevated: c.Spec.Elevated,
		Timeout:  timeout,
		Service:  c.Spec.ID,
		Kind:     kind,
	}
}

// Start issues the start command. On success the component is RUNNING;
// on failure it is UNHEALTHY with the execution error as last error.
func (c *Component) Start(ctx context.Context, ex executor.Executor, timeout time.Duration) error {
	if err := c.Apply(sm.STARTING, "start requested"); err != nil {
		return err
	}
	log.ForService(c.Spec.ID).Info("starting")

	_, err := ex.Execute(ctx, c.command(c.Spec.StartCmd, executor.KIND_START, timeout))
	if err != nil {
		if tErr := c.Fail(sm.UNHEALTHY, "start command failed", err); tErr != nil {
			return tErr
		}
		return err
	}
	return c.Apply(sm.RUNNING, "start command succeeded")
}

// Stop brings the component to STOPPED. A component that was never started
// goes there directly; a stopped one is left alone. A failing stop command
// is recorded and logged but does not keep the component from STOPPED.
func (c *Component) Stop(ctx context.Context, ex executor.Executor, timeout time.Duration) error {
	switch c.Current() {
	case sm.STOPPED:
		return nil
	case sm.PENDING:
		return c.Apply(sm.STOPPED, "never started")
	}

	if err := c.Apply(sm.STOPPING, "stop requested"); err != nil {
		return err
	}
	log.ForService(c.Spec.ID).Info("stopping")

	_, err := ex.Execute(ctx, c.command(c.Spec.StopCmd, executor.KIND_STOP, timeout))
	if err != nil {
		log.ForService(c.Spec.ID).WithError(err).Warn("stop command failed")
		return c.Fail(sm.STOPPED, "stop command failed", err)
	}
	return c.Apply(sm.STOPPED, "stop command succeeded")
}

// StopCommand runs only the stop command, without touching state. Restart
// cycles use it while the component sits in RESTARTING.
func (c *Component) StopCommand(ctx context.Context, ex executor.Executor, timeout time.Duration) error {
	_, err := ex.Execute(ctx, c.command(c.Spec.StopCmd, executor.KIND_STOP, timeout))
	return err
}

// StartCommand runs only the start command, without touching state.
func (c *Component) StartCommand(ctx context.Context, ex executor.Executor, timeout time.Duration) error {
	_, err := ex.Execute(ctx, c.command(c.Spec.StartCmd, executor.KIND_START, timeout))
	return err
}

func (c *Component) String() string {
	return fmt.Sprintf("%s[%s]", c.Spec.ID, c.Current())
}
