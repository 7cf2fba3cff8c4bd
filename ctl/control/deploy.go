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

package control

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sensornode/orchestra/configuration"
	"github.com/sensornode/orchestra/core/executor"
	"github.com/sensornode/orchestra/core/lifecycle"
	"github.com/sensornode/orchestra/core/metrics"
	"github.com/sensornode/orchestra/core/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Deploy runs the full lifecycle in the foreground: validation, the
// deployment pipeline, then supervision until a signal or a stop request
// arrives over the status endpoint.
func Deploy(ctx context.Context, cmd *cobra.Command, _ []string, o io.Writer) error {
	uri, err := descriptor()
	if err != nil {
		return err
	}
	ov, err := overrides()
	if err != nil {
		return err
	}
	dryRun := viper.GetBool("dry-run")
	metrics.Register()

	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	var dry *executor.DryRunExecutor
	c := lifecycle.New(lifecycle.Options{
		Descriptor: uri,
		Overrides:  ov,
		DryRun:     dryRun,
		Dial: func(ctx context.Context, d *configuration.Deployment, dryRun bool) (executor.Transport, error) {
			if dryRun {
				dry = executor.NewDryRunExecutor(d.Target.Host)
				return dry, nil
			}
			return lifecycle.DialTarget(ctx, d, false)
		},
		OnReady: func(c *lifecycle.Controller) {
			if dryRun {
				return
			}
			endpoint := c.Deployment().Orchestrator.StatusEndpoint
			if cmd.Flags().Changed("endpoint") || endpoint == "" {
				endpoint = viper.GetString("endpoint")
			}
			if sErr := server.Serve(srvCtx, server.NewHttpServer(endpoint, c)); sErr != nil {
				log.WithPrefix(cmd.Use).WithError(sErr).Warn("status endpoint unavailable")
			}
		},
	})
	defer func() {
		if cErr := c.Close(); cErr != nil {
			log.WithPrefix(cmd.Use).WithError(cErr).Debug("close failed")
		}
	}()

	release := lifecycle.HandleSignals(c)
	defer release()

	log.WithPrefix(cmd.Use).
		WithField("run", c.RunID().String()).
		WithField("descriptor", uri).
		Info("deployment starting")

	err = c.Run(ctx)

	if dry != nil {
		_, _ = fmt.Fprintf(o, "\n%s commands that would run on %s:\n", yellow("dry run:"), dry.Target())
		for _, command := range dry.Commands() {
			prefix := "  "
			if command.Elevated {
				prefix = red("# ")
			}
			_, _ = fmt.Fprintf(o, "%s%-7s %s\n", prefix, command.Kind, strings.TrimSpace(command.Line))
		}
	}
	if c.Fleet() != nil {
		_, _ = fmt.Fprintln(o)
		drawReport(c.Status(), o)
	}
	return err
}
