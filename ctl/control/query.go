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
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/k0kubun/pp"
	"github.com/sensornode/orchestra/configuration"
	"github.com/sensornode/orchestra/core/graph"
	"github.com/sensornode/orchestra/core/lifecycle"
	"github.com/sensornode/orchestra/core/server"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func client() *server.Client {
	return server.NewClient(viper.GetString("endpoint"), CALL_TIMEOUT)
}

// oneShot builds a controller for commands that run without a
// supervisor.
func oneShot() (*lifecycle.Controller, error) {
	uri, err := descriptor()
	if err != nil {
		return nil, err
	}
	ov, err := overrides()
	if err != nil {
		return nil, err
	}
	return lifecycle.New(lifecycle.Options{
		Descriptor: uri,
		Overrides:  ov,
		DryRun:     viper.GetBool("dry-run"),
	}), nil
}

func unreachable(cmd *cobra.Command, err error) bool {
	if !errors.Is(err, server.ErrUnreachable) {
		return false
	}
	log.WithPrefix(cmd.Use).WithError(err).Debug("falling back to a one-shot operation")
	return true
}

// Status prints the supervisor's report, or probes every service once when
// no supervisor answers. It never fails: when no aggregate can be computed
// it prints UNKNOWN with the reason.
func Status(ctx context.Context, cmd *cobra.Command, _ []string, o io.Writer) error {
	report, err := client().Status(ctx)
	if err == nil {
		drawReport(report, o)
		return nil
	}
	if !unreachable(cmd, err) {
		drawUnknown(err, o)
		return nil
	}

	c, err := oneShot()
	if err != nil {
		drawUnknown(err, o)
		return nil
	}
	defer c.Close()
	reports, err := c.Sweep(ctx)
	if err != nil {
		log.WithPrefix(cmd.Use).WithError(err).Debug("probe sweep failed")
		drawUnknown(err, o)
		return nil
	}
	_, _ = fmt.Fprintf(o, "no supervisor at %s, probed %s directly\n",
		viper.GetString("endpoint"), c.Status().Target)
	drawSweep(reports, o)
	return nil
}

func confirm(message string) (bool, error) {
	if viper.GetBool("yes") || !isTerminal(os.Stdin) {
		return true, nil
	}
	ok := false
	err := survey.AskOne(&survey.Confirm{Message: message, Default: false}, &ok)
	return ok, err
}

// Stop asks a running supervisor to stop, or tears the deployment down
// directly when none answers.
func Stop(ctx context.Context, cmd *cobra.Command, _ []string, o io.Writer) error {
	ok, err := confirm("Stop every service of the deployment?")
	if err != nil {
		return err
	}
	if !ok {
		_, _ = fmt.Fprintln(o, "aborted, nothing stopped")
		return nil
	}

	report, err := client().Stop(ctx)
	if err == nil {
		_, _ = fmt.Fprintf(o, "stop requested from supervisor %s (run %s)\n", viper.GetString("endpoint"), report.RunID)
		return nil
	}
	if !unreachable(cmd, err) {
		return err
	}

	c, err := oneShot()
	if err != nil {
		return err
	}
	defer c.Close()
	err = c.Teardown(ctx)
	drawReport(c.Status(), o)
	return err
}

// Restart restarts the services matching a glob pattern.
func Restart(ctx context.Context, cmd *cobra.Command, args []string, o io.Writer) error {
	pattern := args[0]
	states, err := client().Restart(ctx, pattern)
	if err != nil && unreachable(cmd, err) {
		var c *lifecycle.Controller
		if c, err = oneShot(); err != nil {
			return err
		}
		defer c.Close()
		states, err = c.RestartService(ctx, pattern)
	}

	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		_, _ = fmt.Fprintf(o, "%-24s %s\n", id, colorState(states[id]))
	}
	return err
}

// Plan validates the descriptor and prints the start order.
func Plan(ctx context.Context, _ *cobra.Command, _ []string, o io.Writer) error {
	uri, err := descriptor()
	if err != nil {
		return err
	}
	ov, err := overrides()
	if err != nil {
		return err
	}
	d, err := configuration.Load(ctx, uri, ov)
	if err != nil {
		return err
	}
	plan, err := graph.Plan(d.Specs())
	if err != nil {
		return err
	}

	drawPlan(d, plan, o)
	if viper.GetBool("verbose") {
		_, _ = fmt.Fprintln(o, pp.Sprint(d.Specs()))
	}
	shutdown := make([]string, 0, len(plan.Batches))
	for _, batch := range plan.ShutdownOrder() {
		shutdown = append(shutdown, "["+strings.Join(batch, " ")+"]")
	}
	_, _ = fmt.Fprintf(o, "\nstart order:    %s\nshutdown order: %s\n", plan.String(), strings.Join(shutdown, " -> "))
	_, _ = fmt.Fprintf(o, "policy:         %s, max attempts %d, restarts per component %d\n",
		d.Policy().String(), d.Orchestrator.MaxRetries, d.Orchestrator.PerComponentMaxRestarts)
	return nil
}

func stateOrDash(s sm.State) string {
	if s == "" {
		return "-"
	}
	return colorState(s)
}
