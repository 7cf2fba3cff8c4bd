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

// Package control implements the orchestra subcommands on top of the
// lifecycle controller and the status endpoint client.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/common/utils"
	"github.com/sensornode/orchestra/configuration"
	"github.com/sensornode/orchestra/core/graph"
	"github.com/sensornode/orchestra/core/pipeline"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	CALL_TIMEOUT = 55 * time.Second
	SPINNER_TICK = 100 * time.Millisecond
)

const (
	EXIT_OK      = 0
	EXIT_FAILURE = 1
	EXIT_CONFIG  = 2
	EXIT_ABORTED = 3
)

var log = logger.New(logrus.StandardLogger(), "orchestra")

// exit is swapped in tests.
var exit = os.Exit

type RunFunc func(*cobra.Command, []string)

type ControlCall func(context.Context, *cobra.Command, []string, io.Writer) error

// ExitCode maps an error returned by a control call to the process exit
// status.
func ExitCode(err error) int {
	if err == nil {
		return EXIT_OK
	}
	var (
		aborted *pipeline.DeploymentAborted
		cfgErr  *configuration.ConfigError
		cycErr  graph.CyclicDependencyError
	)
	switch {
	case errors.As(err, &aborted):
		return EXIT_ABORTED
	case errors.As(err, &cfgErr), errors.As(err, &cycErr):
		return EXIT_CONFIG
	}
	return EXIT_FAILURE
}

func fail(cmd *cobra.Command, err error) {
	code := ExitCode(err)
	entry := log.WithPrefix(cmd.Use).WithField("exit", code)

	var aborted *pipeline.DeploymentAborted
	if errors.As(err, &aborted) {
		_, _ = fmt.Fprintln(os.Stderr, aborted.Report())
	}
	entry.WithError(err).Error("command finished with error")
	exit(code)
}

// WrapCall runs a long-lived call that streams its own output, such as
// deploy.
func WrapCall(call ControlCall) RunFunc {
	return func(cmd *cobra.Command, args []string) {
		err := call(context.Background(), cmd, args, os.Stdout)
		if err != nil {
			fail(cmd, err)
		}
	}
}

// WrapQuery runs a short call behind a spinner and prints its buffered
// output once it returns.
func WrapQuery(call ControlCall) RunFunc {
	return func(cmd *cobra.Command, args []string) {
		log.WithPrefix(cmd.Use).
			WithField("endpoint", viper.GetString("endpoint")).
			Debug("querying supervisor")

		var s *spinner.Spinner
		if isTerminal(os.Stderr) && !viper.GetBool("verbose") {
			s = spinner.New(spinner.CharSets[11], SPINNER_TICK, spinner.WithWriter(os.Stderr))
			_ = s.Color("yellow")
			s.Suffix = " working..."
			s.Start()
		}

		ctx, cancel := context.WithTimeout(context.Background(), CALL_TIMEOUT)
		defer cancel()

		var out strings.Builder
		err := call(ctx, cmd, args, &out)
		if s != nil {
			s.Stop()
		}
		fmt.Print(out.String())
		if err != nil {
			fail(cmd, err)
		}
	}
}

// overrides collects the flags that take precedence over the descriptor.
func overrides() (ov configuration.Overrides, err error) {
	ov.MaxRetries = viper.GetInt("max-retries")
	ov.DegradedPolicy = viper.GetString("degraded-policy")
	if extra := viper.GetString("extra-vars"); extra != "" {
		if ov.ExtraVars, err = utils.ParseExtraVars(extra); err != nil {
			return ov, &configuration.ConfigError{Source: "--extra-vars", Err: err}
		}
	}
	return ov, nil
}

func descriptor() (string, error) {
	uri := viper.GetString("config")
	if uri == "" {
		return "", &configuration.ConfigError{
			Source: "--config",
			Err:    errors.New("no deployment descriptor given"),
		}
	}
	return uri, nil
}
