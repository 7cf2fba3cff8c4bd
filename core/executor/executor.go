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

// Package executor runs shell commands on the target host and moves files
// onto it. Every implementation reports a non-zero exit status and a
// timeout the same way, as a RemoteExecutionError.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/common/utils"
	"github.com/sensornode/orchestra/core/metrics"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "executor")

const (
	KIND_START  = "start"
	KIND_STOP   = "stop"
	KIND_HEALTH = "health"
	KIND_PHASE  = "phase"
)

// Command is one shell line to run on the target.
type Command struct {
	Line     string
	Elevated bool
	Timeout  time.Duration

	// Service and Kind only label logs and metrics.
	Service string
	Kind    string
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	// Simulated marks results of commands that were only recorded.
	Simulated bool
}

type Executor interface {
	// Execute runs cmd and always returns whatever output was captured.
	// err is a RemoteExecutionError when the command could not run, exited
	// non-zero, or outlived its timeout.
	Execute(ctx context.Context, cmd Command) (Result, error)
}

type FileTransfer interface {
	Put(ctx context.Context, localPath, remotePath string) error
	PutDir(ctx context.Context, localDir, remoteDir string) error
}

// Transport is a connected target host.
type Transport interface {
	Executor
	FileTransfer
	Target() string
	Close() error
}

type RemoteExecutionError struct {
	Target   string
	Command  string
	ExitCode int
	Stderr   string
	TimedOut bool
	Timeout  time.Duration
	Err      error
}

func (e *RemoteExecutionError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("command %q on %s timed out after %s", e.Command, e.Target, e.Timeout)
	case e.Err != nil:
		return fmt.Sprintf("command %q on %s failed: %s", e.Command, e.Target, e.Err)
	default:
		msg := fmt.Sprintf("command %q on %s exited with status %d", e.Command, e.Target, e.ExitCode)
		if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
			msg += ": " + utils.TruncateString(stderr, 200)
		}
		return msg
	}
}

func (e *RemoteExecutionError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a RemoteExecutionError caused by a timeout.
func IsTimeout(err error) bool {
	var rErr *RemoteExecutionError
	return errors.As(err, &rErr) && rErr.TimedOut
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// finish turns a raw run outcome into the uniform result/error pair and
// records logs and metrics. runErr is a transport failure; a non-zero
// res.ExitCode with nil runErr is a command failure.
func finish(ctx context.Context, target string, cmd Command, res Result, runErr error, start time.Time) (Result, error) {
	res.Duration = time.Since(start)

	var err error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		err = &RemoteExecutionError{
			Target:   target,
			Command:  cmd.Line,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			TimedOut: true,
			Timeout:  cmd.Timeout,
			Err:      ctx.Err(),
		}
	case runErr != nil:
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
		err = &RemoteExecutionError{
			Target:   target,
			Command:  cmd.Line,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Err:      runErr,
		}
	case res.ExitCode != 0:
		err = &RemoteExecutionError{
			Target:   target,
			Command:  cmd.Line,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}

	kind := cmd.Kind
	if kind == "" {
		kind = KIND_PHASE
	}
	metrics.ObserveCommand(kind, start, err != nil)

	entry := log.WithFields(logrus.Fields{
		"target":   target,
		"command":  cmd.Line,
		"exitCode": res.ExitCode,
		"duration": res.Duration,
	})
	if cmd.Service != "" {
		entry = entry.WithField("service", cmd.Service)
	}
	if entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		entry.WithField("stdout", utils.TruncateString(res.Stdout, 2048)).
			WithField("stderr", utils.TruncateString(res.Stderr, 2048)).
			Debug("command finished")
	}
	return res, err
}
