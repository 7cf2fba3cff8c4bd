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

package executor

import (
	"context"
	"sync"
	"time"
)

// DryRunExecutor logs what would be executed and reports success.
type DryRunExecutor struct {
	target string

	mu       sync.Mutex
	commands []Command
}

func NewDryRunExecutor(target string) *DryRunExecutor {
	if target == "" {
		target = "dry-run"
	}
	return &DryRunExecutor{target: target}
}

func (d *DryRunExecutor) Target() string {
	return d.target
}

func (d *DryRunExecutor) Execute(ctx context.Context, cmd Command) (Result, error) {
	start := time.Now()
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.mu.Unlock()

	log.WithField("service", cmd.Service).
		WithField("elevated", cmd.Elevated).
		Infof("[dry-run] %s", cmd.Line)
	return finish(ctx, d.target, cmd, Result{Simulated: true}, nil, start)
}

func (d *DryRunExecutor) Put(_ context.Context, localPath, remotePath string) error {
	log.Infof("[dry-run] upload %s -> %s:%s", localPath, d.target, remotePath)
	return nil
}

func (d *DryRunExecutor) PutDir(_ context.Context, localDir, remoteDir string) error {
	log.Infof("[dry-run] upload directory %s -> %s:%s", localDir, d.target, remoteDir)
	return nil
}

// Commands returns everything Execute was asked to run, in order.
func (d *DryRunExecutor) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.commands...)
}

func (d *DryRunExecutor) Close() error {
	return nil
}
