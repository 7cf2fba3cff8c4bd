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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"golang.org/x/sys/unix"
)

// LocalExecutor runs commands on this machine through bash. It serves
// deployments where the orchestrator runs on the target itself.
type LocalExecutor struct {
	shell string
}

func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{shell: "/bin/bash"}
}

func (l *LocalExecutor) Target() string {
	return "localhost"
}

func (l *LocalExecutor) Execute(ctx context.Context, cmd Command) (Result, error) {
	start := time.Now()
	runCtx, cancel := withTimeout(ctx, cmd.Timeout)
	defer cancel()

	line := cmd.Line
	if cmd.Elevated && os.Geteuid() != 0 {
		line = "sudo -n " + shellquote.Join(l.shell, "-c", cmd.Line)
	}

	c := exec.CommandContext(runCtx, l.shell, "-c", line)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	// The whole process group goes down with the shell.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return unix.Kill(-c.Process.Pid, unix.SIGKILL)
	}
	c.WaitDelay = 2 * time.Second

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		err = nil
	}
	return finish(runCtx, l.Target(), cmd, res, err, start)
}

func (l *LocalExecutor) Put(_ context.Context, localPath, remotePath string) error {
	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		return err
	}
	return copyFile(localPath, remotePath)
}

func (l *LocalExecutor) PutDir(ctx context.Context, localDir, remoteDir string) error {
	return filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(remoteDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		if !d.Type().IsRegular() {
			log.WithField("path", path).Debug("skipping non-regular file")
			return nil
		}
		return copyFile(path, dst)
	})
}

func (l *LocalExecutor) Close() error {
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
