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
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kballard/go-shellquote"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHConfig struct {
	Host           string
	Port           int
	User           string
	KeyFile        string
	Password       string
	KnownHostsFile string
	DialTimeout    time.Duration
	DialRetries    uint
}

func (c SSHConfig) address() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SSHExecutor keeps one SSH connection to the target and opens a session
// per command.
type SSHExecutor struct {
	cfg SSHConfig

	mu     sync.Mutex
	client *ssh.Client
}

func (c SSHConfig) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.KeyFile != "" {
		keyPath, err := homedir.Expand(c.KeyFile)
		if err != nil {
			return nil, err
		}
		pem, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read SSH key: %w", err)
		}
		var signer ssh.Signer
		if c.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("cannot parse SSH key %s: %w", keyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no SSH authentication method configured (keyFile or password)")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.KnownHostsFile != "" {
		khPath, err := homedir.Expand(c.KnownHostsFile)
		if err != nil {
			return nil, err
		}
		hostKeyCallback, err = knownhosts.New(khPath)
		if err != nil {
			return nil, fmt.Errorf("cannot load known hosts: %w", err)
		}
	} else {
		log.WithField("target", c.address()).
			Warn("no known_hosts file configured, host key will not be verified")
	}

	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// DialSSH connects to the target, retrying with exponential backoff.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSHExecutor, error) {
	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}
	tries := cfg.DialRetries
	if tries == 0 {
		tries = 3
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2

	client, err := backoff.Retry(ctx, func() (*ssh.Client, error) {
		return ssh.Dial("tcp", cfg.address(), clientCfg)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithMaxElapsedTime(time.Duration(tries)*(clientCfg.Timeout+b.MaxInterval)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithError(err).
				WithField("target", cfg.address()).
				WithField("next", next).
				Warn("SSH connection failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s: %w", cfg.address(), err)
	}
	log.WithField("target", cfg.address()).Info("connected")
	return &SSHExecutor{cfg: cfg, client: client}, nil
}

func (s *SSHExecutor) Target() string {
	return s.cfg.User + "@" + s.cfg.address()
}

func (s *SSHExecutor) session() (*ssh.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, errors.New("SSH connection closed")
	}
	return s.client.NewSession()
}

// elevate wraps line for sudo. With a password, sudo reads it from stdin.
func (s *SSHExecutor) elevate(line string) (string, io.Reader) {
	inner := shellquote.Join("bash", "-c", line)
	if s.cfg.Password != "" {
		return "sudo -S -p '' " + inner, bytes.NewBufferString(s.cfg.Password + "\n")
	}
	return "sudo -n " + inner, nil
}

// run starts line in a new session and waits for it or for ctx.
func (s *SSHExecutor) run(ctx context.Context, line string, stdin io.Reader) (Result, error) {
	sess, err := s.session()
	if err != nil {
		return Result{}, err
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = stdin
	}

	if err = sess.Start(line); err != nil {
		return Result{}, err
	}
	done := make(chan error, 1)
	go func() {
		done <- sess.Wait()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		<-done
		return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		err = nil
	}
	return res, err
}

func (s *SSHExecutor) Execute(ctx context.Context, cmd Command) (Result, error) {
	start := time.Now()
	runCtx, cancel := withTimeout(ctx, cmd.Timeout)
	defer cancel()

	line := cmd.Line
	var stdin io.Reader
	if cmd.Elevated {
		line, stdin = s.elevate(line)
	}
	res, err := s.run(runCtx, line, stdin)
	return finish(runCtx, s.Target(), cmd, res, err, start)
}

// Put streams a local file into `cat` on the target.
func (s *SSHExecutor) Put(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	line := fmt.Sprintf("mkdir -p %s && cat > %s",
		shellquote.Join(path.Dir(remotePath)), shellquote.Join(remotePath))
	res, err := s.run(ctx, line, f)
	return s.transferError(line, res, err)
}

// PutDir streams localDir as a tar archive into `tar -x` on the target.
func (s *SSHExecutor) PutDir(ctx context.Context, localDir, remoteDir string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTar(pw, localDir))
	}()

	line := fmt.Sprintf("mkdir -p %[1]s && tar -x -C %[1]s", shellquote.Join(remoteDir))
	res, err := s.run(ctx, line, pr)
	_ = pr.Close()
	return s.transferError(line, res, err)
}

func (s *SSHExecutor) transferError(line string, res Result, err error) error {
	if err == nil && res.ExitCode == 0 {
		return nil
	}
	return &RemoteExecutionError{
		Target:   s.Target(),
		Command:  line,
		ExitCode: res.ExitCode,
		Stderr:   res.Stderr,
		Err:      err,
	}
}

func (s *SSHExecutor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func writeTar(w io.Writer, root string) error {
	tw := tar.NewWriter(w)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err = tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}
