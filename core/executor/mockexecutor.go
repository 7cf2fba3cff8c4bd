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

	"github.com/gobwas/glob"
)

// MockResponse is one scripted outcome of a mocked command.
type MockResponse struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Delay is waited before answering; a delay longer than the command
	// timeout produces a timeout.
	Delay time.Duration
}

func Succeed() MockResponse {
	return MockResponse{}
}

func FailWith(code int) MockResponse {
	return MockResponse{ExitCode: code, Stderr: "mock failure"}
}

func Hang(d time.Duration) MockResponse {
	return MockResponse{Delay: d}
}

type mockRule struct {
	pattern   glob.Glob
	responses []MockResponse
	next      int
}

// MockExecutor is a scriptable in-memory Transport for tests and demos.
// Rules are matched against the command line in registration order; each
// rule replays its responses in sequence and repeats the last one.
// Unmatched commands succeed.
type MockExecutor struct {
	mu      sync.Mutex
	rules   []*mockRule
	calls   []Command
	uploads map[string]string
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{uploads: make(map[string]string)}
}

// On scripts responses for command lines matching the glob pattern.
func (m *MockExecutor) On(pattern string, responses ...MockResponse) *MockExecutor {
	if len(responses) == 0 {
		responses = []MockResponse{Succeed()}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &mockRule{
		pattern:   glob.MustCompile(pattern),
		responses: responses,
	})
	return m
}

// Reset drops every rule. Recorded calls are kept.
func (m *MockExecutor) Reset() *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = nil
	return m
}

func (m *MockExecutor) Target() string {
	return "mock"
}

func (m *MockExecutor) respond(line string) MockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if !r.pattern.Match(line) {
			continue
		}
		resp := r.responses[r.next]
		if r.next < len(r.responses)-1 {
			r.next++
		}
		return resp
	}
	return Succeed()
}

func (m *MockExecutor) Execute(ctx context.Context, cmd Command) (Result, error) {
	start := time.Now()
	runCtx, cancel := withTimeout(ctx, cmd.Timeout)
	defer cancel()

	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	m.mu.Unlock()

	resp := m.respond(cmd.Line)
	if resp.Delay > 0 {
		t := time.NewTimer(resp.Delay)
		select {
		case <-t.C:
		case <-runCtx.Done():
			t.Stop()
			return finish(runCtx, m.Target(), cmd, Result{}, runCtx.Err(), start)
		}
	}
	res := Result{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}
	return finish(runCtx, m.Target(), cmd, res, nil, start)
}

// Calls returns every executed command in order.
func (m *MockExecutor) Calls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.calls...)
}

// CallLines returns the command lines of every call matching pattern.
func (m *MockExecutor) CallLines(pattern string) []string {
	g := glob.MustCompile(pattern)
	var out []string
	for _, c := range m.Calls() {
		if g.Match(c.Line) {
			out = append(out, c.Line)
		}
	}
	return out
}

func (m *MockExecutor) Put(_ context.Context, localPath, remotePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[remotePath] = localPath
	return nil
}

func (m *MockExecutor) PutDir(_ context.Context, localDir, remoteDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[remoteDir+"/"] = localDir
	return nil
}

// Uploads maps remote destinations to the local sources sent there.
func (m *MockExecutor) Uploads() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.uploads))
	for k, v := range m.uploads {
		out[k] = v
	}
	return out
}

func (m *MockExecutor) Close() error {
	return nil
}
