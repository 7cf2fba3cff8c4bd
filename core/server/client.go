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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sensornode/orchestra/core/lifecycle"
	"github.com/sensornode/orchestra/core/sm"
)

// ErrUnreachable means no supervisor answered at the endpoint.
var ErrUnreachable = errors.New("no supervisor reachable")

// Client talks to the status endpoint of a supervising orchestrator.
type Client struct {
	base string
	http *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	return &Client{
		base: strings.TrimSuffix(endpoint, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w at %s: %s", ErrUnreachable, c.base, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil {
		if err = json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("unexpected response from %s: %w", c.base, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) Status(ctx context.Context) (report lifecycle.Report, err error) {
	var code int
	code, err = c.do(ctx, http.MethodGet, PATH_STATUS, &report)
	if err == nil && code != http.StatusOK {
		err = fmt.Errorf("status request failed: %s", http.StatusText(code))
	}
	return
}

func (c *Client) Stop(ctx context.Context) (report lifecycle.Report, err error) {
	var code int
	code, err = c.do(ctx, http.MethodPost, PATH_STOP, &report)
	if err == nil && code != http.StatusAccepted {
		err = fmt.Errorf("stop request failed: %s", http.StatusText(code))
	}
	return
}

func (c *Client) Restart(ctx context.Context, pattern string) (map[string]sm.State, error) {
	var resp RestartResponse
	path := strings.Replace(PATH_RESTART, "{id}", url.PathEscape(pattern), 1)
	code, err := c.do(ctx, http.MethodPost, path, &resp)
	if err != nil {
		return nil, err
	}
	switch {
	case code == http.StatusNotFound:
		return nil, lifecycle.NoMatchError{Pattern: pattern}
	case code == http.StatusConflict:
		return nil, lifecycle.NotSupervisingError{State: resp.System}
	case resp.Error != "":
		return resp.States, errors.New(resp.Error)
	case code != http.StatusOK:
		return resp.States, fmt.Errorf("restart request failed: %s", http.StatusText(code))
	}
	return resp.States, nil
}

func (c *Client) Component(ctx context.Context, id string) (cs lifecycle.ComponentStatus, err error) {
	var code int
	path := strings.Replace(PATH_COMPONENT, "{id}", url.PathEscape(id), 1)
	code, err = c.do(ctx, http.MethodGet, path, &cs)
	if err == nil && code != http.StatusOK {
		err = fmt.Errorf("unknown component %s", id)
	}
	return
}
