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

// Package service holds the resolved, immutable description of a managed
// service as the controllers see it once the deployment descriptor has
// been loaded and validated.
package service

import (
	"fmt"
	"strings"
	"time"
)

// HealthCheck describes how readiness of a service is established.
// Expect is an optional boolean expression evaluated against exitCode,
// stdout and stderr; when empty a zero exit code means healthy.
type HealthCheck struct {
	Command     string        `json:"command" yaml:"command"`
	Expect      string        `json:"expect,omitempty" yaml:"expect,omitempty"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	MaxAttempts int           `json:"maxAttempts" yaml:"maxAttempts"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
}

type ServiceSpec struct {
	ID          string      `json:"id" yaml:"id"`
	DependsOn   []string    `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	StartCmd    string      `json:"startCmd" yaml:"startCmd"`
	StopCmd     string      `json:"stopCmd" yaml:"stopCmd"`
	Elevated    bool        `json:"elevated,omitempty" yaml:"elevated,omitempty"`
	HealthCheck HealthCheck `json:"healthCheck" yaml:"healthCheck"`
}

func (s ServiceSpec) String() string {
	if len(s.DependsOn) == 0 {
		return s.ID
	}
	return fmt.Sprintf("%s (after %s)", s.ID, strings.Join(s.DependsOn, ", "))
}

// Index maps service ids to their specs.
func Index(services []ServiceSpec) map[string]ServiceSpec {
	out := make(map[string]ServiceSpec, len(services))
	for _, s := range services {
		out[s.ID] = s
	}
	return out
}
