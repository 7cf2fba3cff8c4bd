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

package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sensornode/orchestra/core/sm"
)

// DeploymentAborted reports a pipeline that gave up. Phase is the phase
// that failed last; ComponentErrors holds the last error of every
// component that was not healthy at that point.
type DeploymentAborted struct {
	Phase           sm.State
	Attempts        int
	ComponentErrors map[string]string
	Cause           error
	Canceled        bool
}

func (e *DeploymentAborted) Error() string {
	what := "deployment aborted"
	if e.Canceled {
		what = "deployment cancelled"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s in phase %s after %d attempt(s)", what, e.Phase, e.Attempts)
	}
	return fmt.Sprintf("%s in phase %s after %d attempt(s): %s", what, e.Phase, e.Attempts, e.Cause)
}

func (e *DeploymentAborted) Unwrap() error {
	return e.Cause
}

// FailedComponents returns the ids in ComponentErrors, sorted.
func (e *DeploymentAborted) FailedComponents() []string {
	ids := make([]string, 0, len(e.ComponentErrors))
	for id := range e.ComponentErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Report renders the abort as a human readable block.
func (e *DeploymentAborted) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failing phase: %s\n", e.Phase)
	fmt.Fprintf(&b, "attempts:      %d\n", e.Attempts)
	if e.Cause != nil {
		fmt.Fprintf(&b, "cause:         %s\n", e.Cause)
	}
	for _, id := range e.FailedComponents() {
		fmt.Fprintf(&b, "  %s: %s\n", id, e.ComponentErrors[id])
	}
	return b.String()
}
