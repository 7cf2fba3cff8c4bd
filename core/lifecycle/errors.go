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

package lifecycle

import (
	"fmt"
	"strings"

	"github.com/sensornode/orchestra/core/sm"
)

// SupervisionFailed is returned by Supervise when every component failed
// and none has restart budget left.
type SupervisionFailed struct {
	Components map[string]string
}

func (e *SupervisionFailed) Error() string {
	ids := make([]string, 0, len(e.Components))
	for id := range e.Components {
		ids = append(ids, id)
	}
	return fmt.Sprintf("supervision gave up: no restart budget left for [%s]", strings.Join(sortedStrings(ids), ", "))
}

// NoMatchError is returned when a restart pattern selects no service.
type NoMatchError struct {
	Pattern string
}

func (e NoMatchError) Error() string {
	return fmt.Sprintf("no service matches %q", e.Pattern)
}

// NotSupervisingError is returned when an operator restart arrives while
// the deployment pipeline still owns the components.
type NotSupervisingError struct {
	State sm.State
}

func (e NotSupervisingError) Error() string {
	return fmt.Sprintf("cannot restart services while the system is %s", e.State)
}
