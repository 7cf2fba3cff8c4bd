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

// Package sm holds the transition table shared by every state machine in
// the orchestrator, and the Entity type through which all state changes
// are validated and recorded.
package sm

// Kind identifies which family of state machine an entity belongs to.
type Kind int

const (
	KIND_SYSTEM Kind = iota
	KIND_PIPELINE
	KIND_COMPONENT
)

var _kindNames = []string{
	"system",
	"pipeline",
	"component",
}

func (k Kind) String() string {
	if k < KIND_SYSTEM || k > KIND_COMPONENT {
		return "unknown"
	}
	return _kindNames[k]
}

func KindFromString(s string) (Kind, bool) {
	for i, v := range _kindNames {
		if s == v {
			return Kind(i), true
		}
	}
	return KIND_SYSTEM, false
}

type State string

func (s State) String() string {
	return string(s)
}

// System (lifecycle controller) states.
const (
	WAIT_USER             State = "WAIT_USER"
	START_COMMAND         State = "START_COMMAND"
	INITIALIZING          State = "INITIALIZING"
	COMPONENTS_STARTING   State = "COMPONENTS_STARTING"
	SUPERVISOR_RUNNING    State = "SUPERVISOR_RUNNING"
	SUPERVISOR_MONITORING State = "SUPERVISOR_MONITORING"
	SUPERVISOR_DEGRADED   State = "SUPERVISOR_DEGRADED"
	SUPERVISOR_RECOVERING State = "SUPERVISOR_RECOVERING"
)

// Deployment pipeline states.
const (
	NOT_STARTED       State = "NOT_STARTED"
	CHECKING_PREREQ   State = "CHECKING_PREREQ"
	PREREQ_OK         State = "PREREQ_OK"
	PREREQ_FAILED     State = "PREREQ_FAILED"
	INSTALLING_DEPS   State = "INSTALLING_DEPS"
	DEPS_INSTALLED    State = "DEPS_INSTALLED"
	DEPS_FAILED       State = "DEPS_FAILED"
	BUILDING_IMAGES   State = "BUILDING_IMAGES"
	IMAGES_BUILT      State = "IMAGES_BUILT"
	BUILD_FAILED      State = "BUILD_FAILED"
	STARTING_SERVICES State = "STARTING_SERVICES"
	SERVICES_STARTED  State = "SERVICES_STARTED"
	SERVICES_FAILED   State = "SERVICES_FAILED"
	VERIFYING_HEALTH  State = "VERIFYING_HEALTH"
	HEALTH_OK         State = "HEALTH_OK"
	HEALTH_FAILED     State = "HEALTH_FAILED"
	RETRYING          State = "RETRYING"
	DEPLOYED          State = "DEPLOYED"
	ABORTED           State = "ABORTED"
)

// Component states.
const (
	PENDING    State = "PENDING"
	STARTING   State = "STARTING"
	RUNNING    State = "RUNNING"
	HEALTHY    State = "HEALTHY"
	UNHEALTHY  State = "UNHEALTHY"
	RESTARTING State = "RESTARTING"
	DEGRADED   State = "DEGRADED"
	ERROR      State = "ERROR"
)

// Shared by system, pipeline-independent teardown and components.
const (
	STOPPING State = "STOPPING"
	STOPPED  State = "STOPPED"
)

// InitialState returns the state every new entity of kind k starts in.
func InitialState(k Kind) State {
	switch k {
	case KIND_PIPELINE:
		return NOT_STARTED
	case KIND_COMPONENT:
		return PENDING
	default:
		return WAIT_USER
	}
}

// IsTerminal reports whether no transition leaves s for an entity of kind k.
func IsTerminal(k Kind, s State) bool {
	return len(table[k][s]) == 0
}
