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

package sm

import (
	"sort"
)

// TransitionTable maps (kind, from) to the set of states that may follow.
// Anything absent from it is rejected.
type TransitionTable map[Kind]map[State][]State

var table = TransitionTable{
	KIND_SYSTEM: {
		WAIT_USER:             {START_COMMAND, STOPPING, STOPPED},
		START_COMMAND:         {INITIALIZING, STOPPED},
		INITIALIZING:          {COMPONENTS_STARTING, STOPPED},
		COMPONENTS_STARTING:   {SUPERVISOR_RUNNING, STOPPING, STOPPED},
		SUPERVISOR_RUNNING:    {SUPERVISOR_MONITORING, STOPPING, STOPPED},
		SUPERVISOR_MONITORING: {SUPERVISOR_DEGRADED, SUPERVISOR_RECOVERING, STOPPING, STOPPED},
		SUPERVISOR_DEGRADED:   {SUPERVISOR_MONITORING, SUPERVISOR_RECOVERING, STOPPING, STOPPED},
		SUPERVISOR_RECOVERING: {SUPERVISOR_MONITORING, SUPERVISOR_DEGRADED, STOPPING, STOPPED},
		STOPPING:              {STOPPED},
		STOPPED:               {},
	},
	KIND_PIPELINE: {
		NOT_STARTED:       {CHECKING_PREREQ, ABORTED},
		CHECKING_PREREQ:   {PREREQ_OK, PREREQ_FAILED, ABORTED},
		PREREQ_OK:         {INSTALLING_DEPS, ABORTED},
		PREREQ_FAILED:     {ABORTED},
		INSTALLING_DEPS:   {DEPS_INSTALLED, DEPS_FAILED, ABORTED},
		DEPS_INSTALLED:    {BUILDING_IMAGES, ABORTED},
		DEPS_FAILED:       {ABORTED},
		BUILDING_IMAGES:   {IMAGES_BUILT, BUILD_FAILED, ABORTED},
		IMAGES_BUILT:      {STARTING_SERVICES, ABORTED},
		BUILD_FAILED:      {ABORTED},
		STARTING_SERVICES: {SERVICES_STARTED, SERVICES_FAILED, ABORTED},
		SERVICES_STARTED:  {VERIFYING_HEALTH, ABORTED},
		SERVICES_FAILED:   {RETRYING, ABORTED},
		VERIFYING_HEALTH:  {HEALTH_OK, HEALTH_FAILED, ABORTED},
		HEALTH_OK:         {DEPLOYED},
		HEALTH_FAILED:     {RETRYING, ABORTED},
		RETRYING:          {STARTING_SERVICES, ABORTED},
		DEPLOYED:          {},
		ABORTED:           {},
	},
	KIND_COMPONENT: {
		PENDING:    {STARTING, STOPPED},
		STARTING:   {RUNNING, UNHEALTHY, STOPPING},
		RUNNING:    {HEALTHY, UNHEALTHY, STOPPING},
		HEALTHY:    {UNHEALTHY, RESTARTING, STOPPING},
		UNHEALTHY:  {HEALTHY, RESTARTING, ERROR, STOPPING},
		RESTARTING: {HEALTHY, DEGRADED, ERROR, STOPPING},
		DEGRADED:   {HEALTHY, RESTARTING, ERROR, STOPPING},
		ERROR:      {STOPPING},
		STOPPING:   {STOPPED},
		STOPPED:    {STARTING},
	},
}

// Table returns a copy of the built-in transition table.
func Table() TransitionTable {
	out := make(TransitionTable, len(table))
	for kind, rows := range table {
		out[kind] = make(map[State][]State, len(rows))
		for from, tos := range rows {
			out[kind][from] = append([]State(nil), tos...)
		}
	}
	return out
}

// Permits reports whether the table allows from -> to for kind.
func (t TransitionTable) Permits(kind Kind, from, to State) bool {
	for _, s := range t[kind][from] {
		if s == to {
			return true
		}
	}
	return false
}

// States lists every state known for kind, sorted.
func (t TransitionTable) States(kind Kind) []State {
	out := make([]State, 0, len(t[kind]))
	for s := range t[kind] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Permits checks the built-in table.
func Permits(kind Kind, from, to State) bool {
	return table.Permits(kind, from, to)
}
