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

// Package status reduces many component states into one pipeline health
// verdict.
package status

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "status")

type PipelineStatus uint8

const (
	UNKNOWN PipelineStatus = iota
	OK
	DEGRADED
	KO
	RECOVERING
)

var _names = []string{
	"UNKNOWN",
	"OK",
	"DEGRADED",
	"KO",
	"RECOVERING",
}

func (s PipelineStatus) String() string {
	if s > RECOVERING {
		return "UNKNOWN"
	}
	return _names[s]
}

func FromString(s string) (PipelineStatus, error) {
	for i, v := range _names {
		if strings.EqualFold(s, v) {
			return PipelineStatus(i), nil
		}
	}
	return UNKNOWN, fmt.Errorf("unknown pipeline status %q", s)
}

func (s PipelineStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PipelineStatus) UnmarshalText(b []byte) (err error) {
	*s, err = FromString(string(b))
	return
}

// Names lists every status, in declaration order.
func Names() []string {
	return append([]string(nil), _names...)
}

// STATUS_PRODUCT folds two partial verdicts. Each operand is the verdict for
// a subset of components; the result is the verdict for their union.
// RECOVERING absorbs everything, a failing subset next to a non-failing
// one is DEGRADED, and UNKNOWN only survives next to OK or itself.
var STATUS_PRODUCT = map[PipelineStatus]map[PipelineStatus]PipelineStatus{
	UNKNOWN: {
		UNKNOWN:    UNKNOWN,
		OK:         UNKNOWN,
		DEGRADED:   DEGRADED,
		KO:         DEGRADED,
		RECOVERING: RECOVERING,
	},
	OK: {
		UNKNOWN:    UNKNOWN,
		OK:         OK,
		DEGRADED:   DEGRADED,
		KO:         DEGRADED,
		RECOVERING: RECOVERING,
	},
	DEGRADED: {
		UNKNOWN:    DEGRADED,
		OK:         DEGRADED,
		DEGRADED:   DEGRADED,
		KO:         DEGRADED,
		RECOVERING: RECOVERING,
	},
	KO: {
		UNKNOWN:    DEGRADED,
		OK:         DEGRADED,
		DEGRADED:   DEGRADED,
		KO:         KO,
		RECOVERING: RECOVERING,
	},
	RECOVERING: {
		UNKNOWN:    RECOVERING,
		OK:         RECOVERING,
		DEGRADED:   RECOVERING,
		KO:         RECOVERING,
		RECOVERING: RECOVERING,
	},
}

func (s PipelineStatus) X(other PipelineStatus) PipelineStatus {
	return STATUS_PRODUCT[s][other]
}

// IsFailing reports whether a component in state s counts against the
// pipeline.
func IsFailing(s sm.State) bool {
	return s == sm.ERROR || s == sm.UNHEALTHY || s == sm.DEGRADED
}

// Classify gives the verdict for a single component.
func Classify(s sm.State) PipelineStatus {
	switch {
	case s == sm.RESTARTING:
		return RECOVERING
	case IsFailing(s):
		return KO
	case s == sm.HEALTHY:
		return OK
	default:
		return UNKNOWN
	}
}

// Reduce computes the pipeline status for a set of component states.
//  1. any RESTARTING                 -> RECOVERING
//  2. all ERROR/UNHEALTHY/DEGRADED   -> KO
//  3. some ERROR/UNHEALTHY/DEGRADED  -> DEGRADED
//  4. all HEALTHY                    -> OK
//
// Transitional states without failing peers, and the empty set, give UNKNOWN.
func Reduce(states []sm.State) (status PipelineStatus) {
	if len(states) == 0 {
		return UNKNOWN
	}
	status = Classify(states[0])
	for _, s := range states[1:] {
		if status == RECOVERING {
			break
		}
		status = status.X(Classify(s))
	}

	if log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		names := make([]string, len(states))
		for i, s := range states {
			names[i] = s.String()
		}
		log.WithFields(logrus.Fields{
			"states":     strings.Join(names, ", "),
			"aggregated": status.String(),
		}).
			Trace("aggregating component states")
	}
	return
}

// ReduceSnapshots is Reduce over published entity snapshots.
func ReduceSnapshots(snaps []*sm.Snapshot) PipelineStatus {
	states := make([]sm.State, 0, len(snaps))
	for _, s := range snaps {
		if s != nil {
			states = append(states, s.State)
		}
	}
	return Reduce(states)
}

// SafeStatus holds the latest aggregate for concurrent readers.
type SafeStatus struct {
	mu     sync.RWMutex
	status PipelineStatus
}

// Set stores s and reports whether it differs from the previous value.
func (t *SafeStatus) Set(s PipelineStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := t.status != s
	t.status = s
	return changed
}

func (t *SafeStatus) Get() PipelineStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}
