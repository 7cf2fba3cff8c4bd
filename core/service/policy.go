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

package service

import (
	"fmt"
	"strings"
)

// DegradedStartPolicy decides whether a batch may start while services of
// the previous batch did not become healthy.
type DegradedStartPolicy int

const (
	// STRICT fails the start phase when a service of a batch is not healthy.
	STRICT DegradedStartPolicy = iota
	// BEST_EFFORT lets the next batch start once every service of the
	// previous batch is at least running, warning about the stragglers.
	BEST_EFFORT
)

func (p DegradedStartPolicy) String() string {
	switch p {
	case BEST_EFFORT:
		return "best-effort"
	default:
		return "strict"
	}
}

func ParsePolicy(s string) (DegradedStartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return STRICT, nil
	case "best-effort", "besteffort", "best_effort":
		return BEST_EFFORT, nil
	}
	return STRICT, fmt.Errorf("invalid degraded start policy %q (expected strict or best-effort)", s)
}

func (p DegradedStartPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *DegradedStartPolicy) UnmarshalText(b []byte) (err error) {
	*p, err = ParsePolicy(string(b))
	return
}
