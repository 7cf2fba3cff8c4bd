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

// Package graph computes dependency ordered startup and shutdown batches
// over a declared service set.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/core/service"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "graph")

// DeploymentPlan is an ordered list of batches. Every service sits in a
// batch strictly after the batches of all its dependencies. Ids inside a
// batch are sorted.
type DeploymentPlan struct {
	Batches [][]string `json:"batches"`

	index map[string]int
}

// Plan layers services with Kahn's algorithm: batch 0 holds services
// without dependencies, batch n those whose dependencies all resolved in
// earlier batches.
func Plan(services []service.ServiceSpec) (*DeploymentPlan, error) {
	known := make(map[string]struct{}, len(services))
	for _, s := range services {
		if _, dup := known[s.ID]; dup {
			return nil, DuplicateServiceError{ID: s.ID}
		}
		known[s.ID] = struct{}{}
	}

	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string, len(services))
	for _, s := range services {
		seen := make(map[string]struct{}, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if _, ok := known[dep]; !ok {
				return nil, UnknownDependencyError{Service: s.ID, Dependency: dep}
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var layer []string
	for _, s := range services {
		if inDegree[s.ID] == 0 {
			layer = append(layer, s.ID)
		}
	}

	plan := &DeploymentPlan{index: make(map[string]int, len(services))}
	resolved := 0
	for len(layer) > 0 {
		sort.Strings(layer)
		batch := len(plan.Batches)
		plan.Batches = append(plan.Batches, layer)

		var next []string
		for _, id := range layer {
			plan.index[id] = batch
			resolved++
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		layer = next
	}

	if resolved < len(services) {
		var remaining []string
		for _, s := range services {
			if _, ok := plan.index[s.ID]; !ok {
				remaining = append(remaining, s.ID)
			}
		}
		sort.Strings(remaining)
		return nil, CyclicDependencyError{IDs: remaining}
	}

	log.WithField("batches", len(plan.Batches)).
		WithField("services", resolved).
		Debug("deployment plan computed")
	return plan, nil
}

// BatchOf returns the batch index of id, or -1 when id is not planned.
func (p *DeploymentPlan) BatchOf(id string) int {
	if b, ok := p.index[id]; ok {
		return b
	}
	return -1
}

// ShutdownOrder returns the batches in reverse, last started stopped first.
func (p *DeploymentPlan) ShutdownOrder() [][]string {
	out := make([][]string, 0, len(p.Batches))
	for i := len(p.Batches) - 1; i >= 0; i-- {
		out = append(out, append([]string(nil), p.Batches[i]...))
	}
	return out
}

// IDs lists every planned service in startup order.
func (p *DeploymentPlan) IDs() []string {
	var out []string
	for _, b := range p.Batches {
		out = append(out, b...)
	}
	return out
}

func (p *DeploymentPlan) Len() int {
	return len(p.index)
}

func (p *DeploymentPlan) String() string {
	parts := make([]string, len(p.Batches))
	for i, b := range p.Batches {
		parts[i] = fmt.Sprintf("[%s]", strings.Join(b, " "))
	}
	return strings.Join(parts, " -> ")
}

// Dependents returns every service that transitively depends on id, in
// startup order.
func Dependents(services []service.ServiceSpec, id string) []string {
	reverse := make(map[string][]string)
	for _, s := range services {
		for _, dep := range s.DependsOn {
			reverse[dep] = append(reverse[dep], s.ID)
		}
	}
	found := make(map[string]struct{})
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range reverse[cur] {
			if _, ok := found[d]; ok {
				continue
			}
			found[d] = struct{}{}
			queue = append(queue, d)
		}
	}
	var out []string
	for _, s := range services {
		if _, ok := found[s.ID]; ok {
			out = append(out, s.ID)
		}
	}
	return out
}
