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

package component

import (
	"github.com/sensornode/orchestra/core/service"
	"github.com/sensornode/orchestra/core/sm"
)

// Fleet is the set of components of one orchestrator run. Its membership
// is fixed at construction, so lookups need no locking.
type Fleet struct {
	order []string
	byID  map[string]*Component
}

func NewFleet(specs []service.ServiceSpec, opts ...sm.Option) *Fleet {
	f := &Fleet{
		order: make([]string, 0, len(specs)),
		byID:  make(map[string]*Component, len(specs)),
	}
	for _, s := range specs {
		f.order = append(f.order, s.ID)
		f.byID[s.ID] = New(s, opts...)
	}
	return f
}

func (f *Fleet) Get(id string) (*Component, bool) {
	c, ok := f.byID[id]
	return c, ok
}

// All returns the components in declaration order.
func (f *Fleet) All() []*Component {
	out := make([]*Component, len(f.order))
	for i, id := range f.order {
		out[i] = f.byID[id]
	}
	return out
}

// Select returns the components with the given ids, skipping unknown ones.
func (f *Fleet) Select(ids []string) []*Component {
	out := make([]*Component, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fleet) IDs() []string {
	return append([]string(nil), f.order...)
}

func (f *Fleet) Len() int {
	return len(f.order)
}

// Snapshots returns the latest published snapshot of every component.
func (f *Fleet) Snapshots() []*sm.Snapshot {
	out := make([]*sm.Snapshot, len(f.order))
	for i, id := range f.order {
		out[i] = f.byID[id].Snapshot()
	}
	return out
}

// States reads the current states from snapshots.
func (f *Fleet) States() []sm.State {
	out := make([]sm.State, len(f.order))
	for i, id := range f.order {
		out[i] = f.byID[id].Snapshot().State
	}
	return out
}

// Where returns the components whose current state is one of states.
func (f *Fleet) Where(states ...sm.State) []*Component {
	var out []*Component
	for _, c := range f.All() {
		cur := c.Current()
		for _, s := range states {
			if cur == s {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
