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
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinzhu/copier"
	"github.com/looplab/fsm"
	"github.com/sensornode/orchestra/common/event"
	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/common/utils/uid"
	"github.com/sensornode/orchestra/core/metrics"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "sm")

// Transition is one accepted entry in an entity's history.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Snapshot is an immutable copy of an entity, republished after every
// accepted transition. Readers never take the entity lock.
type Snapshot struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	State     State        `json:"state"`
	History   []Transition `json:"history"`
	LastError string       `json:"lastError,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Entity is a single state machine instance. Only its owning controller
// calls Apply; everyone else reads snapshots.
type Entity struct {
	mu        sync.Mutex
	id        string
	kind      Kind
	sm        *fsm.FSM
	history   []Transition
	lastError error

	snapshot atomic.Pointer[Snapshot]

	sink  event.Sink
	runID uid.ID
}

type Option func(*Entity)

// WithSink sends every accepted transition to s.
func WithSink(s event.Sink) Option {
	return func(e *Entity) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithRunID tags transition records with the orchestrator run they belong to.
func WithRunID(id uid.ID) Option {
	return func(e *Entity) {
		e.runID = id
	}
}

var eventsByKind = compileEvents(table)

// compileEvents turns each destination state into one fsm event whose
// sources are all the states the table lets reach it.
func compileEvents(t TransitionTable) map[Kind]fsm.Events {
	out := make(map[Kind]fsm.Events, len(t))
	for kind, rows := range t {
		sources := make(map[State][]string)
		for from, tos := range rows {
			for _, to := range tos {
				sources[to] = append(sources[to], string(from))
			}
		}
		dsts := make([]State, 0, len(sources))
		for dst := range sources {
			dsts = append(dsts, dst)
		}
		sort.Slice(dsts, func(i, j int) bool { return dsts[i] < dsts[j] })

		events := make(fsm.Events, 0, len(dsts))
		for _, dst := range dsts {
			src := sources[dst]
			sort.Strings(src)
			events = append(events, fsm.EventDesc{Name: string(dst), Src: src, Dst: string(dst)})
		}
		out[kind] = events
	}
	return out
}

func NewEntity(kind Kind, id string, opts ...Option) *Entity {
	e := &Entity{
		id:   id,
		kind: kind,
		sink: event.NewNopSink(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.sm = fsm.NewFSM(
		string(InitialState(kind)),
		eventsByKind[kind],
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				log.WithField("entity", e.id).
					WithField("kind", e.kind.String()).
					Debugf("%s -> %s", ev.Src, ev.Dst)
			},
		},
	)
	e.publish()
	return e
}

func (e *Entity) ID() string {
	return e.id
}

func (e *Entity) Kind() Kind {
	return e.kind
}

func (e *Entity) Current() State {
	return State(e.sm.Current())
}

// Can reports whether Apply(to) would currently be accepted.
func (e *Entity) Can(to State) bool {
	return table.Permits(e.kind, e.Current(), to)
}

// Apply moves the entity to the given state if the transition table allows
// it. A rejected transition leaves the entity untouched and returns an
// InvalidTransitionError.
func (e *Entity) Apply(to State, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(to, reason)
}

// Fail applies the transition and records err as the entity's last error.
func (e *Entity) Fail(to State, reason string, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tErr := e.applyLocked(to, reason); tErr != nil {
		return tErr
	}
	e.lastError = err
	e.publish()
	return nil
}

func (e *Entity) applyLocked(to State, reason string) error {
	from := e.Current()
	if !table.Permits(e.kind, from, to) {
		return e.reject(from, to, nil)
	}
	if err := e.sm.Event(context.Background(), string(to)); err != nil {
		return e.reject(from, to, err)
	}

	t := Transition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	e.history = append(e.history, t)
	e.publish()

	metrics.TransitionCount.WithLabelValues(e.kind.String(), metrics.Label(string(to))).Inc()
	e.sink.WriteRecord(event.Record{
		ID:        uid.NewRecordID(),
		EntityID:  e.id,
		Kind:      e.kind.String(),
		From:      string(from),
		To:        string(to),
		Timestamp: t.Timestamp,
		Reason:    reason,
		RunID:     e.runID.String(),
	})
	return nil
}

func (e *Entity) reject(from, to State, cause error) error {
	metrics.RejectedTransitionCount.WithLabelValues(e.kind.String()).Inc()
	entry := log.WithField("entity", e.id).
		WithField("kind", e.kind.String()).
		WithField("from", from).
		WithField("to", to)
	if cause != nil {
		var invalid fsm.InvalidEventError
		var unknown fsm.UnknownEventError
		if !errors.As(cause, &invalid) && !errors.As(cause, &unknown) {
			entry = entry.WithError(cause)
		}
	}
	entry.Error("rejected state transition")
	return InvalidTransitionError{EntityID: e.id, Kind: e.kind, From: from, To: to}
}

// SetLastError records err without changing state.
func (e *Entity) SetLastError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastError = err
	e.publish()
}

func (e *Entity) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// History returns a copy of the accepted transitions, oldest first.
func (e *Entity) History() []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Transition(nil), e.history...)
}

// Snapshot returns the latest published snapshot. Callers must not modify it.
func (e *Entity) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// publish must be called with e.mu held (or before the entity is shared).
func (e *Entity) publish() {
	live := Snapshot{
		ID:        e.id,
		Kind:      e.kind.String(),
		State:     e.Current(),
		History:   e.history,
		UpdatedAt: time.Now(),
	}
	if e.lastError != nil {
		live.LastError = e.lastError.Error()
	}

	snap := new(Snapshot)
	if err := copier.CopyWithOption(snap, &live, copier.Option{DeepCopy: true}); err != nil {
		log.WithError(err).WithField("entity", e.id).Warn("snapshot copy failed")
		snap = &live
		snap.History = append([]Transition(nil), e.history...)
	}
	e.snapshot.Store(snap)
}
