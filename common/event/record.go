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

// Package event carries state transition records from the orchestrator's
// state machines to durable sinks: a JSON-lines file and, optionally,
// a Kafka topic.
package event

import (
	"encoding/json"
	"time"

	"github.com/sensornode/orchestra/common/logger"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "event")

// Record describes one accepted state transition of a managed entity.
type Record struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entityId"`
	Kind      string    `json:"kind"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	RunID     string    `json:"runId,omitempty"`
}

func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Sink receives transition records. WriteRecord must not block the caller
// on slow I/O for longer than a single local write.
type Sink interface {
	WriteRecord(r Record)
	Close() error
}

type nopSink struct{}

func (nopSink) WriteRecord(Record) {}
func (nopSink) Close() error       { return nil }

// NewNopSink returns a sink that discards everything.
func NewNopSink() Sink {
	return nopSink{}
}

// MultiSink fans records out to every member sink.
type MultiSink []Sink

func (m MultiSink) WriteRecord(r Record) {
	for _, s := range m {
		s.WriteRecord(r)
	}
}

func (m MultiSink) Close() (err error) {
	for _, s := range m {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return
}
