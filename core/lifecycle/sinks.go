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
	"sync"

	"github.com/sensornode/orchestra/common/event"
	"github.com/sensornode/orchestra/configuration"
	"github.com/sirupsen/logrus"
)

// sinkSwitch lets entities created before the descriptor is known write
// to the sinks the descriptor configures later.
type sinkSwitch struct {
	mu    sync.RWMutex
	sinks event.MultiSink
}

func newSinkSwitch(base event.Sink) *sinkSwitch {
	s := &sinkSwitch{}
	if base != nil {
		s.sinks = event.MultiSink{base}
	}
	return s
}

func (s *sinkSwitch) attach(d *configuration.Deployment) error {
	var added event.MultiSink
	if path := d.Orchestrator.TransitionLog; path != "" {
		fs, err := event.NewFileSink(path)
		if err != nil {
			return err
		}
		added = append(added, fs)
		log.WithField("path", path).Debug("transition log enabled")
	}
	if k := d.Orchestrator.Kafka; len(k.Brokers) > 0 {
		added = append(added, event.NewKafkaWriter(k.Brokers, k.Topic))
		log.WithFields(logrus.Fields{
			"brokers": k.Brokers,
			"topic":   k.Topic,
		}).Debug("transition stream enabled")
	}

	s.mu.Lock()
	s.sinks = append(s.sinks, added...)
	s.mu.Unlock()
	return nil
}

func (s *sinkSwitch) WriteRecord(r event.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.sinks.WriteRecord(r)
}

func (s *sinkSwitch) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.sinks.Close()
	s.sinks = nil
	return err
}
