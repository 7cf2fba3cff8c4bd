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

package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

const kafkaBatchSize = 100

// KafkaWriter publishes transition records to a Kafka topic. Records are
// queued and written by a background goroutine so that state machine
// transitions never wait on the broker.
type KafkaWriter struct {
	*kafka.Writer

	messageBuffer  *FifoBuffer[kafka.Message]
	runningWorkers sync.WaitGroup
	closed         atomic.Bool

	writeFunction func([]kafka.Message)
}

func NewKafkaWriter(brokers []string, topic string) *KafkaWriter {
	w := &KafkaWriter{
		Writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
		},
		messageBuffer: NewFifoBuffer[kafka.Message](),
	}
	w.writeFunction = w.publish
	w.start()
	return w
}

func (w *KafkaWriter) start() {
	w.runningWorkers.Add(1)
	go w.writingLoop()
}

func (w *KafkaWriter) writingLoop() {
	defer w.runningWorkers.Done()
	for {
		messages := w.messageBuffer.PopMultiple(kafkaBatchSize)
		if len(messages) == 0 {
			return
		}
		w.writeFunction(messages)
	}
}

func (w *KafkaWriter) publish(messages []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.WriteMessages(ctx, messages...); err != nil {
		log.WithError(err).
			WithField("topic", w.Topic).
			WithField("count", len(messages)).
			Warn("failed to publish transition records")
	}
}

func (w *KafkaWriter) WriteRecord(r Record) {
	if w.closed.Load() {
		return
	}
	data, err := r.Marshal()
	if err != nil {
		log.WithError(err).Warn("cannot marshal transition record")
		return
	}
	w.messageBuffer.Push(kafka.Message{
		Key:   []byte(r.EntityID),
		Value: data,
		Time:  r.Timestamp,
	})
}

// Close flushes queued records and closes the underlying writer.
func (w *KafkaWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.messageBuffer.Release()
	w.runningWorkers.Wait()
	if w.Writer == nil {
		return nil
	}
	return w.Writer.Close()
}
