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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/segmentio/kafka-go"
)

var _ = Describe("Sinks", func() {
	record := Record{
		ID:        "rec-1",
		EntityID:  "db",
		Kind:      "component",
		From:      "STARTING",
		To:        "RUNNING",
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Reason:    "start command succeeded",
		RunID:     "run-1",
	}

	Describe("KafkaWriter", func() {
		It("batches queued records and flushes them on close", func() {
			var mu sync.Mutex
			var written []kafka.Message

			writer := &KafkaWriter{messageBuffer: NewFifoBuffer[kafka.Message]()}
			writer.writeFunction = func(messages []kafka.Message) {
				mu.Lock()
				written = append(written, messages...)
				mu.Unlock()
			}
			writer.start()

			writer.WriteRecord(record)
			writer.WriteRecord(record)
			Expect(writer.Close()).To(Succeed())

			mu.Lock()
			defer mu.Unlock()
			Expect(written).To(HaveLen(2))
			Expect(string(written[0].Key)).To(Equal("db"))

			var decoded Record
			Expect(json.Unmarshal(written[0].Value, &decoded)).To(Succeed())
			Expect(decoded).To(Equal(record))
		})

		It("ignores records written after close", func() {
			calls := 0
			writer := &KafkaWriter{messageBuffer: NewFifoBuffer[kafka.Message]()}
			writer.writeFunction = func(messages []kafka.Message) { calls++ }
			writer.start()
			Expect(writer.Close()).To(Succeed())

			writer.WriteRecord(record)
			Expect(writer.messageBuffer.Length()).To(BeZero())
			Expect(calls).To(BeZero())
			Expect(writer.Close()).To(Succeed())
		})
	})

	Describe("FileSink", func() {
		It("appends one JSON object per line", func() {
			path := filepath.Join(GinkgoT().TempDir(), "logs", "transitions.jsonl")
			sink, err := NewFileSink(path)
			Expect(err).NotTo(HaveOccurred())

			MultiSink{sink, NewNopSink()}.WriteRecord(record)
			second := record
			second.From, second.To = "RUNNING", "HEALTHY"
			sink.WriteRecord(second)
			Expect(sink.Close()).To(Succeed())
			sink.WriteRecord(record)

			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			Expect(lines).To(HaveLen(2))

			var decoded Record
			Expect(json.Unmarshal([]byte(lines[1]), &decoded)).To(Succeed())
			Expect(decoded.To).To(Equal("HEALTHY"))
			Expect(lines[0]).To(ContainSubstring(`"entityId":"db"`))
		})
	})
})
