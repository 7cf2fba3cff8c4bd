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
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FifoBuffer", func() {
	When("popping fewer items than buffered", func() {
		It("returns the requested items in order", func() {
			buffer := NewFifoBuffer[int]()
			buffer.Push(1)
			buffer.Push(2)
			buffer.Push(3)

			Expect(buffer.Length()).To(Equal(3))
			Expect(buffer.PopMultiple(2)).To(Equal([]int{1, 2}))
			Expect(buffer.Length()).To(Equal(1))
		})
	})

	When("popping more items than buffered", func() {
		It("returns only the available items", func() {
			buffer := NewFifoBuffer[int]()
			buffer.Push(1)

			Expect(buffer.PopMultiple(2)).To(Equal([]int{1}))
		})
	})

	When("a consumer waits on an empty buffer", func() {
		It("wakes up once a value is pushed", func() {
			buffer := NewFifoBuffer[int]()
			got := make(chan []int, 1)
			go func() {
				got <- buffer.PopMultiple(10)
			}()

			Consistently(got, 50*time.Millisecond).ShouldNot(Receive())
			buffer.Push(7)
			Eventually(got).Should(Receive(Equal([]int{7})))
		})

		It("returns empty after release", func() {
			buffer := NewFifoBuffer[int]()
			wg := sync.WaitGroup{}
			wg.Add(1)
			var result []int
			go func() {
				defer wg.Done()
				result = buffer.PopMultiple(10)
			}()
			buffer.Release()
			wg.Wait()
			Expect(result).To(BeEmpty())
		})
	})

	When("the buffer is released with items left", func() {
		It("still drains them", func() {
			buffer := NewFifoBuffer[string]()
			buffer.Push("a")
			buffer.Push("b")
			buffer.Release()

			Expect(buffer.PopMultiple(1)).To(Equal([]string{"a"}))
			Expect(buffer.PopMultiple(1)).To(Equal([]string{"b"}))
			Expect(buffer.PopMultiple(1)).To(BeEmpty())
		})
	})
})
