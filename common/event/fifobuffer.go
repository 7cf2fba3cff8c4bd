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
)

// FifoBuffer is a threadsafe queue whose PopMultiple blocks until data is
// available or the buffer has been released. After release, PopMultiple
// keeps draining what is left and then returns empty slices.
type FifoBuffer[T any] struct {
	lock sync.Mutex
	cond *sync.Cond

	buffer   []T
	released bool
}

func NewFifoBuffer[T any]() *FifoBuffer[T] {
	b := &FifoBuffer[T]{}
	b.cond = sync.NewCond(&b.lock)
	return b
}

func (b *FifoBuffer[T]) Push(value T) {
	b.lock.Lock()
	b.buffer = append(b.buffer, value)
	b.cond.Signal()
	b.lock.Unlock()
}

func (b *FifoBuffer[T]) PopMultiple(numberToPop int) (result []T) {
	b.lock.Lock()
	defer b.lock.Unlock()

	for len(b.buffer) == 0 && !b.released {
		b.cond.Wait()
	}
	if len(b.buffer) == 0 {
		return
	}

	n := min(numberToPop, len(b.buffer))
	result = make([]T, n)
	copy(result, b.buffer[:n])
	b.buffer = b.buffer[n:]
	return
}

func (b *FifoBuffer[T]) Length() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.buffer)
}

// Release wakes every waiting consumer and stops further blocking.
func (b *FifoBuffer[T]) Release() {
	b.lock.Lock()
	b.released = true
	b.cond.Broadcast()
	b.lock.Unlock()
}
