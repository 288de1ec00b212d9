// Copyright 2025 The NLP Odyssey Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package asyncqueue

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Put after the queue has been closed.
var ErrClosed = errors.New("queue is closed")

// Queue is an unbounded FIFO queue safe for concurrent use. Closing it
// wakes all blocked consumers; values already enqueued remain readable.
type Queue[T any] struct {
	cond   *sync.Cond
	values []T
	closed bool
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		cond: sync.NewCond(&sync.Mutex{}),
	}
}

func (q *Queue[T]) Put(v T) error {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.values = append(q.values, v)
	q.cond.Signal()
	return nil
}

// Get blocks until a value is available or the queue is closed and drained.
// The second return value is false only in the latter case.
func (q *Queue[T]) Get() (T, bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for len(q.values) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.values) == 0 {
		var zero T
		return zero, false
	}
	return q.get(), true
}

// GetTimeout behaves like Get but gives up after the given duration.
func (q *Queue[T]) GetTimeout(timeout time.Duration) (T, bool) {
	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		q.cond.L.Lock()
		timedOut = true
		q.cond.L.Unlock()
		q.cond.Broadcast()
	})
	defer timer.Stop()

	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for len(q.values) == 0 && !q.closed && !timedOut {
		q.cond.Wait()
	}

	if len(q.values) == 0 {
		var zero T
		return zero, false
	}
	return q.get(), true
}

func (q *Queue[T]) GetNoWait() (T, bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()

	if len(q.values) == 0 {
		var zero T
		return zero, false
	}
	return q.get(), true
}

// Close marks the queue closed and wakes all blocked consumers.
// Closing an already-closed queue is a no-op.
func (q *Queue[T]) Close() {
	q.cond.L.Lock()
	q.closed = true
	q.cond.L.Unlock()
	q.cond.Broadcast()
}

func (q *Queue[T]) IsClosed() bool {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return q.closed
}

func (q *Queue[T]) Len() int {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return len(q.values)
}

func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// get must be called with the lock held and a non-empty values slice.
func (q *Queue[T]) get() T {
	v := q.values[0]
	q.values = q.values[1:]
	return v
}
