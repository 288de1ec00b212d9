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

package instrument

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlpodyssey/agentops-go/asyncqueue"
	"github.com/nlpodyssey/agentops-go/asynctask"
)

func finishedTask(t *testing.T) *asynctask.TaskNoValue {
	t.Helper()
	task := asynctask.CreateTaskNoValue(t.Context(), func(context.Context) error { return nil })
	task.Await()
	return task
}

func TestStreamNextDrainsClosedQueue(t *testing.T) {
	q := asyncqueue.New[int]()
	require.NoError(t, q.Put(7))
	q.Close()

	s := &Stream[int]{queue: q, cancel: func() {}, task: finishedTask(t)}

	// A value enqueued before the close must still be readable.
	v, ok, err := s.Next(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok, err = s.Next(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamNextRacingClose(t *testing.T) {
	// Next must never report exhaustion while a value enqueued before the
	// close is still sitting in the queue, whatever the interleaving.
	for range 1000 {
		q := asyncqueue.New[int]()
		s := &Stream[int]{queue: q, cancel: func() {}, task: finishedTask(t)}

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = q.Put(1)
			q.Close()
		}()

		values := 0
		for {
			_, ok, err := s.Next(t.Context())
			require.NoError(t, err)
			if !ok {
				break
			}
			values++
		}
		<-done
		require.Equal(t, 1, values)
	}
}
