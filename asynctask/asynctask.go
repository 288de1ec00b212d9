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

package asynctask

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Task is a unit of work running in its own goroutine. Its result becomes
// available through Await once the work function returns.
type Task[T any] struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	canceled bool
	done     chan struct{}
	result   Result[T]
}

type Result[T any] struct {
	Value T
	Error error
}

var taskCanceledErr = errors.New("task has been canceled")

func TaskCanceledErr() error { return taskCanceledErr }

// Await blocks until the task completes and returns its result.
func (t *Task[T]) Await() Result[T] {
	<-t.done
	return t.result
}

// AwaitContext blocks until the task completes or ctx is done, whichever
// comes first. A context expiry does not cancel the task.
func (t *Task[T]) AwaitContext(ctx context.Context) (Result[T], error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	}
}

func (t *Task[T]) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Task[T]) IsCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Cancel cancels the task's context. The task still runs to completion;
// its result will carry the cancellation error.
func (t *Task[T]) Cancel() {
	t.mu.Lock()
	if !t.IsDone() && !t.canceled {
		t.cancel()
		t.canceled = true
	}
	t.mu.Unlock()
}

type TaskFunc[T any] = func(context.Context) (T, error)

// CreateTask starts fn in a new goroutine and returns a handle to await its
// result. A panic inside fn is captured as an error on the result.
func CreateTask[T any](ctx context.Context, fn TaskFunc[T]) *Task[T] {
	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(ctx)
	t := &Task[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		var value T
		var err error

		defer func() {
			if r := recover(); r != nil {
				err = errors.Join(err, fmt.Errorf("task panicked: %v", r))
			}

			t.mu.Lock()
			if t.canceled {
				err = errors.Join(err, TaskCanceledErr())
			}
			t.result = Result[T]{Value: value, Error: err}
			t.mu.Unlock()

			close(t.done)
			cancel()
		}()

		value, err = fn(ctx)
	}()

	return t
}

type TaskNoValue = Task[struct{}]

func CreateTaskNoValue(ctx context.Context, fn func(context.Context) error) *TaskNoValue {
	return CreateTask[struct{}](ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}
