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

package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqErrFunc(t *testing.T) {
	t.Run("exhaustion without error", func(t *testing.T) {
		s := SeqErrFunc(func(yield func(int) bool) error {
			for i := range 3 {
				if !yield(i) {
					return nil
				}
			}
			return nil
		})

		var values []int
		for v := range s.Seq() {
			values = append(values, v)
		}
		assert.Equal(t, []int{0, 1, 2}, values)
		assert.NoError(t, s.Error())
	})

	t.Run("terminal error", func(t *testing.T) {
		wantErr := errors.New("boom")
		s := SeqErrFunc(func(yield func(int) bool) error {
			if !yield(1) {
				return nil
			}
			return wantErr
		})

		var values []int
		for v := range s.Seq() {
			values = append(values, v)
		}
		require.Equal(t, []int{1}, values)
		assert.ErrorIs(t, s.Error(), wantErr)
	})
}
