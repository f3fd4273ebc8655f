// Copyright 2025 Antfly, Inc.
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

package pipelines

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopKIndices(t *testing.T) {
	probs := []float32{0.1, 0.5, 0.05, 0.3, 0.05}

	t.Run("OrderedByProbability", func(t *testing.T) {
		assert.Equal(t, []int32{1, 3, 0}, topKIndices(probs, 3))
	})

	t.Run("KLargerThanVocab", func(t *testing.T) {
		assert.Len(t, topKIndices(probs, 100), len(probs))
	})

	t.Run("KZero", func(t *testing.T) {
		assert.Nil(t, topKIndices(probs, 0))
	})

	t.Run("TiesPreferLowestIndex", func(t *testing.T) {
		uniform := []float32{0.25, 0.25, 0.25, 0.25}
		assert.Equal(t, []int32{0, 1}, topKIndices(uniform, 2))
	})
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, int32(2), Argmax([]float32{0.1, 0.2, 0.6, 0.1}))
	assert.Equal(t, int32(0), Argmax(nil))
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{1.0, 2.0, 3.0})
	require.Len(t, probs, 3)

	var sum float32
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, float32(0))
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.Greater(t, probs[2], probs[1])
	assert.Greater(t, probs[1], probs[0])

	assert.Nil(t, Softmax(nil))
}

func TestBuildCausalMask(t *testing.T) {
	mask := BuildCausalMask(3)

	assert.Equal(t, [2]int{3, 3}, mask.Shape)
	assert.Equal(t, []int64{
		1, 0, 0,
		1, 1, 0,
		1, 1, 1,
	}, mask.Data)
}
