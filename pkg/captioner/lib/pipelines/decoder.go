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
	"github.com/ajroetker/go-highway/hwy/contrib/nn"
	"github.com/ajroetker/go-highway/hwy/contrib/vec"
)

// Argmax returns the index of the maximum value using SIMD acceleration.
// This is particularly beneficial for decoder vocab sizes (30k-100k elements).
func Argmax(values []float32) int32 {
	if len(values) == 0 {
		return 0
	}
	return int32(vec.Argmax(values))
}

// Softmax applies softmax normalization using SIMD acceleration.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	probs := make([]float32, len(logits))
	nn.Softmax(logits, probs)
	return probs
}

// topKIndices returns the indices of the k largest probabilities, ordered
// from highest to lowest. Ties resolve to the lowest index, which keeps
// expansion deterministic across runs.
func topKIndices(probs []float32, k int) []int32 {
	if k > len(probs) {
		k = len(probs)
	}
	if k <= 0 {
		return nil
	}

	// Partial selection: k is the beam capacity, which is small relative
	// to the vocabulary, so k scans beat a full sort.
	indices := make([]int32, 0, k)
	taken := make(map[int32]bool, k)
	for n := 0; n < k; n++ {
		best := int32(-1)
		var bestProb float32
		for i, p := range probs {
			idx := int32(i)
			if taken[idx] {
				continue
			}
			if best < 0 || p > bestProb {
				best = idx
				bestProb = p
			}
		}
		taken[best] = true
		indices = append(indices, best)
	}
	return indices
}
