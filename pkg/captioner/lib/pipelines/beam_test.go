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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeamChild(t *testing.T) {
	parent := Beam{Tokens: []int32{0, 1}, Score: 1.5}
	child := parent.child(2, 0.5)

	assert.Equal(t, []int32{0, 1, 2}, child.Tokens)
	assert.InDelta(t, 2.0, child.Score, 1e-6)

	// The child owns a fresh slice: growing it never aliases the parent.
	child.Tokens[0] = 99
	assert.Equal(t, []int32{0, 1}, parent.Tokens)
}

func TestFrontierExpand_RespectsCapacity(t *testing.T) {
	model := &stubModel{
		fallbackDist: []float32{0.25, 0.25, 0.25, 0.25},
	}

	frontier := newBeamFrontier(model, &EncoderContext{}, 0, 3)
	require.Len(t, frontier.active, 1)

	for step := 0; step < 5; step++ {
		require.NoError(t, frontier.expand(context.Background()))
		assert.LessOrEqual(t, len(frontier.active), frontier.capacity)
	}
}

func TestFrontierExpand_WidthShrinksWithCapacity(t *testing.T) {
	model := &stubModel{
		fallbackDist: []float32{0.1, 0.4, 0.3, 0.2},
	}

	frontier := newBeamFrontier(model, &EncoderContext{}, 0, 3)
	require.NoError(t, frontier.expand(context.Background()))
	require.Len(t, frontier.active, 3)

	// Shrink capacity as if a beam had completed: the next expansion
	// branches by the reduced capacity, not the original width.
	frontier.capacity = 2
	frontier.active = frontier.active[:2]
	require.NoError(t, frontier.expand(context.Background()))
	assert.Len(t, frontier.active, 2)
}

func TestFrontierExpand_ZeroCapacityIsNoop(t *testing.T) {
	model := &stubModel{fallbackDist: []float32{0.25, 0.25, 0.25, 0.25}}

	frontier := newBeamFrontier(model, &EncoderContext{}, 0, 1)
	frontier.capacity = 0
	require.NoError(t, frontier.expand(context.Background()))
	assert.Zero(t, model.calls)
}

func TestFrontierExpand_StableTieBreak(t *testing.T) {
	// All candidates score identically; the kept beams must be the
	// earliest-produced ones, in production order.
	model := &stubModel{
		fallbackDist: []float32{0.25, 0.25, 0.25, 0.25},
	}

	frontier := newBeamFrontier(model, &EncoderContext{}, 0, 2)
	require.NoError(t, frontier.expand(context.Background()))

	require.Len(t, frontier.active, 2)
	assert.Equal(t, []int32{0, 0}, frontier.active[0].Tokens)
	assert.Equal(t, []int32{0, 1}, frontier.active[1].Tokens)
}

func TestHarvest_PartitionsInOnePass(t *testing.T) {
	const endID = int32(3)
	active := []Beam{
		{Tokens: []int32{0, 1, 3}, Score: 2.0},
		{Tokens: []int32{0, 1, 2}, Score: 1.8},
		{Tokens: []int32{0, 2, 3}, Score: 1.5},
		{Tokens: []int32{0, 2, 1}, Score: 1.2},
	}

	completed := &completionList{}
	kept, capacity := completed.harvest(active, 4, endID)

	// Order must be preserved on both sides of the partition, and
	// adjacent completed beams must not cause skips.
	require.Equal(t, 2, completed.len())
	assert.Equal(t, []int32{0, 1, 3}, completed.beams[0].Tokens)
	assert.Equal(t, []int32{0, 2, 3}, completed.beams[1].Tokens)

	require.Len(t, kept, 2)
	assert.Equal(t, []int32{0, 1, 2}, kept[0].Tokens)
	assert.Equal(t, []int32{0, 2, 1}, kept[1].Tokens)

	assert.Equal(t, 2, capacity)
}

func TestHarvest_AllCompleted(t *testing.T) {
	const endID = int32(3)
	active := []Beam{
		{Tokens: []int32{0, 3}, Score: 1.0},
		{Tokens: []int32{0, 1, 3}, Score: 0.9},
	}

	completed := &completionList{}
	kept, capacity := completed.harvest(active, 2, endID)

	assert.Empty(t, kept)
	assert.Zero(t, capacity)
	assert.Equal(t, 2, completed.len())
}

func TestHarvest_AppendOnly(t *testing.T) {
	const endID = int32(3)
	completed := &completionList{}

	_, _ = completed.harvest([]Beam{{Tokens: []int32{0, 3}, Score: 1.0}}, 2, endID)
	_, _ = completed.harvest([]Beam{{Tokens: []int32{0, 1, 3}, Score: 2.0}}, 1, endID)

	// Earlier completions survive later harvests.
	require.Equal(t, 2, completed.len())
	assert.Equal(t, []int32{0, 3}, completed.beams[0].Tokens)
}

func TestBestBeam(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		_, ok := bestBeam(nil)
		assert.False(t, ok)
	})

	t.Run("HighestScoreWins", func(t *testing.T) {
		best, ok := bestBeam([]Beam{
			{Tokens: []int32{1}, Score: 1.0},
			{Tokens: []int32{2}, Score: 3.0},
			{Tokens: []int32{3}, Score: 2.0},
		})
		require.True(t, ok)
		assert.Equal(t, []int32{2}, best.Tokens)
	})

	t.Run("TiePrefersEarliest", func(t *testing.T) {
		best, ok := bestBeam([]Beam{
			{Tokens: []int32{1}, Score: 2.0},
			{Tokens: []int32{2}, Score: 2.0},
		})
		require.True(t, ok)
		assert.Equal(t, []int32{1}, best.Tokens)
	})
}
