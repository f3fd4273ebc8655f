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
	"sort"
)

// Beam is one candidate continuation: a partial token sequence with an
// accumulated score. Beams are immutable once produced; expansion creates
// children with fresh token slices, so references to a pruned frontier stay
// valid for inspection.
//
// Scores accumulate raw per-step probabilities rather than log-probabilities.
// This matches the model's documented scoring rule; it is not a proper joint
// likelihood, and magnitudes are not comparable across sequence lengths. All
// ranking goes through Beam.Score, so substituting summed log-probabilities
// is a local change.
type Beam struct {
	Tokens []int32
	Score  float64
}

// child creates a new beam extending this one by a single token.
func (b Beam) child(token int32, prob float32) Beam {
	tokens := make([]int32, len(b.Tokens)+1)
	copy(tokens, b.Tokens)
	tokens[len(b.Tokens)] = token
	return Beam{Tokens: tokens, Score: b.Score + float64(prob)}
}

// last returns the most recent token of the beam.
func (b Beam) last() int32 {
	return b.Tokens[len(b.Tokens)-1]
}

// beamFrontier owns the set of currently active partial sequences and their
// scores. capacity starts at the configured beam width and only decreases,
// by one for every beam that completes.
type beamFrontier struct {
	model SequenceModel
	enc   *EncoderContext

	// active is score-sorted after every pruning step.
	active   []Beam
	capacity int
}

// newBeamFrontier seeds the frontier with a single begin-of-sequence beam.
func newBeamFrontier(model SequenceModel, enc *EncoderContext, beginID int32, width int) *beamFrontier {
	return &beamFrontier{
		model:    model,
		enc:      enc,
		active:   []Beam{{Tokens: []int32{beginID}, Score: 0}},
		capacity: width,
	}
}

// expand requests a next-token distribution for every active beam and prunes
// the resulting candidates back down to capacity.
//
// The expansion width equals the current capacity, not the original beam
// width: the branching factor shrinks together with the remaining free slots
// as beams complete. Each active beam contributes capacity children, up to
// len(active)*capacity candidates in total.
func (f *beamFrontier) expand(ctx context.Context) error {
	if f.capacity <= 0 || len(f.active) == 0 {
		return nil
	}

	candidates := make([]Beam, 0, len(f.active)*f.capacity)
	for _, beam := range f.active {
		// The mask is derived from this beam's tokens and rebuilt every
		// step; it is never shared across beams.
		mask := f.model.BuildMask(beam.Tokens)
		probs, err := f.model.NextTokenDistribution(ctx, beam.Tokens, f.enc, mask)
		if err != nil {
			return err
		}
		for _, token := range topKIndices(probs, f.capacity) {
			candidates = append(candidates, beam.child(token, probs[token]))
		}
	}

	// Stable sort: among equal scores the earlier-produced candidate wins,
	// which makes the whole search deterministic.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > f.capacity {
		candidates = candidates[:f.capacity]
	}
	f.active = candidates
	return nil
}

// completionList collects beams that reached the end-of-sequence token.
// Append-only: entries are never removed and a completed beam never re-enters
// the frontier.
type completionList struct {
	beams []Beam
}

// harvest partitions active into completed beams and the rest in a single
// pass, preserving order. Every harvested beam shrinks the capacity by one.
// Removal during a separate pass (rather than while iterating the slice
// being filtered) is what keeps the traversal from skipping elements.
func (c *completionList) harvest(active []Beam, capacity int, endID int32) ([]Beam, int) {
	kept := make([]Beam, 0, len(active))
	for _, beam := range active {
		if beam.last() == endID {
			c.beams = append(c.beams, beam)
			capacity--
			continue
		}
		kept = append(kept, beam)
	}
	return kept, capacity
}

// best returns the highest-scoring completed beam. With equal scores the
// earliest-completed beam wins.
func (c *completionList) best() (Beam, bool) {
	return bestBeam(c.beams)
}

func (c *completionList) len() int {
	return len(c.beams)
}

// bestBeam returns the highest-scoring beam, preferring earlier entries on
// ties.
func bestBeam(beams []Beam) (Beam, bool) {
	if len(beams) == 0 {
		return Beam{}, false
	}
	best := beams[0]
	for _, b := range beams[1:] {
		if b.Score > best.Score {
			best = b
		}
	}
	return best, true
}
