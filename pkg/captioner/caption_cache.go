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

package captioner

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/antflydb/captioner/pkg/captioner/lib/pipelines"
)

// CaptionCacheTTL is the default TTL for cached captions
const CaptionCacheTTL = 10 * time.Minute

// CaptionCache caches generated captions keyed by image content and
// generation settings. Identical concurrent requests are collapsed through
// singleflight so a hot image runs the model only once.
type CaptionCache struct {
	cache   *ttlcache.Cache[string, *pipelines.CaptionResult]
	sfGroup *singleflight.Group
	logger  *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// NewCaptionCache creates a caption cache
func NewCaptionCache(logger *zap.Logger) *CaptionCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *pipelines.CaptionResult](CaptionCacheTTL),
	)
	go cache.Start()

	return &CaptionCache{
		cache:   cache,
		sfGroup: &singleflight.Group{},
		logger:  logger,
	}
}

// Caption generates a caption for image bytes using the pipeline, serving
// repeated requests from the cache.
func (c *CaptionCache) Caption(ctx context.Context, model string, pipeline *pipelines.CaptionPipeline, imageData []byte) (*pipelines.CaptionResult, error) {
	key := c.cacheKey(model, pipeline, imageData)

	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("caption")
		c.logger.Debug("Caption cache hit",
			zap.String("model", model))
		return item.Value(), nil
	}

	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("caption")

		start := time.Now()
		res, err := pipeline.RunBytes(ctx, imageData)
		if err != nil {
			return nil, err
		}

		c.cache.Set(key, res, ttlcache.DefaultTTL)

		c.logger.Debug("Caption generated and cached",
			zap.String("model", model),
			zap.Int("tokens", res.TokenCount),
			zap.Duration("duration", time.Since(start)))

		return res, nil
	})

	if err != nil {
		return nil, err
	}

	if shared {
		c.sfHits.Add(1)
		c.logger.Debug("Singleflight hit for caption request",
			zap.String("model", model))
	}

	return result.(*pipelines.CaptionResult), nil
}

// cacheKey generates a unique cache key from model + settings + image content
func (c *CaptionCache) cacheKey(model string, pipeline *pipelines.CaptionPipeline, imageData []byte) string {
	h := xxhash.New()

	_, _ = h.WriteString(model)
	_, _ = h.WriteString("|")

	cfg := pipeline.Generator.Config
	_, _ = h.WriteString(fmt.Sprintf("w%d|s%d|", cfg.BeamWidth, cfg.MaxSteps))

	// SHA256 for image content (more collision-resistant than xxhash alone)
	imgHash := sha256.Sum256(imageData)
	_, _ = h.Write(imgHash[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// Stats returns cache statistics
func (c *CaptionCache) Stats() CaptionCacheStats {
	return CaptionCacheStats{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
		Entries:          c.cache.Len(),
	}
}

// CaptionCacheStats holds cache statistics
type CaptionCacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
	Entries          int    `json:"entries"`
}

// Close stops the cache cleanup goroutine
func (c *CaptionCache) Close() {
	c.cache.Stop()
	c.cache.DeleteAll()
}
