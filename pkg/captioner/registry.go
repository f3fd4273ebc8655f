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
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/antflydb/captioner/pkg/captioner/lib/backends"
	"github.com/antflydb/captioner/pkg/captioner/lib/pipelines"
)

// Default keep-alive duration (matches Ollama's 5-minute default)
const DefaultKeepAlive = 5 * time.Minute

// ModelInfo holds metadata about a discovered model (not loaded yet)
type ModelInfo struct {
	Name string
	Path string
}

// PipelineRegistry manages caption pipelines with lazy loading and TTL-based
// unloading. Models are discovered at startup but only loaded on first use.
type PipelineRegistry struct {
	modelsDir     string
	modelBackends []string
	genConfig     *backends.GenerationConfig
	logger        *zap.Logger

	// Model discovery (paths only, not loaded)
	discovered map[string]*ModelInfo
	mu         sync.RWMutex

	// Loaded pipelines with TTL cache (for lazy models)
	cache *ttlcache.Cache[string, *pipelines.CaptionPipeline]

	// Pinned pipelines (never evicted, stored separately from cache)
	pinned   map[string]*pipelines.CaptionPipeline
	pinnedMu sync.RWMutex

	keepAlive       time.Duration
	maxLoadedModels uint64
}

// PipelineRegistryConfig configures the pipeline registry
type PipelineRegistryConfig struct {
	ModelsDir       string
	ModelBackends   []string                   // Preferred backend order (e.g., ["onnx"])
	Generation      *backends.GenerationConfig // Default generation config for loaded pipelines
	KeepAlive       time.Duration              // How long to keep models loaded (0 = forever)
	MaxLoadedModels uint64                     // Max models in memory (0 = unlimited)
}

// NewPipelineRegistry creates a lazy-loading caption pipeline registry
func NewPipelineRegistry(config PipelineRegistryConfig, logger *zap.Logger) (*PipelineRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = ttlcache.NoTTL // Never expire
	}

	registry := &PipelineRegistry{
		modelsDir:       config.ModelsDir,
		modelBackends:   config.ModelBackends,
		genConfig:       config.Generation,
		logger:          logger,
		discovered:      make(map[string]*ModelInfo),
		pinned:          make(map[string]*pipelines.CaptionPipeline),
		keepAlive:       keepAlive,
		maxLoadedModels: config.MaxLoadedModels,
	}

	cacheOpts := []ttlcache.Option[string, *pipelines.CaptionPipeline]{
		ttlcache.WithTTL[string, *pipelines.CaptionPipeline](keepAlive),
	}
	if config.MaxLoadedModels > 0 {
		cacheOpts = append(cacheOpts,
			ttlcache.WithCapacity[string, *pipelines.CaptionPipeline](config.MaxLoadedModels))
	}
	registry.cache = ttlcache.New(cacheOpts...)

	// Eviction callback closes the pipeline's sessions
	registry.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *pipelines.CaptionPipeline]) {
		modelName := item.Key()
		pipeline := item.Value()

		// Check if model was moved to pinned (don't close in that case)
		registry.pinnedMu.RLock()
		isPinned := registry.pinned[modelName] == pipeline
		registry.pinnedMu.RUnlock()

		if isPinned {
			logger.Debug("Model moved to pinned, skipping close",
				zap.String("model", modelName))
			return
		}

		reasonStr := "unknown"
		switch reason {
		case ttlcache.EvictionReasonExpired:
			reasonStr = "expired (keep-alive timeout)"
		case ttlcache.EvictionReasonCapacityReached:
			reasonStr = "capacity reached (LRU eviction)"
		case ttlcache.EvictionReasonDeleted:
			reasonStr = "manually deleted"
		}

		logger.Info("Unloading caption model",
			zap.String("model", modelName),
			zap.String("reason", reasonStr))

		if err := pipeline.Close(); err != nil {
			logger.Warn("Error closing caption pipeline",
				zap.String("model", modelName),
				zap.Error(err))
		}
	})

	go registry.cache.Start()

	// Discover available models (but don't load them)
	if err := registry.discoverModels(); err != nil {
		registry.cache.Stop()
		return nil, err
	}

	return registry, nil
}

// discoverModels scans the models directory and records available models
func (r *PipelineRegistry) discoverModels() error {
	if r.modelsDir == "" {
		r.logger.Info("No caption models directory configured")
		return nil
	}

	if _, err := os.Stat(r.modelsDir); os.IsNotExist(err) {
		r.logger.Warn("Caption models directory does not exist",
			zap.String("dir", r.modelsDir))
		return nil
	}

	entries, err := os.ReadDir(r.modelsDir)
	if err != nil {
		return fmt.Errorf("reading models directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		modelName := entry.Name()
		modelPath := filepath.Join(r.modelsDir, modelName)

		if !pipelines.IsCaptionModel(modelPath) {
			r.logger.Debug("Skipping directory without encoder/decoder model files",
				zap.String("dir", modelName))
			continue
		}

		r.logger.Info("Discovered caption model (not loaded)",
			zap.String("name", modelName),
			zap.String("path", modelPath))

		r.discovered[modelName] = &ModelInfo{
			Name: modelName,
			Path: modelPath,
		}
	}

	r.logger.Info("Caption model discovery complete",
		zap.Int("models_discovered", len(r.discovered)),
		zap.Duration("keep_alive", r.keepAlive),
		zap.Uint64("max_loaded_models", r.maxLoadedModels))

	return nil
}

// Get returns a caption pipeline by model name, loading it if necessary
func (r *PipelineRegistry) Get(modelName string) (*pipelines.CaptionPipeline, error) {
	// Check if model is pinned (never evicted)
	r.pinnedMu.RLock()
	if pipeline, ok := r.pinned[modelName]; ok {
		r.pinnedMu.RUnlock()
		r.logger.Debug("Caption pipeline pinned hit",
			zap.String("model", modelName))
		return pipeline, nil
	}
	r.pinnedMu.RUnlock()

	// Check if already loaded in cache
	if item := r.cache.Get(modelName); item != nil {
		r.logger.Debug("Caption pipeline cache hit",
			zap.String("model", modelName))
		return item.Value(), nil
	}

	r.mu.RLock()
	info, known := r.discovered[modelName]
	r.mu.RUnlock()

	if !known {
		return nil, fmt.Errorf("caption model not found: %s", modelName)
	}

	return r.loadModel(info)
}

// loadModel loads a model on demand
func (r *PipelineRegistry) loadModel(info *ModelInfo) (*pipelines.CaptionPipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check cache after acquiring lock
	if item := r.cache.Get(info.Name); item != nil {
		return item.Value(), nil
	}

	r.logger.Info("Loading caption model on demand",
		zap.String("model", info.Name),
		zap.String("path", info.Path))

	start := time.Now()
	pipeline, backendUsed, err := pipelines.LoadCaptionPipeline(
		info.Path,
		r.modelBackends,
		pipelines.WithCaptionGenerationConfig(r.genConfig),
		pipelines.WithCaptionLogger(r.logger.Named(info.Name)),
	)
	if err != nil {
		r.logger.Error("Failed to load caption model",
			zap.String("model", info.Name),
			zap.Error(err))
		return nil, fmt.Errorf("loading caption model %s: %w", info.Name, err)
	}
	RecordModelLoadDuration(info.Name, time.Since(start).Seconds())

	r.cache.Set(info.Name, pipeline, ttlcache.DefaultTTL)

	r.logger.Info("Successfully loaded caption model",
		zap.String("model", info.Name),
		zap.String("backend", string(backendUsed)),
		zap.Duration("load_time", time.Since(start)),
		zap.Duration("keep_alive", r.keepAlive))

	return pipeline, nil
}

// List returns all available (discovered) model names
func (r *PipelineRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.discovered))
	for name := range r.discovered {
		names = append(names, name)
	}
	return names
}

// ListLoaded returns currently loaded model names (from cache and pinned)
func (r *PipelineRegistry) ListLoaded() []string {
	keys := r.cache.Keys()

	r.pinnedMu.RLock()
	pinnedNames := make([]string, 0, len(r.pinned))
	for name := range r.pinned {
		pinnedNames = append(pinnedNames, name)
	}
	r.pinnedMu.RUnlock()

	names := make([]string, 0, len(keys)+len(pinnedNames))
	names = append(names, pinnedNames...)
	names = append(names, keys...)
	return names
}

// IsLoaded checks if a model is currently loaded (in cache or pinned)
func (r *PipelineRegistry) IsLoaded(modelName string) bool {
	r.pinnedMu.RLock()
	isPinned := r.pinned[modelName] != nil
	r.pinnedMu.RUnlock()
	return isPinned || r.cache.Has(modelName)
}

// Unload explicitly unloads a model (triggers eviction callback).
// Pinned models cannot be unloaded via this method.
func (r *PipelineRegistry) Unload(modelName string) {
	r.pinnedMu.RLock()
	isPinned := r.pinned[modelName] != nil
	r.pinnedMu.RUnlock()

	if isPinned {
		r.logger.Debug("Cannot unload pinned model",
			zap.String("model", modelName))
		return
	}
	r.cache.Delete(modelName)
}

// Pin marks a model as pinned (never evicted). If the model is already loaded
// in the cache, it is moved to the pinned map. If not loaded, it will be
// loaded first. Pinned models survive TTL expiration and LRU eviction.
func (r *PipelineRegistry) Pin(modelName string) error {
	r.pinnedMu.RLock()
	if r.pinned[modelName] != nil {
		r.pinnedMu.RUnlock()
		r.logger.Debug("Model already pinned",
			zap.String("model", modelName))
		return nil
	}
	r.pinnedMu.RUnlock()

	pipeline, err := r.Get(modelName)
	if err != nil {
		return fmt.Errorf("pin model %s: %w", modelName, err)
	}

	r.pinnedMu.Lock()
	r.pinned[modelName] = pipeline
	r.pinnedMu.Unlock()

	// Remove from cache. The eviction callback sees the pipeline in the
	// pinned map and skips closing it.
	r.cache.Delete(modelName)

	r.logger.Info("Pinned model (will not be evicted)",
		zap.String("model", modelName))

	return nil
}

// IsPinned returns true if a model is pinned (never evicted)
func (r *PipelineRegistry) IsPinned(modelName string) bool {
	r.pinnedMu.RLock()
	defer r.pinnedMu.RUnlock()
	return r.pinned[modelName] != nil
}

// Preload loads specified models at startup to avoid first-request latency
func (r *PipelineRegistry) Preload(modelNames []string) error {
	if len(modelNames) == 0 {
		return nil
	}

	r.logger.Info("Preloading models", zap.Strings("models", modelNames))

	var loaded, failed int
	for _, name := range modelNames {
		if _, err := r.Get(name); err != nil {
			r.logger.Warn("Failed to preload model",
				zap.String("model", name),
				zap.Error(err))
			failed++
		} else {
			r.logger.Info("Preloaded model",
				zap.String("model", name))
			loaded++
		}
	}

	r.logger.Info("Preloading complete",
		zap.Int("loaded", loaded),
		zap.Int("failed", failed))

	if failed > 0 && loaded == 0 {
		return fmt.Errorf("all %d models failed to preload", failed)
	}

	return nil
}

// Close stops the cache and unloads all models (including pinned)
func (r *PipelineRegistry) Close() error {
	r.logger.Info("Closing caption pipeline registry")

	r.cache.Stop()
	r.cache.DeleteAll()

	r.pinnedMu.Lock()
	for name, pipeline := range r.pinned {
		r.logger.Debug("Closing pinned model",
			zap.String("model", name))
		if err := pipeline.Close(); err != nil {
			r.logger.Warn("Error closing pinned pipeline",
				zap.String("model", name),
				zap.Error(err))
		}
	}
	r.pinned = make(map[string]*pipelines.CaptionPipeline)
	r.pinnedMu.Unlock()

	return nil
}

// Stats returns cache statistics
func (r *PipelineRegistry) Stats() map[string]any {
	metrics := r.cache.Metrics()

	r.pinnedMu.RLock()
	pinnedCount := len(r.pinned)
	pinnedNames := make([]string, 0, pinnedCount)
	for name := range r.pinned {
		pinnedNames = append(pinnedNames, name)
	}
	r.pinnedMu.RUnlock()

	return map[string]any{
		"discovered":    len(r.discovered),
		"loaded":        r.cache.Len() + pinnedCount,
		"pinned":        pinnedCount,
		"pinned_models": pinnedNames,
		"cached":        r.cache.Len(),
		"hits":          metrics.Hits,
		"misses":        metrics.Misses,
		"keep_alive":    r.keepAlive.String(),
		"max_loaded":    r.maxLoadedModels,
		"loaded_models": r.ListLoaded(),
	}
}
