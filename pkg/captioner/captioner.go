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
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/antflydb/captioner/pkg/captioner/lib/backends"
)

// Config holds the captioner node configuration.
type Config struct {
	// ApiUrl is the address the HTTP API listens on (e.g., "http://0.0.0.0:11435").
	ApiUrl string `mapstructure:"api_url" json:"api_url"`

	// ModelsDir is the directory containing caption model subdirectories.
	ModelsDir string `mapstructure:"models_dir" json:"models_dir"`

	// Backends is the preferred inference backend order (e.g., ["onnx"]).
	Backends []string `mapstructure:"backends" json:"backends,omitempty"`

	// Gpu selects the GPU mode: "auto", "cuda", or "cpu".
	Gpu string `mapstructure:"gpu" json:"gpu,omitempty"`

	// KeepAlive is how long to keep idle models loaded (e.g., "5m", "0" = forever).
	KeepAlive string `mapstructure:"keep_alive" json:"keep_alive,omitempty"`

	// MaxLoadedModels limits models held in memory (0 = unlimited).
	MaxLoadedModels int `mapstructure:"max_loaded_models" json:"max_loaded_models,omitempty"`

	// Preload lists models to load at startup.
	Preload []string `mapstructure:"preload" json:"preload,omitempty"`

	// PinnedModels lists models that are never evicted.
	PinnedModels []string `mapstructure:"pinned_models" json:"pinned_models,omitempty"`

	// BeamWidth is the default number of beams per request.
	BeamWidth int `mapstructure:"beam_width" json:"beam_width,omitempty"`

	// MaxSteps is the default decoding step budget per request.
	MaxSteps int `mapstructure:"max_steps" json:"max_steps,omitempty"`

	// Diagnostics enables per-step beam logging.
	Diagnostics bool `mapstructure:"diagnostics" json:"diagnostics,omitempty"`
}

// CaptionerNode serves caption requests over HTTP.
type CaptionerNode struct {
	logger *zap.Logger

	registry *PipelineRegistry
	cache    *CaptionCache

	defaultGeneration *backends.GenerationConfig
}

// corsMiddleware adds permissive CORS headers for the captioner API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// RunAsCaptioner runs the caption server until the context is cancelled.
// If readyC is non-nil, it will be closed when the server is ready to accept requests.
func RunAsCaptioner(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) {
	zl = zl.Named("captioner")
	zl.Info("Starting captioner node", zap.Any("config", config))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	// Configure GPU mode before any session is created
	if config.Gpu != "" {
		backends.SetGPUMode(backends.DeviceType(config.Gpu).ToGPUMode())
		zl.Info("GPU mode configured", zap.String("mode", config.Gpu))
	}

	// Parse keep_alive duration
	var keepAlive time.Duration
	if config.KeepAlive != "" && config.KeepAlive != "0" {
		keepAlive, err = time.ParseDuration(config.KeepAlive)
		if err != nil {
			zl.Fatal("Invalid keep_alive duration", zap.String("keep_alive", config.KeepAlive), zap.Error(err))
		}
		zl.Info("Lazy unloading enabled",
			zap.Duration("keep_alive", keepAlive),
			zap.Int("max_loaded_models", config.MaxLoadedModels))
	}

	genConfig := backends.DefaultGenerationConfig()
	if config.BeamWidth > 0 {
		genConfig.BeamWidth = config.BeamWidth
	}
	if config.MaxSteps > 0 {
		genConfig.MaxSteps = config.MaxSteps
	}
	genConfig.Diagnostics = config.Diagnostics

	registry, err := NewPipelineRegistry(PipelineRegistryConfig{
		ModelsDir:       config.ModelsDir,
		ModelBackends:   config.Backends,
		Generation:      genConfig,
		KeepAlive:       keepAlive,
		MaxLoadedModels: uint64(config.MaxLoadedModels),
	}, zl.Named("registry"))
	if err != nil {
		zl.Fatal("Failed to initialize caption model registry", zap.Error(err))
	}
	defer func() { _ = registry.Close() }()

	// Pin models that should never be evicted
	for _, modelName := range config.PinnedModels {
		if err := registry.Pin(modelName); err != nil {
			zl.Warn("Failed to pin model",
				zap.String("model", modelName),
				zap.Error(err))
		}
	}

	// Preload specified models at startup
	if len(config.Preload) > 0 {
		if err := registry.Preload(config.Preload); err != nil {
			zl.Warn("Some models failed to preload", zap.Error(err))
		}
	}

	captionCache := NewCaptionCache(zl.Named("caption-cache"))
	defer captionCache.Close()

	node := &CaptionerNode{
		logger:            zl,
		registry:          registry,
		cache:             captionCache,
		defaultGeneration: genConfig,
	}

	// Root mux with health endpoints and the caption API
	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", node.handleHealthz)
	rootMux.HandleFunc("GET /readyz", node.handleReadyz)
	node.registerAPIRoutes(rootMux)

	srv := &http.Server{
		Addr:        u.Host,
		Handler:     corsMiddleware(rootMux),
		ReadTimeout: 540 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("Captioner's api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Signal readiness after server starts
	if readyC != nil {
		close(readyC)
	}

	// Wait for context cancellation or server error
	select {
	case err := <-serverErr:
		if err != nil {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	srv.SetKeepAlivesEnabled(false)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
}
