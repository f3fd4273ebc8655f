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
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/antflydb/captioner/pkg/captioner/lib/pipelines"
)

// CaptionRequest is the request body for POST /api/caption.
type CaptionRequest struct {
	// Model is the caption model name (a subdirectory of models_dir).
	Model string `json:"model"`

	// Image is the base64-encoded image (JPEG, PNG, GIF, BMP, TIFF, or WebP).
	// Data URIs ("data:image/png;base64,...") are also accepted.
	Image string `json:"image"`

	// BeamWidth overrides the server's default beam width when positive.
	BeamWidth int `json:"beam_width,omitempty"`

	// MaxSteps overrides the server's default step budget when positive.
	MaxSteps int `json:"max_steps,omitempty"`
}

// CaptionResponse is the response body for POST /api/caption.
type CaptionResponse struct {
	Model      string  `json:"model"`
	Caption    string  `json:"caption"`
	Score      float64 `json:"score"`
	TokenCount int     `json:"token_count"`
	Completed  bool    `json:"completed"`
	Steps      int     `json:"steps"`
}

// ModelsResponse is the response body for GET /api/models.
type ModelsResponse struct {
	Captioners []string `json:"captioners"`
	Loaded     []string `json:"loaded"`
}

// VersionResponse is the response body for GET /api/version.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// registerAPIRoutes mounts the caption API on the given mux.
func (cn *CaptionerNode) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/caption", cn.handleApiCaption)
	mux.HandleFunc("GET /api/models", cn.handleApiModels)
	mux.HandleFunc("GET /api/version", cn.handleApiVersion)
	mux.HandleFunc("GET /api/stats", cn.handleApiStats)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// handleApiCaption generates a caption for a single image.
func (cn *CaptionerNode) handleApiCaption(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	start := time.Now()

	var req CaptionRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}
	if req.Image == "" {
		http.Error(w, "image is required", http.StatusBadRequest)
		return
	}

	imageData, err := decodeImagePayload(req.Image)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid image: %v", err), http.StatusBadRequest)
		return
	}

	pipeline, err := cn.registry.Get(req.Model)
	if err != nil {
		http.Error(w, fmt.Sprintf("model not found: %s", req.Model), http.StatusNotFound)
		return
	}

	RecordCaptionRequest(req.Model)

	// Per-request generation overrides bypass the shared pipeline config
	if req.BeamWidth > 0 || req.MaxSteps > 0 {
		genConfig := *cn.defaultGeneration
		if req.BeamWidth > 0 {
			genConfig.BeamWidth = req.BeamWidth
		}
		if req.MaxSteps > 0 {
			genConfig.MaxSteps = req.MaxSteps
		}
		pipeline = pipeline.WithGeneration(&genConfig)
	}

	result, err := cn.cache.Caption(r.Context(), req.Model, pipeline, imageData)
	if err != nil {
		cn.logger.Error("failed to generate caption",
			zap.String("model", req.Model),
			zap.Error(err))
		status := http.StatusInternalServerError
		if isInvalidConfigError(err) {
			status = http.StatusBadRequest
		}
		RecordRequestDuration("caption", req.Model, fmt.Sprint(status), time.Since(start).Seconds())
		http.Error(w, fmt.Sprintf("generating caption: %v", err), status)
		return
	}

	RecordTokenGeneration(req.Model, result.TokenCount)
	RecordBeamCompletion(req.Model, result.Completed)
	RecordRequestDuration("caption", req.Model, "200", time.Since(start).Seconds())

	resp := CaptionResponse{
		Model:      req.Model,
		Caption:    result.Text,
		Score:      result.Score,
		TokenCount: result.TokenCount,
		Completed:  result.Completed,
		Steps:      result.Steps,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		cn.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleApiModels lists discovered and loaded caption models.
func (cn *CaptionerNode) handleApiModels(w http.ResponseWriter, r *http.Request) {
	resp := ModelsResponse{
		Captioners: []string{},
		Loaded:     []string{},
	}

	if cn.registry != nil {
		resp.Captioners = cn.registry.List()
		resp.Loaded = cn.registry.ListLoaded()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		cn.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleApiVersion reports build information.
func (cn *CaptionerNode) handleApiVersion(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		cn.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleApiStats reports registry and cache statistics.
func (cn *CaptionerNode) handleApiStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"registry": cn.registry.Stats(),
		"cache":    cn.cache.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := encoder.NewStreamEncoder(w).Encode(resp); err != nil {
		cn.logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// decodeImagePayload decodes a base64 image field, stripping a data URI
// prefix when present.
func decodeImagePayload(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, "base64,")
		if idx < 0 {
			return nil, fmt.Errorf("data URI missing base64 payload")
		}
		payload = payload[idx+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	return data, nil
}

// isInvalidConfigError reports whether the error is a generation config
// validation failure, which callers can correct.
func isInvalidConfigError(err error) bool {
	return errors.Is(err, pipelines.ErrInvalidBeamWidth) || errors.Is(err, pipelines.ErrInvalidMaxSteps)
}
