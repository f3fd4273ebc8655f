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
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/antflydb/captioner/pkg/captioner/lib/backends"
)

// newTestNode builds a node backed by a registry over modelsDir. An empty
// modelsDir means no models are discovered.
func newTestNode(t *testing.T, modelsDir string) *CaptionerNode {
	t.Helper()

	registry, err := NewPipelineRegistry(PipelineRegistryConfig{
		ModelsDir:  modelsDir,
		Generation: backends.DefaultGenerationConfig(),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	cache := NewCaptionCache(zap.NewNop())
	t.Cleanup(cache.Close)

	return &CaptionerNode{
		logger:            zap.NewNop(),
		registry:          registry,
		cache:             cache,
		defaultGeneration: backends.DefaultGenerationConfig(),
	}
}

// writeFakeModelDir creates a directory that passes caption model discovery.
func writeFakeModelDir(t *testing.T, modelsDir, name string) {
	t.Helper()
	dir := filepath.Join(modelsDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, f := range []string{"config.json", "encoder.onnx", "decoder.onnx"} {
		content := "onnx"
		if f == "config.json" {
			content = `{"vocab_size": 10, "eos_token_id": 3}`
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(content), 0o644))
	}
}

func TestDecodeImagePayload(t *testing.T) {
	raw := []byte("fake image bytes")
	encoded := base64.StdEncoding.EncodeToString(raw)

	t.Run("PlainBase64", func(t *testing.T) {
		data, err := decodeImagePayload(encoded)
		require.NoError(t, err)
		assert.Equal(t, raw, data)
	})

	t.Run("DataURI", func(t *testing.T) {
		data, err := decodeImagePayload("data:image/png;base64," + encoded)
		require.NoError(t, err)
		assert.Equal(t, raw, data)
	})

	t.Run("DataURIWithoutBase64Marker", func(t *testing.T) {
		_, err := decodeImagePayload("data:image/png,notbase64")
		assert.Error(t, err)
	})

	t.Run("InvalidBase64", func(t *testing.T) {
		_, err := decodeImagePayload("%%%not-base64%%%")
		assert.Error(t, err)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := decodeImagePayload("")
		assert.Error(t, err)
	})
}

func TestHandleApiCaption_Validation(t *testing.T) {
	node := newTestNode(t, t.TempDir())
	validImage := base64.StdEncoding.EncodeToString([]byte("bytes"))

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "invalid JSON",
			body:     `{invalid}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "decoding request",
		},
		{
			name:     "missing model",
			body:     `{"image": "` + validImage + `"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "model is required",
		},
		{
			name:     "missing image",
			body:     `{"model": "vit-gpt2"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "image is required",
		},
		{
			name:     "bad image encoding",
			body:     `{"model": "vit-gpt2", "image": "!!!"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid image",
		},
		{
			name:     "unknown model",
			body:     `{"model": "nope", "image": "` + validImage + `"}`,
			wantCode: http.StatusNotFound,
			wantErr:  "model not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/caption", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			node.handleApiCaption(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantErr)
		})
	}
}

func TestHandleApiModels(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		node := newTestNode(t, t.TempDir())

		req := httptest.NewRequest("GET", "/api/models", nil)
		w := httptest.NewRecorder()
		node.handleApiModels(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp ModelsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Captioners)
		assert.Empty(t, resp.Loaded)
	})

	t.Run("Discovered", func(t *testing.T) {
		modelsDir := t.TempDir()
		writeFakeModelDir(t, modelsDir, "vit-gpt2")
		node := newTestNode(t, modelsDir)

		req := httptest.NewRequest("GET", "/api/models", nil)
		w := httptest.NewRecorder()
		node.handleApiModels(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp ModelsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, []string{"vit-gpt2"}, resp.Captioners)
		assert.Empty(t, resp.Loaded)
	})
}

func TestHandleApiVersion(t *testing.T) {
	node := newTestNode(t, t.TempDir())

	req := httptest.NewRequest("GET", "/api/version", nil)
	w := httptest.NewRecorder()
	node.handleApiVersion(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp VersionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, Version, resp.Version)
	assert.NotEmpty(t, resp.GoVersion)
}

func TestHandleHealthz(t *testing.T) {
	node := newTestNode(t, t.TempDir())

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	node.handleHealthz(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestHandleReadyz(t *testing.T) {
	t.Run("NotReadyWithoutModels", func(t *testing.T) {
		node := newTestNode(t, t.TempDir())

		req := httptest.NewRequest("GET", "/readyz", nil)
		w := httptest.NewRecorder()
		node.handleReadyz(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "not_ready")
	})

	t.Run("ReadyWithModels", func(t *testing.T) {
		modelsDir := t.TempDir()
		writeFakeModelDir(t, modelsDir, "vit-gpt2")
		node := newTestNode(t, modelsDir)

		req := httptest.NewRequest("GET", "/readyz", nil)
		w := httptest.NewRecorder()
		node.handleReadyz(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"ready"`)
	})
}

func TestCorsMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("PreflightShortCircuits", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/caption", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("PassesThrough", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
