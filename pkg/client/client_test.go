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

package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaption(t *testing.T) {
	image := []byte("fake image bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/caption", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CaptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "vit-gpt2", req.Model)
		assert.Equal(t, base64.StdEncoding.EncodeToString(image), req.Image)
		assert.Equal(t, 5, req.BeamWidth)
		assert.Zero(t, req.MaxSteps)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(CaptionResponse{
			Model:      req.Model,
			Caption:    "a cat sitting on a couch",
			Score:      2.31,
			TokenCount: 7,
			Completed:  true,
			Steps:      8,
		})
	}))
	defer server.Close()

	c := NewCaptionerClient(server.URL, nil)
	resp, err := c.Caption(context.Background(), "vit-gpt2", image, &CaptionOptions{BeamWidth: 5})
	require.NoError(t, err)

	assert.Equal(t, "a cat sitting on a couch", resp.Caption)
	assert.Equal(t, 7, resp.TokenCount)
	assert.True(t, resp.Completed)
}

func TestCaptionDataURI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CaptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Image, "data:image/png;base64,")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(CaptionResponse{Caption: "ok"})
	}))
	defer server.Close()

	c := NewCaptionerClient(server.URL, nil)
	resp, err := c.CaptionDataURI(context.Background(), "m", "data:image/png;base64,aGk=", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Caption)
}

func TestCaption_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found: nope", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewCaptionerClient(server.URL, nil)
	_, err := c.Caption(context.Background(), "nope", []byte("x"), nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "model not found")
}

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/models", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ModelsResponse{
			Captioners: []string{"vit-gpt2", "blip-base"},
			Loaded:     []string{"vit-gpt2"},
		})
	}))
	defer server.Close()

	c := NewCaptionerClient(server.URL, nil)
	resp, err := c.ListModels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"vit-gpt2", "blip-base"}, resp.Captioners)
	assert.Equal(t, []string{"vit-gpt2"}, resp.Loaded)
}

func TestGetVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/version", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(VersionResponse{Version: "1.2.3", GoVersion: "go1.25"})
	}))
	defer server.Close()

	c := NewCaptionerClient(server.URL, nil)
	resp, err := c.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestBaseURLTrailingSlash(t *testing.T) {
	c := NewCaptionerClient("http://localhost:11435/", nil)
	assert.Equal(t, "http://localhost:11435/api", c.baseURL)
}
