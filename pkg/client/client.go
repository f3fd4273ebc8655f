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

// Package client provides a Go SDK client for the Captioner API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// CaptionRequest is the request body for the caption endpoint.
type CaptionRequest struct {
	Model     string `json:"model"`
	Image     string `json:"image"`
	BeamWidth int    `json:"beam_width,omitempty"`
	MaxSteps  int    `json:"max_steps,omitempty"`
}

// CaptionResponse is the response body for the caption endpoint.
type CaptionResponse struct {
	Model      string  `json:"model"`
	Caption    string  `json:"caption"`
	Score      float64 `json:"score"`
	TokenCount int     `json:"token_count"`
	Completed  bool    `json:"completed"`
	Steps      int     `json:"steps"`
}

// ModelsResponse lists discovered and loaded caption models.
type ModelsResponse struct {
	Captioners []string `json:"captioners"`
	Loaded     []string `json:"loaded"`
}

// VersionResponse reports server build information.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// CaptionOptions overrides server generation defaults for a single request.
// Zero values keep the server's configuration.
type CaptionOptions struct {
	BeamWidth int
	MaxSteps  int
}

// CaptionerClient is a client for interacting with the Captioner API.
type CaptionerClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewCaptionerClient creates a new Captioner client.
// The baseURL should be the server address (e.g., "http://localhost:11435").
// The /api prefix is automatically appended.
func NewCaptionerClient(baseURL string, httpClient *http.Client) *CaptionerClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CaptionerClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/") + "/api",
	}
}

// Caption generates a caption for raw image bytes (JPEG, PNG, GIF, BMP,
// TIFF, or WebP).
func (c *CaptionerClient) Caption(ctx context.Context, model string, image []byte, opts *CaptionOptions) (*CaptionResponse, error) {
	req := CaptionRequest{
		Model: model,
		Image: base64.StdEncoding.EncodeToString(image),
	}
	if opts != nil {
		req.BeamWidth = opts.BeamWidth
		req.MaxSteps = opts.MaxSteps
	}

	var resp CaptionResponse
	if err := c.post(ctx, "/caption", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CaptionDataURI generates a caption for an image provided as a base64 data
// URI ("data:image/png;base64,...").
func (c *CaptionerClient) CaptionDataURI(ctx context.Context, model, dataURI string, opts *CaptionOptions) (*CaptionResponse, error) {
	req := CaptionRequest{
		Model: model,
		Image: dataURI,
	}
	if opts != nil {
		req.BeamWidth = opts.BeamWidth
		req.MaxSteps = opts.MaxSteps
	}

	var resp CaptionResponse
	if err := c.post(ctx, "/caption", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListModels returns the models discovered and loaded by the server.
func (c *CaptionerClient) ListModels(ctx context.Context) (*ModelsResponse, error) {
	var resp ModelsResponse
	if err := c.get(ctx, "/models", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetVersion returns server build information.
func (c *CaptionerClient) GetVersion(ctx context.Context) (*VersionResponse, error) {
	var resp VersionResponse
	if err := c.get(ctx, "/version", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *CaptionerClient) post(ctx context.Context, path string, body, out any) error {
	data, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *CaptionerClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

func (c *CaptionerClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// APIError is a non-200 response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("captioner api error (status %d): %s", e.StatusCode, e.Message)
}
