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

package backends

import (
	"fmt"
	"strings"
	"sync"
)

// Backend represents an inference backend that can create sessions.
// Backends self-register via init() functions in their respective files.
type Backend interface {
	// Type returns the backend type identifier
	Type() BackendType

	// Name returns a human-readable name (e.g., "ONNX Runtime (CUDA)")
	Name() string

	// Available returns true if this backend can be used in the current
	// environment. This checks for required libraries, hardware, etc.
	Available() bool

	// Priority returns the default priority (lower = higher priority).
	Priority() int

	// SessionFactory returns a factory for creating sessions.
	SessionFactory() SessionFactory
}

var (
	registry   = make(map[BackendType]Backend)
	registryMu sync.RWMutex

	// defaultPriority defines the order to try backends when none is
	// configured explicitly.
	defaultPriority = []BackendType{BackendONNX}
	configPriority  []BackendType
	priorityMu      sync.RWMutex

	gpuMode   GPUMode
	gpuModeMu sync.RWMutex
)

// SetGPUMode overrides GPU detection for sessions created by any backend.
// Call before creating sessions to take effect.
func SetGPUMode(mode GPUMode) {
	gpuModeMu.Lock()
	defer gpuModeMu.Unlock()
	gpuMode = mode
}

// GetGPUMode returns the configured GPU mode (GPUModeAuto when unset).
func GetGPUMode() GPUMode {
	gpuModeMu.RLock()
	defer gpuModeMu.RUnlock()
	if gpuMode == "" {
		return GPUModeAuto
	}
	return gpuMode
}

// RegisterBackend registers a backend. Called by backend implementations in init().
// Thread-safe. Later registrations for the same type overwrite earlier ones.
func RegisterBackend(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b.Type()] = b
}

// GetBackend returns the backend for the given type, if registered.
func GetBackend(t BackendType) (Backend, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[t]
	return b, ok
}

// SetPriority sets the backend selection priority order.
// Call before creating any sessions to take effect.
func SetPriority(order []BackendType) {
	priorityMu.Lock()
	defer priorityMu.Unlock()
	configPriority = make([]BackendType, len(order))
	copy(configPriority, order)
}

// GetPriority returns the current backend priority order.
// Returns the configured priority if set, otherwise the default.
func GetPriority() []BackendType {
	priorityMu.RLock()
	defer priorityMu.RUnlock()
	if len(configPriority) > 0 {
		result := make([]BackendType, len(configPriority))
		copy(result, configPriority)
		return result
	}
	result := make([]BackendType, len(defaultPriority))
	copy(result, defaultPriority)
	return result
}

// GetDefaultBackend returns the first available backend according to the
// priority order. Returns nil if no backends are available.
func GetDefaultBackend() Backend {
	priority := GetPriority()

	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, t := range priority {
		if b, ok := registry[t]; ok && b.Available() {
			return b
		}
	}

	// Fallback: any available backend
	for _, b := range registry {
		if b.Available() {
			return b
		}
	}

	return nil
}

// GetSessionFactory returns a session factory, honoring the configured
// backend priority. Returns an error when no backend is available (for
// example a binary built without -tags="onnx,ORT").
func GetSessionFactory(preferred []string) (SessionFactory, BackendType, error) {
	if len(preferred) > 0 {
		order := make([]BackendType, 0, len(preferred))
		for _, s := range preferred {
			t, err := ParseBackendType(s)
			if err != nil {
				return nil, "", err
			}
			order = append(order, t)
		}
		SetPriority(order)
	}

	b := GetDefaultBackend()
	if b == nil {
		return nil, "", fmt.Errorf("no inference backends available (build with -tags=\"onnx,ORT\")")
	}
	return b.SessionFactory(), b.Type(), nil
}

// ParseBackendType parses a string into BackendType.
// Returns an error for unrecognized values.
func ParseBackendType(s string) (BackendType, error) {
	switch strings.ToLower(s) {
	case "onnx":
		return BackendONNX, nil
	default:
		return "", fmt.Errorf("unknown backend type: %q (valid: onnx)", s)
	}
}

// ParseDeviceType parses a string into DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return DeviceAuto, nil
	case "cuda", "gpu":
		return DeviceCUDA, nil
	case "cpu":
		return DeviceCPU, nil
	default:
		return "", fmt.Errorf("unknown device type: %q (valid: auto, cuda, cpu)", s)
	}
}
