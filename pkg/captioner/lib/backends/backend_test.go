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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackendType(t *testing.T) {
	bt, err := ParseBackendType("onnx")
	require.NoError(t, err)
	assert.Equal(t, BackendONNX, bt)

	bt, err = ParseBackendType("ONNX")
	require.NoError(t, err)
	assert.Equal(t, BackendONNX, bt)

	_, err = ParseBackendType("tensorrt")
	assert.Error(t, err)
}

func TestParseDeviceType(t *testing.T) {
	for input, want := range map[string]DeviceType{
		"":     DeviceAuto,
		"auto": DeviceAuto,
		"cuda": DeviceCUDA,
		"gpu":  DeviceCUDA,
		"CPU":  DeviceCPU,
	} {
		got, err := ParseDeviceType(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseDeviceType("tpu")
	assert.Error(t, err)
}

func TestDeviceTypeToGPUMode(t *testing.T) {
	assert.Equal(t, GPUModeCuda, DeviceCUDA.ToGPUMode())
	assert.Equal(t, GPUModeOff, DeviceCPU.ToGPUMode())
	assert.Equal(t, GPUModeAuto, DeviceAuto.ToGPUMode())
	assert.Equal(t, GPUModeAuto, DeviceType("").ToGPUMode())
}

func TestGPUMode(t *testing.T) {
	t.Cleanup(func() { SetGPUMode("") })

	assert.Equal(t, GPUModeAuto, GetGPUMode())

	SetGPUMode(GPUModeCuda)
	assert.Equal(t, GPUModeCuda, GetGPUMode())

	SetGPUMode(GPUModeOff)
	assert.Equal(t, GPUModeOff, GetGPUMode())
}

func TestPriority(t *testing.T) {
	t.Cleanup(func() { SetPriority(nil) })

	assert.Equal(t, []BackendType{BackendONNX}, GetPriority())

	SetPriority([]BackendType{BackendONNX})
	assert.Equal(t, []BackendType{BackendONNX}, GetPriority())
}

func TestGetSessionFactory_UnknownBackend(t *testing.T) {
	t.Cleanup(func() { SetPriority(nil) })

	_, _, err := GetSessionFactory([]string{"bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}
