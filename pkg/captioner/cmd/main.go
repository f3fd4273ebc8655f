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

// Command captioner runs the Captioner inference service.
//
// Captioner generates image captions with vision-encoder-decoder ONNX models
// using beam-search decoding. It can run as a standalone service or caption
// images directly from the command line.
//
// Usage:
//
//	captioner run                            # Start the server
//	captioner list                           # List local models
//	captioner caption --model <m> <image>    # Caption an image
package main

import (
	"io"
	"runtime"

	json "github.com/antflydb/antfly-go/libaf/json"
	"github.com/antflydb/captioner/pkg/captioner/cmd/cmd"
	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
)

func init() {
	// Configure the JSON wrapper to use bytedance/sonic for performance
	json.SetConfig(json.Config{
		Marshal:         sonic.Marshal,
		Unmarshal:       sonic.Unmarshal,
		MarshalString:   sonic.MarshalString,
		UnmarshalString: sonic.UnmarshalString,
		NewEncoder: func(w io.Writer) json.Encoder {
			return encoder.NewStreamEncoder(w)
		},
		NewDecoder: func(r io.Reader) json.Decoder {
			return decoder.NewStreamDecoder(r)
		},
	})
}

// https://goreleaser.com/cookbooks/using-main.version/
//
// By default, GoReleaser will set the following 3 ldflags:
//
// main.version: Current Git tag (the v prefix is stripped) or the name of the snapshot, if you're using the --snapshot flag
var version = "dev"

// main.commit: Current git commit SHA
// commit = "none"
// main.date: Date in the RFC3339 format
// date = "unknown"

func main() {
	runtime.SetMutexProfileFraction(1) // Enable mutex profiling
	runtime.SetBlockProfileRate(1)     // Sample every blocking event
	cmd.Version = version
	cmd.Execute()
}
