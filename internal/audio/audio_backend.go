/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"fmt"
	"strings"
)

// AudioBackend provides an abstraction layer over the platform audio output.
// This enables dependency injection and makes testing hardware-independent
type AudioBackend interface {
	// Initialize the audio subsystem
	Initialize() error

	// Terminate the audio subsystem
	Terminate() error

	// CreateOutputStream opens an output stream that pulls fixed-size blocks
	// from params.Callback on the backend's own audio thread
	CreateOutputStream(params StreamParams) (StreamInterface, error)
}

// StreamInterface abstracts audio stream operations
type StreamInterface interface {
	// Start the audio stream
	Start() error

	// Stop the audio stream without releasing it
	Stop() error

	// Close the audio stream and release resources
	Close() error

	// IsActive returns true if the stream is currently running
	IsActive() bool
}

// StreamStatus carries per-block conditions reported by the device
type StreamStatus uint32

const (
	// StatusOutputUnderflow means the device ran dry before this block
	StatusOutputUnderflow StreamStatus = 1 << iota
	// StatusPriming means the block is being generated to prime the device
	StatusPriming
)

// Underflow reports whether the device flagged an output underflow
func (s StreamStatus) Underflow() bool {
	return s&StatusOutputUnderflow != 0
}

// StreamCallback fills out with the next block. It runs on the real-time
// audio thread and must not block or allocate.
type StreamCallback func(out []float32, status StreamStatus)

// StreamParams holds parameters for stream creation
type StreamParams struct {
	SampleRate float64
	Channels   int
	BufferSize int // frames per callback
	Callback   StreamCallback
}

// Validate checks the parameters before a device is touched
func (p StreamParams) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %v", p.SampleRate)
	}
	if p.Channels < 1 {
		return fmt.Errorf("invalid channel count: %d", p.Channels)
	}
	if p.BufferSize < 1 {
		return fmt.Errorf("invalid buffer size: %d", p.BufferSize)
	}
	if p.Callback == nil {
		return fmt.Errorf("stream callback is nil")
	}
	return nil
}

// BlockLen is the number of float32 values in one interleaved block
func (p StreamParams) BlockLen() int {
	return p.BufferSize * p.Channels
}

// Backend names accepted by NewBackend
const (
	BackendPortAudio = "portaudio"
	BackendOto       = "oto"
	BackendPulse     = "pulse"
	BackendMock      = "mock"
)

// NewBackend returns the named backend
func NewBackend(name string) (AudioBackend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case BackendPortAudio, "":
		return NewPortAudioBackend(), nil
	case BackendOto:
		return NewOtoBackend(), nil
	case BackendPulse:
		return NewPulseBackend("loqa-synth"), nil
	case BackendMock:
		// a playable mock: blocks are pulled at the device rate and not kept
		mock := NewMockAudioBackend()
		mock.SetSimulateRealTiming(true)
		mock.SetRecordPlayback(false)
		return mock, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", name)
	}
}
