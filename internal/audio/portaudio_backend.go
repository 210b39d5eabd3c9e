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
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend implements AudioBackend using the real PortAudio library
type PortAudioBackend struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioBackend creates a new PortAudio backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// Initialize initializes the PortAudio subsystem
func (p *PortAudioBackend) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	err := portaudio.Terminate()
	p.initialized = false
	return err
}

// CreateOutputStream opens the default output device in callback mode
func (p *PortAudioBackend) CreateOutputStream(params StreamParams) (StreamInterface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("PortAudio not initialized")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s := &PortAudioStream{callback: params.Callback}

	stream, err := portaudio.OpenDefaultStream(
		0,               // input channels (none for output stream)
		params.Channels, // output channels
		params.SampleRate,
		params.BufferSize,
		s.process,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	s.stream = stream
	return s, nil
}

// PortAudioStream implements StreamInterface using a PortAudio callback stream
type PortAudioStream struct {
	stream   *portaudio.Stream
	callback StreamCallback
	active   atomic.Bool
}

// process runs on the PortAudio callback thread
func (p *PortAudioStream) process(out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	p.callback(out, statusFromFlags(flags))
}

func statusFromFlags(flags portaudio.StreamCallbackFlags) StreamStatus {
	var status StreamStatus
	if flags&portaudio.OutputUnderflow != 0 {
		status |= StatusOutputUnderflow
	}
	if flags&portaudio.PrimingOutput != 0 {
		status |= StatusPriming
	}
	return status
}

// Start starts the audio stream
func (p *PortAudioStream) Start() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if err := p.stream.Start(); err != nil {
		return err
	}
	p.active.Store(true)
	return nil
}

// Stop stops the audio stream
func (p *PortAudioStream) Stop() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if err := p.stream.Stop(); err != nil {
		return err
	}
	p.active.Store(false)
	return nil
}

// Close closes the audio stream
func (p *PortAudioStream) Close() error {
	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	p.active.Store(false)
	return p.stream.Close()
}

// IsActive returns true between a successful Start and the next Stop
func (p *PortAudioStream) IsActive() bool {
	if p.stream == nil {
		return false
	}
	return p.active.Load()
}
