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

	"github.com/jfreymuth/pulse"
)

// PulseBackend implements AudioBackend with a native PulseAudio client
type PulseBackend struct {
	mu      sync.Mutex
	appName string
	client  *pulse.Client
}

// NewPulseBackend creates a backend that registers as appName with the server
func NewPulseBackend(appName string) *PulseBackend {
	return &PulseBackend{appName: appName}
}

// Initialize connects to the PulseAudio server
func (p *PulseBackend) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return nil
	}

	client, err := pulse.NewClient(pulse.ClientApplicationName(p.appName))
	if err != nil {
		return fmt.Errorf("failed to connect to PulseAudio: %w", err)
	}

	p.client = client
	return nil
}

// Terminate disconnects from the server
func (p *PulseBackend) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}
	p.client.Close()
	p.client = nil
	return nil
}

// CreateOutputStream creates a corked playback stream fed by the callback
func (p *PulseBackend) CreateOutputStream(params StreamParams) (StreamInterface, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil, fmt.Errorf("PulseAudio not initialized")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var layout pulse.PlaybackOption
	switch params.Channels {
	case 1:
		layout = pulse.PlaybackMono
	case 2:
		layout = pulse.PlaybackStereo
	default:
		return nil, fmt.Errorf("PulseAudio backend supports 1 or 2 channels, got %d", params.Channels)
	}

	reader := newBlockReader(params.Callback, params.BlockLen())
	blockSeconds := float64(params.BufferSize) / params.SampleRate

	stream, err := p.client.NewPlayback(pulse.Float32Reader(reader.ReadFloat32),
		layout,
		pulse.PlaybackSampleRate(int(params.SampleRate)),
		pulse.PlaybackLatency(2*blockSeconds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	ps := &PulseStream{stream: stream}
	reader.status = func() StreamStatus { return ps.underflowEdge(stream) }
	return ps, nil
}

// PulseStream implements StreamInterface with a PulseAudio playback stream
type PulseStream struct {
	mu     sync.Mutex
	stream *pulse.PlaybackStream

	// pulse keeps the underflow flag set until the next Start or Resume;
	// report it once
	underflowReported atomic.Bool
}

// underflowEdge runs on the playback goroutine, possibly inside Start, so it
// must not take mu
func (s *PulseStream) underflowEdge(stream *pulse.PlaybackStream) StreamStatus {
	if stream.Underflow() && s.underflowReported.CompareAndSwap(false, true) {
		return StatusOutputUnderflow
	}
	return 0
}

// Start begins playback of a new stream or uncorks a paused one. pulse
// ignores Start unless idle and Resume unless paused.
func (s *PulseStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return fmt.Errorf("stream is closed")
	}
	s.underflowReported.Store(false)
	s.stream.Start()
	s.stream.Resume()
	return s.stream.Error()
}

// Stop pauses (corks) the stream immediately; Start resumes it
func (s *PulseStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return fmt.Errorf("stream is closed")
	}
	s.stream.Pause()
	return s.stream.Error()
}

// Close releases the stream
func (s *PulseStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}
	s.stream.Close()
	s.stream = nil
	return nil
}

// IsActive reports whether the stream is playing
func (s *PulseStream) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil && s.stream.Running()
}

