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
	"time"
)

// MockAudioBackend implements AudioBackend for testing without hardware dependencies
type MockAudioBackend struct {
	mu                 sync.Mutex
	initialized        bool
	streams            map[string]*MockStream
	lastStream         *MockStream
	streamCounter      int
	initError          error
	terminateError     error
	createStreamError  error
	simulateRealTiming bool
	recordPlayback     bool
	playbackAudioData  [][]float32
}

// NewMockAudioBackend creates a new mock audio backend. Blocks are rendered
// only through MockStream.Pump unless real timing is enabled.
func NewMockAudioBackend() *MockAudioBackend {
	return &MockAudioBackend{
		streams:           make(map[string]*MockStream),
		recordPlayback:    true,
		playbackAudioData: make([][]float32, 0),
	}
}

// SetInitError configures the backend to return an error on Initialize()
func (m *MockAudioBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetTerminateError configures the backend to return an error on Terminate()
func (m *MockAudioBackend) SetTerminateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminateError = err
}

// SetCreateStreamError configures the backend to return an error on stream creation
func (m *MockAudioBackend) SetCreateStreamError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createStreamError = err
}

// SetSimulateRealTiming makes started streams pull blocks on a ticker at the
// block rate, like a device would
func (m *MockAudioBackend) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateRealTiming = simulate
}

// SetRecordPlayback controls whether rendered blocks are kept for inspection
func (m *MockAudioBackend) SetRecordPlayback(record bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordPlayback = record
}

// GetPlaybackAudioData returns all audio data that was "played back"
func (m *MockAudioBackend) GetPlaybackAudioData() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]float32, len(m.playbackAudioData))
	copy(result, m.playbackAudioData)
	return result
}

// IsInitialized reports whether Initialize succeeded and Terminate has not run
func (m *MockAudioBackend) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// OpenStreams returns the number of streams not yet closed
func (m *MockAudioBackend) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// LastStream returns the most recently created stream, or nil
func (m *MockAudioBackend) LastStream() *MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStream
}

// Initialize initializes the mock audio subsystem
func (m *MockAudioBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initError != nil {
		return m.initError
	}

	m.initialized = true
	return nil
}

// Terminate terminates the mock audio subsystem
func (m *MockAudioBackend) Terminate() error {
	m.mu.Lock()

	if m.terminateError != nil {
		m.mu.Unlock()
		return m.terminateError
	}

	var streams []*MockStream
	for _, stream := range m.streams {
		streams = append(streams, stream)
	}

	// Release the lock before calling Stop/Close to avoid deadlocks
	m.mu.Unlock()

	for _, stream := range streams {
		_ = stream.Stop()  // Ignore errors during cleanup
		_ = stream.Close() // Ignore errors during cleanup
	}

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()
	return nil
}

// CreateOutputStream creates a mock output stream
func (m *MockAudioBackend) CreateOutputStream(params StreamParams) (StreamInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("mock audio backend not initialized")
	}

	if m.createStreamError != nil {
		return nil, m.createStreamError
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	streamID := fmt.Sprintf("output_%d", m.streamCounter)
	m.streamCounter++

	stream := &MockStream{
		id:                 streamID,
		backend:            m,
		params:             params,
		buffer:             make([]float32, params.BlockLen()),
		isOpen:             true,
		simulateRealTiming: m.simulateRealTiming,
	}

	m.streams[streamID] = stream
	m.lastStream = stream
	return stream, nil
}

func (m *MockAudioBackend) record(block []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.recordPlayback {
		return
	}
	dataCopy := make([]float32, len(block))
	copy(dataCopy, block)
	m.playbackAudioData = append(m.playbackAudioData, dataCopy)
}

// MockStream implements StreamInterface for testing
type MockStream struct {
	mu                 sync.Mutex
	renderMu           sync.Mutex // serializes callbacks like a single audio thread
	id                 string
	backend            *MockAudioBackend
	params             StreamParams
	buffer             []float32
	isOpen             bool
	isActive           bool
	simulateRealTiming bool
	nextStatus         StreamStatus
	run                uint64        // incremented by every Start
	done               chan struct{} // closed when the current run ends
	startError         error
	stopError          error
	closeError         error
}

// Params returns the parameters the stream was created with
func (m *MockStream) Params() StreamParams {
	return m.params
}

// SetStartError configures the stream to return an error on Start()
func (m *MockStream) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = err
}

// SetStopError configures the stream to return an error on Stop()
func (m *MockStream) SetStopError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopError = err
}

// SetCloseError configures the stream to return an error on Close()
func (m *MockStream) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeError = err
}

// SetNextStatus attaches status flags to the next rendered block only
func (m *MockStream) SetNextStatus(status StreamStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextStatus = status
}

// Start starts the mock stream
func (m *MockStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startError != nil {
		return m.startError
	}

	if !m.isOpen {
		return fmt.Errorf("stream not open")
	}

	if m.isActive {
		return fmt.Errorf("stream already active")
	}

	m.isActive = true
	m.run++

	if m.simulateRealTiming {
		m.done = make(chan struct{})
		go m.simulateDevice(m.run, m.done)
	}

	return nil
}

// Stop stops the mock stream
func (m *MockStream) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopError != nil {
		return m.stopError
	}

	if !m.isActive {
		return nil
	}

	m.isActive = false
	m.endRun()

	return nil
}

// Close closes the mock stream
func (m *MockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closeError != nil {
		return m.closeError
	}

	if !m.isOpen {
		return nil // Already closed
	}

	m.isOpen = false
	m.isActive = false
	m.endRun()

	// Remove from backend - use a separate goroutine to avoid deadlock
	go func() {
		m.backend.mu.Lock()
		delete(m.backend.streams, m.id)
		m.backend.mu.Unlock()
	}()

	return nil
}

// IsActive returns true if the mock stream is active
func (m *MockStream) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isActive
}

// Pump synchronously invokes the callback for up to blocks blocks, as the
// device thread would, and returns how many were rendered. An inactive stream
// renders nothing.
func (m *MockStream) Pump(blocks int) int {
	rendered := 0
	for i := 0; i < blocks; i++ {
		if !m.renderOne(0) {
			break
		}
		rendered++
	}
	return rendered
}

// LastBlock returns a copy of the most recently rendered block
func (m *MockStream) LastBlock() []float32 {
	m.renderMu.Lock()
	defer m.renderMu.Unlock()
	out := make([]float32, len(m.buffer))
	copy(out, m.buffer)
	return out
}

// endRun releases the device goroutine of the current run. Callers hold mu.
func (m *MockStream) endRun() {
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
}

// renderOne renders a block if the stream is active. A non-zero run limits
// rendering to that run, so a device goroutine outliving its run is inert.
func (m *MockStream) renderOne(run uint64) bool {
	m.mu.Lock()
	if !m.isActive || (run != 0 && run != m.run) {
		m.mu.Unlock()
		return false
	}
	status := m.nextStatus
	m.nextStatus = 0
	m.mu.Unlock()

	m.renderMu.Lock()
	m.params.Callback(m.buffer, status)
	m.backend.record(m.buffer)
	m.renderMu.Unlock()
	return true
}

// simulateDevice pulls blocks at the block rate until its run ends
func (m *MockStream) simulateDevice(run uint64, done <-chan struct{}) {
	period := time.Duration(float64(m.params.BufferSize) / m.params.SampleRate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !m.renderOne(run) {
				return
			}
		}
	}
}
