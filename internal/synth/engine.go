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

// Package synth is the real-time oscillator engine: a lock-free parameter
// store written by the control path, a render callback driven by the audio
// device, and a snapshot buffer polled by visualization.
package synth

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-synth-go/internal/audio"
	"github.com/loqalabs/loqa-synth-go/internal/oscillator"
)

// State is the engine lifecycle state
type State int32

const (
	Uninitialized State = iota
	Initialized
	Running
	Stopped
	Released
)

var stateNames = [...]string{"uninitialized", "initialized", "running", "stopped", "released"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// Stats are counters maintained by the render path
type Stats struct {
	Blocks             uint64 // callbacks served
	Underruns          uint64 // blocks the device flagged as late
	Faults             uint64 // blocks replaced by silence after a fault
	SnapshotsPublished uint64
	SnapshotsSkipped   uint64
}

// Engine owns one output stream and the oscillator feeding it
type Engine struct {
	cfg      Config
	backend  audio.AudioBackend
	params   *ParameterStore
	snapshot *SnapshotBuffer

	// mu serializes lifecycle transitions on the control side; the render
	// path only ever loads state atomically
	mu     sync.Mutex
	state  atomic.Int32
	stream audio.StreamInterface

	// render path only
	phase   float64
	mono    []float32
	sampler func(oscillator.Waveform, float64) float64

	blocks    atomic.Uint64
	underruns atomic.Uint64
	faults    atomic.Uint64
}

// New creates an uninitialized engine that will play through backend
func New(backend audio.AudioBackend, cfg Config) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("audio backend is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	return &Engine{
		cfg:      cfg,
		backend:  backend,
		params:   NewParameterStore(),
		snapshot: NewSnapshotBuffer(cfg.SnapshotSize),
		mono:     make([]float32, cfg.BlockSize),
		sampler:  oscillator.Sample,
	}, nil
}

// Config returns the stream format the engine was created with
func (e *Engine) Config() Config {
	return e.cfg
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// InitEngine acquires the output device and registers the render callback.
// It is a no-op once the device is held. On failure the engine stays
// uninitialized and a *DeviceError is returned.
func (e *Engine) InitEngine() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch st := e.State(); st {
	case Initialized, Running, Stopped:
		return nil
	case Released:
		return invalidState("init engine", st)
	}

	if err := e.backend.Initialize(); err != nil {
		log.Printf("❌ Failed to initialize audio backend: %v", err)
		return &DeviceError{Op: "initialize", Err: err}
	}

	stream, err := e.backend.CreateOutputStream(audio.StreamParams{
		SampleRate: e.cfg.SampleRate,
		Channels:   e.cfg.Channels,
		BufferSize: e.cfg.BlockSize,
		Callback:   e.render,
	})
	if err != nil {
		if termErr := e.backend.Terminate(); termErr != nil {
			log.Printf("⚠️ Failed to terminate audio backend: %v", termErr)
		}
		log.Printf("❌ Failed to open output stream: %v", err)
		return &DeviceError{Op: "open output", Err: err}
	}

	e.stream = stream
	e.setState(Initialized)
	log.Printf("🎛️ Synth engine initialized: %.0f Hz, %d frames/block, %d ch",
		e.cfg.SampleRate, e.cfg.BlockSize, e.cfg.Channels)
	return nil
}

// StartEngine enables rendering. Starting a running engine is a no-op.
func (e *Engine) StartEngine() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.State()
	switch st {
	case Running:
		return nil
	case Initialized, Stopped:
	default:
		return invalidState("start engine", st)
	}

	// running before the stream starts so the first callback is not silent
	e.setState(Running)
	if err := e.stream.Start(); err != nil {
		e.setState(st)
		log.Printf("❌ Failed to start output stream: %v", err)
		return &DeviceError{Op: "start", Err: err}
	}

	log.Println("▶️ Synth engine running")
	return nil
}

// StopEngine pauses rendering but keeps the device open
func (e *Engine) StopEngine() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.State()
	switch st {
	case Initialized, Stopped:
		return nil
	case Running:
	default:
		return invalidState("stop engine", st)
	}

	// silence first so blocks still queued in the device fade to zero
	e.setState(Stopped)
	if err := e.stream.Stop(); err != nil {
		e.setState(Running)
		log.Printf("❌ Failed to stop output stream: %v", err)
		return &DeviceError{Op: "stop", Err: err}
	}

	log.Println("⏸️ Synth engine stopped")
	return nil
}

// Release closes the stream and terminates the backend. It is terminal: any
// later start or parameter change fails with ErrInvalidState. A running
// engine is stopped first.
func (e *Engine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.State()
	if st == Released {
		return invalidState("release engine", st)
	}
	e.setState(Released)

	if st == Uninitialized {
		return nil
	}

	var firstErr error
	if st == Running {
		if err := e.stream.Stop(); err != nil {
			log.Printf("⚠️ Failed to stop output stream during release: %v", err)
			firstErr = &DeviceError{Op: "stop", Err: err}
		}
	}
	if err := e.stream.Close(); err != nil {
		log.Printf("⚠️ Failed to close output stream: %v", err)
		if firstErr == nil {
			firstErr = &DeviceError{Op: "close", Err: err}
		}
	}
	if err := e.backend.Terminate(); err != nil {
		log.Printf("⚠️ Failed to terminate audio backend: %v", err)
		if firstErr == nil {
			firstErr = &DeviceError{Op: "terminate", Err: err}
		}
	}
	e.stream = nil

	log.Println("🔌 Synth engine released")
	return firstErr
}

// SetFrequency sets the oscillator frequency, clamped to at least 20 Hz
func (e *Engine) SetFrequency(hz float64) error {
	if st := e.State(); st == Released {
		return invalidState("set frequency", st)
	}
	e.params.SetFrequency(hz)
	return nil
}

// SetVolume sets the linear output gain, clamped to [0, 1]
func (e *Engine) SetVolume(v float64) error {
	if st := e.State(); st == Released {
		return invalidState("set volume", st)
	}
	e.params.SetVolume(v)
	return nil
}

// SetWaveform selects the waveform by index; out-of-range indexes clamp to
// the nearest valid waveform
func (e *Engine) SetWaveform(index int) error {
	if st := e.State(); st == Released {
		return invalidState("set waveform", st)
	}
	e.params.SetWaveform(oscillator.WaveformFromIndex(index))
	return nil
}

// Params returns the values the next block will be rendered with
func (e *Engine) Params() Parameters {
	return e.params.Snapshot()
}

// GetWaveform returns a copy of the most recent snapshot. It is meant for
// a visualization poller and may run concurrently with rendering.
func (e *Engine) GetWaveform() []float32 {
	return e.snapshot.Read()
}

// WaveformInto copies the most recent snapshot into dst without allocating
func (e *Engine) WaveformInto(dst []float32) int {
	return e.snapshot.ReadInto(dst)
}

// Stats returns the render counters
func (e *Engine) Stats() Stats {
	return Stats{
		Blocks:             e.blocks.Load(),
		Underruns:          e.underruns.Load(),
		Faults:             e.faults.Load(),
		SnapshotsPublished: e.snapshot.Publications(),
		SnapshotsSkipped:   e.snapshot.Skipped(),
	}
}
