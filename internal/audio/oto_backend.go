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

	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process, so it is shared by every
// OtoBackend and fixed to the format of the first stream.
var (
	otoMu         sync.Mutex
	otoCtx        *oto.Context
	otoSampleRate int
	otoChannels   int
)

// OtoBackend implements AudioBackend on top of ebitengine/oto
type OtoBackend struct {
	mu          sync.Mutex
	initialized bool
}

// NewOtoBackend creates a new oto backend
func NewOtoBackend() *OtoBackend {
	return &OtoBackend{}
}

// Initialize resumes the shared context if one exists. The context itself is
// created with the first stream because oto binds the format at creation.
func (o *OtoBackend) Initialize() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.initialized {
		return nil
	}

	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		if err := otoCtx.Resume(); err != nil {
			return fmt.Errorf("failed to resume oto context: %w", err)
		}
	}

	o.initialized = true
	return nil
}

// Terminate suspends the shared context; oto contexts cannot be closed
func (o *OtoBackend) Terminate() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return nil
	}
	o.initialized = false

	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		return otoCtx.Suspend()
	}
	return nil
}

// CreateOutputStream creates an oto player fed by the stream callback
func (o *OtoBackend) CreateOutputStream(params StreamParams) (StreamInterface, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.initialized {
		return nil, fmt.Errorf("oto backend not initialized")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	ctx, err := sharedOtoContext(params)
	if err != nil {
		return nil, err
	}

	reader := newBlockReader(params.Callback, params.BlockLen())
	player := ctx.NewPlayer(reader)
	// keep oto's prefetch to one block so parameter changes stay audible quickly
	player.SetBufferSize(params.BlockLen() * 4)

	return &OtoStream{player: player}, nil
}

func sharedOtoContext(params StreamParams) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	rate := int(params.SampleRate)
	if otoCtx != nil {
		if rate != otoSampleRate || params.Channels != otoChannels {
			return nil, fmt.Errorf("oto context already open at %d Hz/%d ch, requested %d Hz/%d ch",
				otoSampleRate, otoChannels, rate, params.Channels)
		}
		return otoCtx, nil
	}

	blockDuration := time.Duration(float64(params.BufferSize) / params.SampleRate * float64(time.Second))
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: params.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   blockDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	otoCtx = ctx
	otoSampleRate = rate
	otoChannels = params.Channels
	return ctx, nil
}

// OtoStream implements StreamInterface with an oto player
type OtoStream struct {
	mu     sync.Mutex
	player *oto.Player
}

// Start resumes pulling blocks
func (s *OtoStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.player == nil {
		return fmt.Errorf("stream is closed")
	}
	s.player.Play()
	return nil
}

// Stop pauses the player; the device stays open
func (s *OtoStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.player == nil {
		return fmt.Errorf("stream is closed")
	}
	s.player.Pause()
	return nil
}

// Close releases the player
func (s *OtoStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.player == nil {
		return nil
	}
	err := s.player.Close()
	s.player = nil
	return err
}

// IsActive reports whether the player is playing
func (s *OtoStream) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player != nil && s.player.IsPlaying()
}
