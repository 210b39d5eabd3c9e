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

package synth

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-synth-go/internal/oscillator"
)

func TestParameterStore_Defaults(t *testing.T) {
	p := NewParameterStore().Snapshot()

	assert.Equal(t, DefaultFrequency, p.FrequencyHz)
	assert.Equal(t, DefaultVolume, p.Volume)
	assert.Equal(t, oscillator.Sine, p.Waveform)
}

func TestParameterStore_FrequencyClamp(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected float64
	}{
		{"below_floor", 5.0, 20.0},
		{"zero", 0, 20.0},
		{"negative", -440, 20.0},
		{"at_floor", 20.0, 20.0},
		{"audible", 440.0, 440.0},
		{"above_nyquist_allowed", 30000, 30000},
		{"nan", math.NaN(), 20.0},
		{"negative_infinity", math.Inf(-1), 20.0},
		{"positive_infinity", math.Inf(1), MaxFrequency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewParameterStore()
			s.SetFrequency(tt.input)
			assert.Equal(t, tt.expected, s.Snapshot().FrequencyHz)
		})
	}
}

func TestParameterStore_VolumeClamp(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected float64
	}{
		{"too_loud", 1.5, 1.0},
		{"negative", -0.3, 0.0},
		{"half", 0.5, 0.5},
		{"silent", 0, 0},
		{"full", 1, 1},
		{"nan", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewParameterStore()
			s.SetVolume(tt.input)
			assert.Equal(t, tt.expected, s.Snapshot().Volume)
		})
	}
}

func TestParameterStore_WaveformClamp(t *testing.T) {
	s := NewParameterStore()

	s.SetWaveform(oscillator.Saw)
	assert.Equal(t, oscillator.Saw, s.Snapshot().Waveform)

	s.SetWaveform(oscillator.Waveform(42))
	assert.Equal(t, oscillator.Triangle, s.Snapshot().Waveform)

	s.SetWaveform(oscillator.Waveform(-3))
	assert.Equal(t, oscillator.Sine, s.Snapshot().Waveform)
}

func TestParameterStore_ConcurrentWritersNeverTear(t *testing.T) {
	s := NewParameterStore()
	valid := map[float64]bool{100: true, 1000: true, 10000: true}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for _, f := range []float64{100, 1000, 10000} {
		wg.Add(1)
		go func(f float64) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.SetFrequency(f)
					s.SetVolume(f / 10000)
				}
			}
		}(f)
	}

	s.SetFrequency(100)
	for i := 0; i < 20000; i++ {
		p := s.Snapshot()
		require.True(t, valid[p.FrequencyHz] || p.FrequencyHz == DefaultFrequency,
			"torn frequency %v", p.FrequencyHz)
		require.GreaterOrEqual(t, p.Volume, 0.0)
		require.LessOrEqual(t, p.Volume, 1.0)
	}
	close(stop)
	wg.Wait()
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := []Config{
		{SampleRate: 0, BlockSize: 480, Channels: 1, SnapshotSize: 256},
		{SampleRate: 48000, BlockSize: 0, Channels: 1, SnapshotSize: 256},
		{SampleRate: 48000, BlockSize: 480, Channels: 0, SnapshotSize: 256},
		{SampleRate: 48000, BlockSize: 480, Channels: 1, SnapshotSize: 0},
	}
	for _, cfg := range bad {
		assert.Error(t, cfg.Validate(), "%+v", cfg)
	}
}
