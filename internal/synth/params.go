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
	"sync/atomic"

	"github.com/loqalabs/loqa-synth-go/internal/oscillator"
)

const (
	// MinFrequency is the lowest frequency the store accepts
	MinFrequency = 20.0
	// MaxFrequency only keeps the phase step finite; it is not a Nyquist limit
	MaxFrequency = 1e6

	DefaultFrequency = 440.0
	DefaultVolume    = 0.5
)

// Parameters is one view of the control values, taken once per block
type Parameters struct {
	FrequencyHz float64
	Volume      float64
	Waveform    oscillator.Waveform
}

// ParameterStore holds the live control values. Each field is its own
// atomic word, so writers never block the render path and a read can only
// be stale across fields, never torn within one.
type ParameterStore struct {
	frequency atomic.Uint64 // float64 bits
	volume    atomic.Uint64 // float64 bits
	waveform  atomic.Int32
}

// NewParameterStore returns a store holding the defaults
func NewParameterStore() *ParameterStore {
	s := &ParameterStore{}
	s.SetFrequency(DefaultFrequency)
	s.SetVolume(DefaultVolume)
	s.SetWaveform(oscillator.Sine)
	return s
}

// ClampFrequency applies the store's frequency policy
func ClampFrequency(hz float64) float64 {
	switch {
	case math.IsNaN(hz), hz < MinFrequency:
		return MinFrequency
	case hz > MaxFrequency:
		return MaxFrequency
	default:
		return hz
	}
}

// ClampVolume limits v to [0, 1]; NaN is treated as silence
func ClampVolume(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// SetFrequency stores hz clamped to [MinFrequency, MaxFrequency]
func (s *ParameterStore) SetFrequency(hz float64) {
	s.frequency.Store(math.Float64bits(ClampFrequency(hz)))
}

// SetVolume stores v clamped to [0, 1]
func (s *ParameterStore) SetVolume(v float64) {
	s.volume.Store(math.Float64bits(ClampVolume(v)))
}

// SetWaveform stores kind, clamping unknown values to the nearest waveform
func (s *ParameterStore) SetWaveform(kind oscillator.Waveform) {
	s.waveform.Store(int32(oscillator.WaveformFromIndex(int(kind))))
}

// Snapshot returns the latest committed value of every field
func (s *ParameterStore) Snapshot() Parameters {
	return Parameters{
		FrequencyHz: math.Float64frombits(s.frequency.Load()),
		Volume:      math.Float64frombits(s.volume.Load()),
		Waveform:    oscillator.Waveform(s.waveform.Load()),
	}
}
