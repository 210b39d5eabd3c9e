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

// Package oscillator generates single samples of the basic periodic waveforms
// from a normalized phase. Every function here is pure so it can run inside
// the real-time render callback.
package oscillator

import (
	"fmt"
	"math"
	"strconv"
)

// Waveform selects the shape produced by Sample
type Waveform int

const (
	Sine Waveform = iota
	Square
	Saw
	Triangle
)

// NumWaveforms is the number of selectable waveforms
const NumWaveforms = 4

var waveformNames = [NumWaveforms]string{"sine", "square", "saw", "triangle"}

func (w Waveform) String() string {
	if w < 0 || int(w) >= NumWaveforms {
		return fmt.Sprintf("waveform(%d)", int(w))
	}
	return waveformNames[w]
}

// Valid reports whether w is one of the defined waveforms
func (w Waveform) Valid() bool {
	return w >= Sine && w <= Triangle
}

// Next returns the following waveform, wrapping after Triangle
func (w Waveform) Next() Waveform {
	return WaveformFromIndex((int(w) + 1) % NumWaveforms)
}

// WaveformFromIndex maps a selector index to a waveform, clamping
// out-of-range values to the nearest valid one.
func WaveformFromIndex(index int) Waveform {
	if index < int(Sine) {
		return Sine
	}
	if index > int(Triangle) {
		return Triangle
	}
	return Waveform(index)
}

// ParseWaveform accepts a waveform name or its numeric index
func ParseWaveform(s string) (Waveform, error) {
	for i, name := range waveformNames {
		if s == name {
			return Waveform(i), nil
		}
	}
	if index, err := strconv.Atoi(s); err == nil {
		return WaveformFromIndex(index), nil
	}
	return Sine, fmt.Errorf("unknown waveform %q", s)
}

// Sample returns the value of kind at phase, in [-1, 1]. Phase must already
// be wrapped into [0, 1). Unknown kinds produce silence.
func Sample(kind Waveform, phase float64) float64 {
	switch kind {
	case Sine:
		return math.Sin(2 * math.Pi * phase)
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Saw:
		return 2*phase - 1
	case Triangle:
		return 4*math.Abs(phase-0.5) - 1
	default:
		return 0
	}
}

// PhaseStep is the per-sample phase increment for freqHz at sampleRate.
// Frequencies above Nyquist are not rejected; they alias.
func PhaseStep(freqHz, sampleRate float64) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return freqHz / sampleRate
}

// Advance adds step to phase and wraps the result into [0, 1)
func Advance(phase, step float64) float64 {
	p := phase + step
	p -= math.Floor(p)
	// tiny negative p rounds up to exactly 1 here, and NaN/Inf steps land here too
	if !(p >= 0 && p < 1) {
		return 0
	}
	return p
}
