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
	"github.com/loqalabs/loqa-synth-go/internal/audio"
	"github.com/loqalabs/loqa-synth-go/internal/oscillator"
)

// render is the device callback. It runs on the backend's real-time thread:
// no locks, no allocation, no logging. A fault inside it degrades the block
// to silence instead of escaping into the audio subsystem.
func (e *Engine) render(out []float32, status audio.StreamStatus) {
	defer func() {
		if r := recover(); r != nil {
			clear(out)
			e.faults.Add(1)
		}
	}()

	if status.Underflow() {
		e.underruns.Add(1)
	}

	if State(e.state.Load()) != Running {
		clear(out)
		return
	}

	p := e.params.Snapshot()
	step := oscillator.PhaseStep(p.FrequencyHz, e.cfg.SampleRate)
	channels := e.cfg.Channels

	// devices may ask for more frames than the configured block, so render
	// in scratch-sized chunks
	frames := len(out) / channels
	for start := 0; start < frames; start += len(e.mono) {
		n := min(len(e.mono), frames-start)
		mono := e.mono[:n]
		e.phase = e.fill(mono, p, step, e.phase)

		if channels == 1 {
			copy(out[start:], mono)
		} else {
			for i, v := range mono {
				frame := out[(start+i)*channels : (start+i+1)*channels]
				for c := range frame {
					frame[c] = v
				}
			}
		}
		e.snapshot.Publish(mono)
	}
	// a trailing partial frame cannot be rendered
	clear(out[frames*channels:])

	e.blocks.Add(1)
}

// fill writes one mono chunk starting at phase and returns the phase after it
func (e *Engine) fill(dst []float32, p Parameters, step, phase float64) float64 {
	for i := range dst {
		dst[i] = float32(e.sampler(p.Waveform, phase) * p.Volume)
		phase = oscillator.Advance(phase, step)
	}
	return phase
}
