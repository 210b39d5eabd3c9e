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

import "fmt"

// Config fixes the stream format for the lifetime of an engine
type Config struct {
	SampleRate   float64 // Hz
	BlockSize    int     // frames per render callback
	Channels     int     // the mono signal is copied to every channel
	SnapshotSize int     // samples exposed to the visualization poll
}

// DefaultConfig returns 48 kHz mono with 10 ms blocks and a 256-sample snapshot
func DefaultConfig() Config {
	return Config{
		SampleRate:   48000,
		BlockSize:    480,
		Channels:     1,
		SnapshotSize: 256,
	}
}

// Validate rejects configurations the render path cannot honor
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %v", c.SampleRate)
	}
	if c.BlockSize < 1 {
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	}
	if c.Channels < 1 || c.Channels > 8 {
		return fmt.Errorf("channel count must be in [1, 8], got %d", c.Channels)
	}
	if c.SnapshotSize < 1 {
		return fmt.Errorf("snapshot size must be positive, got %d", c.SnapshotSize)
	}
	return nil
}
