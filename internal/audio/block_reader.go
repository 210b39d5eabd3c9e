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
	"encoding/binary"
	"math"
)

// blockReader adapts pull-style sinks, which ask for arbitrary lengths, to
// the fixed-size block contract of StreamCallback. The block is allocated
// once; reads never allocate.
type blockReader struct {
	callback StreamCallback
	block    []float32
	pos      int

	// status, when set, is polled once per block for device conditions
	status func() StreamStatus

	// bytes of a sample Read could only partly deliver
	partial    [4]byte
	partialPos int
	partialLen int
}

func newBlockReader(callback StreamCallback, blockLen int) *blockReader {
	return &blockReader{
		callback: callback,
		block:    make([]float32, blockLen),
		pos:      blockLen,
	}
}

func (r *blockReader) render() {
	var status StreamStatus
	if r.status != nil {
		status = r.status()
	}
	r.callback(r.block, status)
	r.pos = 0
}

func (r *blockReader) next() float32 {
	if r.pos == len(r.block) {
		r.render()
	}
	v := r.block[r.pos]
	r.pos++
	return v
}

// ReadFloat32 fills dst completely, rendering new blocks as needed
func (r *blockReader) ReadFloat32(dst []float32) (int, error) {
	n := 0
	for n < len(dst) {
		if r.pos == len(r.block) {
			r.render()
		}
		c := copy(dst[n:], r.block[r.pos:])
		r.pos += c
		n += c
	}
	return n, nil
}

// Read implements io.Reader as little-endian float32 PCM. p is always
// filled; a sample split across two reads continues where it stopped.
func (r *blockReader) Read(p []byte) (int, error) {
	n := copy(p, r.partial[r.partialPos:r.partialLen])
	r.partialPos += n

	for ; len(p)-n >= 4; n += 4 {
		binary.LittleEndian.PutUint32(p[n:], math.Float32bits(r.next()))
	}

	if n < len(p) {
		binary.LittleEndian.PutUint32(r.partial[:], math.Float32bits(r.next()))
		r.partialPos = copy(p[n:], r.partial[:])
		r.partialLen = len(r.partial)
		n = len(p)
	}
	return n, nil
}
