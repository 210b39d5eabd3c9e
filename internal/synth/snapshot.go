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

import "sync/atomic"

// SnapshotBuffer exposes the most recent rendered samples to a
// visualization poller without ever blocking the render path.
//
// It is a double buffer: the render path linearizes its private history into
// the back buffer and flips the published index. Readers pin the buffer they
// copy from with a per-buffer reader count and re-check the index after
// pinning, so a copy never spans two publications. If a slow reader still
// holds the back buffer, the publication is skipped rather than waited for;
// the history keeps accumulating and the next block publishes it.
type SnapshotBuffer struct {
	size int

	// owned by the publishing goroutine
	history []float32
	head    int

	buffers   [2][]float32
	published atomic.Int32
	readers   [2]atomic.Int32

	publications atomic.Uint64
	skipped      atomic.Uint64
}

// NewSnapshotBuffer creates a buffer exposing the last size samples
func NewSnapshotBuffer(size int) *SnapshotBuffer {
	return &SnapshotBuffer{
		size:    size,
		history: make([]float32, size),
		buffers: [2][]float32{make([]float32, size), make([]float32, size)},
	}
}

// Size is the number of samples returned by Read
func (b *SnapshotBuffer) Size() int {
	return b.size
}

// Publish records block and makes the latest Size samples visible to
// readers. Only one goroutine may publish. Returns false if the publication
// was skipped because a reader still held the back buffer.
func (b *SnapshotBuffer) Publish(block []float32) bool {
	b.appendHistory(block)

	back := 1 - b.published.Load()
	if b.readers[back].Load() != 0 {
		b.skipped.Add(1)
		return false
	}

	dst := b.buffers[back]
	n := copy(dst, b.history[b.head:])
	copy(dst[n:], b.history[:b.head])

	b.published.Store(back)
	b.publications.Add(1)
	return true
}

func (b *SnapshotBuffer) appendHistory(block []float32) {
	if len(block) >= b.size {
		copy(b.history, block[len(block)-b.size:])
		b.head = 0
		return
	}
	n := copy(b.history[b.head:], block)
	copy(b.history, block[n:])
	b.head = (b.head + len(block)) % b.size
}

// ReadInto copies the last published snapshot into dst, oldest sample first,
// and returns the number of samples copied. It never allocates.
func (b *SnapshotBuffer) ReadInto(dst []float32) int {
	for {
		i := b.published.Load()
		b.readers[i].Add(1)
		if b.published.Load() == i {
			n := copy(dst, b.buffers[i])
			b.readers[i].Add(-1)
			return n
		}
		// flipped while pinning, try the new one
		b.readers[i].Add(-1)
	}
}

// Read returns a copy of the last published snapshot. Before the first
// publication it is all zeros.
func (b *SnapshotBuffer) Read() []float32 {
	out := make([]float32, b.size)
	b.ReadInto(out)
	return out
}

// Publications counts snapshots made visible
func (b *SnapshotBuffer) Publications() uint64 {
	return b.publications.Load()
}

// Skipped counts publications dropped because a reader held the back buffer
func (b *SnapshotBuffer) Skipped() uint64 {
	return b.skipped.Load()
}
