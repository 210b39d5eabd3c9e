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

package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/loqalabs/loqa-synth-go/internal/synth"
	"github.com/loqalabs/loqa-synth-go/internal/transport"
)

// DefaultPollInterval matches a 20 Hz scope refresh
const DefaultPollInterval = 50 * time.Millisecond

// statusEvery is how many waveform frames go out per status frame
const statusEvery = 20

// SynthMonitor is the read-only view of the engine the publisher polls
type SynthMonitor interface {
	WaveformInto(dst []float32) int
	State() synth.State
	Params() synth.Parameters
	Stats() synth.Stats
}

// StatusMessage is the JSON payload of a status frame
type StatusMessage struct {
	SynthID     string  `json:"synth_id"`
	State       string  `json:"state"`
	FrequencyHz float64 `json:"frequency_hz"`
	Volume      float64 `json:"volume"`
	Waveform    string  `json:"waveform"`
	Blocks      uint64  `json:"blocks"`
	Underruns   uint64  `json:"underruns"`
	Faults      uint64  `json:"faults"`
}

// WaveformPublisher is a visualization poller that forwards snapshots to
// NATS instead of a screen
type WaveformPublisher struct {
	natsConn  SynthNATSConnection
	synthID   string
	monitor   SynthMonitor
	interval  time.Duration
	sessionID uint32
	sequence  uint32
	samples   []float32
}

// NewWaveformPublisher creates a publisher polling monitor every interval
func NewWaveformPublisher(natsConn SynthNATSConnection, synthID string, monitor SynthMonitor, snapshotSize int, interval time.Duration) *WaveformPublisher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &WaveformPublisher{
		natsConn:  natsConn,
		synthID:   synthID,
		monitor:   monitor,
		interval:  interval,
		sessionID: rand.Uint32(), //nolint:gosec // G404: session tag, not a secret
		samples:   make([]float32, snapshotSize),
	}
}

// Run publishes until ctx is cancelled. Publish failures are logged and the
// loop carries on; a scope tolerates gaps.
func (wp *WaveformPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(wp.interval)
	defer ticker.Stop()

	log.Printf("📡 Publishing waveform to %s every %v", WaveformSubject(wp.synthID), wp.interval)

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wp.PublishWaveform(); err != nil {
				log.Printf("⚠️ Failed to publish waveform: %v", err)
			}
			ticks++
			if ticks%statusEvery == 0 {
				if err := wp.PublishStatus(); err != nil {
					log.Printf("⚠️ Failed to publish status: %v", err)
				}
			}
		}
	}
}

// PublishWaveform sends the current snapshot as one waveform frame
func (wp *WaveformPublisher) PublishWaveform() error {
	n := wp.monitor.WaveformInto(wp.samples)
	samples := transport.Decimate(wp.samples[:n], transport.MaxWaveformSamples)
	return wp.publishFrame(WaveformSubject(wp.synthID), transport.FrameTypeWaveform, transport.EncodeWaveform(samples))
}

// PublishStatus sends state, parameters and render counters as JSON
func (wp *WaveformPublisher) PublishStatus() error {
	params := wp.monitor.Params()
	stats := wp.monitor.Stats()
	payload, err := json.Marshal(StatusMessage{
		SynthID:     wp.synthID,
		State:       wp.monitor.State().String(),
		FrequencyHz: params.FrequencyHz,
		Volume:      params.Volume,
		Waveform:    params.Waveform.String(),
		Blocks:      stats.Blocks,
		Underruns:   stats.Underruns,
		Faults:      stats.Faults,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return wp.publishFrame(StatusSubject(wp.synthID), transport.FrameTypeStatus, payload)
}

func (wp *WaveformPublisher) publishFrame(subject string, frameType transport.FrameType, payload []byte) error {
	wp.sequence++
	frame := transport.NewFrame(frameType, wp.sessionID, wp.sequence,
		uint64(time.Now().UnixMicro()), payload) //nolint:gosec // G115: timestamps are positive

	data, err := frame.Serialize()
	if err != nil {
		return err
	}
	if err := wp.natsConn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
