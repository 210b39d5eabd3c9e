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
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// SynthNATSConnection interface for dependency injection
type SynthNATSConnection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Close()
}

// SynthNATSConnectionAdapter adapts *nats.Conn to SynthNATSConnection interface
type SynthNATSConnectionAdapter struct {
	conn *nats.Conn
}

func NewSynthNATSConnectionAdapter(conn *nats.Conn) *SynthNATSConnectionAdapter {
	return &SynthNATSConnectionAdapter{conn: conn}
}

func (r *SynthNATSConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return r.conn.Subscribe(subject, cb)
}

func (r *SynthNATSConnectionAdapter) Publish(subject string, data []byte) error {
	return r.conn.Publish(subject, data)
}

func (r *SynthNATSConnectionAdapter) Close() {
	r.conn.Close()
}

// Connect dials natsURL, retrying a few times before giving up
func Connect(natsURL, name string) (SynthNATSConnection, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(natsURL, nats.Name(name))
		if err == nil {
			break
		}
		log.Printf("⚠️  Failed to connect to NATS (attempt %d/5): %v", i+1, err)
		time.Sleep(2 * time.Second)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after 5 attempts: %w", err)
	}

	log.Printf("✅ Connected to NATS at %s", natsURL)
	return NewSynthNATSConnectionAdapter(nc), nil
}

// Subjects used by a synth with the given id
func ControlSubject(synthID string) string  { return fmt.Sprintf("synth.%s.control", synthID) }
func WaveformSubject(synthID string) string { return fmt.Sprintf("synth.%s.waveform", synthID) }
func StatusSubject(synthID string) string   { return fmt.Sprintf("synth.%s.status", synthID) }

// BroadcastControlSubject reaches every synth on the bus
const BroadcastControlSubject = "synth.broadcast.control"

// ControlMessage is a remote parameter change or transport command. Nil
// fields are left unchanged.
type ControlMessage struct {
	Command   string   `json:"command,omitempty"` // "set" (default), "start", "stop"
	Frequency *float64 `json:"frequency,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	Waveform  *int     `json:"waveform,omitempty"`
}

// SynthControl is the part of the engine remote control may drive
type SynthControl interface {
	SetFrequency(hz float64) error
	SetVolume(v float64) error
	SetWaveform(index int) error
	StartEngine() error
	StopEngine() error
}

// ControlSubscriber applies control messages from NATS to a synth
type ControlSubscriber struct {
	natsConn SynthNATSConnection
	synthID  string
	synth    SynthControl
}

// NewControlSubscriber creates a subscriber that drives synth
func NewControlSubscriber(natsConn SynthNATSConnection, synthID string, synth SynthControl) *ControlSubscriber {
	return &ControlSubscriber{
		natsConn: natsConn,
		synthID:  synthID,
		synth:    synth,
	}
}

// Start begins listening for control messages
func (cs *ControlSubscriber) Start() error {
	topic := ControlSubject(cs.synthID)
	if _, err := cs.natsConn.Subscribe(topic, cs.handleControlMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	if _, err := cs.natsConn.Subscribe(BroadcastControlSubject, cs.handleControlMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", BroadcastControlSubject, err)
	}

	log.Printf("🎧 Subscribed to control topics: %s, %s", topic, BroadcastControlSubject)
	return nil
}

func (cs *ControlSubscriber) handleControlMessage(msg *nats.Msg) {
	var ctrl ControlMessage
	if err := json.Unmarshal(msg.Data, &ctrl); err != nil {
		log.Printf("❌ Failed to unmarshal control message: %v", err)
		return
	}

	if err := cs.Apply(ctrl); err != nil {
		log.Printf("❌ Failed to apply control message from %s: %v", msg.Subject, err)
	}
}

// Apply executes one control message. Parameters are applied before the
// command so "start" with new values never plays the old ones.
func (cs *ControlSubscriber) Apply(ctrl ControlMessage) error {
	if ctrl.Frequency != nil {
		if err := cs.synth.SetFrequency(*ctrl.Frequency); err != nil {
			return err
		}
	}
	if ctrl.Volume != nil {
		if err := cs.synth.SetVolume(*ctrl.Volume); err != nil {
			return err
		}
	}
	if ctrl.Waveform != nil {
		if err := cs.synth.SetWaveform(*ctrl.Waveform); err != nil {
			return err
		}
	}

	switch ctrl.Command {
	case "", "set":
		return nil
	case "start":
		return cs.synth.StartEngine()
	case "stop":
		return cs.synth.StopEngine()
	default:
		return fmt.Errorf("unknown control command %q", ctrl.Command)
	}
}
