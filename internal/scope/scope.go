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

// Package scope is an interactive terminal front panel for the synth: a live
// oscilloscope trace of the waveform snapshot plus keyboard control.
package scope

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/loqalabs/loqa-synth-go/internal/synth"
	"github.com/nsf/termbox-go"
)

const (
	colDef    = termbox.ColorDefault
	colWhite  = termbox.ColorWhite
	colGreen  = termbox.ColorGreen
	colYellow = termbox.ColorYellow
	colCyan   = termbox.ColorCyan
	colRed    = termbox.ColorRed

	// RefreshInterval is the scope poll period (20 Hz)
	RefreshInterval = 50 * time.Millisecond

	// Frequency range reachable from the keyboard
	MinUIFrequency = 20.0
	MaxUIFrequency = 2000.0

	volumeStep = 0.05
	headerRows = 3
	footerRows = 2
)

// semitone is the frequency ratio of one arrow key press
var semitone = math.Pow(2, 1.0/12)

// Controller is the engine surface the panel drives and displays
type Controller interface {
	SetFrequency(hz float64) error
	SetVolume(v float64) error
	SetWaveform(index int) error
	StartEngine() error
	StopEngine() error
	Params() synth.Parameters
	State() synth.State
	Stats() synth.Stats
	WaveformInto(dst []float32) int
}

type panelState struct {
	ctrl    Controller
	samples []float32
	rows    []int
	lastErr error
	exit    bool
}

// Run takes over the terminal until the user quits or ctx is cancelled
func Run(ctx context.Context, ctrl Controller, snapshotSize int) error {
	if err := termbox.Init(); err != nil {
		return fmt.Errorf("failed to initialize TUI: %w", err)
	}
	defer termbox.Close()

	termbox.SetInputMode(termbox.InputEsc)

	s := &panelState{
		ctrl:    ctrl,
		samples: make([]float32, snapshotSize),
	}

	done := make(chan struct{})
	defer close(done)
	eventQueue := make(chan termbox.Event)
	go func() {
		for {
			ev := termbox.PollEvent()
			if ev.Type == termbox.EventInterrupt {
				return
			}
			select {
			case eventQueue <- ev:
			case <-done:
				return
			}
		}
	}()
	defer termbox.Interrupt()

	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	draw(s)

	for !s.exit {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-eventQueue:
			switch ev.Type {
			case termbox.EventKey:
				handleKey(ev, s)
				draw(s)
			case termbox.EventResize:
				draw(s)
			case termbox.EventError:
				return fmt.Errorf("terminal input failed: %w", ev.Err)
			}
		case <-ticker.C:
			draw(s)
		}
	}
	return nil
}

func handleKey(ev termbox.Event, s *panelState) {
	if ev.Key == termbox.KeyEsc || ev.Key == termbox.KeyCtrlC || ev.Ch == 'q' {
		s.exit = true
		return
	}

	p := s.ctrl.Params()
	var err error

	switch {
	case ev.Key == termbox.KeyArrowUp:
		err = s.ctrl.SetFrequency(stepFrequency(p.FrequencyHz, 1))
	case ev.Key == termbox.KeyArrowDown:
		err = s.ctrl.SetFrequency(stepFrequency(p.FrequencyHz, -1))
	case ev.Key == termbox.KeyArrowRight:
		err = s.ctrl.SetVolume(stepVolume(p.Volume, 1))
	case ev.Key == termbox.KeyArrowLeft:
		err = s.ctrl.SetVolume(stepVolume(p.Volume, -1))
	case ev.Ch == 'w':
		err = s.ctrl.SetWaveform(int(p.Waveform.Next()))
	case ev.Key == termbox.KeySpace:
		err = togglePlayback(s.ctrl)
	default:
		return
	}
	s.lastErr = err
}

// stepFrequency moves hz by n semitones, stopping at the keyboard range
// edge in the direction of travel. A frequency already beyond that edge,
// set from the command line or remotely, is left alone.
func stepFrequency(hz float64, n int) float64 {
	next := hz * math.Pow(semitone, float64(n))
	switch {
	case n > 0 && hz >= MaxUIFrequency, n < 0 && hz <= MinUIFrequency:
		return hz
	case n > 0:
		return math.Min(next, MaxUIFrequency)
	case n < 0:
		return math.Max(next, MinUIFrequency)
	}
	return hz
}

// stepVolume moves v by n volume steps within [0,1], snapped to the step grid
func stepVolume(v float64, n int) float64 {
	next := math.Round((v+float64(n)*volumeStep)/volumeStep) * volumeStep
	return math.Min(math.Max(next, 0), 1)
}

func togglePlayback(ctrl Controller) error {
	if ctrl.State() == synth.Running {
		return ctrl.StopEngine()
	}
	return ctrl.StartEngine()
}

// traceRows maps samples onto width columns of a height-row plot. Row 0 is
// +1, row height-1 is -1; out-of-range samples are pinned to the edges.
func traceRows(samples []float32, width, height int, rows []int) []int {
	rows = rows[:0]
	if width <= 0 || height <= 0 || len(samples) == 0 {
		return rows
	}
	for x := 0; x < width; x++ {
		v := float64(samples[x*len(samples)/width])
		if math.IsNaN(v) {
			v = 0
		}
		v = math.Min(math.Max(v, -1), 1)
		rows = append(rows, int(math.Round((1-v)*float64(height-1)/2)))
	}
	return rows
}

func statusLine(p synth.Parameters, st synth.State) string {
	return fmt.Sprintf("%-8s  %8.2f Hz  vol %3.0f%%  %s",
		st, p.FrequencyHz, p.Volume*100, p.Waveform)
}

func statsLine(stats synth.Stats) string {
	return fmt.Sprintf("blocks %d  underruns %d  faults %d  snapshots %d (%d skipped)",
		stats.Blocks, stats.Underruns, stats.Faults, stats.SnapshotsPublished, stats.SnapshotsSkipped)
}

func draw(s *panelState) {
	termbox.Clear(colDef, colDef)
	width, height := termbox.Size()

	st := s.ctrl.State()
	stateCol := colYellow
	if st == synth.Running {
		stateCol = colGreen
	}
	printTB(0, 0, colCyan, colDef, "Loqa Synth - Oscilloscope")
	printTB(0, 1, stateCol, colDef, statusLine(s.ctrl.Params(), st))
	printTB(0, 2, colDef, colDef, statsLine(s.ctrl.Stats()))

	plotHeight := height - headerRows - footerRows
	if plotHeight > 0 {
		n := s.ctrl.WaveformInto(s.samples)
		mid := headerRows + (plotHeight-1)/2
		for x := 0; x < width; x++ {
			termbox.SetCell(x, mid, '·', colDef, colDef)
		}
		s.rows = traceRows(s.samples[:n], width, plotHeight, s.rows)
		for x, row := range s.rows {
			termbox.SetCell(x, headerRows+row, '•', colGreen, colDef)
		}
	}

	help := "↑/↓ pitch  ←/→ volume  w waveform  space play/pause  q quit"
	printTB(0, height-2, colWhite, colDef, help)
	if s.lastErr != nil {
		printTB(0, height-1, colRed, colDef, s.lastErr.Error())
	}

	termbox.Flush()
}

func printTB(x, y int, fg, bg termbox.Attribute, msg string) {
	for _, c := range msg {
		termbox.SetCell(x, y, c, fg, bg)
		x++
	}
}

