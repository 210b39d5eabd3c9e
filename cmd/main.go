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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-synth-go/internal/audio"
	synthnats "github.com/loqalabs/loqa-synth-go/internal/nats"
	"github.com/loqalabs/loqa-synth-go/internal/oscillator"
	"github.com/loqalabs/loqa-synth-go/internal/scope"
	"github.com/loqalabs/loqa-synth-go/internal/synth"
	"golang.org/x/term"
)

type options struct {
	backend   string
	synthID   string
	natsURL   string
	frequency float64
	volume    float64
	waveform  oscillator.Waveform
	headless  bool
}

func envOrDefault(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseOptions reads flags, falling back to SYNTH_* environment variables
// for the deployment settings
func parseOptions(args []string, getenv func(string) string, output io.Writer) (options, error) {
	var opts options
	var waveform string

	fs := flag.NewFlagSet("loqa-synth", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.backend, "backend", envOrDefault(getenv, "SYNTH_BACKEND", audio.BackendPortAudio),
		"Audio backend (portaudio, oto, pulse, mock)")
	fs.StringVar(&opts.synthID, "id", envOrDefault(getenv, "SYNTH_ID", "loqa-synth-001"), "Synth identifier")
	fs.StringVar(&opts.natsURL, "nats", envOrDefault(getenv, "SYNTH_NATS_URL", ""),
		"NATS server URL for remote control and telemetry (disabled when empty)")
	fs.Float64Var(&opts.frequency, "freq", synth.DefaultFrequency, "Initial frequency in Hz")
	fs.Float64Var(&opts.volume, "volume", synth.DefaultVolume, "Initial volume (0-1)")
	fs.StringVar(&waveform, "waveform", oscillator.Sine.String(), "Initial waveform (sine, square, saw, triangle or 0-3)")
	fs.BoolVar(&opts.headless, "headless", false, "Run without the terminal scope")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	w, err := oscillator.ParseWaveform(strings.ToLower(strings.TrimSpace(waveform)))
	if err != nil {
		return opts, err
	}
	opts.waveform = w
	return opts, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("❌ Invalid arguments: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interactive := !opts.headless && term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // G115: fd fits in int
	if interactive {
		// the scope owns the screen
		log.SetOutput(io.Discard)
	}

	if err := run(ctx, opts, interactive); err != nil {
		log.SetOutput(os.Stderr)
		log.Fatalf("❌ %v", err)
	}
	log.Println("👋 Synth stopped")
}

func run(ctx context.Context, opts options, interactive bool) error {
	log.Printf("🚀 Starting Loqa Synth")
	log.Printf("📋 Synth ID: %s", opts.synthID)
	log.Printf("🔈 Audio backend: %s", opts.backend)

	engine, err := startEngine(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Release(); err != nil {
			log.Printf("⚠️ Failed to release engine: %v", err)
		}
	}()

	if opts.natsURL != "" {
		conn, err := synthnats.Connect(opts.natsURL, "loqa-synth-"+opts.synthID)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := synthnats.NewControlSubscriber(conn, opts.synthID, engine).Start(); err != nil {
			return err
		}

		publishCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		publisher := synthnats.NewWaveformPublisher(conn, opts.synthID, engine,
			engine.Config().SnapshotSize, synthnats.DefaultPollInterval)
		go publisher.Run(publishCtx)
	}

	if interactive {
		return scope.Run(ctx, engine, engine.Config().SnapshotSize)
	}

	p := engine.Params()
	log.Printf("🎵 Playing %s at %.2f Hz, volume %.2f. Press Ctrl+C to stop", p.Waveform, p.FrequencyHz, p.Volume)

	<-ctx.Done()
	log.Println("🛑 Shutting down synth...")
	return nil
}

// startEngine opens the selected backend and leaves the engine running with
// the initial parameters. The engine is released again on failure.
func startEngine(opts options) (*synth.Engine, error) {
	backend, err := audio.NewBackend(opts.backend)
	if err != nil {
		return nil, err
	}

	engine, err := synth.New(backend, synth.DefaultConfig())
	if err != nil {
		return nil, err
	}

	if err := engine.InitEngine(); err != nil {
		_ = engine.Release()
		return nil, fmt.Errorf("failed to initialize audio: %w", err)
	}
	if err := applyInitialParams(engine, opts); err != nil {
		_ = engine.Release()
		return nil, err
	}
	if err := engine.StartEngine(); err != nil {
		_ = engine.Release()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	return engine, nil
}

func applyInitialParams(engine *synth.Engine, opts options) error {
	if err := engine.SetFrequency(opts.frequency); err != nil {
		return err
	}
	if err := engine.SetVolume(opts.volume); err != nil {
		return err
	}
	return engine.SetWaveform(int(opts.waveform))
}
