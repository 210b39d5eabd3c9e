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
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-synth-go/internal/audio"
	"github.com/loqalabs/loqa-synth-go/internal/oscillator"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *audio.MockAudioBackend) {
	t.Helper()
	backend := audio.NewMockAudioBackend()
	engine, err := New(backend, cfg)
	require.NoError(t, err)
	return engine, backend
}

func runningEngine(t *testing.T, cfg Config) (*Engine, *audio.MockStream) {
	t.Helper()
	engine, backend := newTestEngine(t, cfg)
	require.NoError(t, engine.InitEngine())
	require.NoError(t, engine.StartEngine())
	stream := backend.LastStream()
	require.NotNil(t, stream)
	return engine, stream
}

func rms(block []float32) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, v := range block {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(block)))
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.BlockSize = 0
	_, err = New(audio.NewMockAudioBackend(), cfg)
	assert.Error(t, err)
}

func TestEngine_EndToEndSineRMS(t *testing.T) {
	engine, backend := newTestEngine(t, DefaultConfig())

	require.NoError(t, engine.InitEngine())
	require.NoError(t, engine.SetWaveform(int(oscillator.Sine)))
	require.NoError(t, engine.SetFrequency(440.0))
	require.NoError(t, engine.SetVolume(0.5))
	require.NoError(t, engine.StartEngine())

	stream := backend.LastStream()
	require.Equal(t, 1, stream.Pump(1))

	block := stream.LastBlock()
	require.Len(t, block, 480)
	assert.InDelta(t, 0.5/math.Sqrt2, rms(block), 0.01)

	for _, v := range block {
		require.LessOrEqual(t, math.Abs(float64(v)), 0.5+1e-6)
	}
}

func TestEngine_StreamOpenedWithConfig(t *testing.T) {
	cfg := Config{SampleRate: 44100, BlockSize: 512, Channels: 2, SnapshotSize: 128}
	engine, backend := newTestEngine(t, cfg)
	require.NoError(t, engine.InitEngine())

	params := backend.LastStream().Params()
	assert.Equal(t, 44100.0, params.SampleRate)
	assert.Equal(t, 512, params.BufferSize)
	assert.Equal(t, 2, params.Channels)
	assert.Len(t, engine.GetWaveform(), 128)
}

func TestEngine_Lifecycle(t *testing.T) {
	t.Run("start_before_init", func(t *testing.T) {
		engine, _ := newTestEngine(t, DefaultConfig())

		err := engine.StartEngine()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, Uninitialized, engine.State())
	})

	t.Run("stop_before_init", func(t *testing.T) {
		engine, _ := newTestEngine(t, DefaultConfig())
		assert.ErrorIs(t, engine.StopEngine(), ErrInvalidState)
	})

	t.Run("full_cycle", func(t *testing.T) {
		engine, backend := newTestEngine(t, DefaultConfig())
		assert.Equal(t, Uninitialized, engine.State())

		require.NoError(t, engine.InitEngine())
		assert.Equal(t, Initialized, engine.State())
		assert.True(t, backend.IsInitialized())

		require.NoError(t, engine.StartEngine())
		assert.Equal(t, Running, engine.State())
		assert.True(t, backend.LastStream().IsActive())

		require.NoError(t, engine.StopEngine())
		assert.Equal(t, Stopped, engine.State())
		assert.False(t, backend.LastStream().IsActive())

		require.NoError(t, engine.Release())
		assert.Equal(t, Released, engine.State())
		assert.False(t, backend.IsInitialized())
	})

	t.Run("init_is_idempotent", func(t *testing.T) {
		engine, backend := newTestEngine(t, DefaultConfig())
		require.NoError(t, engine.InitEngine())
		first := backend.LastStream()

		require.NoError(t, engine.InitEngine())
		require.NoError(t, engine.StartEngine())
		require.NoError(t, engine.InitEngine())
		assert.Same(t, first, backend.LastStream(), "no second stream is opened")
		assert.Equal(t, Running, engine.State())
	})

	t.Run("toggle_is_idempotent", func(t *testing.T) {
		engine, _ := runningEngine(t, DefaultConfig())
		require.NoError(t, engine.StartEngine())
		assert.Equal(t, Running, engine.State())

		require.NoError(t, engine.StopEngine())
		require.NoError(t, engine.StopEngine())
		assert.Equal(t, Stopped, engine.State())
	})

	t.Run("stop_then_start_resumes_without_init", func(t *testing.T) {
		engine, stream := runningEngine(t, DefaultConfig())
		require.Equal(t, 1, stream.Pump(1))

		require.NoError(t, engine.StopEngine())
		assert.Zero(t, stream.Pump(1), "stopped stream is not pulled")

		require.NoError(t, engine.StartEngine())
		require.Equal(t, 1, stream.Pump(1))
		assert.InDelta(t, 0.5/math.Sqrt2, rms(stream.LastBlock()), 0.01)
		assert.Equal(t, uint64(2), engine.Stats().Blocks)
	})

	t.Run("release_while_running_stops_first", func(t *testing.T) {
		engine, stream := runningEngine(t, DefaultConfig())

		require.NoError(t, engine.Release())
		assert.Equal(t, Released, engine.State())
		assert.False(t, stream.IsActive())
	})

	t.Run("release_uninitialized", func(t *testing.T) {
		engine, backend := newTestEngine(t, DefaultConfig())
		require.NoError(t, engine.Release())
		assert.Equal(t, Released, engine.State())
		assert.Nil(t, backend.LastStream())
	})

	t.Run("double_release", func(t *testing.T) {
		engine, _ := newTestEngine(t, DefaultConfig())
		require.NoError(t, engine.InitEngine())
		require.NoError(t, engine.Release())

		assert.ErrorIs(t, engine.Release(), ErrInvalidState)
	})

	t.Run("everything_after_release_fails", func(t *testing.T) {
		engine, _ := newTestEngine(t, DefaultConfig())
		require.NoError(t, engine.InitEngine())
		require.NoError(t, engine.Release())

		assert.ErrorIs(t, engine.SetFrequency(440), ErrInvalidState)
		assert.ErrorIs(t, engine.SetVolume(0.2), ErrInvalidState)
		assert.ErrorIs(t, engine.SetWaveform(1), ErrInvalidState)
		assert.ErrorIs(t, engine.StartEngine(), ErrInvalidState)
		assert.ErrorIs(t, engine.StopEngine(), ErrInvalidState)
		assert.ErrorIs(t, engine.InitEngine(), ErrInvalidState)
	})
}

func TestEngine_SettersBeforeInitApplyOnStart(t *testing.T) {
	engine, backend := newTestEngine(t, DefaultConfig())

	require.NoError(t, engine.SetFrequency(5.0))
	require.NoError(t, engine.SetVolume(1.5))
	require.NoError(t, engine.SetWaveform(7))

	p := engine.Params()
	assert.Equal(t, 20.0, p.FrequencyHz)
	assert.Equal(t, 1.0, p.Volume)
	assert.Equal(t, oscillator.Triangle, p.Waveform)

	require.NoError(t, engine.SetVolume(-0.3))
	assert.Equal(t, 0.0, engine.Params().Volume)

	require.NoError(t, engine.InitEngine())
	require.NoError(t, engine.StartEngine())
	backend.LastStream().Pump(1)
	assert.Equal(t, make([]float32, 480), backend.LastStream().LastBlock(), "volume 0 renders silence")
}

func TestEngine_DeviceErrors(t *testing.T) {
	t.Run("init_failure_leaves_uninitialized", func(t *testing.T) {
		engine, backend := newTestEngine(t, DefaultConfig())
		backend.SetInitError(fmt.Errorf("device busy"))

		err := engine.InitEngine()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDevice)
		var devErr *DeviceError
		require.ErrorAs(t, err, &devErr)
		assert.Equal(t, "initialize", devErr.Op)
		assert.Contains(t, err.Error(), "device busy")
		assert.Equal(t, Uninitialized, engine.State())

		// recoverable by retry
		backend.SetInitError(nil)
		require.NoError(t, engine.InitEngine())
		assert.Equal(t, Initialized, engine.State())
	})

	t.Run("open_failure_terminates_backend", func(t *testing.T) {
		engine, backend := newTestEngine(t, DefaultConfig())
		backend.SetCreateStreamError(fmt.Errorf("unsupported sample rate"))

		err := engine.InitEngine()
		assert.ErrorIs(t, err, ErrDevice)
		assert.Equal(t, Uninitialized, engine.State())
		assert.False(t, backend.IsInitialized())

		assert.ErrorIs(t, engine.StartEngine(), ErrInvalidState)
	})

	t.Run("start_failure_keeps_state", func(t *testing.T) {
		engine, backend := newTestEngine(t, DefaultConfig())
		require.NoError(t, engine.InitEngine())
		backend.LastStream().SetStartError(fmt.Errorf("device lost"))

		err := engine.StartEngine()
		assert.ErrorIs(t, err, ErrDevice)
		assert.Equal(t, Initialized, engine.State())
	})

	t.Run("stop_failure_keeps_running", func(t *testing.T) {
		engine, stream := runningEngine(t, DefaultConfig())
		stream.SetStopError(fmt.Errorf("device lost"))

		assert.ErrorIs(t, engine.StopEngine(), ErrDevice)
		assert.Equal(t, Running, engine.State())
	})

	t.Run("release_reports_close_error_but_is_terminal", func(t *testing.T) {
		engine, backend := newTestEngine(t, DefaultConfig())
		require.NoError(t, engine.InitEngine())
		backend.LastStream().SetCloseError(fmt.Errorf("close failed"))

		err := engine.Release()
		assert.ErrorIs(t, err, ErrDevice)
		assert.Equal(t, Released, engine.State())
	})
}

func TestEngine_PhaseContinuityAcrossFrequencyChange(t *testing.T) {
	engine, stream := runningEngine(t, DefaultConfig())

	var signal []float32
	pump := func() {
		require.Equal(t, 1, stream.Pump(1))
		signal = append(signal, stream.LastBlock()...)
	}

	pump()
	pump()
	require.NoError(t, engine.SetFrequency(880))
	pump()
	pump()

	// the largest step a 0.5-amplitude sine at 880 Hz can take in one sample
	maxStep := 0.5 * 2 * math.Pi * 880 / 48000
	for i := 1; i < len(signal); i++ {
		d := math.Abs(float64(signal[i] - signal[i-1]))
		require.LessOrEqual(t, d, maxStep+1e-4, "discontinuity at sample %d", i)
	}
}

func TestEngine_PhaseAlwaysWrapped(t *testing.T) {
	engine, stream := runningEngine(t, DefaultConfig())
	require.NoError(t, engine.SetFrequency(30000))

	for i := 0; i < 200; i++ {
		stream.Pump(1)
		require.GreaterOrEqual(t, engine.phase, 0.0)
		require.Less(t, engine.phase, 1.0)
	}
}

func TestEngine_AllWaveformsStayInRange(t *testing.T) {
	engine, stream := runningEngine(t, DefaultConfig())
	require.NoError(t, engine.SetVolume(1))

	for kind := oscillator.Sine; kind <= oscillator.Triangle; kind++ {
		require.NoError(t, engine.SetWaveform(int(kind)))
		for _, f := range []float64{20, 440, 2000, 23999, 40000} {
			require.NoError(t, engine.SetFrequency(f))
			stream.Pump(1)
			for _, v := range stream.LastBlock() {
				require.LessOrEqual(t, math.Abs(float64(v)), 1.0, "%s at %v Hz", kind, f)
			}
		}
	}
}

func TestEngine_StereoDuplicatesMono(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 2
	_, stream := runningEngine(t, cfg)

	stream.Pump(1)
	block := stream.LastBlock()
	require.Len(t, block, 960)
	for i := 0; i < len(block); i += 2 {
		require.Equal(t, block[i], block[i+1])
	}
	assert.InDelta(t, 0.5/math.Sqrt2, rms(block), 0.01)
}

func TestEngine_RenderLargerThanBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockSize = 64
	engine, _ := newTestEngine(t, cfg)
	engine.setState(Running)

	out := make([]float32, 1000)
	engine.render(out, 0)

	assert.InDelta(t, 0.5/math.Sqrt2, rms(out), 0.02)
	assert.Equal(t, uint64(1), engine.Stats().Blocks)
	// chunks of 64, 64, ... and a final 40
	assert.Equal(t, uint64(16), engine.Stats().SnapshotsPublished)

	maxStep := 0.5*2*math.Pi*440/48000 + 1e-4
	for i := 1; i < len(out); i++ {
		require.LessOrEqual(t, math.Abs(float64(out[i]-out[i-1])), maxStep)
	}
}

func TestEngine_NotRunningRendersSilence(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())

	out := filled(480, 0.7)
	engine.render(out, 0)

	assert.Equal(t, make([]float32, 480), out)
	assert.Zero(t, engine.Stats().Blocks)
	assert.Zero(t, engine.Stats().SnapshotsPublished)
}

func TestEngine_FaultDegradesToSilence(t *testing.T) {
	engine, stream := runningEngine(t, DefaultConfig())
	engine.sampler = func(oscillator.Waveform, float64) float64 {
		panic("oscillator fault")
	}

	require.Equal(t, 1, stream.Pump(1))
	assert.Equal(t, make([]float32, 480), stream.LastBlock())
	assert.Equal(t, uint64(1), engine.Stats().Faults)
	assert.Equal(t, Running, engine.State(), "a fault never halts the engine")

	engine.sampler = oscillator.Sample
	require.Equal(t, 1, stream.Pump(1))
	assert.Greater(t, rms(stream.LastBlock()), 0.3)
}

func TestEngine_UnderrunsAreCountedNotFatal(t *testing.T) {
	engine, stream := runningEngine(t, DefaultConfig())

	stream.SetNextStatus(audio.StatusOutputUnderflow)
	require.Equal(t, 1, stream.Pump(1))
	require.Equal(t, 1, stream.Pump(1))

	stats := engine.Stats()
	assert.Equal(t, uint64(1), stats.Underruns)
	assert.Equal(t, uint64(2), stats.Blocks)
	assert.Greater(t, rms(stream.LastBlock()), 0.3)
}

func TestEngine_SnapshotFollowsRender(t *testing.T) {
	engine, stream := runningEngine(t, DefaultConfig())
	assert.Equal(t, make([]float32, 256), engine.GetWaveform())

	stream.Pump(1)
	block := stream.LastBlock()
	assert.Equal(t, block[len(block)-256:], engine.GetWaveform())

	dst := make([]float32, 256)
	assert.Equal(t, 256, engine.WaveformInto(dst))
	assert.Equal(t, block[len(block)-256:], dst)
}

func TestEngine_RenderDoesNotAllocate(t *testing.T) {
	engine, _ := newTestEngine(t, DefaultConfig())
	engine.setState(Running)
	out := make([]float32, 480)

	allocs := testing.AllocsPerRun(100, func() {
		engine.render(out, audio.StatusOutputUnderflow)
	})
	assert.Zero(t, allocs)
}

func TestEngine_ConcurrentControlRenderAndPoll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockSize = 64
	backend := audio.NewMockAudioBackend()
	backend.SetSimulateRealTiming(true)
	backend.SetRecordPlayback(false)
	engine, err := New(backend, cfg)
	require.NoError(t, err)

	require.NoError(t, engine.InitEngine())
	require.NoError(t, engine.StartEngine())

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		f := 20.0
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			f = math.Mod(f*1.07, 4000) + 20
			_ = engine.SetFrequency(f)
			_ = engine.SetVolume(float64(i%100) / 100)
			_ = engine.SetWaveform(i % 4)
		}
	}()

	var outOfRange int
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				for _, v := range engine.GetWaveform() {
					if v < -1 || v > 1 {
						outOfRange++
					}
				}
			}
		}
	}()

	time.Sleep(150 * time.Millisecond)
	close(done)
	wg.Wait()

	require.NoError(t, engine.Release())
	assert.Zero(t, outOfRange)
	assert.Greater(t, engine.Stats().Blocks, uint64(0))
	assert.Zero(t, engine.Stats().Faults)
}

func TestStateAndErrorStrings(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "state(9)", State(9).String())

	err := invalidState("start engine", Uninitialized)
	assert.EqualError(t, err, "start engine in state uninitialized: invalid engine state")

	devErr := &DeviceError{Op: "start", Err: errors.New("boom")}
	assert.EqualError(t, devErr, "audio device start: boom")
	assert.True(t, errors.Is(devErr, ErrDevice))
	assert.False(t, errors.Is(devErr, ErrInvalidState))
}
