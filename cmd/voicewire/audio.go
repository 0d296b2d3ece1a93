package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// frameSize is 100ms of 16-bit mono PCM at 24kHz.
const frameSize = 4800

// stdinPipeline feeds PCM frames from a reader into the session and logs
// reply playback instead of rendering audio.
type stdinPipeline struct {
	r      io.Reader
	logger *slog.Logger

	muted   atomic.Bool
	stopped atomic.Bool

	drainOnce sync.Once
	drained   chan struct{}
}

func newStdinPipeline(r io.Reader, logger *slog.Logger) *stdinPipeline {
	return &stdinPipeline{r: r, logger: logger, drained: make(chan struct{})}
}

// Drained is closed once the input stream hits EOF.
func (p *stdinPipeline) Drained() <-chan struct{} { return p.drained }

func (p *stdinPipeline) Start(ctx context.Context, onFrame func(pcm []byte), onLevel func(level float64)) error {
	go func() {
		buf := make([]byte, frameSize)
		for {
			if ctx.Err() != nil || p.stopped.Load() {
				return
			}
			n, err := io.ReadFull(p.r, buf)
			if n > 0 && !p.muted.Load() {
				frame := make([]byte, n)
				copy(frame, buf[:n])
				if onFrame != nil {
					onFrame(frame)
				}
				if onLevel != nil {
					onLevel(peakLevel(frame))
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					p.logger.Warn("audio input read failed", "error", err)
				}
				p.drainOnce.Do(func() { close(p.drained) })
				return
			}
		}
	}()
	return nil
}

func (p *stdinPipeline) Stop() error {
	p.stopped.Store(true)
	return nil
}

func (p *stdinPipeline) Mute()   { p.muted.Store(true) }
func (p *stdinPipeline) Unmute() { p.muted.Store(false) }

func (p *stdinPipeline) Play(ctx context.Context, text, voice string) error {
	p.logger.Info("reply ready", "voice", voice, "text", text)
	return ctx.Err()
}

// peakLevel reports the largest sample magnitude in a 16-bit LE frame,
// normalized to 0..1.
func peakLevel(pcm []byte) float64 {
	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int32(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		if sample < 0 {
			sample = -sample
		}
		if sample > peak {
			peak = sample
		}
	}
	return float64(peak) / 32768
}
