package live

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/voxkit-go/voxkit/internal/observability"
	"github.com/voxkit-go/voxkit/pkg/core"
)

// Source is a blocking stream of raw microphone PCM. Close must wake a
// blocked Read, which then returns io.EOF.
type Source interface {
	io.Reader
	Close() error
}

// AudioSender is the outbound half of the session channel.
type AudioSender interface {
	SendAudioFrame(encoded string) error
}

// Pipeline moves microphone audio to the channel in fixed-size frames.
// A frame is read in full, wire-encoded, and sent; partial frames are
// never sent. The first send failure is fatal for the session: there is
// no retry and no buffering, the error is reported once and the loop
// exits.
type Pipeline struct {
	src     Source
	sender  AudioSender
	onFatal func(error)
	log     zerolog.Logger
}

// NewPipeline creates a capture pipeline. onFatal receives at most one
// error, from the pipeline goroutine.
func NewPipeline(src Source, sender AudioSender, onFatal func(error), log zerolog.Logger) *Pipeline {
	if onFatal == nil {
		onFatal = func(error) {}
	}
	return &Pipeline{
		src:     src,
		sender:  sender,
		onFatal: onFatal,
		log:     log,
	}
}

// Run pumps frames until the context is cancelled, the source closes,
// or a send fails. It is meant to run in its own goroutine.
func (p *Pipeline) Run(ctx context.Context) {
	frame := make([]byte, FrameBytes)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(p.src, frame); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// Source closed during teardown; not an error.
				return
			}
			p.onFatal(core.NewDeviceError("microphone read failed", err))
			return
		}
		if err := p.sender.SendAudioFrame(EncodeAudioFrame(frame)); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.onFatal(core.NewConnectionError("failed to send audio frame", err))
			return
		}
		observability.CaptureFramesSent.Inc()
	}
}
