package live

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/voxkit-go/voxkit/pkg/core"
)

// AudioConfig describes a raw PCM stream.
type AudioConfig struct {
	// SampleRate in Hz.
	SampleRate int
	// Channels is the interleaved channel count.
	Channels int
	// BitsPerSample is the sample width; only 16 is used.
	BitsPerSample int
}

// BytesPerSecond returns the byte rate of the stream.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// BytesPerSample returns the size of one interleaved sample frame.
func (c AudioConfig) BytesPerSample() int {
	return c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the play time of n bytes in milliseconds.
func (c AudioConfig) DurationMs(n int) int {
	return n * 1000 / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for ms of audio.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return c.BytesPerSecond() * ms / 1000
}

// Duration returns the play time of n bytes.
func (c AudioConfig) Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(c.BytesPerSecond())
}

// Buffer is one decoded chunk of playable audio.
type Buffer struct {
	Data   []byte
	Config AudioConfig
}

// Duration returns the play time of the buffer.
func (b *Buffer) Duration() time.Duration {
	return b.Config.Duration(len(b.Data))
}

// EncodeAudioFrame encodes a raw PCM frame for the wire.
func EncodeAudioFrame(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeAudioChunk decodes a wire audio payload into a playable Buffer.
// Malformed payloads return a decode error so the caller can skip the
// chunk without ending the session.
func DecodeAudioChunk(data string, cfg AudioConfig) (*Buffer, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, core.NewDecodeError("invalid base64 audio payload", err)
	}
	if len(pcm) == 0 {
		return nil, core.NewDecodeError("empty audio payload", nil)
	}
	if len(pcm)%cfg.BytesPerSample() != 0 {
		return nil, core.NewDecodeError(
			fmt.Sprintf("audio payload of %d bytes is not sample-aligned", len(pcm)), nil)
	}
	return &Buffer{Data: pcm, Config: cfg}, nil
}
