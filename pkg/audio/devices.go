// Package audio provides the local device layer: a malgo-backed
// microphone source and an oto-backed speaker sink.
package audio

import (
	"errors"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/voxkit-go/voxkit/pkg/core"
	"github.com/voxkit-go/voxkit/pkg/core/live"
)

// speakerBufferSize keeps the device buffer around 100 ms at 24 kHz
// mono 16-bit. Smaller means lower latency but risks glitches.
const speakerBufferSize = 4800

// Devices owns the process-wide audio backends. Open them once; hand
// out fresh microphone and speaker instances per session.
type Devices struct {
	malgoCtx *malgo.AllocatedContext
	otoCtx   *oto.Context
	capture  live.AudioConfig
	log      zerolog.Logger
}

// Open initializes the capture and playback backends.
func Open(capture, playback live.AudioConfig, log zerolog.Logger) (*Devices, error) {
	malgoConfig := malgo.ContextConfig{}
	malgoConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	malgoCtx, err := malgo.InitContext(nil, malgoConfig, nil)
	if err != nil {
		return nil, core.NewDeviceError("failed to init capture backend", err)
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   playback.SampleRate,
		ChannelCount: playback.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   speakerBufferSize,
	})
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, core.NewDeviceError("failed to init playback backend", err)
	}
	<-ready

	return &Devices{
		malgoCtx: malgoCtx,
		otoCtx:   otoCtx,
		capture:  capture,
		log:      log,
	}, nil
}

// Close releases the audio backends.
func (d *Devices) Close() error {
	return d.malgoCtx.Uninit()
}

// Microphone opens a capture device and starts it. The returned Source
// blocks in Read until samples arrive; Close wakes a blocked Read with
// io.EOF.
func (d *Devices) Microphone() (live.Source, error) {
	m := &micReader{
		buf: make([]byte, 0, d.capture.BytesPerSecond()),
	}
	m.cond = sync.NewCond(&m.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(d.capture.Channels)
	deviceConfig.SampleRate = uint32(d.capture.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, samples []byte, _ uint32) {
			m.mu.Lock()
			if !m.closed {
				m.buf = append(m.buf, samples...)
			}
			m.mu.Unlock()
			m.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(d.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, core.NewDeviceError("failed to init microphone", err)
	}
	m.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, core.NewDeviceError("failed to start microphone", err)
	}

	d.log.Debug().Int("sample_rate", d.capture.SampleRate).Msg("microphone started")
	return m, nil
}

// Speaker opens a playback sink on the shared output context.
func (d *Devices) Speaker() (live.OutputDevice, error) {
	s := &speakerWriter{
		otoCtx: d.otoCtx,
		buf:    make([]byte, 0, 4*speakerBufferSize),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// micReader buffers capture callbacks for blocking reads.
type micReader struct {
	device *malgo.Device
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func (m *micReader) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.buf) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

func (m *micReader) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.buf = nil
	m.cond.Broadcast()
	m.mu.Unlock()

	_ = m.device.Stop()
	m.device.Uninit()
	return nil
}

// speakerWriter feeds a pull-based oto player. The player is created
// lazily on the first write so an idle session holds no device stream,
// and recreated after a Reset.
type speakerWriter struct {
	otoCtx  *oto.Context
	player  *oto.Player
	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	playing bool
	closed  bool
}

func (s *speakerWriter) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("speaker is closed")
	}
	s.buf = append(s.buf, pcm...)

	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read implements io.Reader for the oto player, pulling buffered PCM.
func (s *speakerWriter) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		// Silence lets oto drain gracefully.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Reset drops everything buffered here and inside the device so the
// next write starts from silence.
func (s *speakerWriter) Reset() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.buf = s.buf[:0]

	if s.player != nil && s.playing {
		s.playing = false
		player := s.player
		s.player = nil
		s.mu.Unlock()

		// Pause stops audio immediately; Reset clears the device
		// buffer so old audio never overlaps the next turn.
		player.Pause()
		player.Reset()
		player.Close()
		return nil
	}
	s.mu.Unlock()
	return nil
}

func (s *speakerWriter) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	if s.player != nil {
		return s.player.Close()
	}
	return nil
}
