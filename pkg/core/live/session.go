package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voxkit-go/voxkit/internal/observability"
	"github.com/voxkit-go/voxkit/pkg/core"
)

// Channel is the bidirectional link to the remote model. Events() is
// closed when the channel ends; Err() then reports the transport
// failure, or nil after a clean close.
type Channel interface {
	Events() <-chan ChannelEvent
	SendAudioFrame(encoded string) error
	Close() error
	Err() error
}

// OutputDevice is a playback sink that owns device resources.
type OutputDevice interface {
	Sink
	Close() error
}

// Deps are the factories a session uses to acquire its resources. Each
// Start calls them again, so every session runs on fresh instances.
type Deps struct {
	// OpenChannel connects to the remote model.
	OpenChannel func(ctx context.Context, cfg Config) (Channel, error)

	// OpenMicrophone opens the capture device.
	OpenMicrophone func() (Source, error)

	// OpenSpeaker opens the playback device.
	OpenSpeaker func() (OutputDevice, error)

	// Clock drives the playback scheduler. Defaults to the runtime
	// clock; tests substitute a manual one.
	Clock Clock
}

// Session owns one live conversation: microphone in, model audio out,
// transcript assembled on the side. A session moves between
// disconnected, connecting and connected; Stop (or a fatal error)
// returns it to disconnected, after which Start may be called again.
type Session struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	mu        sync.Mutex
	gen       int
	connState ConnectionState
	lastErr   string
	channel   Channel
	mic       Source
	speaker   OutputDevice
	scheduler *Scheduler
	cancel    context.CancelFunc

	assembler *Assembler
	events    chan Event
}

// NewSession creates a session. Nothing is connected until Start.
func NewSession(cfg Config, deps Deps, log zerolog.Logger) *Session {
	if deps.Clock == nil {
		deps.Clock = NewClock()
	}
	s := &Session{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		events: make(chan Event, 128),
	}
	s.assembler = NewAssembler(s.emit)
	return s
}

// Events returns the consumer event stream. Events are dropped, not
// blocked on, when the consumer falls behind.
func (s *Session) Events() <-chan Event {
	return s.events
}

// errStartAborted is returned when Stop wins a race with an in-flight
// Start; the stop is honored and the session stays disconnected.
var errStartAborted = errors.New("session stopped during start")

// Start acquires resources and brings the session up. On failure every
// partially acquired resource is released and the session is left
// disconnected with Err() describing what went wrong. A Stop issued
// while Start is still acquiring resources wins: Start releases what
// it acquired and returns without reconnecting.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.connState != Disconnected {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.gen++
	gen := s.gen
	s.lastErr = ""
	s.setConnStateLocked(Connecting)
	s.mu.Unlock()

	// Each session begins with an empty transcript.
	s.assembler.Reset()

	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return s.startFailed(core.NewConfigurationError("missing API key"))
	}

	mic, err := s.deps.OpenMicrophone()
	if err != nil {
		return s.startFailed(coerce(err, core.NewDeviceError, "failed to open microphone"))
	}
	if !s.stillStarting(gen, func() { s.mic = mic }) {
		_ = mic.Close()
		return errStartAborted
	}

	speaker, err := s.deps.OpenSpeaker()
	if err != nil {
		return s.startFailed(coerce(err, core.NewDeviceError, "failed to open speaker"))
	}
	if !s.stillStarting(gen, func() { s.speaker = speaker }) {
		_ = speaker.Close()
		return errStartAborted
	}

	ch, err := s.deps.OpenChannel(ctx, s.cfg)
	if err != nil {
		return s.startFailed(coerce(err, core.NewConnectionError, "failed to connect"))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.gen != gen || s.connState != Connecting {
		s.mu.Unlock()
		cancel()
		_ = ch.Close()
		return errStartAborted
	}
	s.channel = ch
	s.cancel = cancel
	s.scheduler = NewScheduler(s.deps.Clock, speaker, s.log)
	s.setConnStateLocked(Connected)
	s.mu.Unlock()

	pipeline := NewPipeline(mic, ch, func(err error) { s.fail(gen, err) }, s.log)
	go pipeline.Run(runCtx)
	go s.eventLoop(runCtx, gen, ch)

	s.log.Info().Str("model", s.cfg.Model).Str("voice", s.cfg.Voice).Msg("session started")
	return nil
}

// Stop tears the session down. It never fails: calling it on a stopped
// session is a no-op, and errors from individual teardown steps are
// logged and swallowed.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connState == Disconnected {
		return
	}
	s.log.Info().Msg("stopping session")
	s.teardownLocked("stopped")
}

// ConnectionState returns the current lifecycle state.
func (s *Session) ConnectionState() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// Err returns the user-visible message of the last fatal error, or ""
// when the session has not failed since the last Start.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// TurnState returns the current turn state.
func (s *Session) TurnState() TurnState {
	return s.assembler.State()
}

// History returns a snapshot of the finalized conversation.
func (s *Session) History() []ChatEntry {
	return s.assembler.History()
}

// CurrentUserTurn returns the in-flight user turn text.
func (s *Session) CurrentUserTurn() string {
	return s.assembler.CurrentUserTurn()
}

// CurrentModelTurn returns the in-flight model turn text.
func (s *Session) CurrentModelTurn() string {
	return s.assembler.CurrentModelTurn()
}

// eventLoop serializes all channel events. It is the only goroutine
// that touches the assembler and the scheduler while the session is
// connected.
func (s *Session) eventLoop(ctx context.Context, gen int, ch Channel) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch.Events():
			if !ok {
				s.channelClosed(gen, ch.Err())
				return
			}
			s.handleChannelEvent(ev)
		}
	}
}

func (s *Session) handleChannelEvent(ev ChannelEvent) {
	switch e := ev.(type) {
	case AudioChunkEvent:
		buf, err := DecodeAudioChunk(e.Data, s.cfg.PlaybackAudio())
		if err != nil {
			observability.AudioDecodeFailures.Inc()
			s.log.Warn().Err(err).Msg("skipping undecodable audio chunk")
			return
		}
		// Scheduling stays under the lock so a chunk racing a teardown
		// cannot land on a scheduler that was already flushed.
		s.mu.Lock()
		if s.scheduler != nil {
			s.scheduler.Schedule(buf)
		}
		s.mu.Unlock()

	case InterruptedEvent:
		s.mu.Lock()
		if s.scheduler != nil {
			s.scheduler.Flush()
		}
		s.mu.Unlock()
		// The transcript is untouched: whatever the model said before
		// the cut stays pending until the turn resolves.
		s.assembler.Handle(ev)

	default:
		s.assembler.Handle(ev)
	}
}

// channelClosed handles the remote end going away, cleanly or not.
func (s *Session) channelClosed(gen int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.connState == Disconnected {
		return
	}
	reason := "closed"
	if err != nil {
		reason = "error"
		cerr := coerce(err, core.NewConnectionError, "connection lost")
		s.recordErrorLocked(cerr)
	} else {
		s.log.Info().Msg("channel closed by remote")
	}
	s.teardownLocked(reason)
}

// fail tears the session down after a fatal mid-session error reported
// from a worker goroutine.
func (s *Session) fail(gen int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.connState == Disconnected {
		return
	}
	s.recordErrorLocked(err)
	s.teardownLocked("error")
}

// stillStarting stores a freshly acquired resource, unless a Stop (or
// a failure path) already tore this start attempt down.
func (s *Session) stillStarting(gen int, store func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.connState != Connecting {
		return false
	}
	store()
	return true
}

// startFailed releases whatever Start managed to acquire and reports
// the error.
func (s *Session) startFailed(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordErrorLocked(err)
	s.teardownLocked("error")
	return err
}

func (s *Session) recordErrorLocked(err error) {
	s.lastErr = errorMessage(err)
	observability.SessionErrors.WithLabelValues(string(core.TypeOf(err))).Inc()
	s.log.Error().Err(err).Msg("session failed")
	s.emit(ErrorEvent{Message: s.lastErr})
}

// teardownLocked releases resources in a fixed order: remote channel
// first so no more events arrive, then capture, then the devices, then
// the playback queue. Every step tolerates an absent resource and a
// failing close. Bumping the generation fences out any in-flight Start
// continuation or stale worker goroutine.
func (s *Session) teardownLocked(reason string) {
	s.gen++
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.log.Debug().Err(err).Msg("channel close")
		}
		s.channel = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.mic != nil {
		if err := s.mic.Close(); err != nil {
			s.log.Debug().Err(err).Msg("microphone close")
		}
		s.mic = nil
	}
	if s.speaker != nil {
		if err := s.speaker.Close(); err != nil {
			s.log.Debug().Err(err).Msg("speaker close")
		}
		s.speaker = nil
	}
	if s.scheduler != nil {
		s.scheduler.Shutdown()
		s.scheduler = nil
	}
	s.setConnStateLocked(Disconnected)
	s.emit(ClosedEvent{Reason: reason})
}

func (s *Session) setConnStateLocked(to ConnectionState) {
	if s.connState == to {
		return
	}
	from := s.connState
	s.connState = to
	observability.ConnectionStateGauge.Set(float64(to))
	s.log.Debug().Stringer("from", from).Stringer("to", to).Msg("connection state changed")
	s.emit(ConnectionStateEvent{From: from, To: to})
}

// emit delivers an event to the consumer without blocking the session.
func (s *Session) emit(ev Event) {
	if e, ok := ev.(EntryFinalizedEvent); ok {
		observability.TurnsFinalized.WithLabelValues(e.Entry.Role.String()).Inc()
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("event", ev.EventType()).Msg("event channel full, dropping event")
	}
}

// coerce keeps an already-typed error as is and wraps anything else.
func coerce(err error, wrap func(string, error) *core.Error, message string) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	return wrap(message, err)
}

func errorMessage(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}
