package live

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxkit-go/voxkit/internal/observability"
)

// Clock is the monotonic output clock the scheduler runs on. A real
// clock wraps the runtime timer; tests substitute a manual one.
type Clock interface {
	// Now returns the elapsed time on the output clock.
	Now() time.Duration
	// AfterFunc runs f after d on the clock's timeline.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the callback was
	// still pending.
	Stop() bool
}

// NewClock returns a Clock backed by the runtime, with Now measured
// from the moment of creation.
func NewClock() Clock {
	return &realClock{start: time.Now()}
}

type realClock struct {
	start time.Time
}

func (c *realClock) Now() time.Duration {
	return time.Since(c.start)
}

func (c *realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Sink receives playable PCM. The device layer implements it on top of
// the speaker; Reset drops anything the device has buffered.
type Sink interface {
	Write(pcm []byte) error
	Reset() error
}

// ScheduledBuffer is a chunk of audio queued on the output timeline.
type ScheduledBuffer struct {
	ID      uuid.UUID
	Buffer  *Buffer
	StartAt time.Duration

	play Timer
	done Timer
}

// Scheduler plays decoded audio chunks gaplessly in arrival order.
// Each chunk is scheduled at max(end of previous chunk, now), so
// back-to-back chunks are seamless and a chunk arriving after a gap
// starts immediately.
type Scheduler struct {
	mu        sync.Mutex
	clock     Clock
	sink      Sink
	log       zerolog.Logger
	nextStart time.Duration
	active    map[uuid.UUID]*ScheduledBuffer
}

// NewScheduler creates a Scheduler writing to sink on clock time.
func NewScheduler(clock Clock, sink Sink, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		log:    log,
		active: make(map[uuid.UUID]*ScheduledBuffer),
	}
}

// Schedule queues buf for playback and returns its start offset on the
// output clock.
func (s *Scheduler) Schedule(buf *Buffer) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	startAt := s.nextStart
	if now > startAt {
		startAt = now
	}
	sb := &ScheduledBuffer{
		ID:      uuid.New(),
		Buffer:  buf,
		StartAt: startAt,
	}
	s.active[sb.ID] = sb

	duration := buf.Duration()
	s.nextStart = startAt + duration
	sb.play = s.clock.AfterFunc(startAt-now, func() { s.play(sb.ID) })
	sb.done = s.clock.AfterFunc(startAt-now+duration, func() { s.complete(sb.ID) })

	observability.PlaybackBuffersScheduled.Inc()
	s.log.Trace().
		Dur("start_at", startAt).
		Dur("duration", duration).
		Int("bytes", len(buf.Data)).
		Msg("audio chunk scheduled")
	return startAt
}

func (s *Scheduler) play(id uuid.UUID) {
	s.mu.Lock()
	sb, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.sink.Write(sb.Buffer.Data); err != nil {
		s.log.Warn().Err(err).Msg("audio sink write failed")
	}
}

func (s *Scheduler) complete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// Flush cancels everything that is queued or playing and rewinds the
// timeline, so the next chunk starts immediately. Called on
// interruption and during teardown.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	for _, sb := range s.active {
		sb.play.Stop()
		sb.done.Stop()
	}
	s.active = make(map[uuid.UUID]*ScheduledBuffer)
	s.nextStart = 0
	s.mu.Unlock()

	if err := s.sink.Reset(); err != nil {
		s.log.Warn().Err(err).Msg("audio sink reset failed")
	}
	observability.PlaybackFlushes.Inc()
}

// Active returns the number of chunks queued or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown releases the scheduler's timers. The scheduler must not be
// used afterwards.
func (s *Scheduler) Shutdown() {
	s.Flush()
}
