package live

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxkit-go/voxkit/pkg/core"
)

type fakeChannel struct {
	events    chan ChannelEvent
	closeOnce sync.Once

	mu     sync.Mutex
	sent   []string
	closed bool
	err    error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan ChannelEvent, 64)}
}

func (f *fakeChannel) Events() <-chan ChannelEvent { return f.events }

func (f *fakeChannel) SendAudioFrame(encoded string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, encoded)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeChannel) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeChannel) push(ev ChannelEvent) { f.events <- ev }

// end simulates the remote side going away; err nil means clean close.
func (f *fakeChannel) end(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeMic blocks in Read until closed, like a silent microphone.
type fakeMic struct {
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
}

func newFakeMic() *fakeMic {
	m := &fakeMic{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *fakeMic) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.closed {
		m.cond.Wait()
	}
	return 0, io.EOF
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return nil
}

func (m *fakeMic) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeSpeaker struct {
	fakeSink
	closed bool
}

func (f *fakeSpeaker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSpeaker) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fixture struct {
	sess  *Session
	ch    *fakeChannel
	mic   *fakeMic
	spk   *fakeSpeaker
	clock *manualClock
}

func newFixture(t *testing.T, mutate func(*Config, *Deps)) *fixture {
	t.Helper()
	f := &fixture{
		ch:    newFakeChannel(),
		mic:   newFakeMic(),
		spk:   &fakeSpeaker{},
		clock: &manualClock{},
	}
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	deps := Deps{
		OpenChannel: func(context.Context, Config) (Channel, error) {
			return f.ch, nil
		},
		OpenMicrophone: func() (Source, error) { return f.mic, nil },
		OpenSpeaker:    func() (OutputDevice, error) { return f.spk, nil },
		Clock:          f.clock,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	f.sess = NewSession(cfg, deps, zerolog.Nop())
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSession_StartAndStop(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := f.sess.ConnectionState(); got != Connected {
		t.Fatalf("state = %v, want connected", got)
	}

	f.sess.Stop()
	if got := f.sess.ConnectionState(); got != Disconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
	if !f.ch.isClosed() {
		t.Errorf("channel was not closed")
	}
	if !f.mic.isClosed() {
		t.Errorf("microphone was not closed")
	}
	if !f.spk.isClosed() {
		t.Errorf("speaker was not closed")
	}
	if f.sess.Err() != "" {
		t.Errorf("err = %q, want empty after a local stop", f.sess.Err())
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)

	// Stop before any start is a no-op.
	f.sess.Stop()

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.sess.Stop()
	f.sess.Stop()
	f.sess.Stop()

	if got := f.sess.ConnectionState(); got != Disconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestSession_StartWithoutAPIKey(t *testing.T) {
	f := newFixture(t, func(cfg *Config, _ *Deps) { cfg.APIKey = "  " })

	err := f.sess.Start(context.Background())
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	if core.TypeOf(err) != core.ErrConfiguration {
		t.Errorf("error type = %q, want %q", core.TypeOf(err), core.ErrConfiguration)
	}
	if got := f.sess.ConnectionState(); got != Disconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
	if f.sess.Err() == "" {
		t.Errorf("err is empty, want a user-visible message")
	}
	if got := f.sess.History(); len(got) != 0 {
		t.Errorf("history = %+v, want empty", got)
	}
}

func TestSession_ChannelOpenFailureReleasesDevices(t *testing.T) {
	dialErr := core.NewConnectionError("refused", nil)
	f := newFixture(t, func(_ *Config, deps *Deps) {
		deps.OpenChannel = func(context.Context, Config) (Channel, error) {
			return nil, dialErr
		}
	})

	err := f.sess.Start(context.Background())
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if core.TypeOf(err) != core.ErrConnection {
		t.Errorf("error type = %q, want %q", core.TypeOf(err), core.ErrConnection)
	}
	if !f.mic.isClosed() {
		t.Errorf("microphone leaked after failed start")
	}
	if !f.spk.isClosed() {
		t.Errorf("speaker leaked after failed start")
	}
	if got := f.sess.ConnectionState(); got != Disconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
	if f.sess.Err() == "" {
		t.Errorf("err is empty, want a user-visible message")
	}
}

func TestSession_ConversationFlow(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.sess.Stop()

	f.ch.push(UserChunkEvent{Text: "what time is it"})
	f.ch.push(ModelChunkEvent{Text: "It is"})
	f.ch.push(ModelChunkEvent{Text: " noon."})
	f.ch.push(AudioChunkEvent{Data: EncodeAudioFrame(make([]byte, 4800))})
	f.ch.push(AudioChunkEvent{Data: "not valid base64!!!"}) // skipped, not fatal
	f.ch.push(TurnCompleteEvent{})

	waitFor(t, "finalized history", func() bool { return len(f.sess.History()) == 2 })

	history := f.sess.History()
	if history[0].Role != RoleUser || history[0].Text != "what time is it" {
		t.Errorf("entry 0 = %+v", history[0])
	}
	if history[1].Role != RoleModel || history[1].Text != "It is noon." {
		t.Errorf("entry 1 = %+v", history[1])
	}
	if got := f.sess.ConnectionState(); got != Connected {
		t.Errorf("state = %v, a bad audio chunk must not end the session", got)
	}

	// The good chunk reaches the speaker once the clock moves.
	f.clock.Advance(100 * time.Millisecond)
	if f.spk.writeCount() != 1 {
		t.Errorf("speaker writes = %d, want 1", f.spk.writeCount())
	}
}

func TestSession_InterruptionFlushesPlaybackKeepsTranscript(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.sess.Stop()

	f.ch.push(ModelChunkEvent{Text: "Let me explain"})
	f.ch.push(AudioChunkEvent{Data: EncodeAudioFrame(make([]byte, 4800))})
	f.ch.push(InterruptedEvent{})

	waitFor(t, "playback flush", func() bool {
		f.spk.mu.Lock()
		defer f.spk.mu.Unlock()
		return f.spk.resets >= 1
	})

	// Queued audio is gone but the partial transcript stays pending.
	f.clock.Advance(time.Second)
	if f.spk.writeCount() != 0 {
		t.Errorf("speaker writes = %d, want 0 after interruption", f.spk.writeCount())
	}
	if got := f.sess.CurrentModelTurn(); got != "Let me explain" {
		t.Errorf("pending model turn = %q, want it preserved", got)
	}
}

func TestSession_ChannelErrorTearsDown(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.ch.end(core.NewConnectionError("connection reset", nil))

	waitFor(t, "teardown", func() bool {
		return f.sess.ConnectionState() == Disconnected
	})
	if f.sess.Err() == "" {
		t.Errorf("err is empty, want the connection failure message")
	}
	if !f.mic.isClosed() {
		t.Errorf("microphone leaked after channel failure")
	}
}

func TestSession_CleanRemoteCloseIsNotAnError(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.ch.end(nil)

	waitFor(t, "teardown", func() bool {
		return f.sess.ConnectionState() == Disconnected
	})
	if f.sess.Err() != "" {
		t.Errorf("err = %q, want empty after a clean remote close", f.sess.Err())
	}
}

func TestSession_StopDuringConnectWins(t *testing.T) {
	dialStarted := make(chan struct{})
	release := make(chan struct{})
	ch := newFakeChannel()
	f := newFixture(t, func(_ *Config, deps *Deps) {
		deps.OpenChannel = func(context.Context, Config) (Channel, error) {
			close(dialStarted)
			<-release
			return ch, nil
		}
	})

	errCh := make(chan error, 1)
	go func() { errCh <- f.sess.Start(context.Background()) }()

	<-dialStarted
	f.sess.Stop()
	close(release)

	if err := <-errCh; err == nil {
		t.Fatalf("expected start to report the mid-start stop")
	}
	if got := f.sess.ConnectionState(); got != Disconnected {
		t.Errorf("state = %v, want disconnected after a mid-start stop", got)
	}
	if !ch.isClosed() {
		t.Errorf("channel acquired during an aborted start was not closed")
	}
	if !f.mic.isClosed() {
		t.Errorf("microphone leaked after a mid-start stop")
	}
	if !f.spk.isClosed() {
		t.Errorf("speaker leaked after a mid-start stop")
	}
	if f.sess.Err() != "" {
		t.Errorf("err = %q, want empty: a stop is not a failure", f.sess.Err())
	}
}

func TestSession_StopDuringDeviceAcquisitionWins(t *testing.T) {
	micStarted := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, nil)
	mic := f.mic
	f.sess.deps.OpenMicrophone = func() (Source, error) {
		close(micStarted)
		<-release
		return mic, nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- f.sess.Start(context.Background()) }()

	<-micStarted
	f.sess.Stop()
	close(release)

	if err := <-errCh; err == nil {
		t.Fatalf("expected start to report the mid-start stop")
	}
	if got := f.sess.ConnectionState(); got != Disconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
	if !mic.isClosed() {
		t.Errorf("microphone acquired during an aborted start was not closed")
	}
}

func TestSession_LateAudioChunkAfterStopIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.sess.Stop()

	// A chunk that was already in flight when teardown ran must be
	// dropped, not scheduled onto the flushed queue.
	f.sess.handleChannelEvent(AudioChunkEvent{Data: EncodeAudioFrame(make([]byte, 4800))})

	f.clock.Advance(time.Second)
	if f.spk.writeCount() != 0 {
		t.Errorf("speaker writes = %d, want 0 for audio arriving after teardown", f.spk.writeCount())
	}
}

func TestSession_RestartAfterStop(t *testing.T) {
	var opened int
	f := newFixture(t, func(_ *Config, deps *Deps) {
		deps.OpenChannel = func(context.Context, Config) (Channel, error) {
			opened++
			return newFakeChannel(), nil
		}
	})

	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	f.sess.Stop()

	// Each start runs on fresh resources.
	f.mic = newFakeMic()
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if opened != 2 {
		t.Errorf("channel opened %d times, want 2", opened)
	}
	if got := f.sess.ConnectionState(); got != Connected {
		t.Errorf("state = %v, want connected", got)
	}
	if got := f.sess.History(); len(got) != 0 {
		t.Errorf("history = %+v, want cleared on restart", got)
	}
	f.sess.Stop()
}
