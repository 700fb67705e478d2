// Package gemini implements the live session channel over the Gemini
// Live websocket API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxkit-go/voxkit/pkg/core"
	"github.com/voxkit-go/voxkit/pkg/core/live"
)

// DefaultEndpoint is the Gemini Live bidi websocket endpoint.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/" +
	"google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultSetupTimeout     = 10 * time.Second
	writeTimeout            = 10 * time.Second
)

// Options tune the connection. The zero value is ready for production
// use; tests point Endpoint at a local server.
type Options struct {
	// Endpoint overrides the websocket URL.
	Endpoint string

	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration

	// SetupTimeout bounds the wait for the setup acknowledgement.
	SetupTimeout time.Duration

	// Logger receives connection-level logs.
	Logger zerolog.Logger
}

// Channel is a live.Channel over one websocket connection. The
// connection performs the setup handshake during Dial, so a returned
// Channel is ready to stream.
type Channel struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
	events  chan live.ChannelEvent

	errMu sync.Mutex
	err   error
}

// Dial connects, sends the setup frame, and waits for the server's
// setup acknowledgement before returning.
func Dial(ctx context.Context, cfg live.Config, opts Options) (*Channel, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	setupTimeout := opts.SetupTimeout
	if setupTimeout == 0 {
		setupTimeout = defaultSetupTimeout
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	header.Set("x-goog-api-key", cfg.APIKey)

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		// On a failed upgrade gorilla hands back the handshake
		// response; its body is ours to close.
		if resp != nil {
			resp.Body.Close()
			return nil, core.NewConnectionError(
				fmt.Sprintf("websocket dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, core.NewConnectionError("websocket dial failed", err)
	}

	if err := conn.WriteJSON(buildSetup(cfg)); err != nil {
		conn.Close()
		return nil, core.NewConnectionError("failed to send setup frame", err)
	}

	// The first server frame must acknowledge the setup.
	_ = conn.SetReadDeadline(time.Now().Add(setupTimeout))
	var first serverMessage
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, core.NewConnectionError("failed to read setup acknowledgement", err)
	}
	if first.SetupComplete == nil {
		conn.Close()
		return nil, core.NewConnectionError("server did not acknowledge setup", nil)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Channel{
		conn:   conn,
		log:    opts.Logger,
		done:   make(chan struct{}),
		events: make(chan live.ChannelEvent, 64),
	}
	go c.readLoop()

	c.log.Debug().Str("endpoint", endpoint).Msg("live channel established")
	return c, nil
}

// Events returns the inbound event stream. It is closed when the
// connection ends; Err reports why.
func (c *Channel) Events() <-chan live.ChannelEvent {
	return c.events
}

// SendAudioFrame sends one wire-encoded PCM frame as realtime input.
func (c *Channel) SendAudioFrame(encoded string) error {
	if c.closed.Load() {
		return errors.New("channel is closed")
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{
				MimeType: fmt.Sprintf("audio/pcm;rate=%d", live.CaptureSampleRate),
				Data:     encoded,
			}},
		},
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

// Close shuts the connection down. Safe to call more than once.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	// Best effort close frame; the read loop exits on the dropped
	// connection either way.
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return c.conn.Close()
}

// Err returns the transport failure that ended the connection, or nil
// after a clean close.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) readLoop() {
	defer close(c.events)
	for {
		var msg serverMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !c.closed.Load() &&
				!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setErr(err)
				c.log.Warn().Err(err).Msg("live channel read failed")
			}
			return
		}
		for _, ev := range translate(&msg) {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

// translate maps one server frame to channel events, preserving the
// order a consumer must observe: an interruption cancels old audio
// before anything new from the same frame is seen.
func translate(msg *serverMessage) []live.ChannelEvent {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}
	var events []live.ChannelEvent
	if sc.Interrupted {
		events = append(events, live.InterruptedEvent{})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, live.UserChunkEvent{Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, live.ModelChunkEvent{Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				events = append(events, live.AudioChunkEvent{Data: p.InlineData.Data})
			}
		}
	}
	if sc.TurnComplete {
		events = append(events, live.TurnCompleteEvent{})
	}
	return events
}

func buildSetup(cfg live.Config) setupMessage {
	return setupMessage{
		Setup: setupPayload{
			Model: cfg.Model,
			GenerationConfig: &generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: &voiceConfig{
						PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: cfg.Voice},
					},
				},
			},
			SystemInstruction: &content{
				Parts: []part{{Text: cfg.SystemPrompt}},
			},
			InputAudioTranscription:  &transcriptionConfig{},
			OutputAudioTranscription: &transcriptionConfig{},
		},
	}
}
