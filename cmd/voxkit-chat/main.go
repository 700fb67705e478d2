// voxkit-chat is a terminal voice chat: microphone in, model speech
// out, transcript printed as turns complete.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxkit-go/voxkit/internal/config"
	"github.com/voxkit-go/voxkit/internal/observability"
	"github.com/voxkit-go/voxkit/pkg/audio"
	"github.com/voxkit-go/voxkit/pkg/channel/gemini"
	"github.com/voxkit-go/voxkit/pkg/core/live"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogPretty)

	if cfg.MetricsEnabled {
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener started")
			if err := http.ListenAndServe(cfg.MetricsAddr, observability.Handler()); err != nil {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	sessCfg := live.DefaultConfig()
	sessCfg.APIKey = cfg.GeminiAPIKey
	if cfg.Model != "" {
		sessCfg.Model = cfg.Model
	}
	if cfg.Voice != "" {
		sessCfg.Voice = cfg.Voice
	}
	if cfg.SystemPrompt != "" {
		sessCfg.SystemPrompt = cfg.SystemPrompt
	}

	devices, err := audio.Open(sessCfg.CaptureAudio(), sessCfg.PlaybackAudio(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audio devices")
	}
	defer devices.Close()

	deps := live.Deps{
		OpenChannel: func(ctx context.Context, c live.Config) (live.Channel, error) {
			return gemini.Dial(ctx, c, gemini.Options{Logger: logger})
		},
		OpenMicrophone: devices.Microphone,
		OpenSpeaker:    devices.Speaker,
	}
	sess := live.NewSession(sessCfg, deps, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		logger.Fatal().Str("reason", sess.Err()).Msg("could not start session")
	}
	fmt.Println("Connected. Speak into the microphone; Ctrl-C to quit.")

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
			sess.Stop()
			return
		case ev := <-sess.Events():
			if done := render(ev); done {
				return
			}
		}
	}
}

// render prints one session event and reports whether the session has
// ended for good.
func render(ev live.Event) bool {
	switch e := ev.(type) {
	case live.TurnStateEvent:
		if e.To == live.TurnModelSpeaking {
			fmt.Println("  ...")
		}
	case live.EntryFinalizedEvent:
		fmt.Printf("%s: %s\n", e.Entry.Role, e.Entry.Text)
	case live.ErrorEvent:
		fmt.Fprintf(os.Stderr, "error: %s\n", e.Message)
	case live.ClosedEvent:
		if e.Reason != "stopped" {
			fmt.Println("Session ended.")
			return true
		}
	}
	return false
}
