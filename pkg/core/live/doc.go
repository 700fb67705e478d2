// Package live manages a real-time voice conversation with a speech
// model: microphone audio streams up, model speech streams down, and a
// textual transcript is assembled incrementally on the side.
//
// A Session ties together four pieces:
//
//   - the capture Pipeline frames microphone PCM and sends it over the
//     channel, failing the session on the first send error;
//   - the turn Assembler reconciles interleaved user and model
//     transcription chunks into an ordered ChatHistory plus live views
//     of the in-flight turns;
//   - the playback Scheduler queues decoded model audio gaplessly on a
//     monotonic output clock and flushes it on interruption;
//   - the lifecycle controller (Session itself) acquires and releases
//     the channel and the audio devices, keeping teardown idempotent.
//
// The remote transport is abstracted behind the Channel interface; see
// the channel/gemini package for the concrete implementation.
//
// Basic usage:
//
//	cfg := live.DefaultConfig()
//	cfg.APIKey = apiKey
//	sess := live.NewSession(cfg, deps, logger)
//	if err := sess.Start(ctx); err != nil {
//		// sess.Err() carries the user-visible message
//	}
//	for ev := range sess.Events() {
//		// render transcript updates, state changes, errors
//	}
//	sess.Stop()
package live
