// Package observability holds the logger setup, the process metrics and
// the health endpoint.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CaptureFramesSent counts microphone frames sent to the channel.
	CaptureFramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxkit_capture_frames_sent_total",
		Help: "Microphone frames sent over the session channel.",
	})

	// PlaybackBuffersScheduled counts audio chunks queued for playback.
	PlaybackBuffersScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxkit_playback_buffers_scheduled_total",
		Help: "Model audio chunks scheduled on the output timeline.",
	})

	// PlaybackFlushes counts playback queue flushes.
	PlaybackFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxkit_playback_flushes_total",
		Help: "Playback queue flushes from interruptions and teardowns.",
	})

	// AudioDecodeFailures counts skipped malformed audio chunks.
	AudioDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxkit_audio_decode_failures_total",
		Help: "Inbound audio chunks skipped because they failed to decode.",
	})

	// TurnsFinalized counts history entries by role.
	TurnsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxkit_turns_finalized_total",
		Help: "Turns appended to the chat history.",
	}, []string{"role"})

	// SessionErrors counts fatal session errors by type.
	SessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxkit_session_errors_total",
		Help: "Fatal session errors by error type.",
	}, []string{"type"})

	// ConnectionStateGauge exports the session connection state
	// (0 disconnected, 1 connecting, 2 connected).
	ConnectionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxkit_connection_state",
		Help: "Current session connection state.",
	})
)

// Handler returns the HTTP handler serving /metrics and /healthz.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
