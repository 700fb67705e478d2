package live

// Fixed audio and model parameters. The remote model consumes 16 kHz
// mono PCM16 and produces 24 kHz mono PCM16; these are not negotiable
// per session.
const (
	// CaptureSampleRate is the microphone sample rate in Hz.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the model output sample rate in Hz.
	PlaybackSampleRate = 24000
	// FrameBytes is the fixed size of one outbound capture frame.
	// At 16 kHz mono PCM16 this is 128 ms of audio.
	FrameBytes = 4096

	// DefaultModel is the live model resource name.
	DefaultModel = "models/gemini-2.0-flash-exp"
	// DefaultVoice is the prebuilt voice used for model speech.
	DefaultVoice = "Aoede"
)

// DefaultSystemPrompt is the persona instruction sent in the setup frame.
const DefaultSystemPrompt = "You are a friendly voice assistant. Keep your " +
	"answers short and conversational, as they will be spoken aloud."

// Config holds the session configuration. All fields are fixed for the
// lifetime of a session; changing them requires a stop and a new start.
type Config struct {
	// APIKey authenticates the websocket connection. Required.
	APIKey string

	// Model is the live model resource name.
	Model string

	// Voice is the prebuilt voice name for audio responses.
	Voice string

	// SystemPrompt is the system instruction sent during setup.
	SystemPrompt string
}

// DefaultConfig returns a Config with the fixed model parameters filled
// in. The API key must still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Model:        DefaultModel,
		Voice:        DefaultVoice,
		SystemPrompt: DefaultSystemPrompt,
	}
}

// CaptureAudio returns the audio parameters of the microphone stream.
func (c Config) CaptureAudio() AudioConfig {
	return AudioConfig{
		SampleRate:    CaptureSampleRate,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// PlaybackAudio returns the audio parameters of the model output stream.
func (c Config) PlaybackAudio() AudioConfig {
	return AudioConfig{
		SampleRate:    PlaybackSampleRate,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// ConnectionState represents the lifecycle state of a session.
type ConnectionState int

const (
	// Disconnected means no session resources exist.
	Disconnected ConnectionState = iota
	// Connecting means resource acquisition is in progress.
	Connecting
	// Connected means the session is live end to end.
	Connected
)

// String returns a human-readable connection state name.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// TurnState represents who is currently producing speech.
type TurnState int

const (
	// TurnIdle means neither side is speaking.
	TurnIdle TurnState = iota
	// TurnUserSpeaking means user transcription chunks are streaming in.
	TurnUserSpeaking
	// TurnModelSpeaking means model response chunks are streaming in.
	TurnModelSpeaking
)

// String returns a human-readable turn state name.
func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnUserSpeaking:
		return "user_speaking"
	case TurnModelSpeaking:
		return "model_speaking"
	default:
		return "unknown"
	}
}
