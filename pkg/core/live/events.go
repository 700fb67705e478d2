package live

// ChannelEvent is an event received from the remote channel. The
// session event loop consumes these in arrival order.
type ChannelEvent interface {
	channelEvent()
}

// UserChunkEvent carries an incremental transcription fragment of the
// user's speech.
type UserChunkEvent struct {
	Text string
}

// ModelChunkEvent carries an incremental transcription fragment of the
// model's speech.
type ModelChunkEvent struct {
	Text string
}

// AudioChunkEvent carries a wire-encoded chunk of model speech audio.
type AudioChunkEvent struct {
	// Data is the base64 payload exactly as received; decoding is
	// deferred to the session so a bad chunk can be skipped.
	Data string
}

// TurnCompleteEvent signals that the model finished its response turn.
type TurnCompleteEvent struct{}

// InterruptedEvent signals that the model was cut off by new user
// speech. Queued playback must be discarded.
type InterruptedEvent struct{}

func (UserChunkEvent) channelEvent()    {}
func (ModelChunkEvent) channelEvent()   {}
func (AudioChunkEvent) channelEvent()   {}
func (TurnCompleteEvent) channelEvent() {}
func (InterruptedEvent) channelEvent()  {}

// Event is a session event delivered to consumers via Session.Events().
type Event interface {
	EventType() string
}

// ConnectionStateEvent signals a connection state change.
type ConnectionStateEvent struct {
	From ConnectionState
	To   ConnectionState
}

func (e ConnectionStateEvent) EventType() string { return "connection.state" }

// TurnStateEvent signals a turn state change. The transition into
// TurnModelSpeaking is emitted before any model text so consumers can
// show a thinking indicator while the first chunk is still in flight.
type TurnStateEvent struct {
	From TurnState
	To   TurnState
}

func (e TurnStateEvent) EventType() string { return "turn.state" }

// UserTurnUpdatedEvent carries the full accumulated text of the
// in-flight user turn. Text is empty when the pending turn was cleared.
type UserTurnUpdatedEvent struct {
	Text string
}

func (e UserTurnUpdatedEvent) EventType() string { return "turn.user_updated" }

// ModelTurnUpdatedEvent carries the full accumulated text of the
// in-flight model turn. Text is empty when the pending turn was cleared.
type ModelTurnUpdatedEvent struct {
	Text string
}

func (e ModelTurnUpdatedEvent) EventType() string { return "turn.model_updated" }

// EntryFinalizedEvent signals that a completed turn was appended to the
// chat history.
type EntryFinalizedEvent struct {
	Entry ChatEntry
}

func (e EntryFinalizedEvent) EventType() string { return "history.entry" }

// HistoryClearedEvent signals that the chat history was reset. Emitted
// at the start of every session.
type HistoryClearedEvent struct{}

func (e HistoryClearedEvent) EventType() string { return "history.cleared" }

// ErrorEvent carries a fatal session error. The session tears down
// after emitting it.
type ErrorEvent struct {
	Message string
}

func (e ErrorEvent) EventType() string { return "error" }

// ClosedEvent signals that the session finished tearing down.
type ClosedEvent struct {
	// Reason is "stopped" for a local stop, "closed" for a clean remote
	// close, and "error" when the session failed.
	Reason string
}

func (e ClosedEvent) EventType() string { return "session.closed" }
