package live

import (
	"strings"
	"sync"
)

// Role identifies the speaker of a chat entry.
type Role int

const (
	// RoleUser marks an entry transcribed from the microphone.
	RoleUser Role = iota
	// RoleModel marks an entry spoken by the model.
	RoleModel
)

// String returns a human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleModel:
		return "model"
	default:
		return "unknown"
	}
}

// ChatEntry is one finalized turn in the conversation history.
type ChatEntry struct {
	Role Role
	Text string
}

// EffectKind identifies a side effect produced by a turn transition.
type EffectKind int

const (
	// AppendUserText appends a fragment to the pending user turn.
	AppendUserText EffectKind = iota
	// AppendModelText appends a fragment to the pending model turn.
	AppendModelText
	// FinalizeUserTurn moves the pending user text into the history.
	FinalizeUserTurn
	// FinalizeModelTurn moves the pending model text into the history.
	FinalizeModelTurn
	// ClearPending discards whatever pending text remains.
	ClearPending
)

// Effect is one side effect of a turn transition, applied in order.
type Effect struct {
	Kind EffectKind
	Text string
}

// Transition is the turn state machine. It maps the current turn state
// and one channel event to the next state and an ordered effect list.
// It is pure: the Assembler owns the accumulators and applies the
// effects.
//
// Turn boundaries are inferred from the switch between chunk kinds.
// A model chunk after user chunks finalizes the user turn; a user chunk
// after model chunks finalizes the model turn (barge-in); turn
// completion finalizes whatever is pending. Finalize effects are
// no-ops when the corresponding pending text is blank.
func Transition(state TurnState, ev ChannelEvent) (TurnState, []Effect) {
	switch e := ev.(type) {
	case UserChunkEvent:
		if state == TurnModelSpeaking {
			return TurnUserSpeaking, []Effect{
				{Kind: FinalizeModelTurn},
				{Kind: AppendUserText, Text: e.Text},
			}
		}
		return TurnUserSpeaking, []Effect{
			{Kind: AppendUserText, Text: e.Text},
		}

	case ModelChunkEvent:
		if state == TurnUserSpeaking {
			return TurnModelSpeaking, []Effect{
				{Kind: FinalizeUserTurn},
				{Kind: AppendModelText, Text: e.Text},
			}
		}
		return TurnModelSpeaking, []Effect{
			{Kind: AppendModelText, Text: e.Text},
		}

	case TurnCompleteEvent:
		effects := make([]Effect, 0, 3)
		if state == TurnUserSpeaking {
			effects = append(effects, Effect{Kind: FinalizeUserTurn})
		}
		effects = append(effects,
			Effect{Kind: FinalizeModelTurn},
			Effect{Kind: ClearPending},
		)
		return TurnIdle, effects

	default:
		// Audio and interruption events do not touch the transcript.
		return state, nil
	}
}

// Assembler reconciles interleaved transcription chunks into an ordered
// chat history plus live views of the in-flight turns. Events are
// applied one at a time; the session event loop is the only writer.
type Assembler struct {
	mu           sync.Mutex
	state        TurnState
	pendingUser  strings.Builder
	pendingModel strings.Builder
	history      []ChatEntry

	notify func(Event)
}

// NewAssembler creates an Assembler that reports observable changes
// through notify. notify may be nil.
func NewAssembler(notify func(Event)) *Assembler {
	if notify == nil {
		notify = func(Event) {}
	}
	return &Assembler{notify: notify}
}

// Reset discards the history and any pending text and returns the state
// machine to idle. Called at session start.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = TurnIdle
	a.pendingUser.Reset()
	a.pendingModel.Reset()
	a.history = nil
	a.notify(HistoryClearedEvent{})
}

// Handle applies one channel event to the turn state machine.
func (a *Assembler) Handle(ev ChannelEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, effects := Transition(a.state, ev)
	if next != a.state {
		prev := a.state
		a.state = next
		// The state change is observable before any effect so a
		// thinking indicator can precede the first model text.
		a.notify(TurnStateEvent{From: prev, To: next})
	}
	for _, eff := range effects {
		a.apply(eff)
	}
}

func (a *Assembler) apply(eff Effect) {
	switch eff.Kind {
	case AppendUserText:
		a.pendingUser.WriteString(eff.Text)
		a.notify(UserTurnUpdatedEvent{Text: a.pendingUser.String()})
	case AppendModelText:
		a.pendingModel.WriteString(eff.Text)
		a.notify(ModelTurnUpdatedEvent{Text: a.pendingModel.String()})
	case FinalizeUserTurn:
		a.finalize(RoleUser, &a.pendingUser)
	case FinalizeModelTurn:
		a.finalize(RoleModel, &a.pendingModel)
	case ClearPending:
		a.clear(RoleUser, &a.pendingUser)
		a.clear(RoleModel, &a.pendingModel)
	}
}

// finalize appends the trimmed pending text as a history entry. Blank
// pending text produces no entry, so stray whitespace chunks never
// create empty turns.
func (a *Assembler) finalize(role Role, pending *strings.Builder) {
	text := strings.TrimSpace(pending.String())
	if text != "" {
		entry := ChatEntry{Role: role, Text: text}
		a.history = append(a.history, entry)
		a.notify(EntryFinalizedEvent{Entry: entry})
	}
	a.clear(role, pending)
}

func (a *Assembler) clear(role Role, pending *strings.Builder) {
	if pending.Len() == 0 {
		return
	}
	pending.Reset()
	switch role {
	case RoleUser:
		a.notify(UserTurnUpdatedEvent{})
	case RoleModel:
		a.notify(ModelTurnUpdatedEvent{})
	}
}

// State returns the current turn state.
func (a *Assembler) State() TurnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns a snapshot of the finalized conversation.
func (a *Assembler) History() []ChatEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ChatEntry, len(a.history))
	copy(out, a.history)
	return out
}

// CurrentUserTurn returns the accumulated text of the in-flight user
// turn, or "" when there is none.
func (a *Assembler) CurrentUserTurn() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingUser.String()
}

// CurrentModelTurn returns the accumulated text of the in-flight model
// turn, or "" when there is none.
func (a *Assembler) CurrentModelTurn() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pendingModel.String()
}
