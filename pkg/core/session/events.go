package session

import (
	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// Event is the interface for all orchestrator events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// SessionStartedEvent is emitted when a session reaches Recording.
type SessionStartedEvent struct {
	SessionID string `json:"session_id"`
	Mode      Mode   `json:"mode"`
}

func (e *SessionStartedEvent) EventType() string { return "session.started" }

// SessionEndedEvent is emitted when a session returns to idle.
type SessionEndedEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

func (e *SessionEndedEvent) EventType() string { return "session.ended" }

// StateChangedEvent is emitted on every state transition.
type StateChangedEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// TranscriptReadyEvent is emitted when a stop-requested recording has been
// transcribed.
type TranscriptReadyEvent struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

func (e *TranscriptReadyEvent) EventType() string { return "transcript.ready" }

// TranscriptDeltaEvent is emitted for incremental realtime transcription.
type TranscriptDeltaEvent struct {
	Delta   string `json:"delta"`
	IsFinal bool   `json:"is_final,omitempty"`
}

func (e *TranscriptDeltaEvent) EventType() string { return "transcript.delta" }

// ReplyTextEvent is emitted as assistant text arrives from the backend.
type ReplyTextEvent struct {
	Text string `json:"text"`
}

func (e *ReplyTextEvent) EventType() string { return "reply.text" }

// SpeakingStartedEvent is emitted when reply playback begins.
type SpeakingStartedEvent struct {
	ReplyID string `json:"reply_id"`
}

func (e *SpeakingStartedEvent) EventType() string { return "speaking.started" }

// PlaybackDoneEvent is emitted when reply playback completes.
type PlaybackDoneEvent struct {
	ReplyID string `json:"reply_id"`
}

func (e *PlaybackDoneEvent) EventType() string { return "playback.done" }

// ToolCallRequestedEvent is emitted when the backend requests a tool call.
type ToolCallRequestedEvent struct {
	Call types.ToolCall `json:"call"`
}

func (e *ToolCallRequestedEvent) EventType() string { return "tool_call.requested" }

// ToolCallResolvedEvent is emitted when a tool call reaches a terminal
// status.
type ToolCallResolvedEvent struct {
	Call   types.ToolCall `json:"call"`
	Output string         `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (e *ToolCallResolvedEvent) EventType() string { return "tool_call.resolved" }

// AudioLevelEvent carries an input level reading while capturing.
type AudioLevelEvent struct {
	Level float64 `json:"level"`
}

func (e *AudioLevelEvent) EventType() string { return "audio.level" }

// MutedEvent is emitted when outbound audio is suppressed.
type MutedEvent struct{}

func (e *MutedEvent) EventType() string { return "audio.muted" }

// UnmutedEvent is emitted when outbound audio resumes.
type UnmutedEvent struct{}

func (e *UnmutedEvent) EventType() string { return "audio.unmuted" }

// WarningEvent is emitted for transient failures that do not change the
// session state.
type WarningEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WarningEvent) EventType() string { return "warning" }

// SessionErrorEvent is emitted when a fatal error moves the session to the
// error state. The session stays there until acknowledged.
type SessionErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *SessionErrorEvent) EventType() string { return "session.error" }

// ForcedIdleEvent is emitted when a cancelled operation failed to
// acknowledge within the grace window and the orchestrator forced itself
// back to idle.
type ForcedIdleEvent struct {
	SessionID string `json:"session_id"`
}

func (e *ForcedIdleEvent) EventType() string { return "session.forced_idle" }
