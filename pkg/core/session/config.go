package session

import (
	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// Mode is the interaction style for a session, fixed for its lifetime.
// Switching modes means stopping the session and starting a new one.
type Mode string

const (
	// ModeTranscribeOnly captures speech and produces one transcript.
	ModeTranscribeOnly Mode = "transcribe_only"
	// ModeTranscribeAndSpeak captures speech, produces a transcript, waits
	// for a caller-supplied reply, and speaks it.
	ModeTranscribeAndSpeak Mode = "transcribe_and_speak"
	// ModeRealtime holds a continuous bidirectional audio conversation with
	// the backend; the backend may call tools mid-conversation.
	ModeRealtime Mode = "realtime"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeTranscribeOnly, ModeTranscribeAndSpeak, ModeRealtime:
		return true
	}
	return false
}

// State represents the current state of the orchestrator.
type State int

const (
	// StateIdle is the initial and terminal state; every path ends here.
	StateIdle State = iota
	// StateConnecting is while the audio device and backend come up.
	StateConnecting
	// StateRecording is while user audio is being captured.
	StateRecording
	// StateTranscribing is while a stop-requested recording is transcribed.
	StateTranscribing
	// StateAwaitingReply is while waiting for the caller-supplied reply.
	StateAwaitingReply
	// StateExecutingTool is the realtime overlay while a tool call runs;
	// the audio connection stays alive underneath.
	StateExecutingTool
	// StateSpeaking is while reply audio plays back.
	StateSpeaking
	// StateError is after a fatal error; requires Acknowledge to leave.
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateRecording:
		return "RECORDING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateAwaitingReply:
		return "AWAITING_REPLY"
	case StateExecutingTool:
		return "EXECUTING_TOOL"
	case StateSpeaking:
		return "SPEAKING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TurnSensitivity controls backend turn detection.
type TurnSensitivity string

const (
	TurnSensitivityLow    TurnSensitivity = "low"
	TurnSensitivityMedium TurnSensitivity = "medium"
	TurnSensitivityHigh   TurnSensitivity = "high"
)

// Config is the immutable configuration snapshot for sessions started by
// one orchestrator. A running session never observes config changes; new
// configuration applies only to a new orchestrator.
type Config struct {
	// AudioFormat is the PCM format identifier sent to the backend.
	// Default: "pcm16".
	AudioFormat string `json:"audio_format"`

	// SampleRate is the capture sample rate in Hz. Default: 24000.
	SampleRate int `json:"sample_rate"`

	// TranscriptionModel identifies the speech-to-text model.
	TranscriptionModel string `json:"transcription_model"`

	// ChatModel identifies the completion model used for replies.
	ChatModel string `json:"chat_model,omitempty"`

	// Instructions is the system prompt sent at connect time.
	Instructions string `json:"instructions,omitempty"`

	// MaxOutputTokens caps backend responses.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`

	// Temperature controls sampling randomness.
	Temperature *float64 `json:"temperature,omitempty"`

	// Voice identifies the playback voice.
	Voice string `json:"voice,omitempty"`

	// TurnSensitivity configures backend turn detection.
	TurnSensitivity TurnSensitivity `json:"turn_sensitivity"`

	// LocalToolPolicy is the approval policy applied to the two built-in
	// local function tools.
	LocalToolPolicy types.ApprovalPolicy `json:"local_tool_policy"`

	// MCPServers declares remote tool servers offered to the backend.
	MCPServers []types.MCPServerConfig `json:"mcp_servers,omitempty"`

	// CancelGrace bounds how long a cancelled operation may take to
	// acknowledge before the orchestrator forces itself back to idle.
	// Default: 3000ms.
	CancelGraceMs int `json:"cancel_grace_ms"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AudioFormat:        "pcm16",
		SampleRate:         24000,
		TranscriptionModel: "whisper-1",
		ChatModel:          "gpt-4o-mini",
		TurnSensitivity:    TurnSensitivityMedium,
		LocalToolPolicy:    types.ApprovalPolicy{Mode: types.ApprovalAlways},
		CancelGraceMs:      3000,
	}
}
