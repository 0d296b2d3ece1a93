package session

import (
	"context"

	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// AudioPipeline is the capture/playback collaborator. Implementations own
// the audio device; the orchestrator holds at most one pipeline open per
// session.
type AudioPipeline interface {
	// Start opens the capture device. Captured frames are delivered to the
	// frame callback until Stop; implementations that meter input level
	// report it through onLevel (0..1). Either callback may be nil.
	Start(ctx context.Context, onFrame func(pcm []byte), onLevel func(level float64)) error

	// Stop closes the capture device and releases it.
	Stop() error

	// Mute suppresses outbound frames without stopping capture.
	Mute()

	// Unmute resumes outbound frames.
	Unmute()

	// Play synthesizes and plays the given text, blocking until playback
	// completes or ctx is cancelled.
	Play(ctx context.Context, text, voice string) error
}

// Transcription is the result of one transcription request.
type Transcription struct {
	Text     string
	Language string
}

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, model string) (Transcription, error)
}

// ChatMessage is one turn handed to a ChatCompleter.
type ChatMessage struct {
	Role    types.Role
	Content string
}

// ChatCompleter produces an assistant reply for a conversation.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []ChatMessage, model string, maxTokens int, temperature float64) (string, error)
}

// TaskExecutor runs an external task on behalf of the
// execute_external_task tool. Implementations must observe ctx.
type TaskExecutor interface {
	Execute(ctx context.Context, task, taskContext string) (string, error)
}

// CaptureRequest describes one screenshot request.
type CaptureRequest struct {
	CaptureType string // "full_screen" or "window"
	AppName     string
	WindowTitle string
}

// ScreenCapturer takes screenshots on behalf of the take_screenshot tool.
type ScreenCapturer interface {
	Capture(ctx context.Context, req CaptureRequest) ([]byte, error)
}

// Backend is a connected realtime transport. The orchestrator owns the
// connection exclusively and never exposes it to callers.
type Backend interface {
	// SendAudio forwards one captured PCM frame.
	SendAudio(pcm []byte) error

	// SendToolResult reports a resolved tool call back to the backend so
	// the conversation can continue.
	SendToolResult(callID, output string, isError bool) error

	// Events yields backend events until the connection closes.
	Events() <-chan BackendEvent

	// Close tears the connection down.
	Close() error
}

// BackendDialer connects to the streaming backend and performs session
// setup with the given tool list.
type BackendDialer func(ctx context.Context, cfg Config, tools []types.ToolSpec) (Backend, error)

// BackendEvent is the interface for events arriving from the backend.
type BackendEvent interface {
	backendEvent()
}

// BackendTranscript carries incremental or final user transcription.
type BackendTranscript struct {
	Text  string
	Final bool
}

// BackendReplyText carries assistant response text.
type BackendReplyText struct {
	Text string
}

// BackendToolCall is a backend request to execute a tool.
type BackendToolCall struct {
	Call types.ToolCall
}

// BackendMCPProgress reports backend-side MCP execution progress.
type BackendMCPProgress struct {
	CallID  string
	Name    string
	Message string
}

// BackendMCPResult reports the outcome of a backend-side MCP call.
type BackendMCPResult struct {
	CallID  string
	Name    string
	Output  string
	IsError bool
}

// BackendWarning is a non-fatal condition reported by the backend.
type BackendWarning struct {
	Code    string
	Message string
}

// BackendClosed reports connection teardown. Err is nil on a clean close.
type BackendClosed struct {
	Err error
}

func (BackendTranscript) backendEvent()  {}
func (BackendReplyText) backendEvent()   {}
func (BackendToolCall) backendEvent()    {}
func (BackendMCPProgress) backendEvent() {}
func (BackendMCPResult) backendEvent()   {}
func (BackendWarning) backendEvent()     {}
func (BackendClosed) backendEvent()      {}
