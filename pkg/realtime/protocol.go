// Package realtime implements the streaming backend transport: the wire
// protocol for session setup and server events, and a websocket client
// that surfaces them as typed backend events.
package realtime

import (
	"encoding/json"

	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// ToolDescriptor is one entry of the session.update tools array. Field
// names and nesting are part of the wire contract with the backend.
type ToolDescriptor struct {
	Type        string            `json:"type"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Parameters  *types.JSONSchema `json:"parameters,omitempty"`

	// MCP-only fields.
	ServerLabel     string `json:"server_label,omitempty"`
	ServerURL       string `json:"server_url,omitempty"`
	Authorization   string `json:"authorization,omitempty"`
	RequireApproval string `json:"require_approval,omitempty"`
}

// TurnDetection configures backend turn detection.
type TurnDetection struct {
	Sensitivity string `json:"sensitivity"`
}

// SessionPayload is the session configuration sent at connect time.
type SessionPayload struct {
	AudioFormat        string           `json:"audio_format"`
	TranscriptionModel string           `json:"transcription_model"`
	Instructions       string           `json:"instructions,omitempty"`
	MaxOutputTokens    int              `json:"max_output_tokens,omitempty"`
	Temperature        *float64         `json:"temperature,omitempty"`
	Voice              string           `json:"voice,omitempty"`
	TurnDetection      *TurnDetection   `json:"turn_detection,omitempty"`
	Tools              []ToolDescriptor `json:"tools,omitempty"`
}

// ClientSessionUpdate is the first frame sent on a new connection.
type ClientSessionUpdate struct {
	Type    string         `json:"type"`
	Session SessionPayload `json:"session"`
}

// ClientAudioFrame carries one captured PCM frame, base64 encoded.
type ClientAudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq"`
	DataB64 string `json:"data_b64"`
}

// ClientToolResult reports a resolved tool call back to the backend.
type ClientToolResult struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// ClientControl carries a control operation (for example "end_session").
type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// ServerTranscriptDelta carries incremental user transcription.
type ServerTranscriptDelta struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final,omitempty"`
}

// ServerResponseText carries assistant response text.
type ServerResponseText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ServerToolCall is a backend request to execute a declared tool.
type ServerToolCall struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ServerMCPProgress reports backend-side MCP execution progress.
type ServerMCPProgress struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServerMCPResult reports the outcome of a backend-side MCP call.
type ServerMCPResult struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Output  string `json:"output,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// ServerWarning is a non-fatal condition reported by the backend.
type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServerError is a fatal condition; the backend closes after sending it.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// BuildSessionPayload maps a session configuration and tool set onto the
// wire payload. Tool ordering is preserved: local function tools first,
// then MCP descriptors. The three-way local approval policy collapses to
// the two wire values via WireValue; the filtered variant is enforced
// client-side only.
func BuildSessionPayload(audioFormat, transcriptionModel, instructions string, maxOutputTokens int, temperature *float64, voice, sensitivity string, specs []types.ToolSpec) SessionPayload {
	payload := SessionPayload{
		AudioFormat:        audioFormat,
		TranscriptionModel: transcriptionModel,
		Instructions:       instructions,
		MaxOutputTokens:    maxOutputTokens,
		Temperature:        temperature,
		Voice:              voice,
		Tools:              BuildToolDescriptors(specs),
	}
	if sensitivity != "" {
		payload.TurnDetection = &TurnDetection{Sensitivity: sensitivity}
	}
	return payload
}

// BuildToolDescriptors converts the session tool set into wire
// descriptors.
func BuildToolDescriptors(specs []types.ToolSpec) []ToolDescriptor {
	if len(specs) == 0 {
		return nil
	}
	out := make([]ToolDescriptor, 0, len(specs))
	for _, spec := range specs {
		switch spec.Kind {
		case types.ToolKindRemoteMCP:
			out = append(out, ToolDescriptor{
				Type:            "mcp",
				ServerLabel:     spec.Name,
				ServerURL:       spec.Endpoint,
				Authorization:   spec.AuthToken,
				RequireApproval: spec.Approval.WireValue(),
			})
		default:
			out = append(out, ToolDescriptor{
				Type:        "function",
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.ParametersSchema,
			})
		}
	}
	return out
}
