package types

import "encoding/json"

// ToolKind distinguishes locally executed function tools from remote MCP
// servers that the backend invokes directly.
type ToolKind string

const (
	ToolKindLocalFunction ToolKind = "function"
	ToolKindRemoteMCP     ToolKind = "mcp"
)

// ApprovalMode is the local three-way approval policy for a tool.
type ApprovalMode string

const (
	// ApprovalNever means calls proceed without confirmation.
	ApprovalNever ApprovalMode = "never"
	// ApprovalAlways means every call needs explicit confirmation.
	ApprovalAlways ApprovalMode = "always"
	// ApprovalFiltered prompts only for tool names matching the policy's
	// patterns. This is a client-side concept; on the wire it collapses
	// to "always".
	ApprovalFiltered ApprovalMode = "filtered"
)

// ApprovalPolicy decides whether a tool call needs user confirmation.
// A policy is deterministic given (tool name, policy) and holds no state.
type ApprovalPolicy struct {
	Mode ApprovalMode `json:"mode"`

	// Patterns are glob patterns (for example "file_*") consulted only
	// when Mode is ApprovalFiltered.
	Patterns []string `json:"patterns,omitempty"`
}

// WireValue collapses the local policy onto the two-way wire contract.
// The filtered mode maps to "always"; the filter itself is enforced
// client-side.
func (p ApprovalPolicy) WireValue() string {
	switch p.Mode {
	case ApprovalNever:
		return "never"
	default:
		return "always"
	}
}

// ToolSpec declares one invocable capability offered to the backend.
type ToolSpec struct {
	Name             string          `json:"name"`
	Kind             ToolKind        `json:"kind"`
	Description      string          `json:"description,omitempty"`
	ParametersSchema *JSONSchema     `json:"parameters_schema,omitempty"`
	Endpoint         string          `json:"endpoint,omitempty"`
	AuthToken        string          `json:"-"`
	Approval         ApprovalPolicy  `json:"approval"`
}

// MCPServerConfig declares one remote MCP tool server.
// Labels must be unique among the servers configured for a session.
type MCPServerConfig struct {
	Label         string         `json:"label"`
	ServerURL     string         `json:"server_url"`
	Authorization string         `json:"-"`
	Approval      ApprovalPolicy `json:"approval"`
}

// ToolCallStatus is the lifecycle status of one tool call. A call moves
// through these monotonically and reaches at most one terminal status.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallApproved  ToolCallStatus = "approved"
	ToolCallDenied    ToolCallStatus = "denied"
	ToolCallExecuting ToolCallStatus = "executing"
	ToolCallSucceeded ToolCallStatus = "succeeded"
	ToolCallFailed    ToolCallStatus = "failed"
	ToolCallCancelled ToolCallStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ToolCallStatus) Terminal() bool {
	switch s {
	case ToolCallDenied, ToolCallSucceeded, ToolCallFailed, ToolCallCancelled:
		return true
	}
	return false
}

// ToolCall is a backend-issued request to execute a named capability.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Status    ToolCallStatus  `json:"status"`
}
