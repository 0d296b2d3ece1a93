// Package tools implements the tool registry, the approval gate, and the
// dispatcher that routes backend tool calls to local executors.
package tools

import (
	"github.com/gobwas/glob"

	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// Decision is the outcome of an approval check for one tool call attempt.
type Decision string

const (
	// DecisionApproved lets execution proceed immediately.
	DecisionApproved Decision = "approved"
	// DecisionDenied blocks execution; no executor is ever invoked.
	DecisionDenied Decision = "denied"
	// DecisionRequiresPrompt holds the call until the caller obtains
	// explicit confirmation. Timeout or dismissal maps to denied.
	DecisionRequiresPrompt Decision = "requires_prompt"
)

// Gate evaluates approval policies. Decisions are computed fresh per call
// attempt; nothing is cached across calls, since a future policy may
// reference call arguments.
type Gate struct{}

// NewGate creates an approval gate.
func NewGate() *Gate {
	return &Gate{}
}

// Decide evaluates the policy for a tool name.
//
//	Never    -> Approved
//	Always   -> RequiresPrompt
//	Filtered -> RequiresPrompt iff the name matches a pattern
func (g *Gate) Decide(toolName string, policy types.ApprovalPolicy) Decision {
	switch policy.Mode {
	case types.ApprovalNever:
		return DecisionApproved
	case types.ApprovalAlways:
		return DecisionRequiresPrompt
	case types.ApprovalFiltered:
		for _, pattern := range policy.Patterns {
			matcher, err := glob.Compile(pattern)
			if err != nil {
				// An unparseable pattern must not silently widen access.
				return DecisionRequiresPrompt
			}
			if matcher.Match(toolName) {
				return DecisionRequiresPrompt
			}
		}
		return DecisionApproved
	default:
		return DecisionRequiresPrompt
	}
}
