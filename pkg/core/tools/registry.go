package tools

import (
	"fmt"
	"strings"

	"github.com/voicewire-ai/voicewire/pkg/core"
	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// Fixed local function tool names. Parameter names and required fields are
// part of the wire contract with the backend.
const (
	ToolTakeScreenshot      = "take_screenshot"
	ToolExecuteExternalTask = "execute_external_task"
)

// TakeScreenshotSpec declares the screenshot capture tool.
func TakeScreenshotSpec(policy types.ApprovalPolicy) types.ToolSpec {
	return types.ToolSpec{
		Name:        ToolTakeScreenshot,
		Kind:        types.ToolKindLocalFunction,
		Description: "Capture the full screen or a specific application window.",
		ParametersSchema: types.ObjectSchema(map[string]types.JSONSchema{
			"capture_type": types.StringSchema("What to capture.", "full_screen", "window"),
			"app_name":     types.StringSchema("Application name when capture_type is window."),
			"window_title": types.StringSchema("Window title when capture_type is window."),
		}, "capture_type"),
		Approval: policy,
	}
}

// ExecuteExternalTaskSpec declares the external task execution tool.
func ExecuteExternalTaskSpec(policy types.ApprovalPolicy) types.ToolSpec {
	return types.ToolSpec{
		Name:        ToolExecuteExternalTask,
		Kind:        types.ToolKindLocalFunction,
		Description: "Run a task through the external code-execution service.",
		ParametersSchema: types.ObjectSchema(map[string]types.JSONSchema{
			"task": types.StringSchema("The task to execute."),
		}, "task"),
		Approval: policy,
	}
}

// Registry builds the declarative tool list offered to the backend for a
// session. Build is pure given its inputs.
type Registry struct{}

// NewRegistry creates a tool registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Build assembles the session tool set: local function tools first in
// registration order, then MCP tools in config order.
//
// Configuration problems (duplicate MCP labels, bad server URLs) are
// configuration errors reported here, never at call time. The offending
// config is excluded and the first valid entry wins; the returned error
// joins every rejection so callers can surface all of them.
func (r *Registry) Build(localTools []types.ToolSpec, mcpConfigs []types.MCPServerConfig) ([]types.ToolSpec, error) {
	specs := make([]types.ToolSpec, 0, len(localTools)+len(mcpConfigs))
	specs = append(specs, localTools...)

	seen := make(map[string]struct{}, len(mcpConfigs))
	var errs []error
	for i, cfg := range mcpConfigs {
		label := strings.TrimSpace(cfg.Label)
		if label == "" {
			errs = append(errs, core.NewConfigurationErrorWithParam(
				"mcp server label must not be empty",
				fmt.Sprintf("mcp[%d].label", i)))
			continue
		}
		if _, dup := seen[label]; dup {
			errs = append(errs, core.NewConfigurationErrorWithParam(
				fmt.Sprintf("duplicate mcp server label %q", label),
				fmt.Sprintf("mcp[%d].label", i)))
			continue
		}
		if !validServerURL(cfg.ServerURL) {
			errs = append(errs, core.NewConfigurationErrorWithParam(
				fmt.Sprintf("mcp server url %q must begin with http:// or https://", cfg.ServerURL),
				fmt.Sprintf("mcp[%d].server_url", i)))
			continue
		}
		seen[label] = struct{}{}
		specs = append(specs, types.ToolSpec{
			Name:      label,
			Kind:      types.ToolKindRemoteMCP,
			Endpoint:  cfg.ServerURL,
			AuthToken: cfg.Authorization,
			Approval:  cfg.Approval,
		})
	}

	if len(errs) > 0 {
		return specs, joinConfigErrors(errs)
	}
	return specs, nil
}

func validServerURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

func joinConfigErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return core.NewConfigurationError(strings.Join(parts, "; "))
}
