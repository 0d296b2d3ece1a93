package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voicewire-ai/voicewire/pkg/core"
	"github.com/voicewire-ai/voicewire/pkg/core/tools"
	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// newDispatcher builds the per-session tool dispatcher and registers the
// two local function tools against their collaborators.
func (o *Orchestrator) newDispatcher(sess *activeSession) *tools.Dispatcher {
	d := tools.NewDispatcher(tools.NewGate(), o.toolSpecs, o.collab.Prompt, func(ev tools.Event) {
		o.onToolEvent(sess, ev)
	})
	d.RegisterHandler(tools.ToolTakeScreenshot, o.screenshotHandler(sess))
	d.RegisterHandler(tools.ToolExecuteExternalTask, o.externalTaskHandler())
	return d
}

// onToolEvent turns dispatcher lifecycle events into transcript entries.
// Cancelled calls append nothing: aborted content leaves no record.
func (o *Orchestrator) onToolEvent(sess *activeSession, ev tools.Event) {
	switch ev.Kind {
	case tools.EventStarted:
		o.store.Append(types.NewTranscriptEntry(types.RoleSystem, types.EntryToolStart,
			fmt.Sprintf("executing %s", ev.Call.Name)))
	case tools.EventProgress:
		o.store.Append(types.NewTranscriptEntry(types.RoleSystem, types.EntryToolProgress, ev.Message))
	case tools.EventResolved:
		switch ev.Call.Status {
		case types.ToolCallSucceeded:
			entry := types.NewTranscriptEntry(types.RoleSystem, types.EntryToolResult, ev.Output)
			if ev.Call.Name == tools.ToolTakeScreenshot {
				sess.mu.Lock()
				entry.AttachedImage = sess.pendingImage
				sess.pendingImage = nil
				sess.mu.Unlock()
			}
			o.store.Append(entry)
		case types.ToolCallDenied:
			o.store.Append(types.NewTranscriptEntry(types.RoleSystem, types.EntryToolError,
				fmt.Sprintf("%s denied by user", ev.Call.Name)))
		case types.ToolCallFailed:
			msg := "tool execution failed"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			o.store.Append(types.NewTranscriptEntry(types.RoleSystem, types.EntryToolError, msg))
		}
	}
}

type screenshotArgs struct {
	CaptureType string `json:"capture_type"`
	AppName     string `json:"app_name,omitempty"`
	WindowTitle string `json:"window_title,omitempty"`
}

func (o *Orchestrator) screenshotHandler(sess *activeSession) tools.Handler {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		if o.collab.Screens == nil {
			return "", core.NewToolExecutionError("no screen capturer configured", nil)
		}
		var args screenshotArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
		}
		if args.CaptureType == "" {
			args.CaptureType = "full_screen"
		}

		img, err := o.collab.Screens.Capture(ctx, CaptureRequest{
			CaptureType: args.CaptureType,
			AppName:     args.AppName,
			WindowTitle: args.WindowTitle,
		})
		if err != nil {
			return "", err
		}

		// Held until the call resolves; at most one call executes at a
		// time, so a single slot per session suffices.
		sess.mu.Lock()
		sess.pendingImage = img
		sess.mu.Unlock()

		return fmt.Sprintf("captured %s screenshot (%d bytes)", args.CaptureType, len(img)), nil
	}
}

type externalTaskArgs struct {
	Task string `json:"task"`
}

func (o *Orchestrator) externalTaskHandler() tools.Handler {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		if o.collab.Tasks == nil {
			return "", core.NewToolExecutionError("no task executor configured", nil)
		}
		var args externalTaskArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
		}
		if args.Task == "" {
			return "", core.NewToolExecutionError("task must not be empty", nil)
		}
		return o.collab.Tasks.Execute(ctx, args.Task, o.cfg.Instructions)
	}
}
