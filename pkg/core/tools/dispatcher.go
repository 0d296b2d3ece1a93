package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/voicewire-ai/voicewire/pkg/core"
	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// Handler executes one local function tool call. Handlers must observe ctx
// cancellation at their next yield point.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Prompter obtains explicit user confirmation for a call whose approval
// decision is RequiresPrompt. Returning false, or an error (including
// timeout/dismissal), maps to denial.
type Prompter func(ctx context.Context, call types.ToolCall) (bool, error)

// EventKind identifies a dispatcher lifecycle event.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventProgress EventKind = "progress"
	EventResolved EventKind = "resolved"
)

// Event is one tool-call lifecycle notification. The orchestrator turns
// these into transcript entries.
type Event struct {
	Kind    EventKind
	Call    types.ToolCall
	Message string
	Output  string
	Err     error
}

// Resolution is the terminal outcome of one invocation.
type Resolution struct {
	Call   types.ToolCall
	Output string
	Err    error
}

type callState struct {
	call   types.ToolCall
	ctx    context.Context
	cancel context.CancelFunc
	done   chan Resolution
}

// Dispatcher routes backend tool-call requests to local executors.
//
// At most one call executes at a time; requests that arrive while one is
// executing queue in arrival order and start only after the previous call
// reaches a terminal status. Remote MCP calls are not executed here — the
// backend invokes those servers directly — so for them the dispatcher only
// tracks status and reports progress/result events.
type Dispatcher struct {
	gate    *Gate
	prompt  Prompter
	emit    func(Event)
	specs   map[string]types.ToolSpec
	handler map[string]Handler

	mu        sync.Mutex
	calls     map[string]*callState
	executing *callState
	queue     []*callState
}

// NewDispatcher creates a dispatcher over the given tool set.
// emit may be nil; prompt may be nil, in which case RequiresPrompt denies.
func NewDispatcher(gate *Gate, specs []types.ToolSpec, prompt Prompter, emit func(Event)) *Dispatcher {
	d := &Dispatcher{
		gate:    gate,
		prompt:  prompt,
		emit:    emit,
		specs:   make(map[string]types.ToolSpec, len(specs)),
		handler: make(map[string]Handler),
		calls:   make(map[string]*callState),
	}
	for _, spec := range specs {
		d.specs[spec.Name] = spec
	}
	return d
}

// RegisterHandler binds a local function tool name to its executor.
func (d *Dispatcher) RegisterHandler(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler[name] = h
}

// Status returns the current status of a tracked call.
func (d *Dispatcher) Status(callID string) (types.ToolCallStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs, ok := d.calls[callID]
	if !ok {
		return "", false
	}
	return cs.call.Status, true
}

// Invoke runs the approval gate and then executes (or queues) the call.
// The returned channel yields exactly one terminal Resolution.
//
// Denied calls resolve immediately and never reach an executor. Failed
// executions resolve with a tool execution error payload and are never
// retried here; re-issuing is the caller's job.
func (d *Dispatcher) Invoke(ctx context.Context, call types.ToolCall) <-chan Resolution {
	callCtx, cancel := context.WithCancel(ctx)
	cs := &callState{
		call:   call,
		ctx:    callCtx,
		cancel: cancel,
		done:   make(chan Resolution, 1),
	}
	cs.call.Status = types.ToolCallPending

	d.mu.Lock()
	if _, exists := d.calls[call.ID]; exists {
		d.mu.Unlock()
		cancel()
		// Terminal status so the caller reports the duplicate as an error,
		// not a successful result.
		dup := call
		dup.Status = types.ToolCallFailed
		cs.done <- Resolution{Call: dup, Err: core.NewConfigurationError(fmt.Sprintf("tool call id %q already in flight", call.ID))}
		return cs.done
	}
	d.calls[call.ID] = cs
	spec, known := d.specs[call.Name]
	d.mu.Unlock()

	go d.admit(cs, spec, known)
	return cs.done
}

// admit runs approval, then hands the call to the serial execution queue.
func (d *Dispatcher) admit(cs *callState, spec types.ToolSpec, known bool) {
	if !known {
		d.resolve(cs, types.ToolCallFailed, "", core.NewToolExecutionError(fmt.Sprintf("unknown tool %q", cs.call.Name), nil))
		return
	}
	if spec.Kind == types.ToolKindRemoteMCP {
		d.resolve(cs, types.ToolCallFailed, "", core.NewToolExecutionError(fmt.Sprintf("tool %q executes backend-side", cs.call.Name), nil))
		return
	}

	switch d.gate.Decide(cs.call.Name, spec.Approval) {
	case DecisionDenied:
		d.resolve(cs, types.ToolCallDenied, "", nil)
		return
	case DecisionRequiresPrompt:
		if d.prompt == nil {
			d.resolve(cs, types.ToolCallDenied, "", nil)
			return
		}
		approved, err := d.prompt(cs.ctx, cs.call)
		if err != nil || !approved {
			d.resolve(cs, types.ToolCallDenied, "", nil)
			return
		}
	}

	d.setStatus(cs, types.ToolCallApproved)
	d.enqueue(cs)
}

// enqueue starts the call immediately if nothing is executing, otherwise
// appends it in arrival order.
func (d *Dispatcher) enqueue(cs *callState) {
	d.mu.Lock()
	if cs.call.Status.Terminal() {
		d.mu.Unlock()
		return
	}
	if d.executing != nil {
		d.queue = append(d.queue, cs)
		d.mu.Unlock()
		return
	}
	d.executing = cs
	d.mu.Unlock()

	go d.execute(cs)
}

func (d *Dispatcher) execute(cs *callState) {
	d.mu.Lock()
	h := d.handler[cs.call.Name]
	d.mu.Unlock()

	d.setStatus(cs, types.ToolCallExecuting)
	d.emitEvent(Event{Kind: EventStarted, Call: d.snapshot(cs)})

	if h == nil {
		d.resolve(cs, types.ToolCallFailed, "", core.NewToolExecutionError(fmt.Sprintf("no handler registered for tool %q", cs.call.Name), nil))
		return
	}

	output, err := h(cs.ctx, cs.call.Arguments)
	switch {
	case errors.Is(err, context.Canceled) || cs.ctx.Err() != nil:
		d.resolve(cs, types.ToolCallCancelled, "", core.NewCancelledError("tool call cancelled"))
	case err != nil:
		d.resolve(cs, types.ToolCallFailed, "", core.NewToolExecutionError(err.Error(), err))
	default:
		d.resolve(cs, types.ToolCallSucceeded, output, nil)
	}
}

// Cancel transitions an executing call to cancelled. Cancelling a call that
// is not executing is a no-op, not an error.
func (d *Dispatcher) Cancel(callID string) {
	d.mu.Lock()
	cs, ok := d.calls[callID]
	executing := ok && cs.call.Status == types.ToolCallExecuting
	d.mu.Unlock()

	if executing {
		cs.cancel()
	}
}

// CancelAll resolves every non-terminal call (executing or queued) to
// cancelled. Used when the owning session is cancelled or torn down.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	pending := make([]*callState, 0, len(d.calls))
	for _, cs := range d.calls {
		if !cs.call.Status.Terminal() {
			pending = append(pending, cs)
		}
	}
	d.mu.Unlock()

	for _, cs := range pending {
		cs.cancel()
		d.resolve(cs, types.ToolCallCancelled, "", core.NewCancelledError("session cancelled"))
	}
}

// ReportRemoteStarted records that the backend began executing an MCP call.
func (d *Dispatcher) ReportRemoteStarted(call types.ToolCall) {
	cs := d.trackRemote(call)
	d.setStatus(cs, types.ToolCallExecuting)
	d.emitEvent(Event{Kind: EventStarted, Call: d.snapshot(cs)})
}

// ReportRemoteProgress records backend-side MCP progress.
func (d *Dispatcher) ReportRemoteProgress(callID, message string) {
	d.mu.Lock()
	cs, ok := d.calls[callID]
	terminal := ok && cs.call.Status.Terminal()
	d.mu.Unlock()
	if !ok || terminal {
		return
	}
	d.emitEvent(Event{Kind: EventProgress, Call: d.snapshot(cs), Message: message})
}

// ReportRemoteResult records the terminal outcome of a backend-side MCP call.
func (d *Dispatcher) ReportRemoteResult(callID, output string, callErr error) {
	d.mu.Lock()
	cs, ok := d.calls[callID]
	d.mu.Unlock()
	if !ok {
		return
	}
	if callErr != nil {
		d.resolve(cs, types.ToolCallFailed, "", core.NewToolExecutionError(callErr.Error(), callErr))
		return
	}
	d.resolve(cs, types.ToolCallSucceeded, output, nil)
}

func (d *Dispatcher) trackRemote(call types.ToolCall) *callState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cs, ok := d.calls[call.ID]; ok {
		return cs
	}
	ctx, cancel := context.WithCancel(context.Background())
	cs := &callState{call: call, ctx: ctx, cancel: cancel, done: make(chan Resolution, 1)}
	cs.call.Status = types.ToolCallPending
	d.calls[call.ID] = cs
	return cs
}

// resolve moves a call to a terminal status exactly once, emits the
// resolution event, and starts the next queued call if this one held the
// execution slot.
func (d *Dispatcher) resolve(cs *callState, status types.ToolCallStatus, output string, err error) {
	d.mu.Lock()
	if cs.call.Status.Terminal() {
		d.mu.Unlock()
		return
	}
	cs.call.Status = status

	var next *callState
	if d.executing == cs {
		d.executing = nil
		// Drop queued calls that were cancelled while waiting.
		for len(d.queue) > 0 {
			head := d.queue[0]
			d.queue = d.queue[1:]
			if !head.call.Status.Terminal() {
				next = head
				break
			}
		}
		if next != nil {
			d.executing = next
		}
	} else {
		for i, queued := range d.queue {
			if queued == cs {
				d.queue = append(d.queue[:i], d.queue[i+1:]...)
				break
			}
		}
	}
	snapshot := cs.call
	d.mu.Unlock()

	cs.cancel()
	d.emitEvent(Event{Kind: EventResolved, Call: snapshot, Output: output, Err: err})
	cs.done <- Resolution{Call: snapshot, Output: output, Err: err}

	if next != nil {
		go d.execute(next)
	}
}

func (d *Dispatcher) setStatus(cs *callState, status types.ToolCallStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cs.call.Status.Terminal() {
		return
	}
	cs.call.Status = status
}

func (d *Dispatcher) snapshot(cs *callState) types.ToolCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cs.call
}

func (d *Dispatcher) emitEvent(ev Event) {
	if d.emit != nil {
		d.emit(ev)
	}
}
