// Package session implements the voice session orchestrator: a single
// state machine that owns the connection lifecycle to the streaming
// backend, the current interaction mode, and the coordination between
// the audio pipeline, tool dispatch, and the transcript.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire-ai/voicewire/pkg/core"
	"github.com/voicewire-ai/voicewire/pkg/core/tools"
	"github.com/voicewire-ai/voicewire/pkg/core/transcript"
	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// Collaborators are the external services a session coordinates.
// Audio and Transcriber are required for the transcribe modes; Dial is
// required for realtime mode. Nil optional fields disable the
// corresponding capability.
type Collaborators struct {
	Audio       AudioPipeline
	Transcriber Transcriber
	Chat        ChatCompleter
	Tasks       TaskExecutor
	Screens     ScreenCapturer
	Dial        BackendDialer

	// Prompt resolves approval prompts for gated tool calls. Nil denies.
	Prompt tools.Prompter

	// OnTranscript, if set, is invoked once per completed transcription
	// in the transcribe modes.
	OnTranscript func(text, language string)
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdMute
	cmdUnmute
	cmdCancel
	cmdAcknowledge
	cmdReply
)

type command struct {
	kind    commandKind
	mode    Mode
	replyID string
	text    string
	resp    chan error
}

// activeSession is the per-session state owned by the run loop.
type activeSession struct {
	id         string
	mode       Mode
	ctx        context.Context
	cancel     context.CancelFunc
	dispatcher *tools.Dispatcher
	backend    Backend

	// pending counts in-flight async operations (connect, transcribe,
	// playback, tool waits) whose completions the loop still expects.
	pending       int
	toolsInFlight int
	tearingDown   bool
	endReason     string
	startResp     chan error
	usedReplies   map[string]bool

	mu       sync.Mutex
	muted    bool
	audioBuf []byte
	// pendingImage holds the most recent screenshot until its tool call
	// resolves; valid because at most one call executes at a time.
	pendingImage []byte
}

// Orchestrator multiplexes the three interaction modes onto one state
// machine. All state transitions run on a single goroutine; callers
// submit commands through a queue and observe typed events plus the
// transcript store.
//
// At most one session is active per orchestrator at a time. Start while
// active is rejected with an already-active error rather than silently
// replacing the running session.
type Orchestrator struct {
	cfg       Config
	collab    Collaborators
	toolSpecs []types.ToolSpec
	store     *transcript.Store

	commands chan command
	actions  chan func()
	done     chan struct{}
	closed   atomic.Bool

	// eventsMu serializes sends on events against its close. The audio
	// callbacks emit from their own goroutines, so the closed check and
	// the send must not interleave with Close.
	eventsMu sync.RWMutex
	events   chan Event

	rootCtx    context.Context
	rootCancel context.CancelFunc

	guard *idleGuard

	mu      sync.RWMutex
	state   State
	sess    *activeSession
	lastErr *core.Error
}

// New validates the configuration, builds the session tool set, and
// starts the command loop. Configuration errors (duplicate MCP labels,
// bad server URLs) are rejected here, before any session starts.
func New(cfg Config, collab Collaborators) (*Orchestrator, error) {
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "pcm16"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.CancelGraceMs <= 0 {
		cfg.CancelGraceMs = 3000
	}

	local := []types.ToolSpec{
		tools.TakeScreenshotSpec(cfg.LocalToolPolicy),
		tools.ExecuteExternalTaskSpec(cfg.LocalToolPolicy),
	}
	specs, err := tools.NewRegistry().Build(local, cfg.MCPServers)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		collab:     collab,
		toolSpecs:  specs,
		store:      transcript.NewStore(),
		commands:   make(chan command, 16),
		actions:    make(chan func(), 64),
		events:     make(chan Event, 100),
		done:       make(chan struct{}),
		rootCtx:    ctx,
		rootCancel: cancel,
		state:      StateIdle,
	}
	o.guard = newIdleGuard(time.Duration(cfg.CancelGraceMs)*time.Millisecond, func() {
		o.post(o.forceIdle)
	})

	go o.run()
	return o, nil
}

// State returns the current orchestrator state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Events returns the channel for receiving orchestrator events.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Transcript returns the transcript store for the orchestrator. Entries
// remain readable after a session ends; the store is cleared when the
// next session starts.
func (o *Orchestrator) Transcript() *transcript.Store {
	return o.store
}

// Tools returns the tool set offered to the backend at session setup.
func (o *Orchestrator) Tools() []types.ToolSpec {
	out := make([]types.ToolSpec, len(o.toolSpecs))
	copy(out, o.toolSpecs)
	return out
}

// SessionID returns the id of the active session, or "" when idle.
func (o *Orchestrator) SessionID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.sess == nil {
		return ""
	}
	return o.sess.id
}

// Start begins a new session in the given mode. It returns once the
// session reaches Recording, or with the connect error. Starting while a
// session is active fails with an already-active error; starting from an
// unacknowledged error state fails until Acknowledge is called.
func (o *Orchestrator) Start(mode Mode) error {
	return o.submit(command{kind: cmdStart, mode: mode, resp: make(chan error, 1)})
}

// Stop requests the end of the current recording. In the transcribe
// modes this moves the session into transcription; in realtime mode it
// tears the session down. Stop outside Recording is a no-op.
func (o *Orchestrator) Stop() error {
	return o.submit(command{kind: cmdStop, resp: make(chan error, 1)})
}

// Mute suppresses outbound audio without changing session state.
func (o *Orchestrator) Mute() { _ = o.submit(command{kind: cmdMute}) }

// Unmute resumes outbound audio.
func (o *Orchestrator) Unmute() { _ = o.submit(command{kind: cmdUnmute}) }

// Cancel aborts the current session from any state. It is always
// accepted: audio resources are released, in-flight tool calls are
// cancelled, and no transcript entry is appended for aborted content.
func (o *Orchestrator) Cancel() error {
	return o.submit(command{kind: cmdCancel, resp: make(chan error, 1)})
}

// Acknowledge clears a fatal error, returning the orchestrator to idle so
// a new session may start. Outside the error state it is a no-op.
func (o *Orchestrator) Acknowledge() error {
	return o.submit(command{kind: cmdAcknowledge, resp: make(chan error, 1)})
}

// SubmitReply supplies the out-of-band reply awaited in transcribe-and-
// speak mode and starts playback. A reply id that was already acted on is
// ignored, so callers can deliver the same reply twice safely.
func (o *Orchestrator) SubmitReply(replyID, text string) error {
	return o.submit(command{kind: cmdReply, replyID: replyID, text: text, resp: make(chan error, 1)})
}

func (o *Orchestrator) submit(cmd command) error {
	if o.closed.Load() {
		return core.NewCancelledError("orchestrator closed")
	}
	select {
	case o.commands <- cmd:
	case <-o.done:
		return core.NewCancelledError("orchestrator closed")
	}
	if cmd.resp != nil {
		select {
		case err := <-cmd.resp:
			return err
		case <-o.done:
			return core.NewCancelledError("orchestrator closed")
		}
	}
	return nil
}

// post hands a completion back to the run loop.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.actions <- fn:
	case <-o.done:
	}
}

// Close cancels any active session and shuts the orchestrator down.
func (o *Orchestrator) Close() error {
	if o.closed.Swap(true) {
		return nil
	}
	resp := make(chan error, 1)
	select {
	case o.commands <- command{kind: cmdCancel, resp: resp}:
		<-resp
	case <-o.done:
	}
	o.rootCancel()
	close(o.done)
	o.eventsMu.Lock()
	close(o.events)
	o.eventsMu.Unlock()
	return nil
}

func (o *Orchestrator) run() {
	for {
		select {
		case <-o.done:
			return
		case cmd := <-o.commands:
			o.handleCommand(cmd)
		case fn := <-o.actions:
			fn()
		}
	}
}

func (o *Orchestrator) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdStart:
		o.handleStart(cmd)
	case cmdStop:
		o.handleStop(cmd)
	case cmdMute:
		o.handleMute(true)
	case cmdUnmute:
		o.handleMute(false)
	case cmdCancel:
		o.handleCancel(cmd)
	case cmdAcknowledge:
		o.handleAcknowledge(cmd)
	case cmdReply:
		o.handleReply(cmd)
	}
}

func (o *Orchestrator) handleStart(cmd command) {
	if !cmd.mode.Valid() {
		cmd.resp <- core.NewConfigurationErrorWithParam(fmt.Sprintf("unknown mode %q", cmd.mode), "mode")
		return
	}
	if o.State() == StateError {
		cmd.resp <- core.NewConfigurationError("previous session error not acknowledged")
		return
	}
	if o.sess != nil {
		cmd.resp <- core.NewAlreadyActiveError()
		return
	}

	// Fresh transcript for the new session.
	o.store.Clear()

	ctx, cancel := context.WithCancel(o.rootCtx)
	sess := &activeSession{
		id:          uuid.NewString(),
		mode:        cmd.mode,
		ctx:         ctx,
		cancel:      cancel,
		startResp:   cmd.resp,
		usedReplies: make(map[string]bool),
	}
	sess.dispatcher = o.newDispatcher(sess)
	o.mu.Lock()
	o.sess = sess
	o.mu.Unlock()
	o.setState(StateConnecting)

	sess.pending++
	go func() {
		var backend Backend
		var err error
		if sess.mode == ModeRealtime {
			if o.collab.Dial == nil {
				err = core.NewConfigurationError("realtime mode requires a backend dialer")
			} else {
				backend, err = o.collab.Dial(ctx, o.cfg, o.toolSpecs)
			}
		} else if o.collab.Transcriber == nil {
			err = core.NewConfigurationError("transcribe modes require a transcriber")
		}
		if err == nil && o.collab.Audio != nil {
			if audioErr := o.collab.Audio.Start(ctx, o.frameSink(sess), o.levelSink(sess)); audioErr != nil {
				err = audioErr
				if backend != nil {
					backend.Close()
				}
			}
		}
		o.post(func() { o.onConnected(sess, backend, err) })
	}()
}

func (o *Orchestrator) onConnected(sess *activeSession, backend Backend, err error) {
	if !o.current(sess) {
		if backend != nil {
			backend.Close()
		}
		return
	}
	sess.pending--
	if sess.tearingDown {
		if backend != nil {
			backend.Close()
		}
		o.maybeFinishTeardown(sess)
		return
	}

	if err != nil {
		sess.startResp <- err
		sess.startResp = nil
		if core.TypeOf(err) == core.ErrAuth {
			o.enterError(sess, err)
			return
		}
		o.endSession(sess, "connect_failed")
		return
	}

	sess.mu.Lock()
	sess.backend = backend
	sess.mu.Unlock()
	o.setState(StateRecording)
	o.emit(&SessionStartedEvent{SessionID: sess.id, Mode: sess.mode})
	sess.startResp <- nil
	sess.startResp = nil

	if backend != nil {
		go o.pumpBackend(sess, backend)
	}
}

// frameSink returns the capture callback for one session. Frames are
// forwarded to the backend in realtime mode and buffered for
// transcription otherwise; muted sessions drop frames.
func (o *Orchestrator) frameSink(sess *activeSession) func(pcm []byte) {
	return func(pcm []byte) {
		st := o.State()
		if st != StateRecording && st != StateExecutingTool {
			return
		}
		sess.mu.Lock()
		muted := sess.muted
		backend := sess.backend
		sess.mu.Unlock()
		if muted {
			return
		}
		if sess.mode == ModeRealtime {
			if backend != nil {
				if err := backend.SendAudio(pcm); err != nil {
					o.emit(&WarningEvent{Code: string(core.ErrConnection), Message: "audio frame dropped: " + err.Error()})
				}
			}
			return
		}
		sess.mu.Lock()
		sess.audioBuf = append(sess.audioBuf, pcm...)
		sess.mu.Unlock()
	}
}

// levelSink surfaces input level readings as events while capturing.
func (o *Orchestrator) levelSink(sess *activeSession) func(level float64) {
	return func(level float64) {
		if !o.current(sess) {
			return
		}
		st := o.State()
		if st != StateRecording && st != StateExecutingTool {
			return
		}
		o.emit(&AudioLevelEvent{Level: level})
	}
}

func (o *Orchestrator) handleStop(cmd command) {
	sess := o.sess
	if sess == nil || sess.tearingDown || o.State() != StateRecording {
		cmd.resp <- nil
		return
	}

	if sess.mode == ModeRealtime {
		o.endSession(sess, "stopped")
		cmd.resp <- nil
		return
	}

	o.setState(StateTranscribing)
	if o.collab.Audio != nil {
		if err := o.collab.Audio.Stop(); err != nil {
			o.warn(core.ErrConnection, "audio stop: "+err.Error())
		}
	}
	sess.mu.Lock()
	audio := sess.audioBuf
	sess.audioBuf = nil
	sess.mu.Unlock()

	sess.pending++
	go func() {
		tr, err := o.collab.Transcriber.Transcribe(sess.ctx, audio, "capture.wav", o.cfg.TranscriptionModel)
		o.post(func() { o.onTranscribed(sess, tr, err) })
	}()
	cmd.resp <- nil
}

func (o *Orchestrator) onTranscribed(sess *activeSession, tr Transcription, err error) {
	if !o.current(sess) {
		return
	}
	sess.pending--
	if sess.tearingDown {
		o.maybeFinishTeardown(sess)
		return
	}

	if err != nil {
		if core.TypeOf(err) == core.ErrAuth {
			o.enterError(sess, err)
			return
		}
		o.warn(core.TypeOf(err), "transcription failed: "+err.Error())
		o.endSession(sess, "transcription_failed")
		return
	}

	o.store.Append(types.NewTranscriptEntry(types.RoleUser, types.EntryText, tr.Text))
	o.emit(&TranscriptReadyEvent{Text: tr.Text, Language: tr.Language})
	if o.collab.OnTranscript != nil {
		go o.collab.OnTranscript(tr.Text, tr.Language)
	}

	switch sess.mode {
	case ModeTranscribeOnly:
		o.endSession(sess, "completed")
	case ModeTranscribeAndSpeak:
		o.setState(StateAwaitingReply)
	}
}

func (o *Orchestrator) handleReply(cmd command) {
	sess := o.sess
	if sess == nil || sess.tearingDown || o.State() != StateAwaitingReply {
		cmd.resp <- nil
		return
	}
	if sess.usedReplies[cmd.replyID] {
		cmd.resp <- nil
		return
	}
	sess.usedReplies[cmd.replyID] = true

	o.store.Append(types.NewTranscriptEntry(types.RoleAssistant, types.EntryText, cmd.text))
	o.setState(StateSpeaking)
	o.emit(&SpeakingStartedEvent{ReplyID: cmd.replyID})

	replyID := cmd.replyID
	text := cmd.text
	sess.pending++
	go func() {
		var err error
		if o.collab.Audio != nil {
			err = o.collab.Audio.Play(sess.ctx, text, o.cfg.Voice)
		}
		o.post(func() { o.onPlaybackDone(sess, replyID, err) })
	}()
	cmd.resp <- nil
}

func (o *Orchestrator) onPlaybackDone(sess *activeSession, replyID string, err error) {
	if !o.current(sess) {
		return
	}
	sess.pending--
	if sess.tearingDown {
		o.maybeFinishTeardown(sess)
		return
	}
	if err != nil && sess.ctx.Err() == nil {
		o.warn(core.ErrConnection, "playback: "+err.Error())
	}
	o.emit(&PlaybackDoneEvent{ReplyID: replyID})
	o.endSession(sess, "completed")
}

func (o *Orchestrator) handleMute(mute bool) {
	sess := o.sess
	if sess == nil || sess.tearingDown {
		return
	}
	st := o.State()
	if st != StateRecording && st != StateExecutingTool {
		return
	}
	sess.mu.Lock()
	changed := sess.muted != mute
	sess.muted = mute
	sess.mu.Unlock()
	if !changed {
		return
	}
	if o.collab.Audio != nil {
		if mute {
			o.collab.Audio.Mute()
		} else {
			o.collab.Audio.Unmute()
		}
	}
	if mute {
		o.emit(&MutedEvent{})
	} else {
		o.emit(&UnmutedEvent{})
	}
}

func (o *Orchestrator) handleCancel(cmd command) {
	sess := o.sess
	if sess == nil {
		// Cancelling an unacknowledged error also returns to idle.
		if o.State() == StateError {
			o.clearError()
		}
		cmd.resp <- nil
		return
	}
	if sess.tearingDown {
		cmd.resp <- nil
		return
	}

	sess.tearingDown = true
	sess.endReason = "cancelled"
	if sess.startResp != nil {
		sess.startResp <- core.NewCancelledError("session cancelled")
		sess.startResp = nil
	}
	sess.cancel()
	sess.dispatcher.CancelAll()
	o.releaseResources(sess)

	if sess.pending == 0 {
		o.finishTeardown(sess)
	} else {
		o.guard.Arm()
	}
	cmd.resp <- nil
}

func (o *Orchestrator) handleAcknowledge(cmd command) {
	if o.State() == StateError {
		o.clearError()
	}
	cmd.resp <- nil
}

func (o *Orchestrator) clearError() {
	o.mu.Lock()
	o.lastErr = nil
	o.mu.Unlock()
	o.setState(StateIdle)
}

// releaseResources closes the audio device and backend connection.
// Required on every exit path before the session ends, regardless of
// branch, so no resource outlives its session.
func (o *Orchestrator) releaseResources(sess *activeSession) {
	if o.collab.Audio != nil {
		if err := o.collab.Audio.Stop(); err != nil {
			o.emit(&WarningEvent{Code: string(core.ErrConnection), Message: "audio stop: " + err.Error()})
		}
	}
	if sess.backend != nil {
		sess.backend.Close()
	}
}

// endSession finishes a session that completed normally.
func (o *Orchestrator) endSession(sess *activeSession, reason string) {
	if sess.tearingDown {
		return
	}
	sess.tearingDown = true
	sess.endReason = reason
	sess.cancel()
	sess.dispatcher.CancelAll()
	o.releaseResources(sess)

	if sess.pending == 0 {
		o.finishTeardown(sess)
	} else {
		o.guard.Arm()
	}
}

func (o *Orchestrator) maybeFinishTeardown(sess *activeSession) {
	if sess.tearingDown && sess.pending == 0 {
		o.finishTeardown(sess)
	}
}

func (o *Orchestrator) finishTeardown(sess *activeSession) {
	if !o.current(sess) {
		return
	}
	o.guard.Disarm()
	o.mu.Lock()
	o.sess = nil
	o.mu.Unlock()
	o.setState(StateIdle)
	o.emit(&SessionEndedEvent{SessionID: sess.id, Reason: sess.endReason})
}

// forceIdle fires when a cancelled operation did not acknowledge inside
// the grace window. The session is abandoned; stale completions are
// ignored by the current-session check.
func (o *Orchestrator) forceIdle() {
	sess := o.sess
	if sess == nil || !sess.tearingDown {
		return
	}
	o.emit(&ForcedIdleEvent{SessionID: sess.id})
	sess.pending = 0
	o.finishTeardown(sess)
}

// enterError handles a fatal error: resources are released, pending tool
// calls cancelled, and the orchestrator parks in the error state until
// Acknowledge.
func (o *Orchestrator) enterError(sess *activeSession, err error) {
	sess.cancel()
	sess.dispatcher.CancelAll()
	o.releaseResources(sess)
	if sess.startResp != nil {
		sess.startResp <- err
		sess.startResp = nil
	}

	var coreErr *core.Error
	if e, ok := err.(*core.Error); ok {
		coreErr = e
	} else {
		coreErr = core.NewConnectionError(err.Error(), err)
	}

	o.mu.Lock()
	o.sess = nil
	o.lastErr = coreErr
	o.mu.Unlock()
	o.setState(StateError)
	o.emit(&SessionErrorEvent{Code: string(coreErr.Type), Message: coreErr.Message})
}

// LastError returns the unacknowledged fatal error, if any.
func (o *Orchestrator) LastError() *core.Error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastErr
}

func (o *Orchestrator) pumpBackend(sess *activeSession, backend Backend) {
	for ev := range backend.Events() {
		ev := ev
		o.post(func() { o.onBackendEvent(sess, ev) })
	}
}

func (o *Orchestrator) onBackendEvent(sess *activeSession, ev BackendEvent) {
	if !o.current(sess) || sess.tearingDown {
		return
	}

	switch e := ev.(type) {
	case BackendTranscript:
		o.emit(&TranscriptDeltaEvent{Delta: e.Text, IsFinal: e.Final})
		if e.Final && e.Text != "" {
			o.store.Append(types.NewTranscriptEntry(types.RoleUser, types.EntryText, e.Text))
		}
	case BackendReplyText:
		o.emit(&ReplyTextEvent{Text: e.Text})
		if e.Text != "" {
			o.store.Append(types.NewTranscriptEntry(types.RoleAssistant, types.EntryText, e.Text))
		}
	case BackendToolCall:
		o.handleToolCall(sess, e.Call)
	case BackendMCPProgress:
		if _, tracked := sess.dispatcher.Status(e.CallID); !tracked {
			sess.dispatcher.ReportRemoteStarted(types.ToolCall{ID: e.CallID, Name: e.Name})
		}
		sess.dispatcher.ReportRemoteProgress(e.CallID, e.Message)
	case BackendMCPResult:
		if _, tracked := sess.dispatcher.Status(e.CallID); !tracked {
			sess.dispatcher.ReportRemoteStarted(types.ToolCall{ID: e.CallID, Name: e.Name})
		}
		var callErr error
		if e.IsError {
			callErr = core.NewToolExecutionError(e.Output, nil)
		}
		sess.dispatcher.ReportRemoteResult(e.CallID, e.Output, callErr)
	case BackendWarning:
		o.warn(core.ErrConnection, e.Message)
	case BackendClosed:
		if e.Err == nil {
			o.endSession(sess, "backend_closed")
			return
		}
		if core.TypeOf(e.Err) == core.ErrAuth {
			o.enterError(sess, e.Err)
			return
		}
		o.enterError(sess, core.NewConnectionError("backend connection lost", e.Err))
	}
}

func (o *Orchestrator) handleToolCall(sess *activeSession, call types.ToolCall) {
	if sess.mode != ModeRealtime {
		o.warn(core.ErrToolExecution, fmt.Sprintf("tool call %q ignored outside realtime mode", call.Name))
		return
	}

	o.emit(&ToolCallRequestedEvent{Call: call})
	sess.toolsInFlight++
	if o.State() == StateRecording {
		o.setState(StateExecutingTool)
	}

	resCh := sess.dispatcher.Invoke(sess.ctx, call)
	sess.pending++
	go func() {
		res := <-resCh
		o.post(func() { o.onToolResolved(sess, res) })
	}()
}

func (o *Orchestrator) onToolResolved(sess *activeSession, res tools.Resolution) {
	if !o.current(sess) {
		return
	}
	sess.pending--
	sess.toolsInFlight--
	if sess.tearingDown {
		o.maybeFinishTeardown(sess)
		return
	}

	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	o.emit(&ToolCallResolvedEvent{Call: res.Call, Output: res.Output, Error: errText})

	if sess.backend != nil {
		output := res.Output
		isError := false
		switch res.Call.Status {
		case types.ToolCallDenied:
			output = "tool call denied by user"
			isError = true
		case types.ToolCallFailed:
			output = errText
			isError = true
		case types.ToolCallCancelled:
			output = "tool call cancelled"
			isError = true
		}
		if err := sess.backend.SendToolResult(res.Call.ID, output, isError); err != nil {
			o.warn(core.ErrConnection, "tool result send: "+err.Error())
		}
	}

	if sess.toolsInFlight == 0 && o.State() == StateExecutingTool {
		o.setState(StateRecording)
	}
}

// current reports whether sess is still the orchestrator's session.
func (o *Orchestrator) current(sess *activeSession) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sess == sess
}

// warn reports a transient failure without changing state: an event plus
// a system transcript entry.
func (o *Orchestrator) warn(code core.ErrorType, message string) {
	o.emit(&WarningEvent{Code: string(code), Message: message})
	o.store.Append(types.NewTranscriptEntry(types.RoleSystem, types.EntryToolError, message))
}

func (o *Orchestrator) setState(newState State) {
	o.mu.Lock()
	oldState := o.state
	o.state = newState
	o.mu.Unlock()

	if oldState != newState {
		o.emit(&StateChangedEvent{From: oldState, To: newState})
	}
}

// emit sends an event to the events channel, dropping when full so the
// run loop never blocks on a slow consumer.
func (o *Orchestrator) emit(event Event) {
	o.eventsMu.RLock()
	defer o.eventsMu.RUnlock()
	if o.closed.Load() {
		return
	}
	select {
	case o.events <- event:
	default:
	}
}
