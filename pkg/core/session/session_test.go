package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/voicewire-ai/voicewire/pkg/core"
	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// --- fakes ---

type fakeAudio struct {
	mu      sync.Mutex
	onFrame func(pcm []byte)
	onLevel func(level float64)
	started int
	stopped int
	muted   int
	unmuted int
	played  []string
	playErr error
	// playGate, when set, blocks Play until released or ctx ends.
	playGate chan struct{}
}

func (a *fakeAudio) Start(ctx context.Context, onFrame func(pcm []byte), onLevel func(level float64)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onFrame = onFrame
	a.onLevel = onLevel
	a.started++
	return nil
}

func (a *fakeAudio) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped++
	return nil
}

func (a *fakeAudio) Mute()   { a.mu.Lock(); a.muted++; a.mu.Unlock() }
func (a *fakeAudio) Unmute() { a.mu.Lock(); a.unmuted++; a.mu.Unlock() }

func (a *fakeAudio) Play(ctx context.Context, text, voice string) error {
	a.mu.Lock()
	a.played = append(a.played, text)
	gate := a.playGate
	err := a.playErr
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (a *fakeAudio) feed(pcm []byte) {
	a.mu.Lock()
	onFrame := a.onFrame
	a.mu.Unlock()
	if onFrame != nil {
		onFrame(pcm)
	}
}

func (a *fakeAudio) feedLevel(level float64) {
	a.mu.Lock()
	onLevel := a.onLevel
	a.mu.Unlock()
	if onLevel != nil {
		onLevel(level)
	}
}

func (a *fakeAudio) playCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.played)
}

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	lang  string
	err   error
	audio []byte
	// gate, when set, blocks Transcribe until released. honorCtx controls
	// whether the block also watches ctx.
	gate     chan struct{}
	honorCtx bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, filename, model string) (Transcription, error) {
	f.mu.Lock()
	f.audio = append([]byte(nil), audio...)
	gate := f.gate
	honorCtx := f.honorCtx
	text, lang, err := f.text, f.lang, f.err
	f.mu.Unlock()

	if gate != nil {
		if honorCtx {
			select {
			case <-gate:
			case <-ctx.Done():
				return Transcription{}, core.NewCancelledError("transcription cancelled")
			}
		} else {
			<-gate
		}
	}
	if err != nil {
		return Transcription{}, err
	}
	return Transcription{Text: text, Language: lang}, nil
}

type toolResult struct {
	callID  string
	output  string
	isError bool
}

type fakeBackend struct {
	events chan BackendEvent

	mu        sync.Mutex
	sent      int
	results   []toolResult
	closeOnce sync.Once
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{events: make(chan BackendEvent, 16)}
}

func (b *fakeBackend) SendAudio(pcm []byte) error {
	b.mu.Lock()
	b.sent++
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) SendToolResult(callID, output string, isError bool) error {
	b.mu.Lock()
	b.results = append(b.results, toolResult{callID, output, isError})
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) Events() <-chan BackendEvent { return b.events }

func (b *fakeBackend) Close() error {
	b.closeOnce.Do(func() { close(b.events) })
	return nil
}

func (b *fakeBackend) toolResults() []toolResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]toolResult, len(b.results))
	copy(out, b.results)
	return out
}

type fakeScreens struct {
	img []byte
	err error
}

func (s *fakeScreens) Capture(ctx context.Context, req CaptureRequest) ([]byte, error) {
	return s.img, s.err
}

// --- helpers ---

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func collectEvents(o *Orchestrator) *eventLog {
	log := &eventLog{}
	go func() {
		for ev := range o.Events() {
			log.mu.Lock()
			log.events = append(log.events, ev)
			log.mu.Unlock()
		}
	}()
	return log
}

func (l *eventLog) has(pred func(Event) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if pred(ev) {
			return true
		}
	}
	return false
}

func hasType(typ string) func(Event) bool {
	return func(ev Event) bool { return ev.EventType() == typ }
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", desc)
}

func waitState(t *testing.T, o *Orchestrator, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return o.State() == want })
}

func newTestOrchestrator(t *testing.T, cfg Config, collab Collaborators) *Orchestrator {
	t.Helper()
	o, err := New(cfg, collab)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

// --- transcribe-only mode ---

func TestOrchestrator_TranscribeOnly_FullFlow(t *testing.T) {
	audio := &fakeAudio{}
	stt := &fakeTranscriber{text: "hello world", lang: "en"}
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: audio, Transcriber: stt})
	log := collectEvents(o)

	if err := o.Start(ModeTranscribeOnly); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if o.State() != StateRecording {
		t.Errorf("Expected RECORDING after start, got %s", o.State())
	}
	if o.SessionID() == "" {
		t.Error("Expected a session id while active")
	}

	audio.feed([]byte{1, 2})
	audio.feed([]byte{3, 4})

	if err := o.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitState(t, o, StateIdle)

	stt.mu.Lock()
	captured := stt.audio
	stt.mu.Unlock()
	if len(captured) != 4 {
		t.Errorf("Expected 4 buffered bytes handed to transcription, got %d", len(captured))
	}

	history := o.Transcript().History()
	if len(history) != 1 {
		t.Fatalf("Expected exactly one transcript entry, got %d", len(history))
	}
	if history[0].Role != types.RoleUser || history[0].Kind != types.EntryText {
		t.Errorf("Unexpected entry role/kind: %s/%s", history[0].Role, history[0].Kind)
	}
	if history[0].Content != "hello world" {
		t.Errorf("Expected %q, got %q", "hello world", history[0].Content)
	}

	waitFor(t, "session.ended event", func() bool { return log.has(hasType("session.ended")) })
	if !log.has(hasType("transcript.ready")) {
		t.Error("Expected a transcript.ready event")
	}
	if o.SessionID() != "" {
		t.Error("Expected no session id after completion")
	}
}

func TestOrchestrator_StartWhileActive(t *testing.T) {
	audio := &fakeAudio{}
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: audio, Transcriber: &fakeTranscriber{}})

	if err := o.Start(ModeTranscribeOnly); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := o.Start(ModeTranscribeOnly)
	if core.TypeOf(err) != core.ErrAlreadyActive {
		t.Errorf("Expected already-active error, got %v", err)
	}
	// The running session is untouched.
	if o.State() != StateRecording {
		t.Errorf("Expected RECORDING, got %s", o.State())
	}
}

func TestOrchestrator_Start_UnknownMode(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: &fakeAudio{}})
	err := o.Start(Mode("bogus"))
	if core.TypeOf(err) != core.ErrConfiguration {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestOrchestrator_Start_MissingTranscriber(t *testing.T) {
	for _, mode := range []Mode{ModeTranscribeOnly, ModeTranscribeAndSpeak} {
		o := newTestOrchestrator(t, DefaultConfig(), Collaborators{})
		err := o.Start(mode)
		if core.TypeOf(err) != core.ErrConfiguration {
			t.Errorf("%s: expected configuration error, got %v", mode, err)
		}
		waitState(t, o, StateIdle)
		// The rejected start must leave nothing behind for Stop to trip on.
		if err := o.Stop(); err != nil {
			t.Errorf("%s: expected nil from stop, got %v", mode, err)
		}
		if o.SessionID() != "" {
			t.Errorf("%s: expected no active session", mode)
		}
	}
}

func TestOrchestrator_StopWhenIdleIsNoop(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: &fakeAudio{}})
	if err := o.Stop(); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if o.State() != StateIdle {
		t.Errorf("Expected IDLE, got %s", o.State())
	}
}

func TestOrchestrator_MuteDropsFrames(t *testing.T) {
	audio := &fakeAudio{}
	stt := &fakeTranscriber{text: "short"}
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: audio, Transcriber: stt})
	log := collectEvents(o)

	if err := o.Start(ModeTranscribeOnly); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	audio.feed([]byte{1, 2})
	o.Mute()
	waitFor(t, "mute to take effect", func() bool {
		audio.mu.Lock()
		defer audio.mu.Unlock()
		return audio.muted == 1
	})
	audio.feed([]byte{3, 4})
	o.Unmute()
	waitFor(t, "unmute to take effect", func() bool {
		audio.mu.Lock()
		defer audio.mu.Unlock()
		return audio.unmuted == 1
	})
	audio.feed([]byte{5, 6})

	if err := o.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitState(t, o, StateIdle)

	stt.mu.Lock()
	captured := stt.audio
	stt.mu.Unlock()
	if len(captured) != 4 {
		t.Errorf("Expected muted frames dropped (4 bytes kept), got %d", len(captured))
	}
	if !log.has(hasType("audio.muted")) || !log.has(hasType("audio.unmuted")) {
		t.Error("Expected muted and unmuted events")
	}
}

func TestOrchestrator_LevelEventsWhileRecording(t *testing.T) {
	audio := &fakeAudio{}
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: audio, Transcriber: &fakeTranscriber{}})
	log := collectEvents(o)

	// Levels before a session starts are dropped.
	audio.feedLevel(0.5)

	if err := o.Start(ModeTranscribeOnly); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	audio.feedLevel(0.8)

	waitFor(t, "audio.level event", func() bool {
		return log.has(func(ev Event) bool {
			level, ok := ev.(*AudioLevelEvent)
			return ok && level.Level == 0.8
		})
	})
	if log.has(func(ev Event) bool {
		level, ok := ev.(*AudioLevelEvent)
		return ok && level.Level == 0.5
	}) {
		t.Error("Expected pre-session level reading to be dropped")
	}
}

func TestOrchestrator_TranscriptionFailureEndsSession(t *testing.T) {
	audio := &fakeAudio{}
	stt := &fakeTranscriber{err: core.NewConnectionError("stt unavailable", nil)}
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: audio, Transcriber: stt})
	log := collectEvents(o)

	if err := o.Start(ModeTranscribeOnly); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitState(t, o, StateIdle)

	waitFor(t, "warning event", func() bool { return log.has(hasType("warning")) })
	if o.LastError() != nil {
		t.Error("Expected no sticky error for a transient transcription failure")
	}
}

// --- transcribe-and-speak mode ---

func TestOrchestrator_TranscribeAndSpeak_FullFlow(t *testing.T) {
	audio := &fakeAudio{}
	stt := &fakeTranscriber{text: "what time is it"}
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: audio, Transcriber: stt})
	log := collectEvents(o)

	if err := o.Start(ModeTranscribeAndSpeak); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	audio.feed([]byte{1, 2})
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitState(t, o, StateAwaitingReply)

	if err := o.SubmitReply("r1", "it is noon"); err != nil {
		t.Fatalf("SubmitReply failed: %v", err)
	}
	waitState(t, o, StateIdle)

	if audio.playCount() != 1 {
		t.Errorf("Expected one playback, got %d", audio.playCount())
	}

	history := o.Transcript().History()
	if len(history) != 2 {
		t.Fatalf("Expected 2 transcript entries, got %d", len(history))
	}
	if history[0].Role != types.RoleUser || history[0].Content != "what time is it" {
		t.Errorf("Unexpected first entry: %+v", history[0])
	}
	if history[1].Role != types.RoleAssistant || history[1].Content != "it is noon" {
		t.Errorf("Unexpected second entry: %+v", history[1])
	}

	waitFor(t, "playback.done event", func() bool { return log.has(hasType("playback.done")) })
	if !log.has(hasType("speaking.started")) {
		t.Error("Expected a speaking.started event")
	}
}

func TestOrchestrator_SubmitReply_DuplicateIgnored(t *testing.T) {
	audio := &fakeAudio{playGate: make(chan struct{})}
	stt := &fakeTranscriber{text: "hi"}
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: audio, Transcriber: stt})

	if err := o.Start(ModeTranscribeAndSpeak); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitState(t, o, StateAwaitingReply)

	if err := o.SubmitReply("r1", "hello"); err != nil {
		t.Fatalf("SubmitReply failed: %v", err)
	}
	waitState(t, o, StateSpeaking)

	// Re-delivery of the same reply while the first plays is a no-op.
	if err := o.SubmitReply("r1", "hello"); err != nil {
		t.Fatalf("Duplicate SubmitReply failed: %v", err)
	}

	close(audio.playGate)
	waitState(t, o, StateIdle)

	if audio.playCount() != 1 {
		t.Errorf("Expected one playback, got %d", audio.playCount())
	}
	if got := len(o.Transcript().History()); got != 2 {
		t.Errorf("Expected 2 transcript entries, got %d", got)
	}
}

func TestOrchestrator_SubmitReply_OutsideAwaitingIsNoop(t *testing.T) {
	audio := &fakeAudio{}
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: audio, Transcriber: &fakeTranscriber{}})

	if err := o.SubmitReply("r1", "hello"); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if audio.playCount() != 0 {
		t.Error("Expected no playback outside awaiting-reply")
	}
}

// --- realtime mode ---

func realtimeCollab(audio *fakeAudio, backend *fakeBackend, extra func(*Collaborators)) Collaborators {
	collab := Collaborators{
		Audio: audio,
		Dial: func(ctx context.Context, cfg Config, specs []types.ToolSpec) (Backend, error) {
			return backend, nil
		},
	}
	if extra != nil {
		extra(&collab)
	}
	return collab
}

func TestOrchestrator_Realtime_ForwardsFrames(t *testing.T) {
	audio := &fakeAudio{}
	backend := newFakeBackend()
	o := newTestOrchestrator(t, DefaultConfig(), realtimeCollab(audio, backend, nil))

	if err := o.Start(ModeRealtime); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	audio.feed([]byte{1})
	audio.feed([]byte{2})

	waitFor(t, "frames forwarded", func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.sent == 2
	})
}

func TestOrchestrator_Realtime_WithoutDialer(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: &fakeAudio{}})
	err := o.Start(ModeRealtime)
	if core.TypeOf(err) != core.ErrConfiguration {
		t.Errorf("Expected configuration error, got %v", err)
	}
	waitState(t, o, StateIdle)
}

func TestOrchestrator_Realtime_TranscriptAppends(t *testing.T) {
	audio := &fakeAudio{}
	backend := newFakeBackend()
	o := newTestOrchestrator(t, DefaultConfig(), realtimeCollab(audio, backend, nil))
	log := collectEvents(o)

	if err := o.Start(ModeRealtime); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	backend.events <- BackendTranscript{Text: "partia", Final: false}
	backend.events <- BackendTranscript{Text: "partial text", Final: true}
	backend.events <- BackendReplyText{Text: "a reply"}

	waitFor(t, "transcript entries", func() bool { return o.Transcript().Len() == 2 })
	history := o.Transcript().History()
	if history[0].Role != types.RoleUser || history[0].Content != "partial text" {
		t.Errorf("Unexpected first entry: %+v", history[0])
	}
	if history[1].Role != types.RoleAssistant || history[1].Content != "a reply" {
		t.Errorf("Unexpected second entry: %+v", history[1])
	}
	waitFor(t, "delta events", func() bool { return log.has(hasType("transcript.delta")) })
}

func TestOrchestrator_Realtime_ToolDenied(t *testing.T) {
	audio := &fakeAudio{}
	backend := newFakeBackend()
	cfg := DefaultConfig()
	cfg.LocalToolPolicy = types.ApprovalPolicy{Mode: types.ApprovalAlways}
	collab := realtimeCollab(audio, backend, func(c *Collaborators) {
		c.Screens = &fakeScreens{img: []byte{9}}
		c.Prompt = func(ctx context.Context, call types.ToolCall) (bool, error) {
			return false, nil
		}
	})
	o := newTestOrchestrator(t, cfg, collab)
	log := collectEvents(o)

	if err := o.Start(ModeRealtime); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	backend.events <- BackendToolCall{Call: types.ToolCall{ID: "t1", Name: "take_screenshot"}}

	waitFor(t, "denied tool result", func() bool { return len(backend.toolResults()) == 1 })
	res := backend.toolResults()[0]
	if !res.isError || res.output != "tool call denied by user" {
		t.Errorf("Unexpected tool result: %+v", res)
	}

	waitFor(t, "tool_call.resolved", func() bool {
		return log.has(func(ev Event) bool {
			resolved, ok := ev.(*ToolCallResolvedEvent)
			return ok && resolved.Call.Status == types.ToolCallDenied
		})
	})

	// Session continues after a denial.
	waitState(t, o, StateRecording)

	waitFor(t, "denial transcript entry", func() bool {
		for _, entry := range o.Transcript().History() {
			if entry.Kind == types.EntryToolError && entry.Content == "take_screenshot denied by user" {
				return true
			}
		}
		return false
	})
}

func TestOrchestrator_Realtime_Screenshot(t *testing.T) {
	audio := &fakeAudio{}
	backend := newFakeBackend()
	cfg := DefaultConfig()
	cfg.LocalToolPolicy = types.ApprovalPolicy{Mode: types.ApprovalNever}
	collab := realtimeCollab(audio, backend, func(c *Collaborators) {
		c.Screens = &fakeScreens{img: []byte{1, 2, 3}}
	})
	o := newTestOrchestrator(t, cfg, collab)
	log := collectEvents(o)

	if err := o.Start(ModeRealtime); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	args, _ := json.Marshal(map[string]string{"capture_type": "full_screen"})
	backend.events <- BackendToolCall{Call: types.ToolCall{ID: "t1", Name: "take_screenshot", Arguments: args}}

	waitFor(t, "tool result", func() bool { return len(backend.toolResults()) == 1 })
	res := backend.toolResults()[0]
	if res.isError {
		t.Errorf("Expected success, got error result %q", res.output)
	}

	waitFor(t, "screenshot transcript entry", func() bool {
		for _, entry := range o.Transcript().History() {
			if entry.Kind == types.EntryToolResult && len(entry.AttachedImage) == 3 {
				return true
			}
		}
		return false
	})

	if !log.has(hasType("tool_call.requested")) {
		t.Error("Expected a tool_call.requested event")
	}
	waitState(t, o, StateRecording)
}

func TestOrchestrator_Realtime_ToolCallStateTransitions(t *testing.T) {
	audio := &fakeAudio{}
	backend := newFakeBackend()
	gate := make(chan struct{})
	cfg := DefaultConfig()
	cfg.LocalToolPolicy = types.ApprovalPolicy{Mode: types.ApprovalNever}
	collab := realtimeCollab(audio, backend, func(c *Collaborators) {
		c.Tasks = blockingTasks{gate: gate}
	})
	o := newTestOrchestrator(t, cfg, collab)

	if err := o.Start(ModeRealtime); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	args, _ := json.Marshal(map[string]string{"task": "summarize"})
	backend.events <- BackendToolCall{Call: types.ToolCall{ID: "t1", Name: "execute_external_task", Arguments: args}}

	waitState(t, o, StateExecutingTool)
	close(gate)
	waitState(t, o, StateRecording)

	waitFor(t, "tool result", func() bool { return len(backend.toolResults()) == 1 })
	if res := backend.toolResults()[0]; res.isError || res.output != "summarized" {
		t.Errorf("Unexpected tool result: %+v", res)
	}
}

type blockingTasks struct {
	gate chan struct{}
}

func (b blockingTasks) Execute(ctx context.Context, task, taskContext string) (string, error) {
	select {
	case <-b.gate:
		return "summarized", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestOrchestrator_Realtime_MCPLifecycle(t *testing.T) {
	audio := &fakeAudio{}
	backend := newFakeBackend()
	cfg := DefaultConfig()
	cfg.MCPServers = []types.MCPServerConfig{
		{Label: "stripe", ServerURL: "https://mcp.stripe.example"},
	}
	o := newTestOrchestrator(t, cfg, realtimeCollab(audio, backend, nil))

	if err := o.Start(ModeRealtime); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	backend.events <- BackendMCPProgress{CallID: "m1", Name: "stripe", Message: "looking up invoice"}
	backend.events <- BackendMCPResult{CallID: "m1", Name: "stripe", Output: "invoice paid"}

	waitFor(t, "mcp transcript entries", func() bool {
		kinds := map[types.EntryKind]bool{}
		for _, entry := range o.Transcript().History() {
			kinds[entry.Kind] = true
		}
		return kinds[types.EntryToolStart] && kinds[types.EntryToolProgress] && kinds[types.EntryToolResult]
	})

	// MCP executes backend-side; no result is echoed back.
	if got := len(backend.toolResults()); got != 0 {
		t.Errorf("Expected no tool results sent for mcp calls, got %d", got)
	}
}

func TestOrchestrator_Realtime_BackendCleanClose(t *testing.T) {
	audio := &fakeAudio{}
	backend := newFakeBackend()
	o := newTestOrchestrator(t, DefaultConfig(), realtimeCollab(audio, backend, nil))
	log := collectEvents(o)

	if err := o.Start(ModeRealtime); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	backend.events <- BackendClosed{}
	waitState(t, o, StateIdle)

	waitFor(t, "session.ended", func() bool {
		return log.has(func(ev Event) bool {
			ended, ok := ev.(*SessionEndedEvent)
			return ok && ended.Reason == "backend_closed"
		})
	})
	if o.LastError() != nil {
		t.Error("Expected no error after a clean backend close")
	}
}

func TestOrchestrator_Realtime_BackendLost(t *testing.T) {
	audio := &fakeAudio{}
	backend := newFakeBackend()
	o := newTestOrchestrator(t, DefaultConfig(), realtimeCollab(audio, backend, nil))

	if err := o.Start(ModeRealtime); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	backend.events <- BackendClosed{Err: core.NewConnectionError("read frame", nil)}
	waitState(t, o, StateError)

	lastErr := o.LastError()
	if lastErr == nil || lastErr.Type != core.ErrConnection {
		t.Errorf("Expected a connection error, got %v", lastErr)
	}
}

// --- error state and acknowledge ---

func TestOrchestrator_AuthErrorRequiresAcknowledge(t *testing.T) {
	audio := &fakeAudio{}
	collab := Collaborators{
		Audio: audio,
		Dial: func(ctx context.Context, cfg Config, specs []types.ToolSpec) (Backend, error) {
			return nil, core.NewAuthError("bad credentials")
		},
	}
	o := newTestOrchestrator(t, DefaultConfig(), collab)

	err := o.Start(ModeRealtime)
	if core.TypeOf(err) != core.ErrAuth {
		t.Fatalf("Expected auth error, got %v", err)
	}
	waitState(t, o, StateError)

	// Starting from an unacknowledged error is rejected.
	if err := o.Start(ModeRealtime); core.TypeOf(err) != core.ErrConfiguration {
		t.Errorf("Expected configuration error before acknowledge, got %v", err)
	}

	if err := o.Acknowledge(); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	waitState(t, o, StateIdle)
	if o.LastError() != nil {
		t.Error("Expected error cleared after acknowledge")
	}
}

func TestOrchestrator_CancelFromErrorState(t *testing.T) {
	collab := Collaborators{
		Audio: &fakeAudio{},
		Dial: func(ctx context.Context, cfg Config, specs []types.ToolSpec) (Backend, error) {
			return nil, core.NewAuthError("bad credentials")
		},
	}
	o := newTestOrchestrator(t, DefaultConfig(), collab)

	_ = o.Start(ModeRealtime)
	waitState(t, o, StateError)

	if err := o.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitState(t, o, StateIdle)
}

// --- cancellation ---

func TestOrchestrator_Cancel_ReleasesResources(t *testing.T) {
	audio := &fakeAudio{}
	backend := newFakeBackend()
	o := newTestOrchestrator(t, DefaultConfig(), realtimeCollab(audio, backend, nil))
	log := collectEvents(o)

	if err := o.Start(ModeRealtime); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := o.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitState(t, o, StateIdle)

	audio.mu.Lock()
	stopped := audio.stopped
	audio.mu.Unlock()
	if stopped == 0 {
		t.Error("Expected audio pipeline stopped on cancel")
	}

	waitFor(t, "session.ended", func() bool {
		return log.has(func(ev Event) bool {
			ended, ok := ev.(*SessionEndedEvent)
			return ok && ended.Reason == "cancelled"
		})
	})
}

func TestOrchestrator_Cancel_CooperativeTranscription(t *testing.T) {
	audio := &fakeAudio{}
	stt := &fakeTranscriber{text: "x", gate: make(chan struct{}), honorCtx: true}
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: audio, Transcriber: stt})

	if err := o.Start(ModeTranscribeOnly); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitState(t, o, StateTranscribing)

	if err := o.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitState(t, o, StateIdle)

	// Aborted content leaves no transcript record.
	if got := o.Transcript().Len(); got != 0 {
		t.Errorf("Expected empty transcript after cancel, got %d entries", got)
	}
}

func TestOrchestrator_Cancel_ForcesIdleAfterGrace(t *testing.T) {
	audio := &fakeAudio{}
	stt := &fakeTranscriber{text: "x", gate: make(chan struct{}), honorCtx: false}
	cfg := DefaultConfig()
	cfg.CancelGraceMs = 60
	o := newTestOrchestrator(t, cfg, Collaborators{Audio: audio, Transcriber: stt})
	log := collectEvents(o)
	defer close(stt.gate)

	if err := o.Start(ModeTranscribeOnly); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitState(t, o, StateTranscribing)

	if err := o.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// The transcriber never acknowledges; the guard forces idle.
	waitState(t, o, StateIdle)
	waitFor(t, "forced idle event", func() bool { return log.has(hasType("session.forced_idle")) })
}

func TestOrchestrator_Cancel_WhenIdleIsNoop(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: &fakeAudio{}})
	if err := o.Cancel(); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if o.State() != StateIdle {
		t.Errorf("Expected IDLE, got %s", o.State())
	}
}

// --- restart and lifecycle ---

func TestOrchestrator_RestartAfterCompletion(t *testing.T) {
	audio := &fakeAudio{}
	stt := &fakeTranscriber{text: "first"}
	o := newTestOrchestrator(t, DefaultConfig(), Collaborators{Audio: audio, Transcriber: stt})

	if err := o.Start(ModeTranscribeOnly); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitState(t, o, StateIdle)

	stt.mu.Lock()
	stt.text = "second"
	stt.mu.Unlock()

	if err := o.Start(ModeTranscribeOnly); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Second stop failed: %v", err)
	}
	waitState(t, o, StateIdle)

	// Each session starts a fresh transcript.
	history := o.Transcript().History()
	if len(history) != 1 || history[0].Content != "second" {
		t.Errorf("Expected only the second session's entry, got %+v", history)
	}
}

func TestOrchestrator_CloseRejectsFurtherCommands(t *testing.T) {
	o, err := New(DefaultConfig(), Collaborators{Audio: &fakeAudio{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := o.Start(ModeTranscribeOnly); core.TypeOf(err) != core.ErrCancelled {
		t.Errorf("Expected cancelled error after close, got %v", err)
	}
	// Close is idempotent.
	if err := o.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestOrchestrator_CloseWithLiveAudioCallbacks(t *testing.T) {
	audio := &fakeAudio{}
	o, err := New(DefaultConfig(), Collaborators{Audio: audio, Transcriber: &fakeTranscriber{text: "x"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := o.Start(ModeTranscribeOnly); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_ = collectEvents(o)

	// Hammer the capture callbacks from their own goroutine while Close
	// races: a frame arriving after Stop must be dropped, never panic.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				audio.feed([]byte{1, 2})
				audio.feedLevel(0.4)
			}
		}
	}()

	if err := o.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	close(stop)
	wg.Wait()
}

func TestNew_RejectsBadMCPConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MCPServers = []types.MCPServerConfig{
		{Label: "a", ServerURL: "https://a.example"},
		{Label: "a", ServerURL: "https://b.example"},
	}
	_, err := New(cfg, Collaborators{Audio: &fakeAudio{}})
	if core.TypeOf(err) != core.ErrConfiguration {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestOrchestrator_ToolsListsLocalAndMCP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MCPServers = []types.MCPServerConfig{
		{Label: "stripe", ServerURL: "https://mcp.stripe.example"},
	}
	o := newTestOrchestrator(t, cfg, Collaborators{Audio: &fakeAudio{}})

	specs := o.Tools()
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}
	expected := []string{"take_screenshot", "execute_external_task", "stripe"}
	if len(names) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("Expected position %d to be %q, got %q", i, expected[i], names[i])
		}
	}
}
