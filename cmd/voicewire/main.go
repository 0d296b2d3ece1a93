// Command voicewire runs a voice session from the terminal: PCM audio on
// stdin, orchestrator events and transcript entries as JSON lines on
// stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/voicewire-ai/voicewire/internal/dotenv"
	"github.com/voicewire-ai/voicewire/pkg/core/session"
	"github.com/voicewire-ai/voicewire/pkg/core/types"
	"github.com/voicewire-ai/voicewire/pkg/providers/gemini"
	"github.com/voicewire-ai/voicewire/pkg/providers/openai"
	"github.com/voicewire-ai/voicewire/pkg/realtime"
)

type cliOptions struct {
	mode        string
	backendURL  string
	chatWith    string
	autoApprove bool
}

func parseFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("voicewire", flag.ContinueOnError)
	opts := cliOptions{}
	fs.StringVar(&opts.mode, "mode", "transcribe", "session mode: transcribe, speak, or realtime")
	fs.StringVar(&opts.backendURL, "backend-url", os.Getenv("VOICEWIRE_BACKEND_URL"), "realtime backend websocket url")
	fs.StringVar(&opts.chatWith, "chat-provider", "openai", "completion provider for speak mode: openai or gemini")
	fs.BoolVar(&opts.autoApprove, "auto-approve", false, "approve gated tool calls without prompting")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func sessionMode(name string) (session.Mode, error) {
	switch name {
	case "transcribe":
		return session.ModeTranscribeOnly, nil
	case "speak":
		return session.ModeTranscribeAndSpeak, nil
	case "realtime":
		return session.ModeRealtime, nil
	default:
		return "", fmt.Errorf("unknown mode %q", name)
	}
}

// eventLine is one JSON line written to stdout.
type eventLine struct {
	Type  string `json:"type"`
	Event any    `json:"event,omitempty"`
	Entry any    `json:"entry,omitempty"`
}

func run(ctx context.Context, stdin io.Reader, stdout io.Writer, logger *slog.Logger, opts cliOptions) error {
	mode, err := sessionMode(opts.mode)
	if err != nil {
		return err
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" && mode != session.ModeRealtime {
		return fmt.Errorf("OPENAI_API_KEY is required for the transcribe modes")
	}
	provider := openai.New(apiKey)

	cfg := session.DefaultConfig()
	if instructions := os.Getenv("VOICEWIRE_INSTRUCTIONS"); instructions != "" {
		cfg.Instructions = instructions
	}

	var chat session.ChatCompleter = provider
	if opts.chatWith == "gemini" {
		g, err := gemini.New(ctx, os.Getenv("GEMINI_API_KEY"))
		if err != nil {
			return fmt.Errorf("gemini client: %w", err)
		}
		chat = g
		cfg.ChatModel = gemini.DefaultModel
	}

	pipeline := newStdinPipeline(stdin, logger)
	collab := session.Collaborators{
		Audio:       pipeline,
		Transcriber: provider,
		Chat:        chat,
		Tasks:       echoTaskExecutor{},
		Prompt: func(ctx context.Context, call types.ToolCall) (bool, error) {
			if opts.autoApprove {
				return true, nil
			}
			logger.Info("tool call denied (run with -auto-approve to allow)", "tool", call.Name)
			return false, nil
		},
	}
	if mode == session.ModeRealtime {
		if opts.backendURL == "" {
			return fmt.Errorf("realtime mode requires -backend-url or VOICEWIRE_BACKEND_URL")
		}
		collab.Dial = realtime.Dialer(opts.backendURL, os.Getenv("VOICEWIRE_API_KEY"), logger)
	}

	orch, err := session.New(cfg, collab)
	if err != nil {
		return err
	}
	defer orch.Close()

	enc := json.NewEncoder(stdout)
	entries, cancelObserve := orch.Transcript().Observe()
	defer cancelObserve()

	ended := make(chan struct{})
	go func() {
		defer close(ended)
		events := orch.Events()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				_ = enc.Encode(eventLine{Type: ev.EventType(), Event: ev})
				switch typed := ev.(type) {
				case *session.SessionEndedEvent:
					return
				case *session.SessionErrorEvent:
					logger.Error("session failed", "code", typed.Code, "message", typed.Message)
					return
				case *session.TranscriptReadyEvent:
					if mode == session.ModeTranscribeAndSpeak {
						go submitReply(ctx, orch, chat, cfg, typed.Text, logger)
					}
				}
			case entry, ok := <-entries:
				if !ok {
					return
				}
				_ = enc.Encode(eventLine{Type: "transcript.entry", Entry: entry})
			}
		}
	}()

	if err := orch.Start(mode); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	logger.Info("session started", "mode", mode, "id", orch.SessionID())

	// End the capture phase once stdin runs dry.
	go func() {
		select {
		case <-pipeline.Drained():
			if err := orch.Stop(); err != nil {
				logger.Warn("stop after input drained", "error", err)
			}
		case <-ended:
		case <-ctx.Done():
		}
	}()

	select {
	case <-ended:
	case <-ctx.Done():
		logger.Info("cancelling session")
		if err := orch.Cancel(); err != nil {
			return err
		}
		<-ended
	}
	return nil
}

// submitReply completes the transcript into a reply and hands it back for
// playback.
func submitReply(ctx context.Context, orch *session.Orchestrator, chat session.ChatCompleter, cfg session.Config, text string, logger *slog.Logger) {
	messages := []session.ChatMessage{}
	if cfg.Instructions != "" {
		messages = append(messages, session.ChatMessage{Role: types.RoleSystem, Content: cfg.Instructions})
	}
	messages = append(messages, session.ChatMessage{Role: types.RoleUser, Content: text})

	temperature := 0.0
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	reply, err := chat.Complete(ctx, messages, cfg.ChatModel, cfg.MaxOutputTokens, temperature)
	if err != nil {
		logger.Error("completion failed", "error", err)
		_ = orch.Cancel()
		return
	}
	if err := orch.SubmitReply("reply-1", reply); err != nil {
		logger.Error("submit reply failed", "error", err)
	}
}

// echoTaskExecutor stands in for a real task runner in the demo CLI.
type echoTaskExecutor struct{}

func (echoTaskExecutor) Execute(ctx context.Context, task, taskContext string) (string, error) {
	return "accepted task: " + task, ctx.Err()
}

func runMain(ctx context.Context, stderr io.Writer, args []string) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(stderr, "voicewire: %v\n", err)
		return 1
	}

	opts, err := parseFlags(args)
	if err != nil {
		return 2
	}

	if err := run(ctx, os.Stdin, os.Stdout, logger, opts); err != nil {
		fmt.Fprintf(stderr, "voicewire: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(runMain(ctx, os.Stderr, os.Args[1:]))
}
