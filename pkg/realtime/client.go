package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire-ai/voicewire/pkg/core"
	"github.com/voicewire-ai/voicewire/pkg/core/session"
	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

const defaultConnectTimeout = 15 * time.Second

// Client is a connected realtime websocket session. It implements
// session.Backend: outbound audio frames and tool results in, typed
// backend events out.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events chan session.BackendEvent
	done   chan struct{}
	stop   chan struct{}

	seq       atomic.Int64
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Dialer returns a session.BackendDialer bound to one endpoint and
// credential.
func Dialer(url, apiKey string, logger *slog.Logger) session.BackendDialer {
	return func(ctx context.Context, cfg session.Config, specs []types.ToolSpec) (session.Backend, error) {
		return Dial(ctx, url, apiKey, cfg, specs, logger)
	}
}

// Dial connects to the backend, sends the session.update payload, and
// starts the read loop.
func Dial(ctx context.Context, url, apiKey string, cfg session.Config, specs []types.ToolSpec, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		return nil, core.NewConfigurationErrorWithParam("backend url must not be empty", "url")
	}

	headers := make(http.Header)
	if apiKey != "" {
		headers.Set("Authorization", "Bearer "+apiKey)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, core.NewAuthError(fmt.Sprintf("backend rejected credentials (status %d)", resp.StatusCode))
		}
		return nil, core.NewConnectionError("websocket dial failed", err)
	}

	update := ClientSessionUpdate{
		Type: "session.update",
		Session: BuildSessionPayload(
			cfg.AudioFormat,
			cfg.TranscriptionModel,
			cfg.Instructions,
			cfg.MaxOutputTokens,
			cfg.Temperature,
			cfg.Voice,
			string(cfg.TurnSensitivity),
			specs,
		),
	}
	if err := conn.WriteJSON(update); err != nil {
		_ = conn.Close()
		return nil, core.NewConnectionError("send session.update", err)
	}

	c := &Client{
		conn:   conn,
		logger: logger,
		events: make(chan session.BackendEvent, 64),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}

	logger.Debug("realtime session opened", "url", url, "tools", len(specs))
	go c.readLoop()
	return c, nil
}

// Events yields backend events until the connection closes. The final
// event is always BackendClosed.
func (c *Client) Events() <-chan session.BackendEvent {
	return c.events
}

// SendAudio forwards one PCM frame as a base64 audio_frame.
func (c *Client) SendAudio(pcm []byte) error {
	frame := ClientAudioFrame{
		Type:    "audio_frame",
		Seq:     c.seq.Add(1),
		DataB64: base64.StdEncoding.EncodeToString(pcm),
	}
	return c.sendJSON(frame)
}

// SendToolResult reports a resolved tool call back to the backend.
func (c *Client) SendToolResult(callID, output string, isError bool) error {
	msg := ClientToolResult{
		Type:    "tool_result",
		ID:      strings.TrimSpace(callID),
		Output:  output,
		IsError: isError,
	}
	return c.sendJSON(msg)
}

func (c *Client) sendJSON(v any) error {
	if c.closed.Load() {
		return core.NewConnectionError("realtime session is closed", nil)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		return core.NewConnectionError("write frame", err)
	}
	return nil
}

// Close tears down the connection and waits for the read loop to exit.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		c.writeMu.Lock()
		_ = c.conn.WriteJSON(ClientControl{Type: "control", Op: "end_session"})
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

// Err returns the terminal connection error, if any, once closed.
func (c *Client) Err() error {
	<-c.done
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed.Load() {
				c.setErr(core.NewConnectionError("read frame", err))
			}
			break
		}

		event, frameErr := decodeServerFrame(data)
		if frameErr != nil {
			c.logger.Warn("dropping undecodable frame", "error", frameErr)
			continue
		}
		if event == nil {
			continue
		}
		if closed, ok := event.(session.BackendClosed); ok {
			c.setErr(closed.Err)
			break
		}
		c.emit(event)
	}

	c.errMu.Lock()
	terminal := c.err
	c.errMu.Unlock()
	c.emit(session.BackendClosed{Err: terminal})
	close(c.events)
}

func (c *Client) emit(ev session.BackendEvent) {
	select {
	case c.events <- ev:
	case <-c.stop:
	}
}

// decodeServerFrame maps one text frame onto a typed backend event.
// Unknown frame types are ignored so protocol additions do not break
// older clients.
func decodeServerFrame(data []byte) (session.BackendEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	switch typ {
	case "transcript.delta":
		var delta ServerTranscriptDelta
		if err := json.Unmarshal(data, &delta); err != nil {
			return nil, fmt.Errorf("decode transcript.delta: %w", err)
		}
		return session.BackendTranscript{Text: delta.Text, Final: delta.IsFinal}, nil
	case "response.text":
		var text ServerResponseText
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, fmt.Errorf("decode response.text: %w", err)
		}
		return session.BackendReplyText{Text: text.Text}, nil
	case "tool_call":
		var call ServerToolCall
		if err := json.Unmarshal(data, &call); err != nil {
			return nil, fmt.Errorf("decode tool_call: %w", err)
		}
		return session.BackendToolCall{Call: types.ToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
			Status:    types.ToolCallPending,
		}}, nil
	case "mcp.progress":
		var progress ServerMCPProgress
		if err := json.Unmarshal(data, &progress); err != nil {
			return nil, fmt.Errorf("decode mcp.progress: %w", err)
		}
		return session.BackendMCPProgress{CallID: progress.ID, Name: progress.Name, Message: progress.Message}, nil
	case "mcp.result":
		var result ServerMCPResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("decode mcp.result: %w", err)
		}
		return session.BackendMCPResult{CallID: result.ID, Name: result.Name, Output: result.Output, IsError: result.IsError}, nil
	case "warning":
		var warning ServerWarning
		if err := json.Unmarshal(data, &warning); err != nil {
			return nil, fmt.Errorf("decode warning: %w", err)
		}
		return session.BackendWarning{Code: warning.Code, Message: warning.Message}, nil
	case "error":
		var serverErr ServerError
		if err := json.Unmarshal(data, &serverErr); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		return session.BackendClosed{Err: mapServerError(serverErr)}, nil
	default:
		return nil, nil
	}
}

func mapServerError(e ServerError) error {
	typ := core.ErrConnection
	switch e.Code {
	case "auth_error", "invalid_api_key", "unauthorized":
		typ = core.ErrAuth
	}
	return &core.Error{Type: typ, Message: e.Message, Code: e.Code, Param: e.Param}
}
