// Package gemini implements the chat-completion collaborator port on the
// Gemini API, as an alternate backend to the OpenAI provider.
package gemini

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"github.com/voicewire-ai/voicewire/pkg/core"
	"github.com/voicewire-ai/voicewire/pkg/core/session"
	"github.com/voicewire-ai/voicewire/pkg/core/types"
)

// DefaultModel is used when the caller passes no model.
const DefaultModel = "gemini-2.0-flash"

// Provider implements session.ChatCompleter on the Gemini API.
type Provider struct {
	client *genai.Client
}

// New creates a provider for the given API key.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewConfigurationError("create gemini client: " + err.Error())
	}
	return &Provider{client: client}, nil
}

// Complete sends the conversation to Gemini and returns the reply text.
// System messages become the system instruction; user and assistant turns
// map to the user and model roles.
func (p *Provider) Complete(ctx context.Context, messages []session.ChatMessage, model string, maxTokens int, temperature float64) (string, error) {
	if model == "" {
		model = DefaultModel
	}

	cfg := &genai.GenerateContentConfig{}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if temperature > 0 {
		t := float32(temperature)
		cfg.Temperature = &t
	}

	var contents []*genai.Content
	var system []string
	for _, m := range messages {
		switch m.Role {
		case types.RoleSystem:
			system = append(system, m.Content)
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n"), genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return "", core.NewCancelledError("completion cancelled")
		}
		return "", core.NewConnectionError("gemini completion", err)
	}

	text := resp.Text()
	if text == "" {
		return "", core.NewConnectionError("empty completion response", nil)
	}
	return text, nil
}
