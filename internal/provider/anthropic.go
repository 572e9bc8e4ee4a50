package provider

import (
	"context"
	"fmt"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultModel = "claude-3-opus-20240229"
)

// AnthropicProvider implements Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	*client
}

// NewAnthropic creates a new Anthropic Messages API provider.
func NewAnthropic(apiKey string, opts ...Option) *AnthropicProvider {
	return &AnthropicProvider{newClient("anthropic", "https://api.anthropic.com", apiKey, anthropicDefaultModel, opts)}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, req protocol.CompletionRequest) (*protocol.Completion, error) {
	temp := temperature(req)
	body := anthropicRequest{
		Model:       p.modelFor(req),
		System:      req.System,
		MaxTokens:   maxTokens(req),
		Temperature: &temp,
	}
	for _, t := range toTurns(req.Messages) {
		role := "user"
		if t.assistant {
			role = "assistant"
		}
		body.Messages = append(body.Messages, anthropicMessage{
			Role:    role,
			Content: []anthropicBlock{{Type: "text", Text: t.text}},
		})
	}
	if len(body.Messages) == 0 || body.Messages[0].Role != "user" {
		return nil, fmt.Errorf("anthropic: history must start with a user message")
	}

	var resp anthropicResponse
	err := p.postJSON(ctx, p.baseURL+"/v1/messages", map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}, body, &resp)
	if err != nil {
		return nil, err
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return &protocol.Completion{
		Text:       text,
		StopReason: normalizeStop(resp.StopReason),
		Usage: protocol.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

// --- Anthropic wire format types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	Usage      anthropicUsage   `json:"usage"`
	StopReason string           `json:"stop_reason"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
