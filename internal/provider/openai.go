package provider

import (
	"context"
	"fmt"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// OpenAIProvider implements Provider for any OpenAI-compatible chat
// completions API (OpenAI, Perplexity, OpenRouter, Groq, etc.).
type OpenAIProvider struct {
	*client
}

// NewOpenAI creates a new OpenAI-compatible provider.
func NewOpenAI(apiKey string, opts ...Option) *OpenAIProvider {
	return &OpenAIProvider{newClient("openai", "https://api.openai.com/v1", apiKey, "gpt-4o", opts)}
}

// NewPerplexity creates a provider for Perplexity's OpenAI-compatible API.
func NewPerplexity(apiKey string, opts ...Option) *OpenAIProvider {
	return &OpenAIProvider{newClient("perplexity", "https://api.perplexity.ai", apiKey, "sonar", opts)}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, req protocol.CompletionRequest) (*protocol.Completion, error) {
	mt := maxTokens(req)
	temp := temperature(req)
	body := openaiRequest{
		Model:       p.modelFor(req),
		MaxTokens:   &mt,
		Temperature: &temp,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, t := range toTurns(req.Messages) {
		role := "user"
		if t.assistant {
			role = "assistant"
		}
		body.Messages = append(body.Messages, openaiMessage{Role: role, Content: t.text})
	}

	var resp openaiResponse
	err := p.postJSON(ctx, p.baseURL+"/chat/completions", map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}, body, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response", p.name)
	}

	choice := resp.Choices[0]
	stop := choice.FinishReason
	if stop == "" {
		stop = "stop"
	}
	return &protocol.Completion{
		Text:       choice.Message.Content,
		StopReason: normalizeStop(stop),
		Usage: protocol.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// --- OpenAI wire format types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
