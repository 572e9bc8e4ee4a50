package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// GeminiProvider implements Provider for the Gemini generateContent API.
type GeminiProvider struct {
	*client
}

// NewGemini creates a new Gemini provider.
func NewGemini(apiKey string, opts ...Option) *GeminiProvider {
	return &GeminiProvider{newClient("gemini", "https://generativelanguage.googleapis.com/v1beta", apiKey, "gemini-2.0-flash", opts)}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Complete(ctx context.Context, req protocol.CompletionRequest) (*protocol.Completion, error) {
	body := geminiRequest{
		GenerationConfig: geminiConfig{
			Temperature:     temperature(req),
			MaxOutputTokens: maxTokens(req),
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, t := range toTurns(req.Messages) {
		role := "user"
		if t.assistant {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: t.text}}})
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, url.PathEscape(p.modelFor(req)))
	var resp geminiResponse
	if err := p.postJSON(ctx, endpoint, map[string]string{"x-goog-api-key": p.apiKey}, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: no candidates in response")
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		text.WriteString(part.Text)
	}
	return &protocol.Completion{
		Text:       text.String(),
		StopReason: normalizeStop(cand.FinishReason),
		Usage: protocol.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

// --- Gemini wire format types ---

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  geminiConfig    `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}
