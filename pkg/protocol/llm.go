package protocol

// Stop reasons reported by completion providers, normalized.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
)

// ChatMessage is one message of the history sent to a completion provider.
// Roles are "user", "assistant" and "tool"; providers send tool entries as
// user turns.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest holds parameters for a completion call.
type CompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	System      string        `json:"system"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// Completion is the parsed response from a completion provider.
type Completion struct {
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
}

// EndTurn reports whether the provider signalled the model finished its turn.
func (c *Completion) EndTurn() bool {
	return c.StopReason == StopEndTurn
}

// Usage tracks token consumption for a single completion call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// TotalTokens returns the sum of prompt and completion tokens.
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}
