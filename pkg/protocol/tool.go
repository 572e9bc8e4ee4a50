package protocol

// ToolCall is a tool-call directive lifted out of a model response.
type ToolCall struct {
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
}

// ToolExecution pairs a tool call with its outcome for a single turn.
type ToolExecution struct {
	Call   ToolCall `json:"toolCall"`
	Result any      `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Succeeded reports whether the tool ran without error.
func (e ToolExecution) Succeeded() bool {
	return e.Error == ""
}
