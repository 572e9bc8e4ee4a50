package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"

	"github.com/h1v3-io/logtriage/internal/memory"
	"github.com/h1v3-io/logtriage/internal/provider"
	"github.com/h1v3-io/logtriage/internal/tool"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// Conversation is the per-session state a turn runs against. ID tags the
// tool executions recorded for the session.
type Conversation struct {
	ID     string
	Memory *memory.Memory
	Env    *tool.Env
}

// Turn is the outcome of one user message.
type Turn struct {
	AssistantResponse string                   `json:"assistantResponse"`
	ToolExecutions    []protocol.ToolExecution `json:"toolExecutions"`
	Memory            memory.State             `json:"memoryState"`
}

// ConversationMemory rebuilds a session's memory around the conversational
// prompt. An empty state yields a fresh memory seeded with the log context.
func (a *Agent) ConversationMemory(initialLogs []protocol.LogEntry, changes []protocol.ChangeEvent, state memory.State) *memory.Memory {
	prompt := WithTools(ConversationPrompt(), a.Tools.Definitions())
	return memory.Restore(prompt, initialLogs, changes, state, a.memoryOptions()...)
}

// ProcessMessage runs exactly one turn: the message is added to memory, the
// provider answers once, and every tool directive in the answer is executed
// in order. Rate-limited completions are retried a few times; any other
// completion error is returned and the user message stays in memory.
func (a *Agent) ProcessMessage(ctx context.Context, c *Conversation, message string) (*Turn, error) {
	if c == nil || c.Memory == nil {
		return nil, errors.New("agent: process message: no conversation memory")
	}
	env := c.Env
	if env == nil {
		env = &tool.Env{}
	}
	log := a.logger().With("session", c.ID)

	c.Memory.AddUserMessage(message)
	req := a.request(c.Memory)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.backoffInitial()
	resp, err := backoff.Retry(ctx, func() (*protocol.Completion, error) {
		resp, err := a.Provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if provider.IsRateLimited(err) {
			log.Warn("completion rate limited", "error", err)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(defaultTurnRetries))
	if err != nil {
		log.Error("conversation turn failed", "error", err)
		return nil, fmt.Errorf("agent: process message: %w", err)
	}

	c.Memory.AddAssistantMessage(resp.Text)
	execs := a.Tools.DispatchAll(ctx, env, tool.ParseDirectives(resp.Text))
	for _, e := range execs {
		c.Memory.AddToolResult(e.Call.ToolName, e.Result, e.Error)
	}
	a.recordTools(c.ID, execs)

	return &Turn{
		AssistantResponse: resp.Text,
		ToolExecutions:    execs,
		Memory:            c.Memory.Serialize(),
	}, nil
}
