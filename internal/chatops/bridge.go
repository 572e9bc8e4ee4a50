// Package chatops lets people investigate log sets and chat with the triage
// assistant from Slack. Each channel or thread holds at most one chat
// session.
package chatops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/h1v3-io/logtriage/internal/agent"
	"github.com/h1v3-io/logtriage/internal/logsource"
	"github.com/h1v3-io/logtriage/internal/session"
	"github.com/h1v3-io/logtriage/internal/triage"
)

const helpText = "Commands:\n" +
	"• `start <log set>` open a chat about a log set\n" +
	"• `investigate <log set>` run a full investigation\n" +
	"• `end` close the chat in this thread\n" +
	"Anything else is sent to the assistant."

// Service is the part of the triage facade chat users can reach.
type Service interface {
	StartConversation(ctx context.Context, req triage.StartChatRequest) (*triage.ChatStarted, error)
	SendMessage(ctx context.Context, sessionID, message string) (*triage.ChatReply, error)
	EndConversation(sessionID string) bool
	StartInvestigation(ctx context.Context, req triage.InvestigateRequest) (*agent.Result, error)
}

// Inbound is one message from a chat platform.
type Inbound struct {
	SenderID string
	ChatID   string // channel, or channel:thread
	Text     string
}

// Handler turns an inbound message into the reply to post.
type Handler func(ctx context.Context, in Inbound) (string, error)

// Bridge maps chat threads to triage sessions.
type Bridge struct {
	svc    Service
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]string // chat ID → session ID
}

// NewBridge creates a Bridge over svc.
func NewBridge(svc Service, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		svc:      svc,
		logger:   logger.With("component", "chatops"),
		sessions: make(map[string]string),
	}
}

// Handle runs a command or forwards the text to the thread's session.
func (b *Bridge) Handle(ctx context.Context, in Inbound) (string, error) {
	text := strings.TrimSpace(in.Text)
	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "", "help":
		return helpText, nil
	case "start":
		if arg == "" {
			return "Usage: `start <log set>`", nil
		}
		return b.start(ctx, in.ChatID, arg)
	case "investigate":
		if arg == "" {
			return "Usage: `investigate <log set>`", nil
		}
		return b.investigate(ctx, arg)
	case "end":
		if id, ok := b.take(in.ChatID); ok {
			b.svc.EndConversation(id)
			return "Session ended.", nil
		}
		return "No active session in this thread.", nil
	}

	id, ok := b.session(in.ChatID)
	if !ok {
		return "No active session. Say `start <log set>` to begin.", nil
	}
	reply, err := b.svc.SendMessage(ctx, id, text)
	if errors.Is(err, session.ErrNotFound) {
		b.take(in.ChatID)
		return "Session expired. Say `start <log set>` to begin again.", nil
	}
	if err != nil {
		return "", fmt.Errorf("chatops: send: %w", err)
	}
	return reply.AssistantResponse, nil
}

func (b *Bridge) start(ctx context.Context, chatID, logSet string) (string, error) {
	if old, ok := b.take(chatID); ok {
		b.svc.EndConversation(old)
	}
	started, err := b.svc.StartConversation(ctx, triage.StartChatRequest{LogSetID: logSet})
	if err != nil {
		if reply, ok := userError(err); ok {
			return reply, nil
		}
		return "", fmt.Errorf("chatops: start: %w", err)
	}
	b.mu.Lock()
	b.sessions[chatID] = started.SessionID
	b.mu.Unlock()
	b.logger.Info("chat session bound", "chat", chatID, "session", started.SessionID, "log_set", logSet)
	return started.InitialMessage, nil
}

func (b *Bridge) investigate(ctx context.Context, logSet string) (string, error) {
	res, err := b.svc.StartInvestigation(ctx, triage.InvestigateRequest{LogSetID: logSet})
	if err != nil {
		if reply, ok := userError(err); ok {
			return reply, nil
		}
		return "", fmt.Errorf("chatops: investigate: %w", err)
	}
	if res.Failed() {
		return "Investigation failed: " + res.Failure, nil
	}
	return "```" + agent.FormatSummary(res) + "```", nil
}

func userError(err error) (string, bool) {
	switch {
	case errors.Is(err, triage.ErrBusy):
		return "An investigation is already running. Try again when it finishes.", true
	case errors.Is(err, triage.ErrInvalid):
		return "Invalid request: " + strings.TrimPrefix(err.Error(), triage.ErrInvalid.Error()+": "), true
	case errors.Is(err, logsource.ErrNotFound):
		return "Log set not found.", true
	}
	return "", false
}

func (b *Bridge) session(chatID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.sessions[chatID]
	return id, ok
}

func (b *Bridge) take(chatID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.sessions[chatID]
	delete(b.sessions, chatID)
	return id, ok
}
