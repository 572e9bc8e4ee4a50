package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/h1v3-io/logtriage/internal/agent"
	"github.com/h1v3-io/logtriage/internal/logsource"
	"github.com/h1v3-io/logtriage/internal/memory"
	"github.com/h1v3-io/logtriage/internal/session"
	"github.com/h1v3-io/logtriage/internal/tool"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// StartChatRequest opens a session over a stored log set or uploaded logs.
// LogSetID wins when both are given.
type StartChatRequest struct {
	LogSetID string              `json:"logSetId,omitempty"`
	Logs     []protocol.LogEntry `json:"logs,omitempty"`
	Provider string              `json:"provider,omitempty"`
	Model    string              `json:"model,omitempty"`
}

// LogsInfo describes the corpus behind a session.
type LogsInfo struct {
	Count  int    `json:"count"`
	Source string `json:"source"`
}

// ChatStarted is returned by StartConversation.
type ChatStarted struct {
	SessionID      string   `json:"sessionId"`
	InitialMessage string   `json:"initialMessage"`
	LogsInfo       LogsInfo `json:"logsInfo"`
}

// ChatReply is the outcome of one message.
type ChatReply struct {
	AssistantResponse string                   `json:"assistantResponse"`
	ToolExecutions    []protocol.ToolExecution `json:"toolExecutions"`
	Status            session.Status           `json:"status"`
}

// Conversation is the client view of a session.
type Conversation struct {
	SessionID    string         `json:"sessionId"`
	Messages     []memory.Entry `json:"messages"`
	LogsInfo     LogsInfo       `json:"logsInfo"`
	Status       session.Status `json:"status"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActivity time.Time      `json:"lastActivity"`
}

// StartConversation creates a chat session. The last few logs seed the
// conversation; the whole corpus stays searchable by tools.
func (s *Service) StartConversation(ctx context.Context, req StartChatRequest) (*ChatStarted, error) {
	var set *logsource.LogSet
	switch {
	case req.LogSetID != "":
		if !logsource.ValidID(req.LogSetID) {
			return nil, fmt.Errorf("%w: invalid log set %q", ErrInvalid, req.LogSetID)
		}
		loaded, err := s.cfg.Sources.Load(ctx, req.LogSetID)
		if err != nil {
			return nil, err
		}
		set = loaded
	case len(req.Logs) > 0:
		set = logsource.Inline(req.Logs)
	default:
		return nil, fmt.Errorf("%w: Either logs or logSetNumber required", ErrInvalid)
	}

	kind, model := s.pick(req.Provider, req.Model)
	sess := s.cfg.Sessions.Create(session.Options{
		Logs:     set.Last(s.cfg.Agent.InitialLogs),
		AllLogs:  set.Logs,
		Changes:  set.Changes,
		Source:   set.Source,
		Provider: kind,
		Model:    model,
	})
	return &ChatStarted{
		SessionID: sess.ID,
		InitialMessage: fmt.Sprintf("Hello! I'm your log triage assistant. I have %d logs loaded from %s. How can I help you investigate?",
			len(set.Logs), set.Source),
		LogsInfo: LogsInfo{Count: len(set.Logs), Source: set.Source},
	}, nil
}

// SendMessage runs one conversational turn. Turns on the same session are
// serialized; the session's memory is saved only when the turn succeeds.
func (s *Service) SendMessage(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: Message cannot be empty", ErrInvalid)
	}
	unlock, err := s.cfg.Sessions.Lock(sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.cfg.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	a, err := s.newAgent(sess.Provider, sess.Model, "")
	if err != nil {
		return nil, err
	}
	conv := &agent.Conversation{
		ID:     sess.ID,
		Memory: a.ConversationMemory(sess.Logs.Logs, sess.Logs.Changes, sess.Memory),
		Env: &tool.Env{
			Logs:     sess.Logs.AllLogs,
			Changes:  sess.Logs.Changes,
			Tickets:  s.cfg.Tickets,
			Notifier: s.cfg.Notifier,
		},
	}
	if _, err := s.cfg.Sessions.Update(sessionID, session.Update{Status: session.StatusWaiting}); err != nil {
		return nil, err
	}
	turn, err := a.ProcessMessage(ctx, conv, message)
	if err != nil {
		// The user message is kept so the next turn sees it.
		state := conv.Memory.Serialize()
		if _, uerr := s.cfg.Sessions.Update(sessionID, session.Update{Memory: &state, Status: session.StatusActive}); uerr != nil {
			s.logger.Warn("failed to save session after failed turn", "session", sessionID, "error", uerr)
		}
		return nil, err
	}

	status := turnStatus(turn.AssistantResponse)
	state := turn.Memory
	if _, err := s.cfg.Sessions.Update(sessionID, session.Update{Memory: &state, Status: status}); err != nil {
		return nil, err
	}
	return &ChatReply{
		AssistantResponse: turn.AssistantResponse,
		ToolExecutions:    turn.ToolExecutions,
		Status:            status,
	}, nil
}

// turnStatus is completed once the assistant declares the investigation
// finished. The session stays open for further questions.
func turnStatus(reply string) session.Status {
	if strings.Contains(strings.ToLower(reply), agent.CompletionPhrase) {
		return session.StatusCompleted
	}
	return session.StatusActive
}

// GetConversation returns the session's messages and metadata.
func (s *Service) GetConversation(sessionID string) (*Conversation, error) {
	sess, err := s.cfg.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return &Conversation{
		SessionID:    sess.ID,
		Messages:     sess.Memory.Entries,
		LogsInfo:     LogsInfo{Count: len(sess.Logs.AllLogs), Source: sess.Logs.Source},
		Status:       sess.Status,
		Provider:     sess.Provider,
		Model:        sess.Model,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
	}, nil
}

// EndConversation deletes the session. Ending an unknown session is not an
// error.
func (s *Service) EndConversation(sessionID string) bool {
	return s.cfg.Sessions.Delete(sessionID)
}
