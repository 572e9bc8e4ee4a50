package chatops

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/h1v3-io/logtriage/internal/alert"
)

// SlackConfig holds Slack Socket Mode settings.
type SlackConfig struct {
	BotToken string   // xoxb-... Bot User OAuth Token
	AppToken string   // xapp-... App-Level Token (for Socket Mode)
	Channels []string // Optional: only respond in these channels (empty = all)
	// APIURL overrides the Slack Web API base URL.
	APIURL string
}

// Slack receives messages over Socket Mode and answers in the same thread.
type Slack struct {
	api      *slack.Client
	socket   *socketmode.Client
	config   SlackConfig
	handler  Handler
	logger   *slog.Logger
	botID    string
	inflight sync.WaitGroup
}

// NewSlack authenticates the bot and prepares a Socket Mode client.
func NewSlack(ctx context.Context, cfg SlackConfig, handler Handler, logger *slog.Logger) (*Slack, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("chatops: slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("chatops: slack: app_token is required (Socket Mode)")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chatops-slack")

	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	api := slack.New(cfg.BotToken, opts...)

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("chatops: slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", auth.User, "team", auth.Team)

	return &Slack{
		api:     api,
		socket:  socketmode.New(api),
		config:  cfg,
		handler: handler,
		logger:  logger,
		botID:   auth.UserID,
	}, nil
}

// Start listens for events until ctx is cancelled, then waits for replies
// in progress.
func (c *Slack) Start(ctx context.Context) error {
	go c.handleEvents(ctx)
	c.logger.Info("slack chatops started (socket mode)")
	err := c.socket.RunContext(ctx)
	c.inflight.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Slack) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, event)
			case socketmode.EventTypeSlashCommand:
				c.handleSlashCommand(ctx, event)
			}
		}
	}
}

func (c *Slack) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	c.socket.Ack(*event.Request)

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		c.handleMessage(ctx, ev)
	case *slackevents.AppMentionEvent:
		c.handleMention(ctx, ev)
	}
}

func (c *Slack) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Bots (including this one) and edits are ignored.
	if ev.BotID != "" || ev.User == "" || ev.User == c.botID || ev.SubType != "" {
		return
	}
	if !c.isAllowedChannel(ev.Channel) || ev.Text == "" {
		return
	}
	c.dispatch(ctx, ev.User, ev.Channel, ev.ThreadTimeStamp, ev.Text)
}

func (c *Slack) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	if ev.User == c.botID || !c.isAllowedChannel(ev.Channel) {
		return
	}
	text := StripMention(ev.Text, c.botID)
	if text == "" {
		return
	}
	// A mention opens a thread on the mentioning message.
	thread := ev.ThreadTimeStamp
	if thread == "" {
		thread = ev.TimeStamp
	}
	c.dispatch(ctx, ev.User, ev.Channel, thread, text)
}

func (c *Slack) handleSlashCommand(ctx context.Context, event socketmode.Event) {
	cmd, ok := event.Data.(slack.SlashCommand)
	if !ok {
		return
	}
	c.socket.Ack(*event.Request)
	text := cmd.Text
	if text == "" {
		text = "help"
	}
	c.dispatch(ctx, cmd.UserID, cmd.ChannelID, "", text)
}

// dispatch runs the handler off the event loop and posts its reply.
func (c *Slack) dispatch(ctx context.Context, user, channel, thread, text string) {
	chatID := channel
	if thread != "" {
		chatID = channel + ":" + thread
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("panic handling slack message", "chat", chatID, "panic", r, "stack", string(debug.Stack()))
			}
		}()

		reply, err := c.handler(ctx, Inbound{SenderID: user, ChatID: chatID, Text: text})
		if err != nil {
			c.logger.Error("slack handler error", "chat", chatID, "user", user, "error", err)
			reply = "Sorry, something went wrong: " + err.Error()
		}
		if reply == "" {
			return
		}
		if err := c.post(ctx, channel, thread, reply); err != nil {
			c.logger.Error("slack reply failed", "chat", chatID, "error", err)
		}
	}()
}

func (c *Slack) post(ctx context.Context, channel, thread, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(alert.MarkdownToMrkdwn(text), false)}
	if thread != "" {
		opts = append(opts, slack.MsgOptionTS(thread))
	}
	if _, _, err := c.api.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("chatops: slack: post: %w", err)
	}
	return nil
}

func (c *Slack) isAllowedChannel(channel string) bool {
	return len(c.config.Channels) == 0 || slices.Contains(c.config.Channels, channel)
}

// StripMention removes the <@BOTID> mention from message text.
func StripMention(text, botID string) string {
	mention := fmt.Sprintf("<@%s>", botID)
	text = strings.Replace(text, mention, "", 1)
	return strings.TrimSpace(text)
}
