package alert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/slack-go/slack"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// Notifier delivers an alert to one destination.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Console prints alerts to a writer, colored by severity when the writer is
// a terminal.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	styles map[protocol.Severity]lipgloss.Style
	plain  lipgloss.Style
}

// NewConsole creates a console notifier writing to w.
func NewConsole(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		w: w,
		styles: map[protocol.Severity]lipgloss.Style{
			protocol.SeverityLow:      r.NewStyle().Foreground(lipgloss.Color("12")),
			protocol.SeverityMedium:   r.NewStyle().Foreground(lipgloss.Color("11")),
			protocol.SeverityHigh:     r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
			protocol.SeverityCritical: r.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9")).Bold(true),
		},
		plain: r.NewStyle(),
	}
}

func (c *Console) Name() string { return "console" }

// Notify writes the banner. The header lines take the severity color.
func (c *Console) Notify(_ context.Context, a Alert) error {
	style, ok := c.styles[a.Severity]
	if !ok {
		style = c.plain
	}
	lines := strings.Split(FormatConsole(a), "\n")
	for i := 0; i < 3 && i < len(lines); i++ {
		lines[i] = style.Render(lines[i])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "\n%s\n", strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("alert: console: %w", err)
	}
	return nil
}

// SlackConfig configures Slack delivery. WebhookURL takes precedence; without
// it BotToken and Channel are required.
type SlackConfig struct {
	WebhookURL string
	BotToken   string
	Channel    string
	// APIURL overrides the Slack Web API base URL.
	APIURL     string
	HTTPClient *http.Client
}

// Slack posts alerts to a channel through an incoming webhook or the
// chat.postMessage API.
type Slack struct {
	cfg    SlackConfig
	api    *slack.Client
	client *http.Client
}

// NewSlack validates cfg and creates a Slack notifier.
func NewSlack(cfg SlackConfig) (*Slack, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	s := &Slack{cfg: cfg, client: client}
	if cfg.WebhookURL != "" {
		return s, nil
	}
	if cfg.BotToken == "" || cfg.Channel == "" {
		return nil, fmt.Errorf("alert: slack: webhook_url or bot_token with channel is required")
	}
	opts := []slack.Option{slack.OptionHTTPClient(client)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	s.api = slack.New(cfg.BotToken, opts...)
	return s, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, a Alert) error {
	msg := FormatSlack(a)
	if s.api == nil {
		msg.Channel = s.cfg.Channel
		if err := slack.PostWebhookCustomHTTPContext(ctx, s.cfg.WebhookURL, s.client, msg); err != nil {
			return fmt.Errorf("alert: slack webhook: %w", err)
		}
		return nil
	}
	_, _, err := s.api.PostMessageContext(ctx, s.cfg.Channel,
		slack.MsgOptionText(msg.Text, false),
		slack.MsgOptionBlocks(msg.Blocks.BlockSet...),
	)
	if err != nil {
		return fmt.Errorf("alert: slack post: %w", err)
	}
	return nil
}

// Multi fans an alert out to several notifiers in order. Delivery succeeds
// if at least one notifier succeeds; individual failures are logged.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti creates a fan-out notifier.
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{notifiers: notifiers, logger: logger.With("component", "alert")}
}

func (m *Multi) Name() string { return "multi" }

// Notify returns nil when any notifier delivered the alert and the joined
// errors when all of them failed. With no notifiers it is a no-op.
func (m *Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			m.logger.Warn("alert delivery failed", "notifier", n.Name(), "severity", a.Severity, "error", err)
			errs = append(errs, err)
			continue
		}
		m.logger.Info("alert delivered", "notifier", n.Name(), "severity", a.Severity, "services", a.AffectedServices)
	}
	if len(m.notifiers) > 0 && len(errs) == len(m.notifiers) {
		return errors.Join(errs...)
	}
	return nil
}
