// Package alert formats team alerts for the console, Slack and email, and
// delivers them through pluggable notifiers.
package alert

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

const (
	consoleSampleLogs = 3
	emailSampleLogs   = 5
	ruleWidth         = 80
)

// Alert is a notification about a production issue.
type Alert struct {
	Severity         protocol.Severity   `json:"severity"`
	AffectedServices []string            `json:"affectedServices"`
	IssueSummary     string              `json:"issueSummary"`
	RelevantLogs     []protocol.LogEntry `json:"relevantLogs,omitempty"`
	Timestamp        time.Time           `json:"timestamp"`
}

func (a Alert) services() string {
	return strings.Join(a.AffectedServices, ", ")
}

func (a Alert) severityUpper() string {
	return strings.ToUpper(string(a.Severity))
}

func (a Alert) stamp() string {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Message is the short confirmation returned to the agent after delivery.
func (a Alert) Message() string {
	return fmt.Sprintf("Alert sent for %s severity issue in %s", a.Severity, a.services())
}

// Suggestion returns the recommended response for a severity.
func Suggestion(sev protocol.Severity) string {
	switch sev {
	case protocol.SeverityCritical:
		return "CRITICAL alert detected. Immediate action required. Page on-call engineer and initiate incident response."
	case protocol.SeverityHigh:
		return "High severity issue detected. Notify team lead and prioritize investigation."
	case protocol.SeverityMedium:
		return "Medium severity issue detected. Plan investigation and fix within business hours."
	}
	return "Low severity alert. Monitor trend and address during next sprint."
}

// FormatConsole renders the alert as a plain-text banner.
func FormatConsole(a Alert) string {
	rule := strings.Repeat("═", ruleWidth)
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nALERT: %s SEVERITY ISSUE\n%s\n", rule, a.severityUpper(), rule)
	fmt.Fprintf(&b, "Services Affected: %s\n", a.services())
	fmt.Fprintf(&b, "Summary: %s\n", a.IssueSummary)
	if len(a.RelevantLogs) > 0 {
		b.WriteString("Sample Logs:\n")
		for _, l := range head(a.RelevantLogs, consoleSampleLogs) {
			fmt.Fprintf(&b, "  [%s] %s: %s\n", l.Time, l.Service, l.Message)
		}
	}
	fmt.Fprintf(&b, "Timestamp: %s\n%s", a.stamp(), rule)
	return b.String()
}

var severityEmoji = map[protocol.Severity]string{
	protocol.SeverityLow:      ":blue_circle:",
	protocol.SeverityMedium:   ":yellow_circle:",
	protocol.SeverityHigh:     ":red_circle:",
	protocol.SeverityCritical: ":rotating_light:",
}

func emoji(sev protocol.Severity) string {
	if e, ok := severityEmoji[sev]; ok {
		return e
	}
	return ":grey_circle:"
}

// SlackText renders the alert as a Slack mrkdwn message.
func SlackText(a Alert) string {
	return fmt.Sprintf("%s *%s ALERT*\n*Services:* %s\n*Issue:* %s\n*Time:* %s",
		emoji(a.Severity), a.severityUpper(), a.services(), MarkdownToMrkdwn(a.IssueSummary), a.stamp())
}

// FormatSlack builds a webhook payload: the mrkdwn text as fallback plus
// Block Kit blocks for clients that render them.
func FormatSlack(a Alert) *slack.WebhookMessage {
	return &slack.WebhookMessage{
		Text:   SlackText(a),
		Blocks: &slack.Blocks{BlockSet: slackBlocks(a)},
	}
}

func slackBlocks(a Alert) []slack.Block {
	header := slack.NewHeaderBlock(
		slack.NewTextBlockObject(slack.PlainTextType, a.severityUpper()+" ALERT", true, false),
	)
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, "*Services:*\n"+a.services(), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, "*Severity:*\n"+emoji(a.Severity)+" "+string(a.Severity), false, false),
	}
	blocks := []slack.Block{
		header,
		slack.NewSectionBlock(nil, fields, nil),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "*Issue:* "+MarkdownToMrkdwn(a.IssueSummary), false, false),
			nil, nil,
		),
	}
	if len(a.RelevantLogs) > 0 {
		var sample strings.Builder
		for _, l := range head(a.RelevantLogs, consoleSampleLogs) {
			fmt.Fprintf(&sample, "[%s] %s: %s\n", l.Time, l.Service, l.Message)
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "```"+strings.TrimRight(sample.String(), "\n")+"```", false, false),
			nil, nil,
		))
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, "*Time:* "+a.stamp(), false, false),
	))
	return blocks
}

// Email is a formatted email alert.
type Email struct {
	Subject string
	HTML    string
}

var emailTemplate = template.Must(template.New("email").Parse(
	`<h2>Production Alert - {{.Severity}} Severity</h2>
<p><strong>Affected Services:</strong> {{.Services}}</p>
<p><strong>Issue Summary:</strong></p>
<p>{{.Summary}}</p>
{{- if .Logs}}
<h3>Sample Logs</h3>
<ul>
{{- range .Logs}}
<li>[{{.Time}}] <strong>{{.Service}}</strong>: {{.Message}}</li>
{{- end}}
</ul>
{{- end}}
<p><small>Alert generated at {{.Stamp}}</small></p>`))

// FormatEmail renders the alert as an email subject and HTML body. Log
// messages and the summary are HTML-escaped.
func FormatEmail(a Alert) (Email, error) {
	var body bytes.Buffer
	err := emailTemplate.Execute(&body, map[string]any{
		"Severity": a.severityUpper(),
		"Services": a.services(),
		"Summary":  a.IssueSummary,
		"Logs":     head(a.RelevantLogs, emailSampleLogs),
		"Stamp":    a.stamp(),
	})
	if err != nil {
		return Email{}, fmt.Errorf("alert: format email: %w", err)
	}
	return Email{
		Subject: fmt.Sprintf("[%s] Production Alert: %s", a.severityUpper(), a.services()),
		HTML:    body.String(),
	}, nil
}

func head(logs []protocol.LogEntry, n int) []protocol.LogEntry {
	if len(logs) > n {
		return logs[:n]
	}
	return logs
}
