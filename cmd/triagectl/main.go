package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/h1v3-io/logtriage/internal/agent"
	"github.com/h1v3-io/logtriage/internal/alert"
	"github.com/h1v3-io/logtriage/internal/config"
	"github.com/h1v3-io/logtriage/internal/logsource"
	"github.com/h1v3-io/logtriage/internal/scheduler"
	"github.com/h1v3-io/logtriage/internal/ticket"
	"github.com/h1v3-io/logtriage/internal/tool"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "health":
		cmdHealth()
	case "logsets":
		cmdLogSets()
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: triagectl tickets <list|show>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: triagectl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "investigations":
		cmdInvestigations(os.Args[2:])
	case "schedules":
		cmdSchedules()
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: triagectl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// --- run: one investigation in-process ---

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file (default: environment)")
	logSet := fs.String("logset", "1", "Log set ID to investigate")
	provKind := fs.String("provider", "", "Provider name or type (default: configured default)")
	model := fs.String("model", "", "Model override")
	apiKey := fs.String("provider-key", "", "Provider API key override")
	initial := fs.Int("initial-logs", 5, "Logs shown to the agent up front")
	verbose := fs.Bool("v", false, "Verbose logging")
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("LOGTRIAGE")); err != nil {
		fatal(err)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fatal(err)
	}
	kind := *provKind
	if kind == "" {
		kind = cfg.DefaultProvider
	}
	if kind == "" {
		fatal(fmt.Errorf("no provider configured (-provider, or LOGTRIAGE_<KIND>_API_KEY)"))
	}
	prov, err := cfg.NewProvider(kind, *model, *apiKey)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	src := logsource.Chain{logsource.Dir{Path: cfg.LogSetDir}, logsource.Embedded{}}
	set, err := src.Load(ctx, *logSet)
	if err != nil {
		fatal(err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fatal(err)
	}
	store, err := ticket.NewFileStore(filepath.Join(cfg.DataDir, "tickets.json"), ticket.WithLogger(logger))
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	fmt.Println(headerStyle.Render(fmt.Sprintf("Investigating log set %s with %s (%d logs)", set.ID, prov.Name(), len(set.Logs))))

	a := agent.New(prov, logger)
	a.Model = *model
	if cfg.Agent.MaxIterations > 0 {
		a.MaxIterations = cfg.Agent.MaxIterations
	}
	res := a.Investigate(ctx, agent.Investigation{
		LogSetID:    set.ID,
		InitialLogs: set.Last(*initial),
		Env: &tool.Env{
			Logs:     set.Logs,
			Changes:  set.Changes,
			Tickets:  store,
			Notifier: alert.NewConsole(os.Stdout),
		},
	})
	fmt.Println(renderResult(res))
	if res.Failed() {
		os.Exit(1)
	}
}

// --- API client commands ---

func cmdHealth() {
	body, err := apiGet("/api/health")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(body))
}

func cmdLogSets() {
	body, err := apiGet("/api/logs")
	if err != nil {
		fatal(err)
	}
	var resp struct {
		LogSets []string `json:"logSets"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fatal(err)
	}
	for _, id := range resp.LogSets {
		fmt.Println(id)
	}
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status (open|in-progress|closed)")
	severity := fs.String("severity", "", "Filter by severity")
	service := fs.String("service", "", "Filter by affected service")
	fs.Parse(args)

	q := url.Values{}
	for k, v := range map[string]string{"status": *status, "severity": *severity, "service": *service} {
		if v != "" {
			q.Set(k, v)
		}
	}
	path := "/api/tickets"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	body, err := apiGet(path)
	if err != nil {
		fatal(err)
	}
	var list struct {
		Tickets []*protocol.Ticket `json:"tickets"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		fatal(err)
	}
	fmt.Println(renderTickets(list.Tickets))
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + url.PathEscape(id))
	if err != nil {
		fatal(err)
	}
	var t protocol.Ticket
	if err := json.Unmarshal(body, &t); err != nil {
		fatal(err)
	}
	fmt.Println(renderTicket(&t))
}

func cmdInvestigations(args []string) {
	fs := flag.NewFlagSet("investigations", flag.ExitOnError)
	logSet := fs.String("logset", "", "Filter by log set")
	limit := fs.Int("limit", 20, "Max results")
	fs.Parse(args)

	q := url.Values{"limit": {fmt.Sprint(*limit)}}
	if *logSet != "" {
		q.Set("logSetId", *logSet)
	}
	body, err := apiGet("/api/investigations?" + q.Encode())
	if err != nil {
		fatal(err)
	}
	fmt.Println(prettyJSON(body))
}

func cmdSchedules() {
	body, err := apiGet("/api/schedules")
	if err != nil {
		fatal(err)
	}
	var jobs []scheduler.Job
	if err := json.Unmarshal(body, &jobs); err != nil {
		fatal(err)
	}
	fmt.Print(renderJobs(jobs))
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	base := envOr("LOGTRIAGE_API_URL", "http://localhost:3000")

	req, err := http.NewRequest(http.MethodGet, base+path, nil)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("LOGTRIAGE_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println("triagectl - log triage CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run                  Investigate a log set in-process (-logset, -provider, -model)")
	fmt.Println("  health               Check daemon health")
	fmt.Println("  logsets              List log sets known to the daemon")
	fmt.Println("  tickets list         List tickets (-status, -severity, -service)")
	fmt.Println("  tickets show <id>    Show ticket details")
	fmt.Println("  investigations       List recorded investigations (-logset, -limit)")
	fmt.Println("  schedules            Show scheduled jobs and their next run")
	fmt.Println("  config validate <p>  Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  LOGTRIAGE_API_URL         Daemon URL (default: http://localhost:3000)")
	fmt.Println("  LOGTRIAGE_API_KEY         API key for authentication")
	fmt.Println("  LOGTRIAGE_<KIND>_API_KEY  Provider key for run (GEMINI, ANTHROPIC, OPENAI, PERPLEXITY)")
}
