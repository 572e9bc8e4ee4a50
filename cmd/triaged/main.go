package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/h1v3-io/logtriage/internal/alert"
	apiPkg "github.com/h1v3-io/logtriage/internal/api"
	"github.com/h1v3-io/logtriage/internal/chatops"
	"github.com/h1v3-io/logtriage/internal/config"
	"github.com/h1v3-io/logtriage/internal/history"
	"github.com/h1v3-io/logtriage/internal/ingest"
	"github.com/h1v3-io/logtriage/internal/logbuf"
	"github.com/h1v3-io/logtriage/internal/logsource"
	"github.com/h1v3-io/logtriage/internal/scheduler"
	"github.com/h1v3-io/logtriage/internal/session"
	"github.com/h1v3-io/logtriage/internal/ticket"
	"github.com/h1v3-io/logtriage/internal/triage"
)

func main() {
	fs := flag.NewFlagSet("triaged", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (JSON or YAML)")
	configURL := fs.String("config-url", "", "Fetch config from this URL")
	configToken := fs.String("config-token", "", "Bearer token for -config-url")
	instance := fs.String("instance", "", "Instance ID sent with -config-url")
	dataDir := fs.String("data-dir", "", "Override data_dir from remote config")
	verbose := fs.Bool("v", false, "Verbose logging")
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("LOGTRIAGE")); err != nil {
		fmt.Fprintf(os.Stderr, "triaged: %v\n", err)
		os.Exit(2)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config comes from a file, a remote URL or the environment.
	var cfg *config.Config
	var err error
	switch {
	case *configPath != "":
		cfg, err = config.Load(*configPath)
	case *configURL != "":
		logger.Info("loading remote config", "url", *configURL, "instance", *instance)
		cfg, err = config.LoadRemote(ctx, config.RemoteOptions{
			URL:      *configURL,
			Token:    *configToken,
			Instance: *instance,
			DataDir:  *dataDir,
		})
	default:
		cfg, err = config.LoadFromEnv()
		if err == nil {
			err = cfg.Validate()
		}
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger, logBuf); err != nil {
		logger.Error("triaged exited", "error", err)
		os.Exit(1)
	}
	logger.Info("triaged stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, logBuf *logbuf.Buffer) error {
	if err := os.MkdirAll(cfg.LogSetDir, 0o755); err != nil {
		return fmt.Errorf("create log set dir: %w", err)
	}

	tickets, err := ticket.NewFileStore(filepath.Join(cfg.DataDir, "tickets.json"), ticket.WithLogger(logger))
	if err != nil {
		return err
	}
	defer tickets.Close()
	hist, err := history.NewSQLiteStore(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		return err
	}
	defer hist.Close()

	notifier, err := notifiers(cfg.Alerts, logger)
	if err != nil {
		return err
	}

	sessions := session.NewStore(
		session.WithTimeout(cfg.Sessions.InactivityTimeout),
		session.WithLogger(logger),
	)

	uploads := &logsource.Dir{Path: cfg.LogSetDir}
	defaultModel := cfg.Providers[cfg.DefaultProvider].Model
	svc, err := triage.New(triage.Config{
		Sources:         logsource.Chain{uploads, logsource.Embedded{}},
		Uploads:         uploads,
		Tickets:         tickets,
		Sessions:        sessions,
		History:         hist,
		Notifier:        notifier,
		NewProvider:     cfg.NewProvider,
		DefaultProvider: cfg.DefaultProvider,
		DefaultModel:    defaultModel,
		Agent: triage.AgentSettings{
			MaxIterations:  cfg.Agent.MaxIterations,
			IterationDelay: cfg.Agent.IterationDelay,
			BackoffInitial: cfg.Agent.BackoffInitial,
			TokenBudget:    cfg.Agent.TokenBudget,
			MaxTokens:      cfg.Agent.MaxTokens,
			Temperature:    cfg.Agent.Temperature,
			InitialLogs:    cfg.Agent.InitialLogs,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	sched := scheduler.New(logger)
	if err := sessions.ScheduleReaper(sched, cfg.Sessions.ReapSchedule); err != nil {
		return err
	}
	if err := svc.ScheduleInvestigations(sched, cfg.Schedules); err != nil {
		return err
	}

	var ingestHandler *ingest.Handler
	if len(cfg.Ingest) > 0 {
		ingestHandler = ingest.New(ingest.Config{Endpoints: cfg.Ingest}, svc.Ingest, logger)
	}
	srv := apiPkg.NewServer(svc, apiPkg.Config{
		Host:        cfg.API.Host,
		Port:        cfg.API.Port,
		Key:         cfg.API.Key,
		RateLimit:   cfg.API.RateLimit,
		CORSOrigins: cfg.API.CORSOrigins,
		Ingest:      ingestHandler,
		Logs:        logBuf,
		Schedules:   sched,
	}, logger)

	var chat *chatops.Slack
	if cfg.ChatOps.Enabled() {
		bridge := chatops.NewBridge(svc, logger)
		chat, err = chatops.NewSlack(ctx, chatops.SlackConfig{
			BotToken: cfg.ChatOps.SlackBotToken,
			AppToken: cfg.ChatOps.SlackAppToken,
			Channels: cfg.ChatOps.Channels,
		}, bridge.Handle, logger)
		if err != nil {
			return err
		}
	}

	logger.Info("triaged starting",
		"addr", cfg.API.Addr(),
		"provider", cfg.DefaultProvider,
		"log_sets", cfg.LogSetDir,
		"schedules", len(cfg.Schedules),
		"ingest_endpoints", len(cfg.Ingest),
		"chatops", chat != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(safeGo(logger, "scheduler", func() error {
		if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}))
	g.Go(safeGo(logger, "api-server", func() error { return srv.Start(gctx) }))
	if chat != nil {
		g.Go(safeGo(logger, "chatops", func() error { return chat.Start(gctx) }))
	}

	err = g.Wait()
	// Investigations started by ingest or the scheduler finish before the
	// stores close.
	svc.Wait()
	return err
}

// safeGo wraps fn with panic recovery for use in an errgroup.
func safeGo(logger *slog.Logger, name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
				err = fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		return fn()
	}
}

// notifiers builds the alert fan-out from config. With nothing configured
// alerts go to stdout.
func notifiers(cfg config.AlertConfig, logger *slog.Logger) (alert.Notifier, error) {
	var ns []alert.Notifier
	if cfg.Console {
		ns = append(ns, alert.NewConsole(os.Stdout))
	}
	if cfg.SlackWebhookURL != "" || cfg.SlackBotToken != "" {
		s, err := alert.NewSlack(alert.SlackConfig{
			WebhookURL: cfg.SlackWebhookURL,
			BotToken:   cfg.SlackBotToken,
			Channel:    cfg.SlackChannel,
		})
		if err != nil {
			return nil, err
		}
		ns = append(ns, s)
	}
	if len(ns) == 0 {
		ns = append(ns, alert.NewConsole(os.Stdout))
	}
	return alert.NewMulti(logger, ns...), nil
}
