package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nudgebot-dev/nudgebot/internal/agent"
	"github.com/nudgebot-dev/nudgebot/internal/auditlog"
	"github.com/nudgebot-dev/nudgebot/internal/bot"
	"github.com/nudgebot-dev/nudgebot/internal/cleanup"
	"github.com/nudgebot-dev/nudgebot/internal/digest"
	"github.com/nudgebot-dev/nudgebot/internal/scan"
	"github.com/nudgebot-dev/nudgebot/internal/sched"
	"github.com/nudgebot-dev/nudgebot/internal/tracing"
	"github.com/nudgebot-dev/nudgebot/pkg/config"
	"github.com/nudgebot-dev/nudgebot/pkg/llm"
	"github.com/nudgebot-dev/nudgebot/pkg/notion"
	"github.com/nudgebot-dev/nudgebot/pkg/observability"
	"github.com/nudgebot-dev/nudgebot/pkg/state"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot, schedules and metrics endpoint until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "Config file (YAML); environment variables fill the gaps")

	return cmd
}

func runBot(ctx context.Context, configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Printf("Starting nudgebot v%s", Version)

	observability.InitMetrics()
	if err := tracing.Init(cfg.Observability); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Schedule.Timezone, err)
	}

	states, err := state.New(cfg.State)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("create completion provider: %w", err)
	}

	audit, err := auditlog.New(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	tasks := notion.NewClient(cfg.Notion)
	loop := agent.NewLoop(provider, agent.NewDispatcher(tasks), agent.Options{
		MaxRounds:   cfg.Agent.MaxRounds,
		Concurrency: cfg.Agent.ToolConcurrency,
		Timeout:     cfg.Agent.CompletionTimeout(),
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Location:    loc,
	})

	api, err := bot.NewAPI(cfg.Telegram.Token)
	if err != nil {
		return err
	}
	out := bot.NewTransport(api, cfg.Telegram.ChatID)

	cleaner := cleanup.NewRunner(states, tasks, out)
	digests := digest.NewController(loop, scan.NewBuilder(tasks, loc), states, out, audit, digest.Options{
		Conversation: strconv.FormatInt(cfg.Telegram.ChatID, 10),
		MaxTurns:     cfg.Agent.HistoryTurns,
	})

	// The daily job is the hourly check-in plus a cleanup round; /scan
	// reuses it. Cleanup still runs when the check-in fails.
	daily := func(ctx context.Context) error {
		derr := digests.Run(ctx)
		if derr != nil {
			log.Printf("[Main] daily check-in failed: %v", derr)
		}
		return errors.Join(derr, cleaner.Run(ctx))
	}

	tgBot := bot.New(api, bot.Options{
		ChatID:   cfg.Telegram.ChatID,
		Loop:     loop,
		States:   states,
		Tasks:    tasks,
		Pending:  agent.NewPendingRegistry(),
		Cleaner:  cleaner,
		Audit:    audit,
		Scan:     daily,
		MaxTurns: cfg.Agent.HistoryTurns,
	})

	schedules := sched.New(sched.Options{
		Location:   loc,
		DailySpec:  cfg.Schedule.DailySpec,
		Daily:      daily,
		HourlySpec: cfg.Schedule.HourlySpec,
		Hourly:     digests.Run,
	})

	// Long polling and scheduled jobs live until this context is cancelled.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := tgBot.Start(runCtx); err != nil {
		return err
	}
	if err := schedules.Start(runCtx); err != nil {
		tgBot.Stop()
		return err
	}
	metrics := observability.Serve(cfg.Observability.MetricsAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down...")
	case <-runCtx.Done():
	}

	// Let running jobs finish, then cut long polling and drain handlers.
	schedules.Stop()
	cancel()
	tgBot.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if metrics != nil {
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Main] metrics server shutdown: %v", err)
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] tracing shutdown: %v", err)
	}
	if closer, ok := states.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Printf("[Main] state store close: %v", err)
		}
	}

	log.Println("nudgebot stopped")
	return nil
}
