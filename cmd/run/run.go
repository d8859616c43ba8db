package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Philanthropists/imapfeed/internal/app"
	"github.com/Philanthropists/imapfeed/internal/config"
	"github.com/Philanthropists/imapfeed/internal/credential"
	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/Philanthropists/imapfeed/internal/metrics"
	"github.com/spf13/cobra"
)

var GitCommit string

const defaultConfigFile = "credentials.json"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "imapfeed",
		Short:         "Turn the messages of an IMAP mailbox into events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigFile, "Path to the JSON config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the mailbox until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBot(cmd.Context(), configPath, true, func(ctx context.Context, bot *app.Bot) error {
				return bot.Run(ctx)
			})
		},
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single ingest pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBot(cmd.Context(), configPath, false, func(ctx context.Context, bot *app.Bot) error {
				summary, err := bot.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "messages=%d parts=%d handled=%d\n",
					summary.Messages, summary.Parts, summary.Handled)
				return nil
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build commit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version())
		},
	}

	rootCmd.AddCommand(runCmd, onceCmd, versionCmd, eventsCommand(&configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func version() string {
	if GitCommit == "" {
		return "dev"
	}
	return GitCommit
}

func withBot(ctx context.Context, configPath string, serveMetrics bool, fn func(ctx context.Context, bot *app.Bot) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Configure(cfg.LogLevel, cfg.LogDev); err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}
	log := logger.GetLogger()
	defer func() { _ = log.Sync() }()

	log.Infow("Starting imapfeed", "version", version())

	m := metrics.Discard()
	if serveMetrics && cfg.MetricsAddr != "" {
		m = metrics.New(cfg.MetricsAddr)
		go func() {
			_ = metrics.Serve(ctx, cfg.MetricsAddr)
		}()
	}

	bot, err := app.Build(ctx, cfg, app.Options{
		Prompter: credential.TerminalPrompter(os.Stderr),
		Metrics:  m,
	})
	if err != nil {
		return err
	}
	defer bot.Release(log)

	return fn(ctx, bot)
}

func eventsCommand(configPath *string) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect events kept by the configured sinks",
	}

	var eventType string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List events stored by the sqlite sink, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			list, total, err := app.ListEvents(cmd.Context(), cfg.Sink, eventType, limit)
			if err != nil {
				return err
			}

			for _, event := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n",
					event.TS.Format("2006-01-02T15:04:05Z07:00"), event.ID, event.Type, event.Payload.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d events\n", len(list), total)
			return nil
		},
	}
	listCmd.Flags().StringVarP(&eventType, "type", "t", "", "Only list events of this type, e.g. mail.text")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of events to list")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one event stored by the dynamodb sink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			event, err := app.GetEvent(cmd.Context(), cfg.Sink, args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(event)
		},
	}

	eventsCmd.AddCommand(listCmd, getCmd)
	return eventsCmd
}
