package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Fullex26/autowatch/internal/autowatch"
	"github.com/Fullex26/autowatch/internal/config"
	"github.com/Fullex26/autowatch/internal/daemon"
	"github.com/Fullex26/autowatch/internal/jira"
	"github.com/Fullex26/autowatch/internal/setup"
	"github.com/Fullex26/autowatch/internal/store"
	"github.com/Fullex26/autowatch/pkg/models"
)

var (
	cfgPath string
	envPath string
)

func main() {
	root := &cobra.Command{
		Use:   "autowatch",
		Short: "Autowatch — adds people who touch an issue to its watcher list",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFile(envPath)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultConfigPath, "config file path")
	root.PersistentFlags().StringVar(&envPath, "env-file", config.DefaultEnvPath, "path to env file for credentials")

	root.AddCommand(
		setupCmd(),
		runCmd(),
		statusCmd(),
		checkCmd(),
		watchersCmd(),
		watchingCmd(),
		unwatchCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setup.Run(cfgPath, envPath)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the webhook receiver and register the listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg.Log)

			d, err := daemon.New(cfg)
			if err != nil {
				return fmt.Errorf("initializing daemon: %w", err)
			}

			return d.Run()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recent auto-watch activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.Registry.DBPath)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer db.Close()

			entries, err := db.GetRecentActivity(24)
			if err != nil {
				return err
			}

			lastWatch, _ := db.GetLastWatchTime()
			count24h, _ := db.GetActivityCount(24)
			state, err := db.GetState(store.KeyListenerState)
			if err != nil {
				state = "unknown"
			}
			lastCleanup, err := db.GetState(store.KeyLastCleanup)
			if err != nil {
				lastCleanup = "never"
			}

			fmt.Println("Autowatch Status")
			fmt.Println("─────────────────────────")
			fmt.Printf("  Listener:      %s (%s)\n", cfg.Listener.Name, state)
			fmt.Printf("  Registry:      %s\n", cfg.Registry.Backend)
			fmt.Printf("  Events (24h):  %d\n", count24h)
			fmt.Printf("  Last watch:    %s\n", lastWatch)
			fmt.Printf("  Last cleanup:  %s\n", lastCleanup)
			fmt.Println()

			if len(entries) > 0 {
				fmt.Println("  Recent activity:")
				limit := 10
				if len(entries) < limit {
					limit = len(entries)
				}
				for _, e := range entries[:limit] {
					fmt.Printf("    %s %-16s %-10s %s\n",
						e.Timestamp.Format("15:04"),
						e.Outcome,
						e.IssueKey,
						e.UserID,
					)
				}
			} else {
				fmt.Println("  No activity in last 24 hours")
			}
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check PROJECT...",
		Short: "Show whether issues in the given projects get auto-watched",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			l := autowatch.NewListener(nil, nil)
			l.Init(cfg.Listener.Params())
			rule := l.Rule()

			fmt.Printf("  include: %s\n", describeKeys(rule.Include()))
			fmt.Printf("  exclude: %s\n", describeKeys(rule.Exclude()))
			for _, p := range args {
				verdict := "watched"
				if !rule.Allows(p) {
					verdict = "skipped"
				}
				fmt.Printf("  %-12s %s\n", p, verdict)
			}
			return nil
		},
	}
}

func describeKeys(keys []string) string {
	if len(keys) == 0 {
		return "(any)"
	}
	return strings.Join(keys, ", ")
}

func watchersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watchers ISSUE",
		Short: "List watchers of an issue in the local registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.UsesJira() {
				return fmt.Errorf("watchers are kept in Jira; use the issue's watcher list there")
			}
			db, err := store.Open(cfg.Registry.DBPath)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer db.Close()

			watchers, err := db.ListWatchers(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			if len(watchers) == 0 {
				fmt.Printf("  %s has no watchers\n", args[0])
				return nil
			}
			for _, w := range watchers {
				fmt.Printf("  %-24s since %s\n", w.UserID, w.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func watchingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watching USER",
		Short: "List issues a user watches in the local registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.UsesJira() {
				return fmt.Errorf("watchers are kept in Jira; search there with watcher = %q", args[0])
			}
			db, err := store.Open(cfg.Registry.DBPath)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer db.Close()

			issues, err := db.ListWatching(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				fmt.Printf("  %s watches nothing\n", args[0])
				return nil
			}
			for _, w := range issues {
				fmt.Printf("  %-12s %-10s since %s\n", w.IssueKey, w.ProjectKey, w.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func unwatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unwatch ISSUE USER",
		Short: "Remove a user from an issue's watchers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			issue, userID := args[0], args[1]

			if cfg.UsesJira() {
				c := jira.NewClient(cfg.Jira)
				user := models.User{Name: userID}
				if cfg.Jira.User != "" && strings.Contains(cfg.Jira.User, "@") {
					// Cloud sites authenticate with an email and identify users by account id
					user = models.User{AccountID: userID}
				}
				if err := c.StopWatching(cmdContext(cmd), user, models.Issue{Key: issue}); err != nil {
					return err
				}
				fmt.Printf("  %s no longer watches %s\n", userID, issue)
				return nil
			}

			db, err := store.Open(cfg.Registry.DBPath)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer db.Close()

			removed, err := db.StopWatching(cmdContext(cmd), userID, issue)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Printf("  %s was not watching %s\n", userID, issue)
				return nil
			}
			fmt.Printf("  %s no longer watches %s\n", userID, issue)
			return nil
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Autowatch v%s\nhttps://github.com/Fullex26/autowatch\n", daemon.Version)
		},
	}
}
