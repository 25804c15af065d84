package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemonslut/that-news-thing-again/internal/app"
	"github.com/lemonslut/that-news-thing-again/internal/config"
	"github.com/lemonslut/that-news-thing-again/internal/util"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

var flagDebug bool

var rootCmd = &cobra.Command{
	Use:          "newsctl",
	Short:        "Operate story clustering and trend snapshots",
	Long:         "newsctl runs clustering and trend jobs directly against the database, bypassing the queue.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(trendsCmd)
	rootCmd.AddCommand(storyCmd)
	rootCmd.AddCommand(migrateCmd)
}

// withApp loads configuration, wires the application and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	defer a.Close()

	return fn(ctx, a)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.FromEnv()
	if flagDebug {
		cfg.Log.Debug = true
	}
	app.InitLogger(cfg.Log)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAt accepts RFC 3339 timestamps and plain dates. Empty means zero.
func parseAt(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

// parseAgo accepts either a time or a duration back from now ("36h", "7d").
func parseAgo(s string, now time.Time, loc *time.Location) (time.Time, error) {
	if d, err := util.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	return parseAt(s, loc)
}

func parsePeriod(s string) (trend.PeriodType, error) {
	return trend.ParsePeriodType(s)
}
