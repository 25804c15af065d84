package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemonslut/that-news-thing-again/internal/app"
	"github.com/lemonslut/that-news-thing-again/internal/migrate"
	"github.com/lemonslut/that-news-thing-again/internal/queue"
	"github.com/lemonslut/that-news-thing-again/pkg/leaselock"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

var (
	flagPeriod string
	flagAt     string
	flagKind   string
	flagFrom   string
	flagTo     string
	flagLimit  int
	flagSteps  int
	flagWait   bool
)

var clusterCmd = &cobra.Command{
	Use:   "cluster <article-id>",
	Short: "Cluster one article",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid article id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Stories.ClusterArticle(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Cluster every recent unclustered article",
	Long: `Run a clustering sweep under the sweep lease.

Fails when another sweep holds the lease, unless --wait is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			opts := leaselock.Options{TTL: a.Config.Lock.TTL, Wait: flagWait, WaitInterval: 5 * time.Second}
			return a.Locker.WithLease(ctx, queue.SweepLockKey, opts, func(ctx context.Context) error {
				res, err := a.Stories.ClusterSweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		})
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture trend snapshots for one period",
	Long: `Rank trendable entities for one period and write the snapshots.

Without --at the last closed period is captured. Without --kind every
configured kind is captured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := parsePeriod(flagPeriod)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			at, err := parseAt(flagAt, a.Config.Trend.Location)
			if err != nil {
				return err
			}
			if at.IsZero() {
				at = a.Trends.LastClosedPeriod(typ).Start
			}
			if flagKind != "" {
				kind, err := trend.ParseKind(flagKind)
				if err != nil {
					return err
				}
				c, err := a.Trends.CaptureTrends(ctx, trend.Request{Kind: kind, PeriodType: typ, PeriodStart: at})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), c)
			}
			captures, err := a.Trends.CaptureKinds(ctx, typ, at)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), captures)
		})
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Capture every period in a range, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := parsePeriod(flagPeriod)
		if err != nil {
			return err
		}
		if flagFrom == "" {
			return errors.New("--from is required")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			now := time.Now()
			loc := a.Config.Trend.Location
			from, err := parseAgo(flagFrom, now, loc)
			if err != nil {
				return err
			}
			to := a.Trends.CurrentPeriod(typ).Start
			if flagTo != "" {
				if to, err = parseAgo(flagTo, now, loc); err != nil {
					return err
				}
			}
			n, err := a.Trends.Backfill(ctx, typ, from, to)
			if err != nil {
				return fmt.Errorf("backfill stopped after %d periods: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Captured %d %s period(s).\n", n, typ)
			return nil
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete trend snapshots past the retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Trends.Cleanup(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Show one period's ranking",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := parsePeriod(flagPeriod)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			at, err := parseAt(flagAt, a.Config.Trend.Location)
			if err != nil {
				return err
			}
			if at.IsZero() {
				at = a.Trends.LastClosedPeriod(typ).Start
			}
			rows, err := a.Trends.List(ctx, trend.Query{Kind: trend.Kind(flagKind), PeriodType: typ, PeriodStart: at, Limit: flagLimit})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, r := range rows {
				prev := "new"
				if r.PreviousRank != nil {
					prev = strconv.Itoa(*r.PreviousRank)
				}
				fmt.Fprintf(w, "%3d  %-6s %6d  %+7.1f%%  %s\n", r.Rank, prev, r.Count, r.Velocity, r.Label)
			}
			return nil
		})
	},
}

var storyCmd = &cobra.Command{
	Use:   "story <id>",
	Short: "Show a story with its articles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid story id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			d, err := story.Describe(ctx, a.Store, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Apply or roll back schema migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		source := migrate.SourceURL(cfg.MigrationsPath)
		action := "up"
		if len(args) == 1 {
			action = args[0]
		}
		switch action {
		case "down":
			return migrate.Down(source, cfg.DatabaseURL, flagSteps)
		case "version":
			v, dirty, err := migrate.Version(source, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
			return nil
		default:
			return migrate.Up(source, cfg.DatabaseURL)
		}
	},
}

func init() {
	for _, c := range []*cobra.Command{captureCmd, backfillCmd, trendsCmd} {
		c.Flags().StringVar(&flagPeriod, "period", "day", "period type: hour or day")
	}
	for _, c := range []*cobra.Command{captureCmd, trendsCmd} {
		c.Flags().StringVar(&flagAt, "at", "", "a time inside the period (RFC 3339 or YYYY-MM-DD)")
		c.Flags().StringVar(&flagKind, "kind", "", "trend kind: story, subject or category")
	}
	backfillCmd.Flags().StringVar(&flagFrom, "from", "", "start of the range, a time or a duration ago (e.g. 7d)")
	backfillCmd.Flags().StringVar(&flagTo, "to", "", "end of the range, exclusive (default: current period)")
	trendsCmd.Flags().IntVar(&flagLimit, "limit", 0, "rows to show (default from config)")
	migrateCmd.Flags().IntVar(&flagSteps, "steps", 1, "migrations to roll back with down")
	sweepCmd.Flags().BoolVar(&flagWait, "wait", false, "wait for a running sweep to finish")
}
