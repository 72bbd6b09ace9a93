package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botfarm/bot"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	ConfigFile    string
	Bots          []string
	StopOnFailure bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "botfarm",
		Short:        "Farm of Telegram bots",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", os.Getenv("CONFIG_FILE"), "configuration file (YAML or JSON), $CONFIG_FILE by default")
	cmd.PersistentFlags().StringSliceVar(&opts.Bots, "bot", nil, "bots to work with, all registered bots by default")
	cmd.PersistentFlags().BoolVar(&opts.StopOnFailure, "stop-on-failure", false, "stop when a bot fails to start")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newRemindCommand(opts))

	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var adminAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bots until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, opts, adminAddr)
		},
	}

	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "address of health and metrics endpoints, e.g. :8080 (disabled if empty)")

	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database schemas of the bots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), opts)
		},
	}
}

func newRemindCommand(opts *rootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Send the reminders due on a day",
		Long: `Run the daily check of the bots for the given day and send what's due.

Use it to catch up on a day the farm was down.

Example:
  botfarm remind --date 2025-10-18`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return remind(cmd.Context(), opts, date)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to check as YYYY-MM-DD, today by default")

	return cmd
}

// selectBots returns registered bots filtered by name, all of them if names
// is empty
func selectBots(names []string) ([]bot.Record, error) {
	all := bot.GetThemAll()
	if len(names) == 0 {
		return all, nil
	}

	byName := make(map[string]bot.Record, len(all))
	for _, rec := range all {
		byName[rec.Name] = rec
	}

	recs := make([]bot.Record, 0, len(names))
	for _, n := range names {
		rec, ok := byName[n]
		if !ok {
			return nil, errors.Errorf("unknown bot %q", n)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func serve(ctx context.Context, opts *rootOptions, adminAddr string) error {
	logger, syncLogs := getLogger("Global")
	defer syncLogs()

	recs, err := selectBots(opts.Bots)
	if err != nil {
		return err
	}

	var g errgroup.Group
	checks := make(map[string]bot.HealthCheck)
	running := 0

	for _, rec := range recs {
		l, syncBotLogs := getLogger(rec.Name)
		defer syncBotLogs()

		cfg, err := bot.LoadConfig(opts.ConfigFile, rec.Name)
		if err != nil {
			l.Errorw("couldn't load configuration", "err", err)
			if opts.StopOnFailure {
				return err
			}
			continue
		}

		bctx, err := rec.Bot.Init(cfg, l)
		if err != nil {
			if opts.StopOnFailure {
				return err
			}
			continue
		}

		if hc, ok := rec.Bot.(bot.HealthChecker); ok {
			for name, check := range hc.HealthChecks() {
				checks[rec.Name+"/"+name] = check
			}
		}

		b := rec.Bot
		g.Go(func() error {
			err := b.Run(ctx, bctx)
			if err != nil {
				l.Errorw("bot has stopped", "err", err)
			}
			return err
		})
		running++
	}

	if running == 0 {
		return errors.New("no bot is running")
	}
	logger.Infof("%d bot(s) running", running)

	if adminAddr != "" {
		router := bot.NewAdminRouter(prometheus.DefaultGatherer, checks)
		g.Go(func() error {
			return bot.ServeAdmin(ctx, adminAddr, router, logger)
		})
	}

	err = g.Wait()
	logger.Info("botfarm has stopped")
	return err
}

func migrate(ctx context.Context, opts *rootOptions) error {
	recs, err := selectBots(opts.Bots)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		m, ok := rec.Bot.(bot.Migrator)
		if !ok {
			continue
		}

		l, syncBotLogs := getLogger(rec.Name)
		defer syncBotLogs()

		cfg, err := bot.LoadConfig(opts.ConfigFile, rec.Name)
		if err != nil {
			return err
		}

		if err := m.Migrate(ctx, cfg, l); err != nil {
			l.Errorw("migration failed", "err", err)
			return errors.Wrapf(err, "%s", rec.Name)
		}
	}
	return nil
}

func remind(ctx context.Context, opts *rootOptions, date string) error {
	recs, err := selectBots(opts.Bots)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		r, ok := rec.Bot.(bot.Reminder)
		if !ok {
			continue
		}

		l, syncBotLogs := getLogger(rec.Name)
		defer syncBotLogs()

		cfg, err := bot.LoadConfig(opts.ConfigFile, rec.Name)
		if err != nil {
			return err
		}

		day, err := parseDay(date, time.Now(), cfg.Location())
		if err != nil {
			return err
		}

		if _, err := rec.Bot.Init(cfg, l); err != nil {
			return err
		}
		if c, ok := rec.Bot.(bot.Closer); ok {
			defer c.Close()
		}

		l.Infof("checking birthdays of %s", day.Format(time.DateOnly))
		if err := r.RemindOn(ctx, day); err != nil {
			l.Errorw("reminding failed", "err", err)
			return errors.Wrapf(err, "%s", rec.Name)
		}
	}
	return nil
}

// parseDay reads YYYY-MM-DD as the midnight of that day in loc. An empty
// value means the current day in loc.
func parseDay(value string, now time.Time, loc *time.Location) (time.Time, error) {
	if value == "" {
		y, m, d := now.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}

	day, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid date %q, expected YYYY-MM-DD", value)
	}
	return day, nil
}
