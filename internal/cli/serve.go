package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"unified-planner/internal/bot"
	"unified-planner/internal/config"
	"unified-planner/internal/service"
)

func newServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run background backups, integrity scans and the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(opts, cmd, func(_ context.Context, a *app) error {
				return serve(ctx, a, configPath(opts))
			})
		},
	}
}

func configPath(opts *RootOptions) string {
	if opts.ConfigPath != "" {
		return opts.ConfigPath
	}
	return strings.TrimSpace(os.Getenv("PLANNER_CONFIG"))
}

func serve(ctx context.Context, a *app, cfgPath string) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}

	if a.cfg.Backup.OnStartup {
		a.backups.RunScheduled(ctx)
	}

	scheduler := service.NewSchedulerService(loc, a.log)
	if a.cfg.Backup.Interval > 0 {
		if _, err := scheduler.ScheduleInterval("backup", a.cfg.Backup.Interval, a.backups.RunScheduled); err != nil {
			return WrapExitError(ExitCommandError, "schedule backups", err)
		}
	}
	if _, err := scheduler.ScheduleDaily("integrity", a.cfg.IntegrityAt, a.integrity.RunScheduled); err != nil {
		return WrapExitError(ExitCommandError, "schedule integrity scan", err)
	}

	var telegram *bot.Bot
	if a.cfg.Telegram.Token != "" {
		telegram, err = bot.New(a.cfg.Telegram.Token, a.cfg.Telegram.AllowedChatID, bot.Deps{
			Store:      a.store,
			Activities: a.activities,
			Goals:      a.goals,
			Categories: a.categories,
			Agenda:     a.agenda,
			Reminders:  a.reminders,
			Backups:    a.backups,
			Integrity:  a.integrity,
			Templates:  a.templates,
			Search:     a.search,
		}, a.log)
		if err != nil {
			return WrapExitError(ExitCommandError, "start bot", err)
		}
		if a.cfg.Telegram.ReportInterval > 0 {
			if _, err := scheduler.ScheduleInterval("report", a.cfg.Telegram.ReportInterval, func(jobCtx context.Context) {
				if err := telegram.SendDailyReports(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
					a.log.Error("send report", "error", err)
				}
			}); err != nil {
				return WrapExitError(ExitCommandError, "schedule reports", err)
			}
		}
		go telegram.ForwardNotifications(ctx, a.notifier)
	} else {
		go logNotifications(ctx, a)
	}

	if cfgPath != "" {
		if _, err := os.Stat(cfgPath); err == nil {
			watcher := config.NewWatcher(cfgPath, a.log)
			if err := watcher.Start(ctx); err != nil {
				a.log.Warn("config watcher disabled", "error", err)
			} else {
				go applyReloads(a, watcher.Updates())
			}
		}
	}

	scheduler.Start()
	a.log.Info("planner started", "db", a.cfg.DatabasePath, "backups", a.backups.Dir(), "bot", telegram != nil)

	if telegram != nil {
		if err := telegram.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			scheduler.Stop()
			return WrapExitError(ExitCommandError, "bot stopped", err)
		}
	} else {
		<-ctx.Done()
	}

	scheduler.Stop()
	logMetrics(a)
	a.log.Info("shutdown complete")
	return nil
}

// applyReloads picks up retention changes. Other settings need a restart.
func applyReloads(a *app, updates <-chan config.Config) {
	for cfg := range updates {
		policy := retentionPolicy(cfg)
		if policy != a.backups.Policy() {
			a.backups.SetPolicy(policy)
			a.log.Info("retention policy reloaded", "keep_last", policy.KeepLast, "daily_days", policy.DailyDays, "weekly_weeks", policy.WeeklyWeeks)
		}
	}
}

func logNotifications(ctx context.Context, a *app) {
	for {
		select {
		case <-ctx.Done():
			return
		case note := <-a.notifier.C():
			if note.Level == service.LevelError {
				a.log.Error(note.Message, "source", note.Source, "error", note.Err)
			} else {
				a.log.Info(note.Message, "source", note.Source)
			}
		}
	}
}

func logMetrics(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	counters, err := a.telemetry.Collect(ctx)
	if err != nil {
		a.log.Warn("collect metrics", "error", err)
		return
	}
	for name, v := range counters {
		a.log.Info("metric", "name", name, "value", v)
	}
}
