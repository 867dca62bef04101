package cli

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"unified-planner/internal/cache"
	"unified-planner/internal/config"
	"unified-planner/internal/repository"
	"unified-planner/internal/service"
	"unified-planner/internal/telemetry"
)

// app is the wired planner: config, store and every service on top of it.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	telemetry *telemetry.Provider
	metrics   *telemetry.Metrics
	store     *repository.Store
	notifier  *service.Notifier
	out       output

	activities *service.ActivityService
	goals      *service.GoalService
	categories *service.CategoryService
	agenda     *service.AgendaService
	reminders  *service.ReminderService
	backups    *service.BackupService
	integrity  *service.IntegrityService
	exchange   *service.ExchangeService
	templates  *service.TemplateService
	search     *service.SearchService
}

// openApp loads configuration and opens the store. Logs go to stderr so that
// stdout stays clean for command output.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
		if err == nil {
			err = cfg.Validate()
		}
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return newApp(cfg, opts.Format, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func newApp(cfg config.Config, format string, stdout, stderr io.Writer) (*app, error) {
	log := telemetry.NewLogger(stderr, cfg.Log.Level, cfg.Log.Format)

	loc, err := cfg.Location()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	provider := telemetry.NewProvider(cfg.MetricsEnabled)
	metrics, err := telemetry.NewMetrics(provider.Meter)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, WrapExitError(ExitCommandError, "init metrics", err)
	}

	store, err := repository.Open(cfg.DatabasePath, repository.WithLogger(log), repository.WithMetrics(metrics))
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		telemetry: provider,
		metrics:   metrics,
		store:     store,
		notifier:  service.NewNotifier(32),
		out:       output{format: format, w: stdout},
	}
	agendaCache := cache.New[[]service.AgendaItem](cfg.Cache.Size, cfg.Cache.TTL, metrics)
	a.activities = service.NewActivityService(store)
	a.goals = service.NewGoalService(store)
	a.categories = service.NewCategoryService(store)
	a.agenda = service.NewAgendaService(store, agendaCache, loc, log)
	a.reminders = service.NewReminderService(a.agenda, a.goals)
	a.backups = service.NewBackupService(store, cfg.BackupDir(), retentionPolicy(cfg), log, metrics, a.notifier)
	a.integrity = service.NewIntegrityService(store, log, metrics, a.notifier)
	a.exchange = service.NewExchangeService(store)
	a.templates = service.NewTemplateService(store)
	a.search = service.NewSearchService(store)
	return a, nil
}

func retentionPolicy(cfg config.Config) service.RetentionPolicy {
	r := cfg.Backup.Retention
	return service.RetentionPolicy{KeepLast: r.KeepLast, DailyDays: r.DailyDays, WeeklyWeeks: r.WeeklyWeeks}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("close store", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.log.Error("shutdown metrics", "error", err)
	}
}

// withApp opens the app for the duration of one command.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
