package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulerService runs background jobs (backups, integrity scans, reports) on cron.
// Jobs share a context that Stop cancels, so a job in flight can give up between steps.
type SchedulerService struct {
	cron   *cron.Cron
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSchedulerService(loc *time.Location, log *slog.Logger) *SchedulerService {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Job is a scheduled unit of work. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// ScheduleDaily registers a daily job at the given HH:MM time string.
func (s *SchedulerService) ScheduleDaily(name, timeStr string, job Job) (cron.EntryID, error) {
	spec, err := buildDailySpec(timeStr)
	if err != nil {
		return 0, err
	}
	return s.cron.AddFunc(spec, s.wrap(name, job))
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *SchedulerService) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *SchedulerService) wrap(name string, job Job) func() {
	return func() {
		if s.ctx.Err() != nil {
			return
		}
		start := time.Now()
		job(s.ctx)
		s.log.Debug("job finished", "job", name, "took", time.Since(start))
	}
}

// ScheduleInterval registers a periodic job every given duration.
func (s *SchedulerService) ScheduleInterval(name string, interval time.Duration, job Job) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	// Convert to cron spec: every N seconds.
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	return s.cron.AddFunc(spec, s.wrap(name, job))
}

func buildDailySpec(timeStr string) (string, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, expected HH:MM", timeStr)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", timeStr)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", timeStr)
	}
	// cron format: second minute hour dom month dow
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
