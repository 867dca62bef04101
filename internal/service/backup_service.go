package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"unified-planner/internal/apperr"
	"unified-planner/internal/calendar"
	"unified-planner/internal/repository"
	"unified-planner/internal/telemetry"
)

type SnapshotKind string

const (
	KindBackup     SnapshotKind = "backup"
	KindPreRestore SnapshotKind = "prerestore"
)

const (
	snapshotTimeLayout = "20060102T150405.000"
	checksumSuffix     = ".sha256"
)

var snapshotName = regexp.MustCompile(`^planner_(backup|prerestore)_(\d{8}T\d{6}\.\d{3})Z\.db$`)

// SnapshotHandle identifies a snapshot file. CreatedAt comes from the file name.
type SnapshotHandle struct {
	Path      string       `json:"path"`
	Kind      SnapshotKind `json:"kind"`
	CreatedAt time.Time    `json:"created_at"`
}

func (h SnapshotHandle) Name() string { return filepath.Base(h.Path) }

// RetentionPolicy keeps the union of what each rule selects. Zero disables a rule.
type RetentionPolicy struct {
	KeepLast    int
	DailyDays   int
	WeeklyWeeks int
}

// BackupService takes, verifies, restores and prunes snapshots of the store.
type BackupService struct {
	store    *repository.Store
	dir      string
	log      *slog.Logger
	metrics  *telemetry.Metrics
	notifier *Notifier
	policy   atomic.Pointer[RetentionPolicy]
	now      func() time.Time
}

func NewBackupService(store *repository.Store, dir string, policy RetentionPolicy, log *slog.Logger, metrics *telemetry.Metrics, notifier *Notifier) *BackupService {
	if log == nil {
		log = telemetry.Discard()
	}
	s := &BackupService{
		store:    store,
		dir:      dir,
		log:      log,
		metrics:  metrics,
		notifier: notifier,
		now:      utcNow,
	}
	s.policy.Store(&policy)
	return s
}

// SetPolicy swaps the retention policy. Operations already running keep the old one.
func (s *BackupService) SetPolicy(p RetentionPolicy) {
	s.policy.Store(&p)
}

func (s *BackupService) Policy() RetentionPolicy {
	return *s.policy.Load()
}

func (s *BackupService) Dir() string { return s.dir }

// Snapshot writes a consistent copy of the store, a checksum sidecar, and verifies the
// result. A snapshot that fails verification is removed.
func (s *BackupService) Snapshot(ctx context.Context, kind SnapshotKind) (SnapshotHandle, error) {
	h, err := s.snapshot(ctx, kind)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if s.metrics != nil {
		s.metrics.Add(ctx, s.metrics.Backups, "outcome", outcome)
	}
	return h, err
}

func (s *BackupService) snapshot(ctx context.Context, kind SnapshotKind) (SnapshotHandle, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return SnapshotHandle{}, &apperr.BackupError{Op: "snapshot", Path: s.dir, Err: err}
	}

	created := s.now().UTC().Truncate(time.Millisecond)
	path := filepath.Join(s.dir, snapshotFileName(kind, created))
	for {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		created = created.Add(time.Millisecond)
		path = filepath.Join(s.dir, snapshotFileName(kind, created))
	}
	h := SnapshotHandle{Path: path, Kind: kind, CreatedAt: created}

	if err := s.store.Snapshot(ctx, path); err != nil {
		_ = os.Remove(path)
		return SnapshotHandle{}, &apperr.BackupError{Op: "snapshot", Path: path, Err: err}
	}
	sum, err := fileChecksum(path)
	if err != nil {
		_ = os.Remove(path)
		return SnapshotHandle{}, &apperr.BackupError{Op: "checksum", Path: path, Err: err}
	}
	if err := os.WriteFile(path+checksumSuffix, []byte(sum+"  "+filepath.Base(path)+"\n"), 0o644); err != nil {
		_ = os.Remove(path)
		return SnapshotHandle{}, &apperr.BackupError{Op: "checksum", Path: path, Err: err}
	}
	if err := s.Verify(ctx, h); err != nil {
		removeSnapshot(path)
		return SnapshotHandle{}, err
	}

	s.log.Info("snapshot created", "path", path, "kind", kind)
	return h, nil
}

func snapshotFileName(kind SnapshotKind, t time.Time) string {
	return fmt.Sprintf("planner_%s_%sZ.db", kind, t.UTC().Format(snapshotTimeLayout))
}

// ParseSnapshotName recovers kind and creation time from a snapshot file name.
func ParseSnapshotName(name string) (SnapshotKind, time.Time, bool) {
	m := snapshotName.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, false
	}
	t, err := time.ParseInLocation(snapshotTimeLayout, m[2], time.UTC)
	if err != nil {
		return "", time.Time{}, false
	}
	return SnapshotKind(m[1]), t, true
}

// Verify checks that the snapshot matches its checksum and opens as a healthy SQLite
// database holding every table. It does not run the integrity checker.
func (s *BackupService) Verify(ctx context.Context, h SnapshotHandle) error {
	fail := func(err error) error {
		return &apperr.BackupError{Op: "verify", Path: h.Path, Err: err}
	}

	info, err := os.Stat(h.Path)
	if err != nil {
		return fail(err)
	}
	if info.Size() == 0 {
		return fail(errors.New("snapshot is empty"))
	}

	raw, err := os.ReadFile(h.Path + checksumSuffix)
	if err != nil {
		return fail(fmt.Errorf("read checksum: %w", err))
	}
	want := strings.Fields(string(raw))
	if len(want) == 0 {
		return fail(errors.New("checksum file is empty"))
	}
	got, err := fileChecksum(h.Path)
	if err != nil {
		return fail(err)
	}
	if got != want[0] {
		return fail(fmt.Errorf("checksum mismatch: have %s, recorded %s", got, want[0]))
	}

	db, err := sql.Open("sqlite3", "file:"+h.Path+"?mode=ro")
	if err != nil {
		return fail(err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fail(fmt.Errorf("quick check: %w", err))
	}
	if result != "ok" {
		return fail(fmt.Errorf("quick check: %s", result))
	}
	for _, table := range repository.Tables {
		var n int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		if err != nil {
			return fail(fmt.Errorf("inspect schema: %w", err))
		}
		if n != 1 {
			return fail(fmt.Errorf("table %s missing", table))
		}
	}
	return nil
}

// Restore replaces the live store with the snapshot. It verifies first and refuses a
// bad snapshot, then takes a prerestore snapshot of the current state.
func (s *BackupService) Restore(ctx context.Context, h SnapshotHandle) (SnapshotHandle, error) {
	if err := s.Verify(ctx, h); err != nil {
		s.log.Warn("restore refused", "path", h.Path, "error", err)
		return SnapshotHandle{}, err
	}
	safety, err := s.Snapshot(ctx, KindPreRestore)
	if err != nil {
		return SnapshotHandle{}, err
	}
	if err := s.store.RestoreFrom(ctx, h.Path); err != nil {
		return safety, &apperr.BackupError{Op: "restore", Path: h.Path, Err: err}
	}
	s.log.Info("store restored", "from", h.Path, "safety", safety.Path)
	s.notifier.Publish(Notification{
		Source:  "restore",
		Level:   LevelInfo,
		Message: fmt.Sprintf("restored from %s; previous state saved as %s", h.Name(), safety.Name()),
	})
	return safety, nil
}

// List returns the snapshots in the backup directory, newest first, using only their names.
func (s *BackupService) List() ([]SnapshotHandle, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &apperr.BackupError{Op: "list", Path: s.dir, Err: err}
	}
	var out []SnapshotHandle
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		kind, created, ok := ParseSnapshotName(e.Name())
		if !ok {
			continue
		}
		out = append(out, SnapshotHandle{Path: filepath.Join(s.dir, e.Name()), Kind: kind, CreatedAt: created})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Path > out[j].Path
	})
	return out, nil
}

// Find resolves a snapshot by file name or path inside the backup directory.
func (s *BackupService) Find(name string) (SnapshotHandle, error) {
	base := filepath.Base(name)
	kind, created, ok := ParseSnapshotName(base)
	if !ok {
		return SnapshotHandle{}, apperr.Invalid("snapshot", "%q is not a snapshot file name", base)
	}
	path := filepath.Join(s.dir, base)
	if filepath.IsAbs(name) || strings.ContainsRune(name, os.PathSeparator) {
		path = name
	}
	return SnapshotHandle{Path: path, Kind: kind, CreatedAt: created}, nil
}

// EnforceRetention deletes snapshots the policy does not keep, oldest first. The newest
// snapshot is never deleted. Cancellation stops between files.
func (s *BackupService) EnforceRetention(ctx context.Context, p RetentionPolicy) ([]SnapshotHandle, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	keep := retain(all, p, s.now())

	var deleted []SnapshotHandle
	for i := len(all) - 1; i >= 0; i-- {
		h := all[i]
		if keep[h.Path] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := os.Remove(h.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return deleted, &apperr.BackupError{Op: "prune", Path: h.Path, Err: err}
		}
		_ = os.Remove(h.Path + checksumSuffix)
		deleted = append(deleted, h)
		s.log.Info("snapshot pruned", "path", h.Path)
	}
	return deleted, nil
}

// retain selects the paths to keep from snapshots ordered newest first.
func retain(snapshots []SnapshotHandle, p RetentionPolicy, now time.Time) map[string]bool {
	keep := make(map[string]bool)
	if len(snapshots) == 0 {
		return keep
	}
	keep[snapshots[0].Path] = true

	for i := 0; i < p.KeepLast && i < len(snapshots); i++ {
		keep[snapshots[i].Path] = true
	}

	today := calendar.DateOf(now.UTC())
	if p.DailyDays > 0 {
		oldest := today.AddDays(-(p.DailyDays - 1))
		seen := make(map[calendar.Date]bool)
		for _, h := range snapshots {
			d := calendar.DateOf(h.CreatedAt.UTC())
			if d.Before(oldest) || seen[d] {
				continue
			}
			seen[d] = true
			keep[h.Path] = true
		}
	}

	if p.WeeklyWeeks > 0 {
		oldest := today.StartOfWeek().AddDays(-7 * (p.WeeklyWeeks - 1))
		seen := make(map[calendar.Date]bool)
		for _, h := range snapshots {
			week := calendar.DateOf(h.CreatedAt.UTC()).StartOfWeek()
			if week.Before(oldest) || seen[week] {
				continue
			}
			seen[week] = true
			keep[h.Path] = true
		}
	}
	return keep
}

// RunScheduled takes a backup and applies the current retention policy. Failures are
// logged and published; the next tick simply tries again.
func (s *BackupService) RunScheduled(ctx context.Context) {
	h, err := s.Snapshot(ctx, KindBackup)
	if err != nil {
		s.log.Error("scheduled backup failed", "error", err)
		s.notifier.Publish(Notification{Source: "backup", Level: LevelError, Message: "scheduled backup failed", Err: err})
		return
	}
	pruned, err := s.EnforceRetention(ctx, s.Policy())
	if err != nil {
		s.log.Error("retention failed", "error", err)
		s.notifier.Publish(Notification{Source: "backup", Level: LevelError, Message: "snapshot retention failed", Err: err})
		return
	}
	s.log.Info("scheduled backup done", "path", h.Path, "pruned", len(pruned))
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func removeSnapshot(path string) {
	_ = os.Remove(path)
	_ = os.Remove(path + checksumSuffix)
}
