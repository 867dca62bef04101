package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-planner/internal/apperr"
	"unified-planner/internal/repository"
)

func newBackupService(t *testing.T, store *repository.Store, notifier *Notifier) *BackupService {
	t.Helper()
	return NewBackupService(store, filepath.Join(t.TempDir(), "backups"),
		RetentionPolicy{KeepLast: 5}, nil, nil, notifier)
}

func titles(t *testing.T, store *repository.Store) []string {
	t.Helper()
	all, err := NewActivityService(store).List(context.Background())
	require.NoError(t, err)
	out := make([]string, len(all))
	for i, a := range all {
		out[i] = a.Title
	}
	return out
}

func TestBackup_SnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	activities := NewActivityService(store)
	notifier := NewNotifier(4)
	svc := newBackupService(t, store, notifier)

	createTask(t, activities, "before", "2024-01-01")
	h, err := svc.Snapshot(ctx, KindBackup)
	require.NoError(t, err)
	assert.Equal(t, KindBackup, h.Kind)
	assert.FileExists(t, h.Path+checksumSuffix)
	require.NoError(t, svc.Verify(ctx, h))

	createTask(t, activities, "after", "2024-01-02")
	assert.ElementsMatch(t, []string{"before", "after"}, titles(t, store))

	gen := generation(t, store)
	safety, err := svc.Restore(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, KindPreRestore, safety.Kind)
	assert.Greater(t, generation(t, store), gen)
	assert.Equal(t, []string{"before"}, titles(t, store))

	list, err := svc.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, safety.Path, list[0].Path)

	// The safety snapshot holds the state that was replaced.
	_, err = svc.Restore(ctx, safety)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"before", "after"}, titles(t, store))

	note := <-notifier.C()
	assert.Equal(t, "restore", note.Source)
}

func TestBackup_RestoreRefusesCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	activities := NewActivityService(store)
	svc := newBackupService(t, store, nil)

	createTask(t, activities, "kept", "2024-01-01")
	h, err := svc.Snapshot(ctx, KindBackup)
	require.NoError(t, err)

	raw, err := os.ReadFile(h.Path)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(h.Path, raw, 0o644))

	createTask(t, activities, "live", "2024-01-02")
	gen := generation(t, store)

	err = svc.Verify(ctx, h)
	assert.ErrorIs(t, err, apperr.ErrBackup)
	assert.Contains(t, err.Error(), "checksum mismatch")

	_, err = svc.Restore(ctx, h)
	assert.ErrorIs(t, err, apperr.ErrBackup)
	assert.Equal(t, gen, generation(t, store))
	assert.ElementsMatch(t, []string{"kept", "live"}, titles(t, store))

	list, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, list, 1, "no prerestore snapshot for a refused restore")
}

func TestBackup_VerifyNeedsChecksumAndTables(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newBackupService(t, store, nil)

	h, err := svc.Snapshot(ctx, KindBackup)
	require.NoError(t, err)
	require.NoError(t, os.Remove(h.Path+checksumSuffix))
	assert.ErrorIs(t, svc.Verify(ctx, h), apperr.ErrBackup)

	missing := SnapshotHandle{Path: filepath.Join(svc.Dir(), "planner_backup_20240101T000000.000Z.db")}
	assert.ErrorIs(t, svc.Verify(ctx, missing), apperr.ErrBackup)
}

func TestBackup_ScheduledFailureNotifies(t *testing.T) {
	store := newStore(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	notifier := NewNotifier(1)
	svc := NewBackupService(store, blocker, RetentionPolicy{KeepLast: 1}, nil, nil, notifier)
	svc.RunScheduled(context.Background())

	select {
	case n := <-notifier.C():
		assert.Equal(t, "backup", n.Source)
		assert.Equal(t, LevelError, n.Level)
		assert.ErrorIs(t, n.Err, apperr.ErrBackup)
	default:
		t.Fatal("expected a notification")
	}
}

func TestParseSnapshotName(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 4, 5, 123e6, time.UTC)
	name := snapshotFileName(KindPreRestore, at)
	assert.Equal(t, "planner_prerestore_20240315T100405.123Z.db", name)

	kind, created, ok := ParseSnapshotName(name)
	require.True(t, ok)
	assert.Equal(t, KindPreRestore, kind)
	assert.True(t, at.Equal(created))

	for _, bad := range []string{"planner.db", "planner_backup_20240315T100405Z.db", "planner_other_20240315T100405.123Z.db", name + ".sha256"} {
		_, _, ok := ParseSnapshotName(bad)
		assert.False(t, ok, bad)
	}
}

func handleAt(s string) SnapshotHandle {
	at, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return SnapshotHandle{Path: snapshotFileName(KindBackup, at), Kind: KindBackup, CreatedAt: at}
}

func TestRetain_UnionOfRules(t *testing.T) {
	now, _ := time.Parse(time.RFC3339, "2024-03-15T12:00:00Z")
	s1 := handleAt("2024-03-15T10:00:00Z")
	s2 := handleAt("2024-03-15T08:00:00Z")
	s3 := handleAt("2024-03-14T23:00:00Z")
	s4 := handleAt("2024-03-13T09:00:00Z")
	s5 := handleAt("2024-03-04T09:00:00Z")
	s6 := handleAt("2024-02-20T09:00:00Z")
	all := []SnapshotHandle{s1, s2, s3, s4, s5, s6}

	keep := retain(all, RetentionPolicy{KeepLast: 1, DailyDays: 3, WeeklyWeeks: 2}, now)
	assert.Equal(t, map[string]bool{s1.Path: true, s3.Path: true, s4.Path: true, s5.Path: true}, keep)

	keep = retain(all, RetentionPolicy{}, now)
	assert.Equal(t, map[string]bool{s1.Path: true}, keep, "the newest snapshot always survives")

	keep = retain(all, RetentionPolicy{KeepLast: 10}, now)
	assert.Len(t, keep, 6)
}

func TestEnforceRetention_DeletesOldestFirst(t *testing.T) {
	store := newStore(t)
	svc := newBackupService(t, store, nil)
	svc.now = fixedClock("2024-03-15T12:00:00Z")
	require.NoError(t, os.MkdirAll(svc.Dir(), 0o755))

	var written []string
	for _, ts := range []string{"2024-03-10T00:00:00Z", "2024-03-11T00:00:00Z", "2024-03-12T00:00:00Z", "2024-03-13T00:00:00Z"} {
		h := handleAt(ts)
		path := filepath.Join(svc.Dir(), h.Path)
		require.NoError(t, os.WriteFile(path, []byte("snapshot"), 0o644))
		require.NoError(t, os.WriteFile(path+checksumSuffix, []byte("x"), 0o644))
		written = append(written, path)
	}
	require.NoError(t, os.WriteFile(filepath.Join(svc.Dir(), "notes.txt"), []byte("keep me"), 0o644))

	deleted, err := svc.EnforceRetention(context.Background(), RetentionPolicy{KeepLast: 2})
	require.NoError(t, err)
	require.Len(t, deleted, 2)
	assert.Equal(t, written[0], deleted[0].Path)
	assert.Equal(t, written[1], deleted[1].Path)
	assert.NoFileExists(t, written[0])
	assert.NoFileExists(t, written[0]+checksumSuffix)
	assert.FileExists(t, written[3])
	assert.FileExists(t, filepath.Join(svc.Dir(), "notes.txt"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	deleted, err = svc.EnforceRetention(ctx, RetentionPolicy{KeepLast: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, deleted)
}

func TestBackup_Find(t *testing.T) {
	svc := newBackupService(t, newStore(t), nil)
	h, err := svc.Find("planner_backup_20240101T000000.000Z.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(svc.Dir(), "planner_backup_20240101T000000.000Z.db"), h.Path)

	_, err = svc.Find("random.db")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
