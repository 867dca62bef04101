package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"unified-planner/internal/apperr"
	"unified-planner/internal/model"
	"unified-planner/internal/telemetry"
)

// ErrNoChanges can be returned from a Write callback to roll back without an error.
// The generation is not bumped.
var ErrNoChanges = errors.New("no changes")

const (
	busyRetries = 5
	busyBackoff = 50 * time.Millisecond
)

// Store is the single point of access to the database. Writes are serialised within a
// process and each one bumps the persisted generation inside its own transaction, so the
// bump commits or rolls back with the data. Every process sharing the file sees it.
type Store struct {
	db      *gorm.DB
	path    string
	log     *slog.Logger
	metrics *telemetry.Metrics

	writeMu sync.Mutex

	// afterTableCopy runs after each table is copied during a restore.
	afterTableCopy func(table string)
}

type StoreOption func(*Store)

func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

func WithMetrics(m *telemetry.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// Open opens (and migrates) the database at dsn and wraps it in a Store.
func Open(dsn string, opts ...StoreOption) (*Store, error) {
	s := &Store{log: telemetry.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	db, err := NewDB(dsn, s.log)
	if err != nil {
		return nil, apperr.Storage("open store", err)
	}
	s.db = db
	s.path = sqlitePath(dsn)
	return s, nil
}

// Path is the database file, empty for in-memory stores.
func (s *Store) Path() string { return s.path }

// Generation is the persisted write counter. It starts at 1 for a new database and grows
// by one with every committed write from any process.
func (s *Store) Generation(ctx context.Context) (uint64, error) {
	gen, err := readGeneration(s.db.WithContext(ctx))
	if err != nil {
		return 0, apperr.Storage("read generation", err)
	}
	return gen, nil
}

func readGeneration(db *gorm.DB) (uint64, error) {
	var meta model.StoreMeta
	if err := db.Select("generation").Where("id = ?", metaRowID).Take(&meta).Error; err != nil {
		return 0, err
	}
	return meta.Generation, nil
}

func bumpGeneration(db *gorm.DB) error {
	res := db.Model(&model.StoreMeta{}).Where("id = ?", metaRowID).
		UpdateColumn("generation", gorm.Expr("generation + 1"))
	if res.Error != nil {
		return fmt.Errorf("bump generation: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return errors.New("bump generation: store_meta row is missing")
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Tx exposes the repositories bound to one transaction.
type Tx struct {
	db          *gorm.DB
	Activities  *ActivityRepository
	Goals       *GoalRepository
	Completions *CompletionRepository
	Categories  *CategoryRepository
	Templates   *TemplateRepository
}

func newTx(db *gorm.DB) *Tx {
	return &Tx{
		db:          db,
		Activities:  NewActivityRepository(db),
		Goals:       NewGoalRepository(db),
		Completions: NewCompletionRepository(db),
		Categories:  NewCategoryRepository(db),
		Templates:   NewTemplateRepository(db),
	}
}

func (t *Tx) DB() *gorm.DB { return t.db }

// Read runs fn in a read transaction. Everything fn sees comes from one snapshot.
func (s *Store) Read(ctx context.Context, fn func(tx *Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(newTx(db))
	})
	return apperr.Storage("read", err)
}

// Write runs fn in a write transaction under the writer lock. A busy database is
// retried with backoff; fn may therefore run more than once and must not keep state
// across attempts. The generation is bumped in the same transaction, so it grows by
// exactly one per commit.
func (s *Store) Write(ctx context.Context, op string, fn func(tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var gen uint64
	err := retryOnBusy(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
			if err := fn(newTx(db)); err != nil {
				return err
			}
			if err := bumpGeneration(db); err != nil {
				return err
			}
			var err error
			gen, err = readGeneration(db)
			return err
		})
	})
	switch {
	case errors.Is(err, ErrNoChanges):
		return nil
	case err != nil:
		s.recordWrite(ctx, "failed")
		s.log.Warn("write failed", "op", op, "error", err)
		return apperr.Storage(op, err)
	}

	s.recordWrite(ctx, "committed")
	s.log.Debug("write committed", "op", op, "generation", gen)
	return nil
}

func (s *Store) recordWrite(ctx context.Context, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Add(ctx, s.metrics.StoreWrites, "outcome", outcome)
}

func retryOnBusy(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = fn()
		if !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyBackoff * time.Duration(attempt+1)):
		}
	}
	return err
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// Snapshot writes a consistent copy of the database to dest with VACUUM INTO.
// dest must not exist.
func (s *Store) Snapshot(ctx context.Context, dest string) error {
	if s.path == "" {
		return apperr.Storage("snapshot", errors.New("in-memory store cannot be snapshotted"))
	}
	if _, err := os.Stat(dest); err == nil {
		return apperr.Storage("snapshot", fmt.Errorf("destination %s already exists", dest))
	}
	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", dest).Error; err != nil {
		return apperr.Storage("snapshot", err)
	}
	return nil
}

// RestoreFrom replaces the rows of every table with those of the SQLite file at src in
// one transaction that also bumps the generation, holding the writer lock. src should
// have been verified by the caller. Columns missing from src keep their defaults.
// A cancelled ctx rolls the whole copy back.
func (s *Store) RestoreFrom(ctx context.Context, src string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return apperr.Storage("restore", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return apperr.Storage("restore", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS snapshot", src); err != nil {
		return apperr.Storage("restore: attach", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "DETACH DATABASE snapshot"); err != nil {
			s.log.Warn("detach snapshot failed", "error", err)
		}
	}()

	if err := s.copyTables(ctx, conn); err != nil {
		return apperr.Storage("restore", err)
	}

	s.log.Info("store restored", "source", src)
	return nil
}

func (s *Store) copyTables(ctx context.Context, conn *sql.Conn) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range Tables {
		mainCols, err := tableColumns(ctx, tx, "main", table)
		if err != nil {
			return err
		}
		snapCols, err := tableColumns(ctx, tx, "snapshot", table)
		if err != nil {
			return err
		}
		if len(snapCols) == 0 {
			return fmt.Errorf("snapshot has no table %s", table)
		}
		inSnapshot := make(map[string]bool, len(snapCols))
		for _, c := range snapCols {
			inSnapshot[c] = true
		}

		var cols []string
		for _, c := range mainCols {
			if inSnapshot[c] {
				cols = append(cols, `"`+c+`"`)
			}
		}
		list := strings.Join(cols, ", ")

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM main."%s"`, table)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		q := fmt.Sprintf(`INSERT INTO main."%s" (%s) SELECT %s FROM snapshot."%s"`, table, list, list, table)
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("copy %s: %w", table, err)
		}
		if s.afterTableCopy != nil {
			s.afterTableCopy(table)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE main.store_meta SET generation = generation + 1 WHERE id = ?`, metaRowID); err != nil {
		return fmt.Errorf("bump generation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// tableColumns returns the column names of schema.table in declaration order.
func tableColumns(ctx context.Context, tx *sql.Tx, schema, table string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`PRAGMA %s.table_info("%s")`, schema, table))
	if err != nil {
		return nil, fmt.Errorf("table info %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// Stats is a cheap summary of the store for the CLI and the bot.
type Stats struct {
	Activities  int64
	Goals       int64
	Completions int64
	SizeBytes   int64
	Generation  uint64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.Read(ctx, func(tx *Tx) error {
		var err error
		if st.Generation, err = readGeneration(tx.db); err != nil {
			return err
		}
		counts := []struct {
			model any
			dst   *int64
		}{
			{&model.Activity{}, &st.Activities},
			{&model.Goal{}, &st.Goals},
			{&model.Completion{}, &st.Completions},
		}
		for _, c := range counts {
			if err := tx.DB().Model(c.model).Count(c.dst).Error; err != nil {
				return fmt.Errorf("count rows: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			st.SizeBytes = info.Size()
		}
	}
	return st, nil
}

// QuickCheck runs PRAGMA quick_check and returns its messages. A healthy database
// yields exactly ["ok"].
func (s *Store) QuickCheck(ctx context.Context) ([]string, error) {
	var results []string
	err := s.Read(ctx, func(tx *Tx) error {
		return tx.DB().Raw("PRAGMA quick_check").Scan(&results).Error
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
