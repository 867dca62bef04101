package repository

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"unified-planner/internal/model"
)

// Tables lists the application tables in the order they are copied on restore.
var Tables = []string{"activities", "goals", "completions", "habit_templates"}

func models() []any {
	return []any{&model.Activity{}, &model.Goal{}, &model.Completion{}, &model.HabitTemplate{}, &model.StoreMeta{}}
}

// metaRowID is the primary key of the only store_meta row.
const metaRowID = 1

// NewDB opens a SQLite database in WAL mode and runs migrations.
func NewDB(dsn string, log *slog.Logger) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "planner.db"
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}
	dbLogger := logger.New(
		slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(withPragmas(dsn)), &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if isMemoryDSN(dsn) {
		// Each connection to :memory: is its own database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(4)
	}

	if err := db.AutoMigrate(models()...); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	seed := &model.StoreMeta{ID: metaRowID, Generation: 1}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return nil, fmt.Errorf("seed store meta: %w", err)
	}

	return db, nil
}

// withPragmas appends the connection parameters mattn/go-sqlite3 applies to every pooled
// connection. Parameters already present in dsn win.
func withPragmas(dsn string) string {
	params := []string{"_busy_timeout=5000", "_foreign_keys=on"}
	if !isMemoryDSN(dsn) {
		params = append(params, "_journal_mode=WAL", "_synchronous=NORMAL")
	}

	var extra []string
	for _, p := range params {
		key := strings.SplitN(p, "=", 2)[0]
		if !strings.Contains(dsn, key+"=") {
			extra = append(extra, p)
		}
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&")
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// sqlitePath extracts the file path from a DSN. It is empty for in-memory databases.
func sqlitePath(dsn string) string {
	if isMemoryDSN(dsn) {
		return ""
	}
	clean := strings.TrimPrefix(dsn, "file:")
	return strings.Split(clean, "?")[0]
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	path := sqlitePath(dsn)
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}
