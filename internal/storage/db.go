package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrStore оборачивает любые ошибки слоя хранения, чтобы вызывающий мог отличить их через errors.Is
var ErrStore = errors.New("storage failure")

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Схема общая для postgres и sqlite, поэтому время хранится в наносекундах, а булевы флаги как BOOLEAN
var schema = []string{
	`CREATE TABLE IF NOT EXISTS news_cache (
		id              TEXT PRIMARY KEY,
		title           TEXT NOT NULL,
		summary         TEXT NOT NULL DEFAULT '',
		link            TEXT NOT NULL,
		published_label TEXT NOT NULL DEFAULT '',
		image_url       TEXT NOT NULL DEFAULT '',
		cached_at       BIGINT NOT NULL,
		seq             BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_news_cache_order ON news_cache (cached_at, seq)`,
	`CREATE TABLE IF NOT EXISTS subscribers (
		chat_id    BIGINT PRIMARY KEY,
		kind       TEXT NOT NULL,
		subscribed BOOLEAN NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

// Настройки каждого sqlite подключения, без них параллельные записи падают с SQLITE_BUSY
var sqlitePragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = WAL",
}

// Open подключается к базе и накатывает схему
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))

	switch driver {
	case DriverPostgres:
	case DriverSQLite, "sqlite3":
		driver = DriverSQLite
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// У sqlite один писатель, а для :memory: каждое соединение это отдельная база
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
			}
		}
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return storeErr("migrate", err)
		}
	}
	return nil
}

func ensureDir(dsn string) error {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	return nil
}
