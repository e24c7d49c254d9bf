package chathistory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLStore persists records to SQLite or Postgres.
type SQLStore struct {
	db       *sql.DB
	table    string
	postgres bool
}

func OpenSQLite(ctx context.Context, cfg Config) (*SQLStore, error) {
	path, err := ResolveSQLiteDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if cfg.SQLite.BusyTimeoutMs > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.SQLite.BusyTimeoutMs)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy_timeout: %w", err)
		}
	}
	if cfg.SQLite.WAL {
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return newSQLStore(ctx, db, cfg, false)
}

func OpenPostgres(ctx context.Context, cfg Config) (*SQLStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(ctx, db, cfg, true)
}

func newSQLStore(ctx context.Context, db *sql.DB, cfg Config, postgres bool) (*SQLStore, error) {
	table, err := collectionName(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.Pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
	}
	s := &SQLStore{db: db, table: table, postgres: postgres}
	if cfg.AutoMigrate {
		if err := s.initSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	message_ts TEXT PRIMARY KEY,
	thread_ts TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	created_at TEXT NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLStore) bind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	rec, err := rec.normalize()
	if err != nil {
		return err
	}
	query := s.bind(fmt.Sprintf(`
INSERT INTO %s (message_ts, thread_ts, channel_id, user_id, message, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (message_ts) DO UPDATE SET
	thread_ts = excluded.thread_ts,
	channel_id = excluded.channel_id,
	user_id = excluded.user_id,
	message = excluded.message,
	created_at = excluded.created_at`, s.table))
	_, err = s.db.ExecContext(ctx, query,
		rec.MessageTS,
		rec.ThreadTS,
		rec.ChannelID,
		rec.UserID,
		rec.Message,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save history record: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, messageTS string) (Record, bool, error) {
	query := s.bind(fmt.Sprintf(`
SELECT message_ts, thread_ts, channel_id, user_id, message, created_at
FROM %s WHERE message_ts = ?`, s.table))
	var rec Record
	var created string
	err := s.db.QueryRowContext(ctx, query, strings.TrimSpace(messageTS)).Scan(
		&rec.MessageTS,
		&rec.ThreadTS,
		&rec.ChannelID,
		&rec.UserID,
		&rec.Message,
		&created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load history record: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = t
	}
	return rec, true, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
