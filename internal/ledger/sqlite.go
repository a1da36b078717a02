package ledger

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "wakebot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteLedger struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("ledger.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	l := &sqliteLedger{db: db, log: log}
	if err := l.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger migrate: %w", err)
	}
	return l, nil
}

func (l *sqliteLedger) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, string(b))
	return err
}

func (l *sqliteLedger) Scheduled(ctx context.Context, key string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM scheduled WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, l.wrap(err)
	}
	return true, nil
}

func (l *sqliteLedger) MarkScheduled(ctx context.Context, e Entry) error {
	if err := checkKey(e.Key); err != nil {
		return err
	}
	return l.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO scheduled(key, at) VALUES(?, ?) ON CONFLICT(key) DO NOTHING`,
			e.Key, time.Now().UnixMilli(),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 || len(e.Jobs) == 0 {
			return nil
		}
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO outstanding(key, entry) VALUES(?, ?)`, e.Key, string(b))
		return err
	})
}

func (l *sqliteLedger) JobDone(ctx context.Context, key, job string) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT entry FROM outstanding WHERE key = ?`, key).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return fmt.Errorf("decode outstanding %s: %w", key, err)
		}
		e, found := e.done(job)
		switch {
		case !found:
			return nil
		case len(e.Jobs) == 0:
			_, err = tx.ExecContext(ctx, `DELETE FROM outstanding WHERE key = ?`, key)
		default:
			b, merr := json.Marshal(e)
			if merr != nil {
				return merr
			}
			_, err = tx.ExecContext(ctx, `UPDATE outstanding SET entry = ? WHERE key = ?`, string(b), key)
		}
		return err
	})
}

func (l *sqliteLedger) Outstanding(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT key, entry FROM outstanding ORDER BY key`)
	if err != nil {
		return nil, l.wrap(err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, l.wrap(err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			l.log.Warn("ledger: bad outstanding entry skipped", logx.String("key", key), logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out, l.wrap(rows.Err())
}

func (l *sqliteLedger) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return l.wrap(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return l.wrap(err)
	}
	return l.wrap(tx.Commit())
}

func (l *sqliteLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled`).Scan(&n); err != nil {
		return 0, l.wrap(err)
	}
	return n, nil
}

func (l *sqliteLedger) Close() error {
	return l.db.Close()
}

func (l *sqliteLedger) wrap(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "database is closed") {
		return ErrClosed
	}
	return err
}
