package storage

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

	_ "modernc.org/sqlite"

	logx "subwaybot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	ddl, err := migrationsFS.ReadFile("migrations/sqlite.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, string(ddl)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) AppendOutcome(ctx context.Context, r OutcomeRecord) error {
	trace, err := json.Marshal(r.Trace)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outcomes(id, cycle_id, account, station, slot, entry_date, succeeded, rounds, attempts, started_at, finished_at, trace)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.CycleID, r.Account, r.Station, r.Slot, r.EntryDate, boolInt(r.Succeeded), r.Rounds, r.Attempts,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.FinishedAt.UTC().Format(time.RFC3339Nano), string(trace),
	)
	return err
}

func (s *sqliteStore) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, cycle_id, account, station, slot, entry_date, succeeded, rounds, attempts, started_at, finished_at, trace
		 FROM outcomes ORDER BY finished_at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var (
			r                 OutcomeRecord
			ok                int
			started, finished string
			trace             sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.CycleID, &r.Account, &r.Station, &r.Slot, &r.EntryDate, &ok,
			&r.Rounds, &r.Attempts, &started, &finished, &trace); err != nil {
			return nil, err
		}
		r.Succeeded = ok != 0
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		if trace.Valid && trace.String != "" {
			_ = json.Unmarshal([]byte(trace.String), &r.Trace)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
