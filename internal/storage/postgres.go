package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	logx "subwaybot/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 3; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
			pool = nil
		}
		log.Warn("postgres connect failed", logx.Int("attempt", attempt), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	if pool == nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	ddl, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, string(ddl)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) AppendOutcome(ctx context.Context, r OutcomeRecord) error {
	trace, err := json.Marshal(r.Trace)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO outcomes(id, cycle_id, account, station, slot, entry_date, succeeded, rounds, attempts, started_at, finished_at, trace)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.CycleID, r.Account, r.Station, r.Slot, r.EntryDate, r.Succeeded, r.Rounds, r.Attempts,
		r.StartedAt, r.FinishedAt, trace,
	)
	return err
}

func (s *postgresStore) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, cycle_id::text, account, station, slot, entry_date, succeeded, rounds, attempts, started_at, finished_at, trace
		 FROM outcomes ORDER BY finished_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var (
			r     OutcomeRecord
			trace []byte
		)
		if err := rows.Scan(&r.ID, &r.CycleID, &r.Account, &r.Station, &r.Slot, &r.EntryDate, &r.Succeeded,
			&r.Rounds, &r.Attempts, &r.StartedAt, &r.FinishedAt, &trace); err != nil {
			return nil, err
		}
		if len(trace) > 0 {
			_ = json.Unmarshal(trace, &r.Trace)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
