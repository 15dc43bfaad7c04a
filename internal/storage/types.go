package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reachable through DSN
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OutcomeRecord is the audit form of one account's daily booking run.
type OutcomeRecord struct {
	ID         string    `json:"id"`
	CycleID    string    `json:"cycleId"`
	Account    string    `json:"account"`
	Station    string    `json:"station"`
	Slot       string    `json:"slot"`
	EntryDate  string    `json:"entryDate"`
	Succeeded  bool      `json:"succeeded"`
	Rounds     int       `json:"rounds"`
	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Trace      []string  `json:"trace,omitempty"`
}
