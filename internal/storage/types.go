package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path (default)
//   - "postgres": Postgres reachable through DSN
type Config struct {
	Driver       string        `json:"driver" validate:"omitempty,oneof=sqlite sqlite3 postgres pgx"`
	Path         string        `json:"path"`
	DSN          string        `json:"dsn"`
	BusyTimeout  time.Duration `json:"busy_timeout"` // sqlite only; 0 means default
	MaxOpenConns int           `json:"max_open_conns" validate:"gte=0"`
}

// AuditEntry records a job run or pipeline operation.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Target string    `json:"target,omitempty"`
	OK     int       `json:"ok"`
	Fail   int       `json:"fail"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
	Meta   string    `json:"meta,omitempty"`
}

// tsLayout is a fixed-width UTC layout so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"
