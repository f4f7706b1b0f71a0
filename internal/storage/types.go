package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (append-only JSON Lines)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// BroadcastRecord summarizes one completed broadcast.
// Keep it compact and schema-stable.
type BroadcastRecord struct {
	JobID     string    `json:"job_id"`
	Subject   string    `json:"subject"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"started_at"`
	TookMS    int64     `json:"took_ms"`
}
