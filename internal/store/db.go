// Package store persists sessions and spin history in SQLite.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/MJE43/pf-slot-go/internal/engine"
)

// SpinRecord is one resolved spin.
type SpinRecord struct {
	ID        uuid.UUID      `json:"id"`
	Wallet    string         `json:"wallet"`
	Seed      string         `json:"seed"`
	Tier      string         `json:"tier"`
	Outcome   engine.Outcome `json:"outcome"`
	Score     int64          `json:"score"`
	Kind      string         `json:"kind"`
	CreatedAt time.Time      `json:"created_at"`
}

// SpinsPage is a page of a wallet's history, newest first.
type SpinsPage struct {
	Spins      []SpinRecord `json:"spins"`
	TotalCount int          `json:"totalCount"`
	TotalScore int64        `json:"totalScore"`
	Page       int          `json:"page"`
	PerPage    int          `json:"perPage"`
	TotalPages int          `json:"totalPages"`
}
