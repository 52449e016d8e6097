// Package store persists confirmed on-chain plays.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a play does not exist.
var ErrNotFound = errors.New("store: play not found")

// DB represents the database interface
type DB interface {
	Close() error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	SavePlay(ctx context.Context, play *Play) error
	GetPlay(ctx context.Context, txHash string) (*Play, error)
	ListPlays(ctx context.Context, query PlaysQuery) (*PlaysList, error)
}

// Play is one confirmed PartieJouee event.
type Play struct {
	ID             string    `json:"id" db:"id"`
	TxHash         string    `json:"tx_hash" db:"tx_hash"`
	Player         string    `json:"player" db:"player"`
	PlayerChoice   uint8     `json:"player_choice" db:"player_choice"`
	OpponentChoice uint8     `json:"opponent_choice" db:"opponent_choice"`
	Outcome        string    `json:"outcome" db:"outcome"`
	Verdict        string    `json:"verdict" db:"verdict"`
	BlockNumber    uint64    `json:"block_number" db:"block_number"`
	Network        string    `json:"network" db:"network"`
	SessionID      string    `json:"session_id,omitempty" db:"session_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// PlaysQuery represents query parameters for listing plays
type PlaysQuery struct {
	Player  string `json:"player,omitempty"`
	Network string `json:"network,omitempty"`
	Page    int    `json:"page"`
	PerPage int    `json:"perPage"`
}

// PlaysList represents a paginated plays response
type PlaysList struct {
	Plays      []Play `json:"plays"`
	TotalCount int    `json:"totalCount"`
	Page       int    `json:"page"`
	PerPage    int    `json:"perPage"`
	TotalPages int    `json:"totalPages"`
}

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

// normalize fills pagination defaults and lower-cases the address filter.
func (q PlaysQuery) normalize() PlaysQuery {
	if q.PerPage <= 0 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	q.Player = strings.ToLower(strings.TrimSpace(q.Player))
	return q
}

func (q PlaysQuery) offset() int {
	return (q.Page - 1) * q.PerPage
}

func totalPages(total, perPage int) int {
	return (total + perPage - 1) / perPage
}

// Open picks Postgres for postgres:// DSNs and SQLite for anything else.
func Open(ctx context.Context, dsn string) (DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresDB(ctx, dsn)
	}
	return NewSQLiteDB(dsn)
}

// prepare validates and stamps a play before insert.
func prepare(play *Play) error {
	if play == nil || play.TxHash == "" {
		return errors.New("store: play requires a tx hash")
	}
	if play.ID == "" {
		play.ID = newID()
	}
	play.Player = strings.ToLower(play.Player)
	play.TxHash = strings.ToLower(play.TxHash)
	if play.CreatedAt.IsZero() {
		play.CreatedAt = time.Now().UTC()
	}
	return nil
}
