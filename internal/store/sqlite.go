package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

func newID() string { return uuid.New().String() }

// SQLiteDB implements the DB interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *SQLiteDB) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS plays (
			id TEXT PRIMARY KEY,
			tx_hash TEXT NOT NULL UNIQUE,
			player TEXT NOT NULL,
			player_choice INTEGER NOT NULL,
			opponent_choice INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			verdict TEXT NOT NULL DEFAULT '',
			block_number INTEGER NOT NULL DEFAULT 0,
			network TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plays_player_created ON plays(player, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_plays_network ON plays(network)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SavePlay inserts a play. A second save of the same tx hash is a no-op.
func (s *SQLiteDB) SavePlay(ctx context.Context, play *Play) error {
	if err := prepare(play); err != nil {
		return err
	}

	query := `INSERT INTO plays (
		id, tx_hash, player, player_choice, opponent_choice, outcome, verdict,
		block_number, network, session_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tx_hash) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		play.ID, play.TxHash, play.Player, play.PlayerChoice, play.OpponentChoice,
		play.Outcome, play.Verdict, play.BlockNumber, play.Network, play.SessionID,
		play.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save play: %w", err)
	}
	return nil
}

const playColumns = `id, tx_hash, player, player_choice, opponent_choice, outcome, verdict,
		block_number, network, session_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlay(row rowScanner) (Play, error) {
	var p Play
	err := row.Scan(
		&p.ID, &p.TxHash, &p.Player, &p.PlayerChoice, &p.OpponentChoice, &p.Outcome,
		&p.Verdict, &p.BlockNumber, &p.Network, &p.SessionID, &p.CreatedAt,
	)
	return p, err
}

// GetPlay retrieves a play by tx hash
func (s *SQLiteDB) GetPlay(ctx context.Context, txHash string) (*Play, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+playColumns+` FROM plays WHERE tx_hash = ?`, strings.ToLower(txHash))
	p, err := scanPlay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get play: %w", err)
	}
	return &p, nil
}

// ListPlays retrieves plays with pagination and filtering, newest first
func (s *SQLiteDB) ListPlays(ctx context.Context, query PlaysQuery) (*PlaysList, error) {
	query = query.normalize()

	var conds []string
	args := []interface{}{}
	if query.Player != "" {
		conds = append(conds, "player = ?")
		args = append(args, query.Player)
	}
	if query.Network != "" {
		conds = append(conds, "network = ?")
		args = append(args, query.Network)
	}
	whereClause := ""
	if len(conds) > 0 {
		whereClause = "WHERE " + strings.Join(conds, " AND ")
	}

	var totalCount int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM plays "+whereClause, args...).Scan(&totalCount); err != nil {
		return nil, fmt.Errorf("failed to get total count: %w", err)
	}

	mainQuery := `SELECT ` + playColumns + ` FROM plays ` + whereClause + `
		ORDER BY created_at DESC, block_number DESC
		LIMIT ? OFFSET ?`
	args = append(args, query.PerPage, query.offset())

	rows, err := s.db.QueryContext(ctx, mainQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plays: %w", err)
	}
	defer rows.Close()

	plays := []Play{}
	for rows.Next() {
		p, err := scanPlay(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan play: %w", err)
		}
		plays = append(plays, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plays: %w", err)
	}

	return &PlaysList{
		Plays:      plays,
		TotalCount: totalCount,
		Page:       query.Page,
		PerPage:    query.PerPage,
		TotalPages: totalPages(totalCount, query.PerPage),
	}, nil
}
