// Package session holds per-player game state: mode, status, counters, the
// last result and any pending on-chain transaction.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MJE43/celo-rps/internal/games"
)

// Mode selects where outcomes come from.
type Mode string

const (
	ModeFree    Mode = "free"
	ModeOnChain Mode = "onchain"
)

// ParseMode accepts "free" and "onchain" (also "on-chain").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "free", "":
		return ModeFree, nil
	case "onchain", "on-chain", "on_chain":
		return ModeOnChain, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Status is the round lifecycle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPlaying    Status = "playing"
	StatusProcessing Status = "processing"
	StatusFinished   Status = "finished"
)

// User-facing messages.
const (
	MsgPlaying            = "Playing..."
	MsgConnectWallet      = "❌ Please connect your wallet first"
	MsgSendingTransaction = "Sending transaction..."
	MsgConfirming         = "⏳ Confirming..."
	MsgConfirmed          = "✅ Transaction confirmed!"
	MsgTransactionFailed  = "❌ Transaction failed"
)

var (
	ErrBusy               = errors.New("session: a round is already processing")
	ErrWalletNotConnected = errors.New("session: wallet not connected")
	ErrTransactionFailed  = errors.New("session: transaction failed")
	ErrInvalidMode        = errors.New("session: invalid mode")
	ErrWrongMode          = errors.New("session: operation not available in this mode")
	ErrAbandoned          = errors.New("session: round abandoned by a reset or mode switch")
	ErrInvalidSeed        = errors.New("session: invalid client seed")
	ErrInvalidRounds      = errors.New("session: invalid autoplay round count")
	ErrInvalidScript      = errors.New("session: invalid strategy script")
	ErrNotFound           = errors.New("session: not found")
	ErrClosed             = errors.New("session: closed")
)

// Stats are the counters shown to the player.
type Stats struct {
	Wins          uint64          `json:"wins"`
	Losses        uint64          `json:"losses"`
	Ties          uint64          `json:"ties"`
	TotalGames    uint64          `json:"total_games"`
	CurrentStreak uint64          `json:"current_streak"`
	BestStreak    uint64          `json:"best_streak"`
	WinRate       decimal.Decimal `json:"win_rate"`
}

// counters is the mutable part of Stats.
type counters struct {
	wins, losses, ties  uint64
	currentStreak, best uint64
}

// record bumps exactly one counter. A win extends the streak, a loss
// breaks it, a tie leaves it alone.
func (c *counters) record(o games.Outcome) {
	switch o {
	case games.OutcomeWin:
		c.wins++
		c.currentStreak++
		if c.currentStreak > c.best {
			c.best = c.currentStreak
		}
	case games.OutcomeLose:
		c.losses++
		c.currentStreak = 0
	case games.OutcomeTie:
		c.ties++
	}
}

func (c counters) view() Stats {
	total := c.wins + c.losses + c.ties
	return Stats{
		Wins:          c.wins,
		Losses:        c.losses,
		Ties:          c.ties,
		TotalGames:    total,
		CurrentStreak: c.currentStreak,
		BestStreak:    c.best,
		WinRate:       WinRate(c.wins, total),
	}
}

// WinRate is wins/total as a percentage rounded to two places.
func WinRate(wins, total uint64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(wins)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(total)), 2)
}

// Result is a finished round plus its provenance.
type Result struct {
	games.Round
	Nonce       *uint64 `json:"nonce,omitempty"`
	TxHash      string  `json:"tx_hash,omitempty"`
	Verdict     string  `json:"verdict,omitempty"`
	BlockNumber uint64  `json:"block_number,omitempty"`
}

// Fairness is the public view of the free-mode seeds.
type Fairness struct {
	ServerSeedHash string    `json:"server_seed_hash"`
	ClientSeed     string    `json:"client_seed"`
	Nonce          uint64    `json:"nonce"`
	Previous       *Revealed `json:"previous,omitempty"`
}

// Revealed is a retired seed pair that can now be verified.
type Revealed struct {
	ServerSeed     string `json:"server_seed"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Rounds         uint64 `json:"rounds"`
}

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	ID            string        `json:"id"`
	Mode          Mode          `json:"mode"`
	Status        Status        `json:"status"`
	Stats         Stats         `json:"stats"`
	LastResult    *Result       `json:"last_result,omitempty"`
	Message       string        `json:"message"`
	PendingChoice *games.Choice `json:"pending_choice,omitempty"`
	PendingTx     string        `json:"pending_tx,omitempty"`
	IsPending     bool          `json:"is_pending"`
	TxURL         string        `json:"tx_url,omitempty"`
	Wallet        string        `json:"wallet,omitempty"`
	WalletURL     string        `json:"wallet_url,omitempty"`
	IsConnected   bool          `json:"is_connected"`
	PlayerExists  bool          `json:"player_exists"`
	Network       string        `json:"network,omitempty"`
	Fairness      Fairness      `json:"fairness"`
	ShareURL      string        `json:"share_url,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
