package api

import (
	"github.com/shopspring/decimal"

	"github.com/MJE43/celo-rps/internal/games"
	"github.com/MJE43/celo-rps/internal/session"
	"github.com/MJE43/celo-rps/internal/strategy"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types with proper categorization
const (
	// Input validation errors
	ErrTypeValidation    = "validation_error"
	ErrTypeInvalidChoice = "invalid_choice"

	// Session errors
	ErrTypeSessionNotFound = "session_not_found"
	ErrTypeSessionBusy     = "session_busy"
	ErrTypeRoundAbandoned  = "round_abandoned"

	// Chain errors
	ErrTypeWalletNotConnected = "wallet_not_connected"
	ErrTypeTransactionFailed  = "transaction_failed"
	ErrTypeChainUnavailable   = "chain_unavailable"

	// System errors
	ErrTypeTimeout  = "timeout"
	ErrTypeNotFound = "not_found"
	ErrTypeInternal = "internal_error"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategorySession    ErrorCategory = "session"
	CategoryChain      ErrorCategory = "chain"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeValidation, ErrTypeInvalidChoice:
		return CategoryValidation
	case ErrTypeSessionNotFound, ErrTypeSessionBusy, ErrTypeRoundAbandoned:
		return CategorySession
	case ErrTypeWalletNotConnected, ErrTypeTransactionFailed, ErrTypeChainUnavailable:
		return CategoryChain
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains build information
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// CreateSessionRequest opens a session in the given mode (default free).
type CreateSessionRequest struct {
	Mode string `json:"mode,omitempty"`
}

// PlayRequest submits a move by name or index.
type PlayRequest struct {
	Choice *games.Choice `json:"choice"`
}

// ModeRequest switches mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// SeedRequest sets the client seed.
type SeedRequest struct {
	ClientSeed string `json:"client_seed"`
}

// AutoplayRequest runs a strategy script for a number of rounds.
type AutoplayRequest struct {
	Script string `json:"script"`
	Rounds int    `json:"rounds"`
}

// AutoplayResponse carries the rounds played and, if the run stopped early,
// why.
type AutoplayResponse struct {
	Rounds   []session.Result    `json:"rounds"`
	Logs     []strategy.LogEntry `json:"logs"`
	Snapshot session.Snapshot    `json:"snapshot"`
	Error    string              `json:"error,omitempty"`
}

// VerifyRequest replays one free-mode round from revealed seeds
type VerifyRequest struct {
	Seeds  games.Seeds   `json:"seeds"`
	Nonce  uint64        `json:"nonce"`
	Choice *games.Choice `json:"choice"`
}

// VerifyResponse is the recomputed round
type VerifyResponse struct {
	Round          games.Round   `json:"round"`
	ServerSeedHash string        `json:"server_seed_hash"`
	Version        string        `json:"version"`
	Echo           VerifyRequest `json:"echo"`
}

// GamesResponse represents the games metadata response
type GamesResponse struct {
	Games   []games.GameSpec `json:"games"`
	Version string           `json:"version"`
}

// ChainResponse describes the configured contract and signer.
type ChainResponse struct {
	Network         string           `json:"network"`
	ChainID         int64            `json:"chain_id"`
	Contract        string           `json:"contract"`
	ContractURL     string           `json:"contract_url,omitempty"`
	ContractVersion string           `json:"contract_version,omitempty"`
	Signer          string           `json:"signer,omitempty"`
	SignerURL       string           `json:"signer_url,omitempty"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	Currency        string           `json:"currency,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`
}

// ShareResponse is the cast text and composer link.
type ShareResponse struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// WebhookAck is the fixed success reply of the webhook endpoint.
type WebhookAck struct {
	Success bool `json:"success"`
}
