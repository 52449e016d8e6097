// Package api exposes sessions, verification, share links and the webhook
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/MJE43/celo-rps/internal/chain"
	"github.com/MJE43/celo-rps/internal/games"
	"github.com/MJE43/celo-rps/internal/session"
	"github.com/MJE43/celo-rps/internal/store"
)

// ChainInfo is the read-only view of the chain client used by /api/v1/chain.
type ChainInfo interface {
	Network() chain.Network
	ContractAddress() common.Address
	Signer() (common.Address, bool)
	Version(ctx context.Context) (string, error)
	Balance(ctx context.Context, addr common.Address) (decimal.Decimal, error)
}

// Config wires the server to its collaborators. DB and Chain may be nil.
type Config struct {
	Manager        *session.Manager
	DB             store.DB
	Chain          ChainInfo
	AppURL         string
	CORSOrigins    []string
	RequestTimeout time.Duration
	Logger         *zerolog.Logger
}

// Server handles HTTP requests
type Server struct {
	manager      *session.Manager
	db           store.DB
	chain        ChainInfo
	appURL       string
	corsOrigins  []string
	timeout      time.Duration
	errorHandler *ErrorHandler
	logger       zerolog.Logger
	startTime    time.Time
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	logger := log.Logger.With().Str("component", "api").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		manager:      cfg.Manager,
		db:           cfg.DB,
		chain:        cfg.Chain,
		appURL:       cfg.AppURL,
		corsOrigins:  cfg.CORSOrigins,
		timeout:      cfg.RequestTimeout,
		errorHandler: NewErrorHandler(logger),
		logger:       logger,
		startTime:    time.Now(),
	}

	logger.Info().
		Int("games_available", len(games.ListGames())).
		Bool("chain_enabled", s.chain != nil).
		Bool("database_enabled", s.db != nil).
		Msg("api server initialized")

	return s
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(s.corsHandler().Handler)

	// Set before any Route so mounted subrouters inherit it.
	r.NotFound(s.handleNotFound)

	// The stream is long-lived and must not inherit the request timeout.
	r.Get("/api/v1/sessions/{id}/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))

		// Health and monitoring endpoints
		r.Get("/health", s.handleHealthCheck)
		r.Get("/health/ready", s.handleReadiness)
		r.Get("/health/live", s.handleLiveness)
		r.Get("/version", s.handleVersion)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/games", s.handleListGames)
			r.Post("/verify", s.handleVerify)
			r.Get("/share", s.handleShare)
			r.Get("/chain", s.handleChain)
			r.Get("/plays", s.handleListPlays)

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", s.handleCreateSession)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetSession)
					r.Delete("/", s.handleDeleteSession)
					r.Post("/play", s.handlePlay)
					r.Post("/start", s.handleStartGame)
					r.Post("/reset", s.handleResetStats)
					r.Post("/mode", s.handleSwitchMode)
					r.Post("/refresh", s.handleRefresh)
					r.Post("/seed", s.handleSetSeed)
					r.Post("/seed/rotate", s.handleRotateSeed)
					r.Post("/autoplay", s.handleAutoplay)
				})
			})
		})

		r.Post("/api/webhook", s.handleWebhook)
		r.Get("/api/webhook", s.handleWebhookStatus)
	})

	return r
}

func (s *Server) corsHandler() *cors.Cors {
	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-Id", "X-Error-Type"},
	})
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Server-Version", Version)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	engineErr := NewError(ErrTypeNotFound, "Route not found").
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()
	s.errorHandler.writeErrorResponse(w, http.StatusNotFound, engineErr)
}
