package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/MJE43/celo-rps/internal/chain"
	"github.com/MJE43/celo-rps/internal/games"
	"github.com/MJE43/celo-rps/internal/session"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]interface{}
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause adds the underlying cause error
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	var ctx map[string]interface{}
	if len(eb.context) > 0 {
		ctx = eb.context
	}
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   ctx,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger zerolog.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger zerolog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// unavailableError marks an optional component that was not configured.
type unavailableError struct {
	errType string
	message string
}

func (e unavailableError) Error() string { return e.message }

var (
	errChainDisabled = unavailableError{ErrTypeChainUnavailable, "On-chain mode is not configured"}
	errStoreDisabled = unavailableError{ErrTypeInternal, "Play history store is not configured"}
)

// classify maps domain errors to an envelope type and HTTP status.
func classify(err error) (string, int, string) {
	var engineErr EngineError
	var rpcErr *chain.RPCError
	var unavailable unavailableError
	switch {
	case errors.As(err, &engineErr):
		return engineErr.Type, http.StatusInternalServerError, engineErr.Message
	case errors.As(err, &unavailable):
		return unavailable.errType, http.StatusServiceUnavailable, unavailable.message
	case errors.Is(err, session.ErrNotFound):
		return ErrTypeSessionNotFound, http.StatusNotFound, "Session not found"
	case errors.Is(err, session.ErrBusy):
		return ErrTypeSessionBusy, http.StatusConflict, "A round is already in progress"
	case errors.Is(err, session.ErrAbandoned):
		return ErrTypeRoundAbandoned, http.StatusConflict, "Round abandoned by a reset or mode switch"
	case errors.Is(err, session.ErrWalletNotConnected):
		return ErrTypeWalletNotConnected, http.StatusConflict, session.MsgConnectWallet
	case errors.Is(err, session.ErrTransactionFailed):
		return ErrTypeTransactionFailed, http.StatusBadGateway, session.MsgTransactionFailed
	case errors.Is(err, games.ErrInvalidChoice):
		return ErrTypeInvalidChoice, http.StatusBadRequest, "Choice must be rock, paper or scissors"
	case errors.Is(err, session.ErrInvalidMode),
		errors.Is(err, session.ErrWrongMode),
		errors.Is(err, session.ErrInvalidSeed),
		errors.Is(err, session.ErrInvalidRounds),
		errors.Is(err, session.ErrInvalidScript):
		return ErrTypeValidation, http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTypeTimeout, http.StatusGatewayTimeout, "Operation timed out"
	case errors.As(err, &rpcErr), errors.Is(err, chain.ErrChainMismatch), errors.Is(err, chain.ErrNoSigner):
		return ErrTypeChainUnavailable, http.StatusServiceUnavailable, "Chain unavailable"
	case errors.Is(err, session.ErrClosed):
		return ErrTypeInternal, http.StatusServiceUnavailable, "Server is shutting down"
	}
	return ErrTypeInternal, http.StatusInternalServerError, "Internal server error"
}

// HandleError classifies err and writes the envelope.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	eh.HandleErrorWith(w, r, err, nil)
}

// HandleErrorWith is HandleError with extra context fields, such as the
// session snapshot that explains a rejected play.
func (eh *ErrorHandler) HandleErrorWith(w http.ResponseWriter, r *http.Request, err error, extra map[string]interface{}) {
	errType, status, message := classify(err)

	b := NewError(errType, message).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method)
	if status >= http.StatusInternalServerError || errType == ErrTypeTransactionFailed {
		b.WithCause(err)
	}
	for k, v := range extra {
		b.WithContext(k, v)
	}
	engineErr := b.Build()

	eh.logError(r, engineErr, status, err)
	eh.writeErrorResponse(w, status, engineErr)
}

// HandleValidationError handles validation-specific errors
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	engineErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.logError(r, engineErr, http.StatusBadRequest, nil)
	eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
}

// logError logs the error with a level that depends on its category
func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int, cause error) {
	category := GetErrorCategory(engineErr.Type)

	var ev *zerolog.Event
	switch {
	case status >= http.StatusInternalServerError:
		ev = eh.logger.Error().Err(cause)
	case category == CategoryValidation:
		ev = eh.logger.Debug()
	default:
		ev = eh.logger.Warn()
	}

	ev = ev.Str("type", engineErr.Type).
		Str("category", string(category)).
		Int("status", status).
		Str("request_id", engineErr.RequestID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_ip", r.RemoteAddr)

	for key, value := range engineErr.Context {
		// Never log raw seeds - only hashes
		if key == "server_seed" || key == "client_seed" || key == "snapshot" {
			continue
		}
		ev = ev.Interface(key, value)
	}
	ev.Msg(engineErr.Message)
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Server-Version", Version)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(engineErr); err != nil {
		eh.logger.Error().Err(err).Msg("failed to encode error response")
	}
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())

				eh.logger.Error().
					Str("request_id", requestID).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Interface("panic", rvr).
					Msg("panic recovered")

				engineErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
