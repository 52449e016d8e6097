package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/MJE43/celo-rps/internal/session"
)

// lookupSession resolves {id} or writes a 404.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return nil, false
	}
	return sess, true
}

// sessionError writes err and, when the session produced one, the snapshot
// that explains it (for example the connect-wallet message).
func (s *Server) sessionError(w http.ResponseWriter, r *http.Request, snap session.Snapshot, err error) {
	if snap.ID == "" {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.errorHandler.HandleErrorWith(w, r, err, map[string]interface{}{"snapshot": snap})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.handleBodyError(w, r, err)
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		s.errorHandler.HandleValidationError(w, r, "mode", "mode must be free or onchain")
		return
	}

	sess, err := s.manager.Create(r.Context(), mode)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(chi.URLParam(r, "id")); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePlay runs one round. In on-chain mode it returns as soon as the
// transaction is submitted; confirmation arrives through the stream.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req PlayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.handleBodyError(w, r, err)
		return
	}
	if req.Choice == nil {
		s.errorHandler.HandleValidationError(w, r, "choice", "choice is required")
		return
	}

	snap, err := sess.Play(r.Context(), *req.Choice)
	if err != nil {
		s.sessionError(w, r, snap, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, sess.StartGame())
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, sess.ResetStats())
}

func (s *Server) handleSwitchMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req ModeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.handleBodyError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Mode) == "" {
		s.errorHandler.HandleValidationError(w, r, "mode", "mode is required")
		return
	}

	snap, err := sess.SwitchMode(r.Context(), session.Mode(req.Mode))
	if err != nil {
		s.sessionError(w, r, snap, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.RefreshOnChain(r.Context()); err != nil {
		s.sessionError(w, r, sess.Snapshot(), err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSetSeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req SeedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.handleBodyError(w, r, err)
		return
	}
	snap, err := sess.SetClientSeed(req.ClientSeed)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRotateSeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	snap, err := sess.RotateSeed()
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleAutoplay runs a strategy script. A run that stops part-way still
// returns the rounds it played, with the reason in the error field.
func (s *Server) handleAutoplay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req AutoplayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.handleBodyError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Script) == "" {
		s.errorHandler.HandleValidationError(w, r, "script", "script is required")
		return
	}

	res, err := sess.Autoplay(r.Context(), req.Script, req.Rounds)
	if res == nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	resp := AutoplayResponse{
		Rounds:   res.Rounds,
		Logs:     res.Logs,
		Snapshot: res.Snapshot,
	}
	if err != nil {
		resp.Error = err.Error()
		level := zerolog.WarnLevel
		if errors.Is(err, session.ErrAbandoned) {
			level = zerolog.InfoLevel
		}
		s.logger.WithLevel(level).Err(err).
			Str("session_id", sess.ID()).
			Int("rounds_played", len(res.Rounds)).
			Msg("autoplay stopped early")
	}
	s.writeJSON(w, http.StatusOK, resp)
}
