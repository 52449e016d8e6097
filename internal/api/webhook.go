package api

import (
	"io"
	"net/http"

	"github.com/MJE43/celo-rps/internal/farcaster"
)

// handleWebhook logs Farcaster mini-app lifecycle events. Only a body that
// is not JSON, or is JSON null, is answered with a bare 500.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil {
		var ev farcaster.Event
		if ev, err = farcaster.ParseEvent(body); err == nil {
			logger := s.logger.Info()
			if !ev.Known() {
				logger = s.logger.Warn()
			}
			logger.Str("event", string(ev.Type)).Str("fid", ev.FID()).Msg(farcaster.Describe(ev))
			s.writeJSON(w, http.StatusOK, WebhookAck{Success: true})
			return
		}
	}

	s.logger.Error().Err(err).Msg("webhook error")
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

func (s *Server) handleWebhookStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
