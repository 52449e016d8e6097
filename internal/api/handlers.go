package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MJE43/celo-rps/internal/engine"
	"github.com/MJE43/celo-rps/internal/farcaster"
	"github.com/MJE43/celo-rps/internal/games"
	"github.com/MJE43/celo-rps/internal/store"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// handleBodyError reports a decode failure. Bad moves keep their own type.
func (s *Server) handleBodyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, games.ErrInvalidChoice) {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON: "+err.Error())
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GamesResponse{
		Games:   games.ListGames(),
		Version: Version,
	})
}

// handleVerify recomputes a free-mode round from revealed seeds.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.handleBodyError(w, r, err)
		return
	}
	if req.Seeds.Server == "" {
		s.errorHandler.HandleValidationError(w, r, "seeds.server", "server seed is required")
		return
	}
	if req.Seeds.Client == "" {
		s.errorHandler.HandleValidationError(w, r, "seeds.client", "client seed is required")
		return
	}
	if req.Choice == nil {
		s.errorHandler.HandleValidationError(w, r, "choice", "choice is required")
		return
	}

	game, _ := games.GetGame("rps")
	round, err := game.Evaluate(req.Seeds, req.Nonce, *req.Choice)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, VerifyResponse{
		Round:          round,
		ServerSeedHash: engine.HashServerSeed(req.Seeds.Server),
		Version:        Version,
		Echo:           req,
	})
}

// handleShare builds the Warpcast composer link for a finished round.
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome := games.Outcome(strings.ToLower(q.Get("outcome")))
	if !outcome.Valid() {
		s.errorHandler.HandleValidationError(w, r, "outcome", "outcome must be win, lose or tie")
		return
	}

	var tally farcaster.Tally
	for _, f := range []struct {
		name string
		dst  *uint64
	}{
		{"wins", &tally.Wins},
		{"losses", &tally.Losses},
		{"ties", &tally.Ties},
	} {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.errorHandler.HandleValidationError(w, r, f.name, f.name+" must be a non-negative integer")
			return
		}
		*f.dst = n
	}

	appURL := q.Get("app_url")
	if appURL == "" {
		appURL = s.appURL
	}
	text, err := farcaster.ShareText(outcome, tally)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ShareResponse{
		Text: text,
		URL:  farcaster.ComposeURL(text, appURL),
	})
}

// handleChain describes the contract, the network and the server signer.
func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		s.errorHandler.HandleErrorWith(w, r, errChainDisabled, nil)
		return
	}
	network := s.chain.Network()
	contract := s.chain.ContractAddress().Hex()
	resp := ChainResponse{
		Network:     network.Name,
		ChainID:     network.ChainID,
		Contract:    contract,
		ContractURL: network.ExplorerAddressURL(contract),
		Currency:    network.Currency,
	}

	if v, err := s.chain.Version(r.Context()); err != nil {
		resp.Warnings = append(resp.Warnings, "version: "+err.Error())
	} else {
		resp.ContractVersion = v
	}

	if signer, ok := s.chain.Signer(); ok {
		resp.Signer = signer.Hex()
		resp.SignerURL = network.ExplorerAddressURL(resp.Signer)
		if bal, err := s.chain.Balance(r.Context(), signer); err != nil {
			resp.Warnings = append(resp.Warnings, "balance: "+err.Error())
		} else {
			resp.Balance = &bal
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleListPlays pages through confirmed on-chain plays.
func (s *Server) handleListPlays(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.errorHandler.HandleErrorWith(w, r, errStoreDisabled, nil)
		return
	}
	q := r.URL.Query()
	query := store.PlaysQuery{
		Player:  q.Get("player"),
		Network: q.Get("network"),
	}
	if query.Player != "" && !common.IsHexAddress(query.Player) {
		s.errorHandler.HandleValidationError(w, r, "player", "player must be a 0x address")
		return
	}
	var err error
	if query.Page, err = intParam(q.Get("page")); err != nil {
		s.errorHandler.HandleValidationError(w, r, "page", "page must be an integer")
		return
	}
	if query.PerPage, err = intParam(q.Get("per_page")); err != nil {
		s.errorHandler.HandleValidationError(w, r, "per_page", "per_page must be an integer")
		return
	}

	list, err := s.db.ListPlays(r.Context(), query)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
