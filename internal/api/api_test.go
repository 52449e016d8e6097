package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/MJE43/celo-rps/internal/chain"
	"github.com/MJE43/celo-rps/internal/farcaster"
	"github.com/MJE43/celo-rps/internal/games"
	"github.com/MJE43/celo-rps/internal/session"
	"github.com/MJE43/celo-rps/internal/store"
)

var testSigner = common.HexToAddress("0x00000000000000000000000000000000000000b2")

// fakeChainInfo is a canned ChainInfo for the /api/v1/chain endpoint.
type fakeChainInfo struct {
	versionErr error
}

func (f *fakeChainInfo) Network() chain.Network { return chain.DefaultNetworks()["celo"] }
func (f *fakeChainInfo) ContractAddress() common.Address {
	return common.HexToAddress(chain.DefaultContractAddress)
}
func (f *fakeChainInfo) Signer() (common.Address, bool) { return testSigner, true }
func (f *fakeChainInfo) Version(ctx context.Context) (string, error) {
	if f.versionErr != nil {
		return "", f.versionErr
	}
	return "2.0.0", nil
}
func (f *fakeChainInfo) Balance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	return decimal.RequireFromString("1.5"), nil
}

type testEnv struct {
	server  *Server
	handler http.Handler
	manager *session.Manager
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	if cfg.Manager == nil {
		cfg.Manager = session.NewManager(session.ManagerConfig{})
	}
	cfg.Logger = &logger
	t.Cleanup(cfg.Manager.Close)

	server := NewServer(cfg)
	return &testEnv{server: server, handler: server.Routes(), manager: cfg.Manager}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createSession(t *testing.T) session.Snapshot {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: status %d body %s", w.Code, w.Body.String())
	}
	return decodeSnapshot(t, w)
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	return snap
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) EngineError {
	t.Helper()
	var e EngineError
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	return e
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, errType string) EngineError {
	t.Helper()
	if w.Code != status {
		t.Fatalf("Expected status %d, got %d (%s)", status, w.Code, w.Body.String())
	}
	e := decodeError(t, w)
	if e.Type != errType {
		t.Errorf("Expected error type %q, got %q", errType, e.Type)
	}
	if e.RequestID == "" {
		t.Error("Expected request id in error envelope")
	}
	return e
}

func TestHealthEndpoint(t *testing.T) {
	db, err := store.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	env := newTestEnv(t, Config{DB: db})

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp HealthCheckResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != HealthStatusHealthy {
		t.Errorf("Expected healthy, got %s (%+v)", resp.Status, resp.Checks)
	}
	for _, name := range []string{"games", "database", "chain"} {
		if _, ok := resp.Checks[name]; !ok {
			t.Errorf("Missing %s check", name)
		}
	}
}

func TestHealthDegradedWithoutDatabase(t *testing.T) {
	env := newTestEnv(t, Config{Chain: &fakeChainInfo{versionErr: errors.New("dial tcp: refused")}})

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp HealthCheckResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != HealthStatusDegraded {
		t.Errorf("Expected degraded, got %s", resp.Status)
	}
	if resp.Checks["chain"].Status != HealthStatusDegraded {
		t.Errorf("Expected degraded chain check, got %s", resp.Checks["chain"].Status)
	}
}

func TestProbesAndVersion(t *testing.T) {
	env := newTestEnv(t, Config{})

	for _, path := range []string{"/health/ready", "/health/live", "/version"} {
		w := env.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, w.Code)
		}
		if w.Header().Get("X-Server-Version") == "" {
			t.Errorf("%s: missing version header", path)
		}
	}
}

func TestGamesEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})

	w := env.do(t, http.MethodGet, "/api/v1/games", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var response GamesResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Games) != 1 || response.Games[0].ID != "rps" {
		t.Errorf("Expected the rps game, got %+v", response.Games)
	}
	if response.Version == "" {
		t.Error("Expected version in response")
	}
}

func TestPlayThenVerifyRevealedSeed(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)
	if snap.Mode != session.ModeFree || snap.Status != session.StatusIdle {
		t.Fatalf("Unexpected initial snapshot: %+v", snap)
	}
	base := "/api/v1/sessions/" + snap.ID

	w := env.do(t, http.MethodPost, base+"/play", map[string]string{"choice": "rock"})
	if w.Code != http.StatusOK {
		t.Fatalf("play: status %d body %s", w.Code, w.Body.String())
	}
	played := decodeSnapshot(t, w)
	if played.Status != session.StatusFinished {
		t.Errorf("Expected finished, got %s", played.Status)
	}
	if played.LastResult == nil || played.LastResult.Nonce == nil || *played.LastResult.Nonce != 0 {
		t.Fatalf("Expected a result for nonce 0, got %+v", played.LastResult)
	}
	if played.Stats.TotalGames != 1 {
		t.Errorf("Expected 1 game, got %d", played.Stats.TotalGames)
	}
	if played.Message != played.LastResult.Outcome.Message() {
		t.Errorf("Expected outcome banner, got %q", played.Message)
	}

	w = env.do(t, http.MethodPost, base+"/seed/rotate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rotate: status %d", w.Code)
	}
	rotated := decodeSnapshot(t, w)
	prev := rotated.Fairness.Previous
	if prev == nil || prev.Rounds != 1 {
		t.Fatalf("Expected revealed seed after one round, got %+v", prev)
	}
	if prev.ServerSeedHash != played.Fairness.ServerSeedHash {
		t.Error("Revealed seed does not match the committed hash")
	}

	rock := games.Rock
	w = env.do(t, http.MethodPost, "/api/v1/verify", VerifyRequest{
		Seeds:  games.Seeds{Server: prev.ServerSeed, Client: prev.ClientSeed},
		Nonce:  0,
		Choice: &rock,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("verify: status %d body %s", w.Code, w.Body.String())
	}
	var verified VerifyResponse
	if err := json.NewDecoder(w.Body).Decode(&verified); err != nil {
		t.Fatalf("Failed to decode verify response: %v", err)
	}
	if verified.Round.OpponentChoice != played.LastResult.OpponentChoice {
		t.Errorf("Verify gave %s, round had %s", verified.Round.OpponentChoice, played.LastResult.OpponentChoice)
	}
	if verified.ServerSeedHash != prev.ServerSeedHash {
		t.Error("Verify hash mismatch")
	}
}

func TestVerifyValidation(t *testing.T) {
	env := newTestEnv(t, Config{})

	w := env.do(t, http.MethodPost, "/api/v1/verify", `{"seeds":{"server":"","client":"c"},"nonce":1,"choice":"rock"}`)
	e := expectError(t, w, http.StatusBadRequest, ErrTypeValidation)
	if e.Context["field"] != "seeds.server" {
		t.Errorf("Expected seeds.server field, got %v", e.Context["field"])
	}

	w = env.do(t, http.MethodPost, "/api/v1/verify", `{"seeds":{"server":"s","client":"c"},"nonce":1}`)
	expectError(t, w, http.StatusBadRequest, ErrTypeValidation)

	w = env.do(t, http.MethodPost, "/api/v1/verify", `{"seeds":{"server":"s","client":"c"},"nonce":1,"choice":"lizard"}`)
	expectError(t, w, http.StatusBadRequest, ErrTypeInvalidChoice)
}

func TestPlayValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)
	path := "/api/v1/sessions/" + snap.ID + "/play"

	tests := []struct {
		name    string
		body    string
		errType string
	}{
		{"missing choice", `{}`, ErrTypeValidation},
		{"unknown move", `{"choice":"lizard"}`, ErrTypeInvalidChoice},
		{"index out of range", `{"choice":3}`, ErrTypeInvalidChoice},
		{"malformed json", `{"choice":`, ErrTypeValidation},
		{"unknown field", `{"move":"rock"}`, ErrTypeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, path, tt.body)
			expectError(t, w, http.StatusBadRequest, tt.errType)
		})
	}

	w := env.do(t, http.MethodPost, path, `{"choice":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected index choice to play, got %d", w.Code)
	}
	if got := decodeSnapshot(t, w).LastResult.PlayerChoice; got != games.Scissors {
		t.Errorf("Expected scissors, got %s", got)
	}
}

func TestSessionNotFound(t *testing.T) {
	env := newTestEnv(t, Config{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/sessions/nope"},
		{http.MethodPost, "/api/v1/sessions/nope/play"},
		{http.MethodPost, "/api/v1/sessions/nope/reset"},
		{http.MethodDelete, "/api/v1/sessions/nope"},
	} {
		w := env.do(t, tc.method, tc.path, `{"choice":"rock"}`)
		expectError(t, w, http.StatusNotFound, ErrTypeSessionNotFound)
	}
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)

	w := env.do(t, http.MethodDelete, "/api/v1/sessions/"+snap.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}
	if env.manager.Len() != 0 {
		t.Errorf("Expected no sessions, got %d", env.manager.Len())
	}
	w = env.do(t, http.MethodGet, "/api/v1/sessions/"+snap.ID, nil)
	expectError(t, w, http.StatusNotFound, ErrTypeSessionNotFound)
}

func TestOnChainPlayWithoutWallet(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)
	base := "/api/v1/sessions/" + snap.ID

	w := env.do(t, http.MethodPost, base+"/mode", ModeRequest{Mode: "onchain"})
	if w.Code != http.StatusOK {
		t.Fatalf("mode: status %d body %s", w.Code, w.Body.String())
	}
	if got := decodeSnapshot(t, w); got.Mode != session.ModeOnChain || got.IsConnected {
		t.Fatalf("Unexpected snapshot after switch: %+v", got)
	}

	w = env.do(t, http.MethodPost, base+"/play", map[string]string{"choice": "paper"})
	e := expectError(t, w, http.StatusConflict, ErrTypeWalletNotConnected)
	inner, ok := e.Context["snapshot"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected snapshot in error context, got %v", e.Context)
	}
	if inner["message"] != session.MsgConnectWallet {
		t.Errorf("Expected connect-wallet message, got %v", inner["message"])
	}

	w = env.do(t, http.MethodPost, base+"/refresh", nil)
	expectError(t, w, http.StatusConflict, ErrTypeWalletNotConnected)

	w = env.do(t, http.MethodPost, base+"/autoplay", AutoplayRequest{Script: "function choose(){return 0}", Rounds: 1})
	expectError(t, w, http.StatusBadRequest, ErrTypeValidation)
}

func TestSwitchModeValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)
	path := "/api/v1/sessions/" + snap.ID + "/mode"

	expectError(t, env.do(t, http.MethodPost, path, ModeRequest{Mode: "ranked"}), http.StatusBadRequest, ErrTypeValidation)
	expectError(t, env.do(t, http.MethodPost, path, ModeRequest{}), http.StatusBadRequest, ErrTypeValidation)
	expectError(t, env.do(t, http.MethodPost, "/api/v1/sessions/"+snap.ID+"/refresh", nil), http.StatusBadRequest, ErrTypeValidation)
}

func TestResetAndStart(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)
	base := "/api/v1/sessions/" + snap.ID

	for i := 0; i < 3; i++ {
		if w := env.do(t, http.MethodPost, base+"/play", `{"choice":"rock"}`); w.Code != http.StatusOK {
			t.Fatalf("play %d: status %d", i, w.Code)
		}
	}

	w := env.do(t, http.MethodPost, base+"/start", nil)
	started := decodeSnapshot(t, w)
	if started.Status != session.StatusIdle || started.LastResult != nil {
		t.Errorf("Expected idle without result, got %+v", started)
	}
	if started.Stats.TotalGames != 3 {
		t.Errorf("Start should keep stats, got %d games", started.Stats.TotalGames)
	}

	w = env.do(t, http.MethodPost, base+"/reset", nil)
	reset := decodeSnapshot(t, w)
	if reset.Stats.TotalGames != 0 || reset.Stats.Wins != 0 {
		t.Errorf("Expected zeroed stats, got %+v", reset.Stats)
	}
}

func TestSetClientSeed(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)
	path := "/api/v1/sessions/" + snap.ID + "/seed"

	w := env.do(t, http.MethodPost, path, SeedRequest{ClientSeed: "lucky-seed"})
	if w.Code != http.StatusOK {
		t.Fatalf("seed: status %d", w.Code)
	}
	got := decodeSnapshot(t, w)
	if got.Fairness.ClientSeed != "lucky-seed" || got.Fairness.Nonce != 0 {
		t.Errorf("Unexpected fairness: %+v", got.Fairness)
	}

	expectError(t, env.do(t, http.MethodPost, path, SeedRequest{ClientSeed: strings.Repeat("x", 65)}), http.StatusBadRequest, ErrTypeValidation)
}

func TestAutoplayEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)
	path := "/api/v1/sessions/" + snap.ID + "/autoplay"

	script := `function choose(history) { console.log("round " + history.length); return "paper"; }`
	w := env.do(t, http.MethodPost, path, AutoplayRequest{Script: script, Rounds: 3})
	if w.Code != http.StatusOK {
		t.Fatalf("autoplay: status %d body %s", w.Code, w.Body.String())
	}
	var resp AutoplayResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("Unexpected error: %s", resp.Error)
	}
	if len(resp.Rounds) != 3 {
		t.Fatalf("Expected 3 rounds, got %d", len(resp.Rounds))
	}
	for i, r := range resp.Rounds {
		if r.PlayerChoice != games.Paper {
			t.Errorf("Round %d: expected paper, got %s", i, r.PlayerChoice)
		}
	}
	if resp.Snapshot.Stats.TotalGames != 3 {
		t.Errorf("Expected 3 games in snapshot, got %d", resp.Snapshot.Stats.TotalGames)
	}
	if len(resp.Logs) != 3 {
		t.Errorf("Expected 3 log lines, got %d", len(resp.Logs))
	}
}

func TestAutoplayStopsOnBadMove(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)
	path := "/api/v1/sessions/" + snap.ID + "/autoplay"

	script := `function choose(history) { return history.length < 2 ? "rock" : "lizard"; }`
	w := env.do(t, http.MethodPost, path, AutoplayRequest{Script: script, Rounds: 5})
	if w.Code != http.StatusOK {
		t.Fatalf("autoplay: status %d", w.Code)
	}
	var resp AutoplayResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Rounds) != 2 || resp.Error == "" {
		t.Errorf("Expected 2 rounds and an error, got %d rounds error=%q", len(resp.Rounds), resp.Error)
	}
}

func TestAutoplayValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)
	path := "/api/v1/sessions/" + snap.ID + "/autoplay"

	expectError(t, env.do(t, http.MethodPost, path, AutoplayRequest{Script: "function choose(){return 0}", Rounds: 0}), http.StatusBadRequest, ErrTypeValidation)
	expectError(t, env.do(t, http.MethodPost, path, AutoplayRequest{Script: "var x = 1;", Rounds: 1}), http.StatusBadRequest, ErrTypeValidation)
	expectError(t, env.do(t, http.MethodPost, path, AutoplayRequest{Rounds: 1}), http.StatusBadRequest, ErrTypeValidation)
}

func TestShareEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{AppURL: "https://rps.example"})

	w := env.do(t, http.MethodGet, "/api/v1/share?outcome=win&wins=3&losses=1&ties=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("share: status %d body %s", w.Code, w.Body.String())
	}
	var resp ShareResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !strings.Contains(resp.Text, "🎉 I won!") || !strings.Contains(resp.Text, "Stats: 3W / 1L / 2T") {
		t.Errorf("Unexpected share text: %q", resp.Text)
	}
	if !strings.HasPrefix(resp.URL, farcaster.ComposeBaseURL+"?text=") {
		t.Errorf("Unexpected share URL: %s", resp.URL)
	}
	if !strings.HasSuffix(resp.URL, "&embeds[]=https%3A%2F%2Frps.example") {
		t.Errorf("Expected default app url embed, got %s", resp.URL)
	}

	w = env.do(t, http.MethodGet, "/api/v1/share?outcome=tie&app_url=https://other.example", nil)
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !strings.HasSuffix(resp.URL, "other.example") || !strings.Contains(resp.Text, "Stats: 0W / 0L / 0T") {
		t.Errorf("Unexpected tie share: %+v", resp)
	}

	expectError(t, env.do(t, http.MethodGet, "/api/v1/share?outcome=maybe", nil), http.StatusBadRequest, ErrTypeValidation)
	expectError(t, env.do(t, http.MethodGet, "/api/v1/share?outcome=lose&wins=-1", nil), http.StatusBadRequest, ErrTypeValidation)
}

func TestWebhookEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"frame added", `{"type":"frame_added","data":{"fid":42}}`, http.StatusOK, `{"success":true}`},
		{"unknown type", `{"type":"frame_moved"}`, http.StatusOK, `{"success":true}`},
		{"missing data", `{"type":"notifications_enabled"}`, http.StatusOK, `{"success":true}`},
		{"numeric type", `{"type":5}`, http.StatusOK, `{"success":true}`},
		{"string fid", `{"type":"frame_added","data":{"fid":"abc"}}`, http.StatusOK, `{"success":true}`},
		{"scalar data", `{"type":"frame_added","data":"x"}`, http.StatusOK, `{"success":true}`},
		{"json string", `"frame_added"`, http.StatusOK, `{"success":true}`},
		{"json array", `[1,2]`, http.StatusOK, `{"success":true}`},
		{"not json", `hello`, http.StatusInternalServerError, `{"error":"Internal server error"}`},
		{"truncated", `{"type":`, http.StatusInternalServerError, `{"error":"Internal server error"}`},
		{"empty body", ``, http.StatusInternalServerError, `{"error":"Internal server error"}`},
		{"null body", `null`, http.StatusInternalServerError, `{"error":"Internal server error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/webhook", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.wantBody {
				t.Errorf("Expected body %s, got %s", tt.wantBody, got)
			}
		})
	}

	w := env.do(t, http.MethodGet, "/api/webhook", nil)
	if got := strings.TrimSpace(w.Body.String()); w.Code != http.StatusOK || got != `{"status":"ok"}` {
		t.Errorf("Unexpected GET response %d %s", w.Code, got)
	}
}

func TestChainEndpoint(t *testing.T) {
	disabled := newTestEnv(t, Config{})
	expectError(t, disabled.do(t, http.MethodGet, "/api/v1/chain", nil), http.StatusServiceUnavailable, ErrTypeChainUnavailable)

	env := newTestEnv(t, Config{Chain: &fakeChainInfo{}})
	w := env.do(t, http.MethodGet, "/api/v1/chain", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("chain: status %d", w.Code)
	}
	var resp ChainResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Network != "celo" || resp.ChainID != 42220 {
		t.Errorf("Unexpected network: %+v", resp)
	}
	if resp.ContractVersion != "2.0.0" || resp.Signer != testSigner.Hex() {
		t.Errorf("Unexpected contract info: %+v", resp)
	}
	if resp.Balance == nil || !resp.Balance.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Unexpected balance: %v", resp.Balance)
	}
	if !strings.HasPrefix(resp.ContractURL, "https://celoscan.io/address/") {
		t.Errorf("Unexpected contract url: %s", resp.ContractURL)
	}
}

func TestPlaysEndpoint(t *testing.T) {
	disabled := newTestEnv(t, Config{})
	expectError(t, disabled.do(t, http.MethodGet, "/api/v1/plays", nil), http.StatusServiceUnavailable, ErrTypeInternal)

	db, err := store.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	player := "0x00000000000000000000000000000000000000A1"
	for i := 0; i < 3; i++ {
		if err := db.SavePlay(ctx, &store.Play{
			TxHash:      fmt.Sprintf("0x%064x", i+1),
			Player:      player,
			Outcome:     "win",
			Verdict:     "Victoire",
			BlockNumber: uint64(100 + i),
			Network:     "celo",
		}); err != nil {
			t.Fatalf("save play: %v", err)
		}
	}

	env := newTestEnv(t, Config{DB: db})
	w := env.do(t, http.MethodGet, "/api/v1/plays?player="+player+"&per_page=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("plays: status %d body %s", w.Code, w.Body.String())
	}
	var list store.PlaysList
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if list.TotalCount != 3 || len(list.Plays) != 2 || list.TotalPages != 2 {
		t.Errorf("Unexpected page: total=%d len=%d pages=%d", list.TotalCount, len(list.Plays), list.TotalPages)
	}

	expectError(t, env.do(t, http.MethodGet, "/api/v1/plays?player=bob", nil), http.StatusBadRequest, ErrTypeValidation)
	expectError(t, env.do(t, http.MethodGet, "/api/v1/plays?page=two", nil), http.StatusBadRequest, ErrTypeValidation)
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/games", nil)
	req.Header.Set("Origin", "https://warpcast.com")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected wildcard CORS origin, got %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		wantType   string
		wantStatus int
	}{
		{session.ErrNotFound, ErrTypeSessionNotFound, http.StatusNotFound},
		{session.ErrBusy, ErrTypeSessionBusy, http.StatusConflict},
		{session.ErrAbandoned, ErrTypeRoundAbandoned, http.StatusConflict},
		{fmt.Errorf("%w: %w", session.ErrTransactionFailed, errors.New("insufficient funds")), ErrTypeTransactionFailed, http.StatusBadGateway},
		{fmt.Errorf("wrap: %w", games.ErrInvalidChoice), ErrTypeInvalidChoice, http.StatusBadRequest},
		{session.ErrInvalidRounds, ErrTypeValidation, http.StatusBadRequest},
		{&chain.RPCError{Op: "call", Err: errors.New("connection refused")}, ErrTypeChainUnavailable, http.StatusServiceUnavailable},
		{chain.ErrChainMismatch, ErrTypeChainUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, ErrTypeTimeout, http.StatusGatewayTimeout},
		{errChainDisabled, ErrTypeChainUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), ErrTypeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		gotType, gotStatus, _ := classify(tt.err)
		if gotType != tt.wantType || gotStatus != tt.wantStatus {
			t.Errorf("classify(%v) = %s/%d, want %s/%d", tt.err, gotType, gotStatus, tt.wantType, tt.wantStatus)
		}
	}
}

func TestRecoveryHandler(t *testing.T) {
	eh := NewErrorHandler(zerolog.Nop())
	h := eh.RecoveryHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	if e := decodeError(t, w); e.Type != ErrTypeInternal {
		t.Errorf("Expected internal_error, got %s", e.Type)
	}
}

func TestStreamPushesSnapshots(t *testing.T) {
	env := newTestEnv(t, Config{})
	snap := env.createSession(t)

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/sessions/" + snap.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if msg.Type != "snapshot" || msg.Snapshot.ID != snap.ID || msg.Snapshot.Status != session.StatusIdle {
		t.Fatalf("Unexpected initial message: %+v", msg)
	}

	resp, err := http.Post(ts.URL+"/api/v1/sessions/"+snap.ID+"/play", "application/json", strings.NewReader(`{"choice":"paper"}`))
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	resp.Body.Close()

	for {
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if msg.Snapshot.Status == session.StatusFinished {
			break
		}
	}
	if msg.Snapshot.LastResult == nil || msg.Snapshot.LastResult.PlayerChoice != games.Paper {
		t.Errorf("Expected paper result, got %+v", msg.Snapshot.LastResult)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/sessions/"+snap.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", w.Code)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("Expected going-away close, got %v", err)
			}
			break
		}
	}
}

func TestStreamUnknownSession(t *testing.T) {
	env := newTestEnv(t, Config{})
	w := env.do(t, http.MethodGet, "/api/v1/sessions/missing/stream", nil)
	expectError(t, w, http.StatusNotFound, ErrTypeSessionNotFound)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, path := range []string{"/nope", "/api/v1/nope"} {
		expectError(t, env.do(t, http.MethodGet, path, nil), http.StatusNotFound, ErrTypeNotFound)
	}
}
