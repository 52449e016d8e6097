package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/MJE43/celo-rps/internal/chain"
	"github.com/MJE43/celo-rps/internal/engine"
	"github.com/MJE43/celo-rps/internal/farcaster"
	"github.com/MJE43/celo-rps/internal/games"
	"github.com/MJE43/celo-rps/internal/strategy"
)

// Chain is the part of the contract client a session needs.
type Chain interface {
	Network() chain.Network
	PlayerExists(ctx context.Context, addr common.Address) (bool, error)
	Stats(ctx context.Context, addr common.Address) (chain.Stats, error)
	Play(ctx context.Context, choice games.Choice) (common.Hash, error)
	WaitPlayed(ctx context.Context, txHash common.Hash) (*chain.Played, error)
}

// RoundFinished is handed to the round hook after every finished round.
type RoundFinished struct {
	SessionID string
	Mode      Mode
	Result    Result
	Played    *chain.Played
	Network   string
}

// Options configure a new Session.
type Options struct {
	ID         string
	Mode       Mode
	Chain      Chain
	Wallet     *common.Address
	Clock      clockwork.Clock
	ThinkDelay time.Duration
	AppURL     string
	OnRound    func(RoundFinished)
}

const (
	historyLimit      = 100
	subscriberBuffer  = 8
	MaxAutoplayRounds = 100
)

// Session is one player's game. All methods are safe for concurrent use.
type Session struct {
	id         string
	chain      Chain
	wallet     *common.Address
	clock      clockwork.Clock
	thinkDelay time.Duration
	appURL     string
	onRound    func(RoundFinished)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	mode          Mode
	status        Status
	stats         counters
	lastResult    *Result
	message       string
	pendingChoice *games.Choice
	pendingTx     common.Hash
	lastTx        common.Hash
	playerExists  bool
	history       []Result
	// generation changes whenever in-flight work must be dropped.
	generation uint64
	seeds      seedState
	lastActive time.Time
	closed     bool

	subs map[chan Snapshot]struct{}
}

type seedState struct {
	server   string
	client   string
	nonce    uint64
	previous *Revealed
}

// New creates an idle session with fresh fairness seeds.
func New(opts Options) (*Session, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Mode == "" {
		opts.Mode = ModeFree
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	server, err := engine.NewServerSeed()
	if err != nil {
		return nil, err
	}
	client, err := engine.NewServerSeed()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         opts.ID,
		chain:      opts.Chain,
		wallet:     opts.Wallet,
		clock:      opts.Clock,
		thinkDelay: opts.ThinkDelay,
		appURL:     opts.AppURL,
		onRound:    opts.OnRound,
		ctx:        ctx,
		cancel:     cancel,
		mode:       opts.Mode,
		status:     StatusIdle,
		seeds:      seedState{server: server, client: client[:16]},
		lastActive: opts.Clock.Now(),
		subs:       make(map[chan Snapshot]struct{}),
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// LastActive reports when the session last changed.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) connected() bool {
	return s.chain != nil && s.wallet != nil
}

// Play runs one round with the player's choice.
func (s *Session) Play(ctx context.Context, choice games.Choice) (Snapshot, error) {
	if !choice.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %d", chain.ErrInvalidChoice, uint8(choice))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if s.status == StatusProcessing {
		s.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	s.status = StatusPlaying
	if s.mode == ModeFree {
		return s.playFree(ctx, choice)
	}
	return s.playOnChain(ctx, choice)
}

// playFree is entered with s.mu held.
func (s *Session) playFree(ctx context.Context, choice games.Choice) (Snapshot, error) {
	s.status = StatusProcessing
	s.message = MsgPlaying
	gen := s.generation
	seeds := engine.Seeds{Server: s.seeds.server, Client: s.seeds.client}
	nonce := s.seeds.nonce
	s.seeds.nonce++
	s.changedLocked()
	s.mu.Unlock()

	if s.thinkDelay > 0 {
		select {
		case <-s.clock.After(s.thinkDelay):
		case <-ctx.Done():
			s.abortRound(gen)
			return s.Snapshot(), ctx.Err()
		}
	}

	round, err := (&games.RPSGame{}).Evaluate(seeds, nonce, choice)
	if err != nil {
		s.abortRound(gen)
		return s.Snapshot(), err
	}
	res := Result{Round: round, Nonce: &nonce}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return s.Snapshot(), ErrAbandoned
	}
	s.lastResult = &res
	s.message = round.Outcome.Message()
	s.stats.record(round.Outcome)
	s.appendHistoryLocked(res)
	s.status = StatusFinished
	s.changedLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(RoundFinished{SessionID: s.id, Mode: ModeFree, Result: res})
	return snap, nil
}

// playOnChain is entered with s.mu held.
func (s *Session) playOnChain(ctx context.Context, choice games.Choice) (Snapshot, error) {
	if !s.connected() {
		s.message = MsgConnectWallet
		s.status = StatusIdle
		s.changedLocked()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrWalletNotConnected
	}

	s.status = StatusProcessing
	s.message = MsgSendingTransaction
	s.pendingChoice = &choice
	s.lastResult = nil
	gen := s.generation
	s.changedLocked()
	s.mu.Unlock()

	hash, err := s.chain.Play(ctx, choice)

	s.mu.Lock()
	if gen != s.generation {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		if err == nil {
			log.Warn().Str("session_id", s.id).Str("tx_hash", hash.Hex()).Msg("transaction submitted after the round was abandoned")
		}
		return snap, ErrAbandoned
	}
	if err != nil {
		s.failPendingLocked()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		log.Error().Err(err).Str("session_id", s.id).Msg("jouer submission failed")
		return snap, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	s.pendingTx = hash
	s.message = MsgConfirming
	s.changedLocked()
	snap := s.snapshotLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	go s.reconcile(gen, hash)
	return snap, nil
}

// reconcile waits for the receipt and applies the decoded event.
func (s *Session) reconcile(gen uint64, hash common.Hash) {
	defer s.wg.Done()
	logger := log.With().Str("session_id", s.id).Str("tx_hash", hash.Hex()).Logger()

	played, err := s.chain.WaitPlayed(s.ctx, hash)
	var (
		stats    chain.Stats
		statsErr error
	)
	if err == nil {
		stats, statsErr = s.chain.Stats(s.ctx, *s.wallet)
	}

	s.mu.Lock()
	if gen != s.generation || s.pendingTx != hash {
		s.mu.Unlock()
		logger.Debug().Msg("ignoring confirmation for abandoned transaction")
		return
	}
	if err != nil {
		s.failPendingLocked()
		s.lastTx = hash
		s.mu.Unlock()
		logger.Error().Err(err).Msg("transaction failed")
		return
	}

	res := Result{
		Round:       played.Round(),
		TxHash:      hash.Hex(),
		Verdict:     played.Verdict,
		BlockNumber: played.BlockNumber,
	}
	s.lastResult = &res
	s.playerExists = true
	if statsErr == nil {
		s.stats = fromChainStats(stats)
	} else {
		logger.Warn().Err(statsErr).Msg("stats refresh after confirmation failed")
	}
	s.appendHistoryLocked(res)
	s.status = StatusFinished
	s.message = MsgConfirmed
	s.pendingChoice = nil
	s.pendingTx = common.Hash{}
	s.lastTx = hash
	s.changedLocked()
	network := s.chain.Network().Name
	s.mu.Unlock()

	logger.Info().Str("outcome", string(res.Outcome)).Uint64("block", res.BlockNumber).Msg("transaction confirmed")
	s.emit(RoundFinished{SessionID: s.id, Mode: ModeOnChain, Result: res, Played: played, Network: network})
}

func (s *Session) failPendingLocked() {
	s.status = StatusIdle
	s.message = MsgTransactionFailed
	s.pendingChoice = nil
	s.pendingTx = common.Hash{}
	s.changedLocked()
}

func (s *Session) abortRound(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.status = StatusIdle
	s.message = ""
	s.changedLocked()
}

func (s *Session) emit(ev RoundFinished) {
	if s.onRound != nil {
		s.onRound(ev)
	}
}

func fromChainStats(st chain.Stats) counters {
	return counters{
		wins:          st.Wins,
		losses:        st.Losses,
		ties:          st.Ties,
		currentStreak: st.CurrentStreak,
		best:          st.BestStreak,
	}
}

func (s *Session) appendHistoryLocked(r Result) {
	if len(s.history) >= historyLimit {
		s.history = s.history[1:]
	}
	s.history = append(s.history, r)
}

// resetTransientLocked clears everything tied to the current round.
func (s *Session) resetTransientLocked() {
	s.generation++
	s.status = StatusIdle
	s.lastResult = nil
	s.message = ""
	s.pendingChoice = nil
	s.pendingTx = common.Hash{}
}

// StartGame returns to idle and forgets the last result.
func (s *Session) StartGame() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetTransientLocked()
	s.changedLocked()
	return s.snapshotLocked()
}

// ResetStats zeroes the counters in free mode, then starts a new game.
// On-chain counters belong to the contract and are left alone.
func (s *Session) ResetStats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeFree {
		s.stats = counters{}
		s.history = nil
	}
	s.resetTransientLocked()
	s.changedLocked()
	return s.snapshotLocked()
}

// SwitchMode changes mode and resets the round. Switching to on-chain
// reloads the counters from the contract when a wallet is connected.
func (s *Session) SwitchMode(ctx context.Context, mode Mode) (Snapshot, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	s.mode = mode
	s.resetTransientLocked()
	s.stats = counters{}
	s.history = nil
	if mode == ModeFree {
		s.playerExists = false
	}
	s.changedLocked()
	connected := s.connected()
	s.mu.Unlock()

	if mode == ModeOnChain && connected {
		if err := s.RefreshOnChain(ctx); err != nil {
			return s.Snapshot(), err
		}
	}
	return s.Snapshot(), nil
}

// RefreshOnChain re-reads the profile flag and the contract counters. The
// result is dropped if the round was reset or the mode switched meanwhile.
func (s *Session) RefreshOnChain(ctx context.Context) error {
	s.mu.Lock()
	mode := s.mode
	gen := s.generation
	connected := s.connected()
	s.mu.Unlock()

	if mode != ModeOnChain {
		return ErrWrongMode
	}
	if !connected {
		return ErrWalletNotConnected
	}

	exists, err := s.chain.PlayerExists(ctx, *s.wallet)
	if err != nil {
		return fmt.Errorf("session: read player profile: %w", err)
	}
	var stats chain.Stats
	if exists {
		stats, err = s.chain.Stats(ctx, *s.wallet)
		if err != nil {
			return fmt.Errorf("session: read stats: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.mode != ModeOnChain {
		return nil
	}
	s.playerExists = exists
	s.stats = fromChainStats(stats)
	s.changedLocked()
	return nil
}

// SetClientSeed replaces the client seed. The nonce restarts at zero.
func (s *Session) SetClientSeed(seed string) (Snapshot, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" || len(seed) > 64 {
		return Snapshot{}, fmt.Errorf("%w: must be 1-64 characters", ErrInvalidSeed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusProcessing {
		return Snapshot{}, ErrBusy
	}
	s.seeds.client = seed
	s.seeds.nonce = 0
	s.changedLocked()
	return s.snapshotLocked(), nil
}

// RotateSeed reveals the active server seed and commits to a new one.
func (s *Session) RotateSeed() (Snapshot, error) {
	next, err := engine.NewServerSeed()
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusProcessing {
		return Snapshot{}, ErrBusy
	}
	s.seeds.previous = &Revealed{
		ServerSeed:     s.seeds.server,
		ServerSeedHash: engine.HashServerSeed(s.seeds.server),
		ClientSeed:     s.seeds.client,
		Rounds:         s.seeds.nonce,
	}
	s.seeds.server = next
	s.seeds.nonce = 0
	s.changedLocked()
	return s.snapshotLocked(), nil
}

// AutoplayResult is the outcome of a scripted run.
type AutoplayResult struct {
	Rounds   []Result            `json:"rounds"`
	Logs     []strategy.LogEntry `json:"logs"`
	Snapshot Snapshot            `json:"snapshot"`
}

// Autoplay plays up to rounds free-mode rounds, asking script for each move.
// It stops at the first error and returns the rounds played so far.
func (s *Session) Autoplay(ctx context.Context, script string, rounds int) (*AutoplayResult, error) {
	if rounds <= 0 || rounds > MaxAutoplayRounds {
		return nil, fmt.Errorf("%w: %d (1-%d)", ErrInvalidRounds, rounds, MaxAutoplayRounds)
	}
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	if mode != ModeFree {
		return nil, ErrWrongMode
	}

	vm, err := strategy.NewVM(script)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}

	out := &AutoplayResult{Rounds: make([]Result, 0, rounds)}
	var runErr error
	for i := 0; i < rounds; i++ {
		choice, err := vm.Choose(s.strategyHistory())
		if err != nil {
			runErr = err
			break
		}
		snap, err := s.Play(ctx, choice)
		if err != nil {
			runErr = err
			break
		}
		if snap.LastResult != nil {
			out.Rounds = append(out.Rounds, *snap.LastResult)
		}
	}
	out.Logs = vm.Logs()
	out.Snapshot = s.Snapshot()
	return out, runErr
}

func (s *Session) strategyHistory() []strategy.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]strategy.HistoryEntry, len(s.history))
	for i, r := range s.history {
		out[i] = strategy.HistoryEntry{
			Player:   r.PlayerChoice.String(),
			Opponent: r.OpponentChoice.String(),
			Outcome:  string(r.Outcome),
		}
	}
	return out
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:           s.id,
		Mode:         s.mode,
		Status:       s.status,
		Stats:        s.stats.view(),
		Message:      s.message,
		IsConnected:  s.connected(),
		PlayerExists: s.playerExists,
		Fairness: Fairness{
			ServerSeedHash: engine.HashServerSeed(s.seeds.server),
			ClientSeed:     s.seeds.client,
			Nonce:          s.seeds.nonce,
			Previous:       s.seeds.previous,
		},
		UpdatedAt: s.lastActive,
	}
	if s.lastResult != nil {
		r := *s.lastResult
		snap.LastResult = &r
	}
	if s.pendingChoice != nil {
		c := *s.pendingChoice
		snap.PendingChoice = &c
	}
	snap.IsPending = s.status == StatusProcessing && s.pendingChoice != nil

	var network chain.Network
	if s.chain != nil {
		network = s.chain.Network()
		snap.Network = network.Name
	}
	if s.wallet != nil {
		snap.Wallet = s.wallet.Hex()
		snap.WalletURL = network.ExplorerAddressURL(snap.Wallet)
	}
	switch {
	case s.pendingTx != (common.Hash{}):
		snap.PendingTx = s.pendingTx.Hex()
		snap.TxURL = network.ExplorerTxURL(snap.PendingTx)
	case s.lastTx != (common.Hash{}):
		snap.TxURL = network.ExplorerTxURL(s.lastTx.Hex())
	}

	if s.status == StatusFinished && s.lastResult != nil {
		tally := farcaster.Tally{Wins: s.stats.wins, Losses: s.stats.losses, Ties: s.stats.ties}
		if u, err := farcaster.ShareURL(s.lastResult.Outcome, tally, s.appURL); err == nil {
			snap.ShareURL = u
		}
	}
	return snap
}

// changedLocked stamps the activity time and fans the new state out.
func (s *Session) changedLocked() {
	s.lastActive = s.clock.Now()
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Drop the oldest queued snapshot so slow readers see the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Subscribe returns a channel that receives a snapshot on every change,
// starting with the current state. Call the returned func to unsubscribe.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { s.unsubscribe(ch) })
	}
}

func (s *Session) unsubscribe(ch chan Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// Close cancels in-flight confirmations and closes all subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.mu.Unlock()
}
