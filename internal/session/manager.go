package session

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/MJE43/celo-rps/internal/events"
	"github.com/MJE43/celo-rps/internal/store"
)

// Recorder persists confirmed on-chain plays.
type Recorder interface {
	SavePlay(ctx context.Context, play *store.Play) error
}

// ManagerConfig wires sessions to the shared chain client and sinks.
type ManagerConfig struct {
	Chain         Chain
	Wallet        *common.Address
	Clock         clockwork.Clock
	ThinkDelay    time.Duration
	TTL           time.Duration
	SweepInterval time.Duration
	AppURL        string
	Publisher     events.Publisher
	Recorder      Recorder
}

// Manager is the in-memory session registry.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager fills defaults and returns an empty registry.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// ChainEnabled reports whether on-chain play is possible at all.
func (m *Manager) ChainEnabled() bool {
	return m.cfg.Chain != nil && m.cfg.Wallet != nil
}

// Create starts a session. An on-chain session loads its counters right
// away; a failed read is logged and leaves them at zero.
func (m *Manager) Create(ctx context.Context, mode Mode) (*Session, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	s, err := New(Options{
		ID:         uuid.New().String(),
		Mode:       ModeFree,
		Chain:      m.cfg.Chain,
		Wallet:     m.cfg.Wallet,
		Clock:      m.cfg.Clock,
		ThinkDelay: m.cfg.ThinkDelay,
		AppURL:     m.cfg.AppURL,
		OnRound:    m.roundFinished,
	})
	if err != nil {
		return nil, err
	}
	if mode == ModeOnChain {
		if _, err := s.SwitchMode(ctx, ModeOnChain); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID()).Msg("initial on-chain refresh failed")
		}
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	log.Info().Str("session_id", s.ID()).Str("mode", string(mode)).Msg("session created")
	return s, nil
}

// Get looks a session up by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete closes and removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were removed. Sessions with a transaction in flight are kept.
func (m *Manager) Sweep() int {
	now := m.cfg.Clock.Now()
	var evicted []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastActive()) < m.cfg.TTL {
			continue
		}
		if s.Snapshot().IsPending {
			continue
		}
		delete(m.sessions, id)
		evicted = append(evicted, s)
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.Close()
		log.Debug().Str("session_id", s.ID()).Msg("session evicted")
	}
	return len(evicted)
}

// Run sweeps on every tick until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := m.cfg.Clock.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := m.Sweep(); n > 0 {
				log.Info().Int("evicted", n).Int("live", m.Len()).Msg("idle sessions evicted")
			}
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

const sinkTimeout = 5 * time.Second

func (m *Manager) roundFinished(ev RoundFinished) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	re := events.NewRoundEvent(ev.SessionID, string(ev.Mode), ev.Result.Round)
	if ev.Played != nil {
		re.TxHash = ev.Played.TxHash.Hex()
		re.Player = ev.Played.Player.Hex()
	}
	if err := m.cfg.Publisher.Publish(ctx, re); err != nil {
		log.Error().Err(err).Str("session_id", ev.SessionID).Msg("publish round event")
	}

	if ev.Played == nil || m.cfg.Recorder == nil {
		return
	}
	play := &store.Play{
		TxHash:         ev.Played.TxHash.Hex(),
		Player:         ev.Played.Player.Hex(),
		PlayerChoice:   uint8(ev.Played.PlayerChoice),
		OpponentChoice: uint8(ev.Played.OpponentChoice),
		Outcome:        string(ev.Played.Outcome),
		Verdict:        ev.Played.Verdict,
		BlockNumber:    ev.Played.BlockNumber,
		Network:        ev.Network,
		SessionID:      ev.SessionID,
	}
	if err := m.cfg.Recorder.SavePlay(ctx, play); err != nil {
		log.Error().Err(err).Str("tx_hash", play.TxHash).Msg("persist confirmed play")
	}
}
