package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/celo-rps/internal/events"
	"github.com/MJE43/celo-rps/internal/games"
	"github.com/MJE43/celo-rps/internal/store"
)

type memPublisher struct {
	mu     sync.Mutex
	events []events.RoundEvent
}

func (p *memPublisher) Publish(_ context.Context, ev events.RoundEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *memPublisher) Close() error { return nil }

func (p *memPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type memRecorder struct {
	mu    sync.Mutex
	plays []store.Play
}

func (r *memRecorder) SavePlay(_ context.Context, p *store.Play) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plays = append(r.plays, *p)
	return nil
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.plays)
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(ManagerConfig{})
	t.Cleanup(m.Close)

	s, err := m.Create(context.Background(), ModeFree)
	require.NoError(t, err)
	assert.Len(t, s.ID(), 36)

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(s.ID()))
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(s.ID()), ErrNotFound)

	_, err = m.Create(context.Background(), Mode("bogus"))
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestManagerFreeRoundsArePublishedNotPersisted(t *testing.T) {
	pub := &memPublisher{}
	rec := &memRecorder{}
	m := NewManager(ManagerConfig{Publisher: pub, Recorder: rec})
	t.Cleanup(m.Close)

	s, err := m.Create(context.Background(), ModeFree)
	require.NoError(t, err)
	_, err = s.Play(context.Background(), games.Rock)
	require.NoError(t, err)

	assert.Equal(t, 1, pub.count())
	assert.Equal(t, events.TypeRoundFinished, pub.events[0].Type)
	assert.Equal(t, "free", pub.events[0].Mode)
	assert.Zero(t, rec.count())
}

func TestManagerPersistsConfirmedPlays(t *testing.T) {
	fc := newFakeChain()
	w := testWallet
	pub := &memPublisher{}
	rec := &memRecorder{}
	m := NewManager(ManagerConfig{Chain: fc, Wallet: &w, Publisher: pub, Recorder: rec})
	t.Cleanup(m.Close)
	assert.True(t, m.ChainEnabled())

	s, err := m.Create(context.Background(), ModeOnChain)
	require.NoError(t, err)
	assert.Equal(t, ModeOnChain, s.Snapshot().Mode)

	_, err = s.Play(context.Background(), games.Scissors)
	require.NoError(t, err)
	fc.confirm <- confirmation{played: played(games.Scissors, games.Paper)}

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	p := rec.plays[0]
	rec.mu.Unlock()
	assert.Equal(t, testTx.Hex(), p.TxHash)
	assert.Equal(t, "win", p.Outcome)
	assert.Equal(t, "celo", p.Network)
	assert.Equal(t, s.ID(), p.SessionID)
	assert.Equal(t, uint8(games.Scissors), p.PlayerChoice)

	require.Equal(t, 1, pub.count())
	assert.Equal(t, testTx.Hex(), pub.events[0].TxHash)
}

func TestManagerSweepEvictsIdleSessions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(ManagerConfig{Clock: clock, TTL: 10 * time.Minute, SweepInterval: time.Minute})
	t.Cleanup(m.Close)

	old, err := m.Create(context.Background(), ModeFree)
	require.NoError(t, err)
	clock.Advance(6 * time.Minute)
	fresh, err := m.Create(context.Background(), ModeFree)
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	_, err = m.Get(old.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(fresh.ID())
	assert.NoError(t, err)
}

func TestManagerRunSweepsOnTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(ManagerConfig{Clock: clock, TTL: time.Minute, SweepInterval: time.Minute})
	t.Cleanup(m.Close)

	_, err := m.Create(context.Background(), ModeFree)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(2 * time.Minute)

	require.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
