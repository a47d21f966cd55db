package lobby

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cosmicduel/duel-server/internal/card"
	"github.com/cosmicduel/duel-server/internal/game"
	"github.com/cosmicduel/duel-server/internal/ledger"
	"github.com/cosmicduel/duel-server/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	alice = "0xalice"
	bob   = "0xbob"
	carol = "0xcarol"
)

type fixture struct {
	store    *repository.MemoryStore
	stakes   *ledger.DemoLedger
	registry *game.Registry
	replays  *game.ReplayRecorder
	lobby    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := repository.NewMemoryStore()
	catalog := card.DefaultCatalog()
	opts := game.Options{EnforceTurnOrder: true}

	registry := game.NewRegistry(game.NewReconstructor(store, catalog, opts, logger), time.Second, logger)
	stakes := ledger.NewDemoLedger(100)
	replays := game.NewReplayRecorder(logger, t.TempDir())
	svc := NewService(store, stakes, registry, catalog, opts, 10, logger)
	svc.SetReplays(replays)

	return &fixture{store: store, stakes: stakes, registry: registry, replays: replays, lobby: svc}
}

func actionTypes(t *testing.T, f *fixture, id uuid.UUID) []repository.ActionType {
	t.Helper()
	actions, err := f.store.ListActions(context.Background(), id, 100)
	require.NoError(t, err)
	var out []repository.ActionType
	for i := len(actions) - 1; i >= 0; i-- {
		out = append(out, actions[i].ActionType)
	}
	return out
}

func TestCreateGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, err := f.lobby.CreateGame(ctx, alice, 25)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusWaiting, session.Status)
	assert.Equal(t, int64(25), session.StakeAmount)
	assert.Equal(t, alice, session.Player1)

	balance, _ := f.stakes.GetBalance(ctx, alice)
	assert.Equal(t, int64(75), balance)
	assert.Equal(t, int64(25), f.stakes.Locked(session.ID.String()))

	actions, err := f.store.ListActions(ctx, session.ID, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, repository.ActionCreateGame, actions[0].ActionType)
	var data map[string]any
	require.NoError(t, json.Unmarshal(actions[0].Data, &data))
	assert.EqualValues(t, 25, data["stakeAmount"])
}

func TestCreateGameDefaultsStake(t *testing.T) {
	f := newFixture(t)
	session, err := f.lobby.CreateGame(context.Background(), alice, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), session.StakeAmount)
}

func TestCreateGameRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.lobby.CreateGame(ctx, "", 10)
	assert.ErrorIs(t, err, ErrMissingPlayer)

	_, err = f.lobby.CreateGame(ctx, alice, -5)
	assert.ErrorIs(t, err, ErrInvalidStake)

	_, err = f.lobby.CreateGame(ctx, alice, 101)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	balance, _ := f.stakes.GetBalance(ctx, alice)
	assert.Equal(t, int64(100), balance, "rejected games lock nothing")
}

func TestJoinGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.lobby.CreateGame(ctx, alice, 20)
	require.NoError(t, err)
	gameID := created.ID.String()

	session, err := f.lobby.JoinGame(ctx, gameID, bob)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusActive, session.Status)
	assert.Equal(t, []string{alice, bob}, session.Players())
	assert.Equal(t, 1, session.Turn)
	assert.Equal(t, alice, session.CurrentPlayer)
	assert.Equal(t, int64(40), f.stakes.Locked(gameID))

	stored, err := f.store.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusActive, stored.Status)
	assert.Equal(t, bob, stored.Player2)

	rows, err := f.store.ListPlayerStates(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, game.StartingHealth, row.Health)
		assert.Len(t, row.Hand, game.StartingHandSize)
	}

	assert.Equal(t, 1, f.registry.Len(), "engine is cached without a reconstruction")
	err = f.registry.View(ctx, gameID, func(e *game.Engine) error {
		p, ok := e.Player(bob)
		require.True(t, ok)
		assert.Equal(t, rows[1].Hand, p.Hand)
		assert.Equal(t, stored.Version, e.Version(), "cached engine matches the stored version")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.replays.Finish(gameID))
	replay, err := f.replays.Load(gameID)
	require.NoError(t, err)
	assert.Equal(t, 1, replay.Size())

	assert.Equal(t, []repository.ActionType{repository.ActionCreateGame, repository.ActionJoinGame}, actionTypes(t, f, created.ID))
}

func TestJoinGameRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.lobby.CreateGame(ctx, alice, 60)
	require.NoError(t, err)
	gameID := created.ID.String()

	_, err = f.lobby.JoinGame(ctx, gameID, alice)
	assert.ErrorIs(t, err, ErrOwnGame)

	_, err = f.lobby.JoinGame(ctx, "not-a-uuid", bob)
	assert.ErrorIs(t, err, ErrGameUnavailable)

	_, err = f.lobby.JoinGame(ctx, uuid.NewString(), bob)
	assert.ErrorIs(t, err, ErrGameUnavailable)

	_, err = f.lobby.JoinGame(ctx, gameID, "")
	assert.ErrorIs(t, err, ErrMissingPlayer)

	// bob can afford 60 once, not twice
	_, err = f.lobby.CreateGame(ctx, bob, 60)
	require.NoError(t, err)
	_, err = f.lobby.JoinGame(ctx, gameID, bob)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	stored, err := f.store.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusWaiting, stored.Status)

	_, err = f.lobby.JoinGame(ctx, gameID, carol)
	require.NoError(t, err)
	_, err = f.lobby.JoinGame(ctx, gameID, bob)
	assert.ErrorIs(t, err, ErrGameUnavailable, "a started game cannot be joined")
}

// lockingLedger accepts balance checks but refuses every lock after the first
type lockingLedger struct {
	*ledger.DemoLedger
	locks int
}

func (l *lockingLedger) LockStake(ctx context.Context, address string, amount int64, gameID string) (bool, error) {
	l.locks++
	if l.locks > 1 {
		return false, nil
	}
	return l.DemoLedger.LockStake(ctx, address, amount, gameID)
}

func TestJoinGameReopensOnLockFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	logger := zaptest.NewLogger(t)
	stakes := &lockingLedger{DemoLedger: ledger.NewDemoLedger(100)}
	svc := NewService(f.store, stakes, f.registry, card.DefaultCatalog(), game.Options{}, 10, logger)

	created, err := svc.CreateGame(ctx, alice, 10)
	require.NoError(t, err)
	_, err = svc.JoinGame(ctx, created.ID.String(), bob)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	stored, err := f.store.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusWaiting, stored.Status)
	assert.Empty(t, stored.Player2)
	assert.Equal(t, 0, f.registry.Len())
}

func TestConcurrentJoinSeatsOnePlayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.lobby.CreateGame(ctx, alice, 10)
	require.NoError(t, err)

	type outcome struct {
		player string
		err    error
	}
	results := make(chan outcome, 2)
	for _, p := range []string{bob, carol} {
		go func(p string) {
			_, err := f.lobby.JoinGame(ctx, created.ID.String(), p)
			results <- outcome{player: p, err: err}
		}(p)
	}

	var winners []string
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			winners = append(winners, r.player)
		} else {
			assert.ErrorIs(t, r.err, ErrGameUnavailable)
		}
	}
	require.Len(t, winners, 1)

	stored, err := f.store.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], stored.Player2)
	assert.Equal(t, int64(20), f.stakes.Locked(created.ID.String()))
}

func TestCancelGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.lobby.CreateGame(ctx, alice, 30)
	require.NoError(t, err)
	gameID := created.ID.String()

	assert.ErrorIs(t, f.lobby.CancelGame(ctx, gameID, bob), ErrNotCreator)
	assert.ErrorIs(t, f.lobby.CancelGame(ctx, uuid.NewString(), alice), ErrGameNotFound)

	require.NoError(t, f.lobby.CancelGame(ctx, gameID, alice))
	stored, err := f.store.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCancelled, stored.Status)

	balance, _ := f.stakes.GetBalance(ctx, alice)
	assert.Equal(t, int64(100), balance)
	assert.Zero(t, f.stakes.Locked(gameID))

	assert.ErrorIs(t, f.lobby.CancelGame(ctx, gameID, alice), ErrGameUnavailable)
	_, err = f.lobby.JoinGame(ctx, gameID, bob)
	assert.ErrorIs(t, err, ErrGameUnavailable)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.lobby.CreateGame(ctx, alice, 15)
	require.NoError(t, err)
	gameID := created.ID.String()

	waiting, err := f.lobby.Summary(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusWaiting, waiting.Status)
	assert.Empty(t, waiting.Players)

	_, err = f.lobby.JoinGame(ctx, gameID, bob)
	require.NoError(t, err)

	active, err := f.lobby.Summary(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusActive, active.Status)
	assert.Equal(t, int64(15), active.StakeAmount)
	assert.Equal(t, alice, active.CurrentPlayer)
	require.Len(t, active.Players, 2)
	assert.Equal(t, PlayerSummary{
		Health:    game.StartingHealth,
		Energy:    game.StartingEnergy,
		MaxEnergy: game.StartingMaxEnergy,
		HandSize:  game.StartingHandSize,
		DeckSize:  8,
	}, active.Players[bob])

	_, err = f.lobby.Summary(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrGameNotFound)

	history, err := f.lobby.History(ctx, gameID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, repository.ActionJoinGame, history[0].ActionType)

	_, err = f.lobby.History(ctx, "nope", 10)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.lobby.Replay(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrGameNotFound)

	created, err := f.lobby.CreateGame(ctx, alice, 10)
	require.NoError(t, err)
	gameID := created.ID.String()
	_, err = f.lobby.JoinGame(ctx, gameID, bob)
	require.NoError(t, err)

	_, err = f.lobby.Replay(ctx, gameID)
	assert.ErrorIs(t, err, ErrGameNotFinished, "live games keep their hands private")

	session, err := f.store.GetSession(ctx, created.ID)
	require.NoError(t, err)
	session.Status = repository.StatusFinished
	session.Winner = alice
	require.NoError(t, f.store.TransitionSession(ctx, session, repository.StatusActive))

	_, err = f.lobby.Replay(ctx, gameID)
	assert.ErrorIs(t, err, ErrReplayNotFound)

	require.NoError(t, f.replays.Finish(gameID))
	replay, err := f.lobby.Replay(ctx, gameID)
	require.NoError(t, err)
	require.Len(t, replay.States, 1)
	require.Len(t, replay.Checksums, 1)
	assert.Equal(t, 1, replay.States[0].Turn)
	assert.Len(t, replay.States[0].Players[bob].Hand, game.StartingHandSize)

	want, err := replay.States[0].ComputeChecksum()
	require.NoError(t, err)
	assert.Equal(t, want.Hash, replay.Checksums[0])
}
