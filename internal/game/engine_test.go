package game

import (
	"math/rand/v2"
	"testing"

	"github.com/cosmicduel/duel-server/internal/card"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0xalice"
	bob   = "0xbob"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Source == nil {
		opts.Source = rand.NewPCG(1, 2)
	}
	return NewEngine("11111111-1111-1111-1111-111111111111", card.DefaultCatalog(), opts)
}

func startedEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e := newTestEngine(t, opts)
	require.NoError(t, e.AddPlayer(alice))
	require.NoError(t, e.AddPlayer(bob))
	require.NoError(t, e.StartGame())
	return e
}

func TestAddPlayer(t *testing.T) {
	e := newTestEngine(t, Options{})
	assert.Equal(t, PhaseEmpty, e.Phase())

	require.NoError(t, e.AddPlayer(alice))
	assert.Equal(t, PhaseForming, e.Phase())
	assert.ErrorIs(t, e.AddPlayer(alice), ErrDuplicatePlayer)

	require.NoError(t, e.AddPlayer(bob))
	assert.Equal(t, PhaseReady, e.Phase())
	assert.ErrorIs(t, e.AddPlayer("0xcarol"), ErrGameFull)
	err := e.AddPlayer("")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.NotErrorIs(t, err, ErrPlayerNotFound)

	assert.Equal(t, []string{alice, bob}, e.Players())

	p, ok := e.Player(alice)
	require.True(t, ok)
	assert.Equal(t, StartingHealth, p.Health)
	assert.Equal(t, StartingEnergy, p.Energy)
	assert.Equal(t, StartingMaxEnergy, p.MaxEnergy)
}

func TestStartGameRequiresTwoPlayers(t *testing.T) {
	e := newTestEngine(t, Options{})
	assert.ErrorIs(t, e.StartGame(), ErrInvalidPlayerCount)

	require.NoError(t, e.AddPlayer(alice))
	assert.ErrorIs(t, e.StartGame(), ErrInvalidPlayerCount)
	assert.Equal(t, 0, e.Turn())
}

func TestStartGameDealsRarityWeightedDecks(t *testing.T) {
	e := startedEngine(t, Options{})

	assert.Equal(t, PhaseInProgress, e.Phase())
	assert.Equal(t, 1, e.Turn())
	assert.Equal(t, alice, e.CurrentPlayer())
	assert.ErrorIs(t, e.StartGame(), ErrAlreadyStarted)

	want := map[string]int{
		"cosmic_ray":     3,
		"quantum_shield": 3,
		"galaxy_wisp":    3,
		"stellar_engine": 2,
		"nebula_dragon":  1,
		"black_hole":     1,
	}
	for _, address := range []string{alice, bob} {
		p, ok := e.Player(address)
		require.True(t, ok)
		assert.Len(t, p.Hand, StartingHandSize)
		assert.Len(t, p.Deck, 13-StartingHandSize)

		got := make(map[string]int)
		for _, id := range append(p.Hand, p.Deck...) {
			got[id]++
		}
		assert.Equal(t, want, got, "player %s", address)
	}
}

func TestGenerateDeckTruncates(t *testing.T) {
	defs := card.DefaultCards()
	for i := 0; i < 4; i++ {
		defs = append(defs, card.Definition{
			ID:      string(rune('a'+i)) + "_filler",
			Name:    "Filler",
			Type:    card.TypeCosmic,
			Cost:    1,
			Ability: card.AbilityNone,
			Rarity:  card.RarityCommon,
		})
	}
	catalog := card.NewCatalog(defs)
	e := NewEngine("g", catalog, Options{Source: rand.NewPCG(3, 4)})
	assert.Len(t, e.generateDeck(), MaxDeckSize)
}

func TestPlayCardDirectDamage(t *testing.T) {
	e := startedEngine(t, Options{})
	e.players[alice].Hand = []string{"cosmic_ray", "galaxy_wisp"}

	res, err := e.PlayCard(alice, "cosmic_ray", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.GameEnded)
	assert.Equal(t, 2, res.EnergyUsed)
	assert.Equal(t, "Dealt 3 damage to opponent", res.Effect)

	a, _ := e.Player(alice)
	b, _ := e.Player(bob)
	assert.Equal(t, 27, b.Health)
	assert.Equal(t, 1, a.Energy)
	assert.Equal(t, []string{"galaxy_wisp"}, a.Hand)
	assert.Equal(t, []string{"cosmic_ray"}, a.Field)
}

func TestPlayCardRemovesOneCopy(t *testing.T) {
	e := startedEngine(t, Options{})
	e.players[alice].Hand = []string{"quantum_shield", "cosmic_ray", "quantum_shield"}

	_, err := e.PlayCard(alice, "quantum_shield", "")
	require.NoError(t, err)

	a, _ := e.Player(alice)
	assert.Equal(t, []string{"cosmic_ray", "quantum_shield"}, a.Hand)
	assert.Equal(t, []string{"quantum_shield"}, a.Field)
}

func TestPlayCardValidation(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(e *Engine)
		player string
		cardID string
		want   error
	}{
		{
			name:   "unknown player",
			player: "0xcarol",
			cardID: "cosmic_ray",
			want:   ErrPlayerNotFound,
		},
		{
			name:   "unknown card",
			player: alice,
			cardID: "supernova",
			want:   ErrCardNotFound,
		},
		{
			name:   "card not in hand",
			setup:  func(e *Engine) { e.players[alice].Hand = []string{"galaxy_wisp"} },
			player: alice,
			cardID: "cosmic_ray",
			want:   ErrCardNotInHand,
		},
		{
			name:   "not enough energy",
			setup:  func(e *Engine) { e.players[alice].Hand = []string{"black_hole"} },
			player: alice,
			cardID: "black_hole",
			want:   ErrInsufficientEnergy,
		},
		{
			name: "field full",
			setup: func(e *Engine) {
				e.players[alice].Hand = []string{"galaxy_wisp"}
				e.players[alice].Field = []string{"quantum_shield", "quantum_shield", "quantum_shield", "galaxy_wisp", "galaxy_wisp"}
			},
			player: alice,
			cardID: "galaxy_wisp",
			want:   ErrFieldFull,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := startedEngine(t, Options{})
			if tt.setup != nil {
				tt.setup(e)
			}
			before := e.Snapshot()

			_, err := e.PlayCard(tt.player, tt.cardID, "")
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsRuleError(err))

			after := e.Snapshot()
			after.Timestamp = before.Timestamp
			assert.Equal(t, before, after, "failed play must not change state")
		})
	}
}

func TestPlayCardBeforeStartAndAfterEnd(t *testing.T) {
	e := newTestEngine(t, Options{})
	require.NoError(t, e.AddPlayer(alice))
	require.NoError(t, e.AddPlayer(bob))

	_, err := e.PlayCard(alice, "cosmic_ray", "")
	assert.ErrorIs(t, err, ErrGameNotStarted)

	require.NoError(t, e.StartGame())
	e.players[bob].Health = 1
	e.players[alice].Hand = []string{"cosmic_ray", "cosmic_ray"}
	res, err := e.PlayCard(alice, "cosmic_ray", "")
	require.NoError(t, err)
	require.True(t, res.GameEnded)

	_, err = e.PlayCard(alice, "cosmic_ray", "")
	assert.ErrorIs(t, err, ErrGameOver)
	_, err = e.EndTurn(alice)
	assert.ErrorIs(t, err, ErrGameOver)
}

func TestEnergyAccounting(t *testing.T) {
	e := startedEngine(t, Options{})
	e.players[alice].Energy = 10
	e.players[alice].Hand = []string{"nebula_dragon", "stellar_engine", "quantum_shield", "galaxy_wisp"}

	energy := 10
	for _, id := range []string{"nebula_dragon", "stellar_engine", "quantum_shield"} {
		def, ok := e.catalog.Get(id)
		require.True(t, ok)

		res, err := e.PlayCard(alice, id, "")
		require.NoError(t, err)
		energy -= def.Cost
		assert.Equal(t, def.Cost, res.EnergyUsed)

		a, _ := e.Player(alice)
		assert.Equal(t, energy, a.Energy)
	}

	a, _ := e.Player(alice)
	assert.Equal(t, StartingMaxEnergy+1, a.MaxEnergy, "stellar_engine raises max energy")
	assert.LessOrEqual(t, len(a.Field), MaxFieldSize)
}

func TestDestroyAllClearsEveryField(t *testing.T) {
	e := startedEngine(t, Options{})
	e.players[alice].Energy = 5
	e.players[alice].Hand = []string{"black_hole"}
	e.players[alice].Field = []string{"quantum_shield", "nebula_dragon"}
	e.players[bob].Field = []string{"galaxy_wisp", "stellar_engine", "quantum_shield"}

	res, err := e.PlayCard(alice, "black_hole", "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.GameEnded)
	assert.Equal(t, "Black hole consumed all creatures", res.Effect)

	a, _ := e.Player(alice)
	b, _ := e.Player(bob)
	assert.Empty(t, a.Field)
	assert.Empty(t, b.Field)
	assert.Equal(t, 0, a.Energy)
	assert.Equal(t, StartingHealth-8, b.Health)
}

func TestBlackHoleEndsGame(t *testing.T) {
	e := startedEngine(t, Options{})
	e.players[alice].Energy = 5
	e.players[alice].Hand = []string{"black_hole"}
	e.players[bob].Health = 5

	res, err := e.PlayCard(alice, "black_hole", "")
	require.NoError(t, err)
	assert.True(t, res.GameEnded)
	assert.Equal(t, alice, res.Winner)
	assert.True(t, e.IsOver())
	assert.Equal(t, alice, e.Winner())
	assert.Equal(t, PhaseTerminal, e.Phase())
}

func TestDrawCard(t *testing.T) {
	e := startedEngine(t, Options{})
	e.players[alice].Hand = []string{"galaxy_wisp"}
	e.players[alice].Deck = []string{"cosmic_ray", "nebula_dragon"}

	res, err := e.PlayCard(alice, "galaxy_wisp", "")
	require.NoError(t, err)
	assert.Equal(t, "Drew Nebula Dragon", res.Effect)

	a, _ := e.Player(alice)
	assert.Equal(t, []string{"nebula_dragon"}, a.Hand)
	assert.Equal(t, []string{"cosmic_ray"}, a.Deck)

	e.players[alice].Hand = []string{"galaxy_wisp"}
	e.players[alice].Deck = nil
	res, err = e.PlayCard(alice, "galaxy_wisp", "")
	require.NoError(t, err)
	assert.Equal(t, "No cards left to draw", res.Effect)
}

func TestTurnOrder(t *testing.T) {
	t.Run("not enforced by default", func(t *testing.T) {
		e := startedEngine(t, Options{})
		e.players[bob].Hand = []string{"quantum_shield"}
		_, err := e.PlayCard(bob, "quantum_shield", "")
		assert.NoError(t, err)
	})

	t.Run("enforced", func(t *testing.T) {
		e := startedEngine(t, Options{EnforceTurnOrder: true})
		e.players[bob].Hand = []string{"quantum_shield"}
		_, err := e.PlayCard(bob, "quantum_shield", "")
		assert.ErrorIs(t, err, ErrNotYourTurn)

		_, err = e.EndTurn(alice)
		require.NoError(t, err)
		_, err = e.PlayCard(bob, "quantum_shield", "")
		assert.NoError(t, err)
	})
}

func TestEndTurn(t *testing.T) {
	e := startedEngine(t, Options{})

	_, err := e.EndTurn(bob)
	assert.ErrorIs(t, err, ErrNotYourTurn)
	_, err = e.EndTurn("0xcarol")
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	before, _ := e.Player(bob)
	res, err := e.EndTurn(alice)
	require.NoError(t, err)
	assert.Equal(t, TurnResult{Player: alice, NextPlayer: bob, Turn: 2, Energy: 3, Drew: true}, res)
	assert.Equal(t, bob, e.CurrentPlayer())

	after, _ := e.Player(bob)
	assert.Len(t, after.Hand, len(before.Hand)+1)
	assert.Len(t, after.Deck, len(before.Deck)-1)

	// round two starts on turn three
	res, err = e.EndTurn(bob)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Turn)
	assert.Equal(t, 4, res.Energy)

	e.players[alice].Deck = nil
	e.players[bob].MaxEnergy = 4
	for i := 0; i < 5; i++ {
		_, err = e.EndTurn(e.CurrentPlayer())
		require.NoError(t, err)
	}
	b, _ := e.Player(bob)
	assert.Equal(t, 4, b.Energy, "energy is capped at max energy")

	res, err = e.EndTurn(bob)
	require.NoError(t, err)
	assert.False(t, res.Drew)
}

func TestFailedPlay(t *testing.T) {
	res := FailedPlay(ErrFieldFull)
	assert.False(t, res.Success)
	assert.Equal(t, KindFieldFull, res.ErrorKind)
	assert.Equal(t, "Field is full", res.Error)
}
