package game

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cosmicduel/duel-server/internal/card"
)

// Player and field limits
const (
	MaxPlayers        = 2
	StartingHealth    = 30
	StartingEnergy    = 3
	StartingMaxEnergy = 10
	MaxFieldSize      = 5
	MaxDeckSize       = 20
	StartingHandSize  = 5
)

// Phase is the lifecycle stage of an engine
type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseForming
	PhaseReady
	PhaseInProgress
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "EMPTY"
	case PhaseForming:
		return "FORMING"
	case PhaseReady:
		return "READY"
	case PhaseInProgress:
		return "IN_PROGRESS"
	case PhaseTerminal:
		return "TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// Player is the per-game state of one participant. Piles hold card ids;
// the deck is a stack whose top is the last element.
type Player struct {
	Address   string
	Health    int
	Energy    int
	MaxEnergy int
	Hand      []string
	Field     []string
	Deck      []string
}

func newPlayer(address string) *Player {
	return &Player{
		Address:   address,
		Health:    StartingHealth,
		Energy:    StartingEnergy,
		MaxEnergy: StartingMaxEnergy,
		Hand:      make([]string, 0),
		Field:     make([]string, 0),
		Deck:      make([]string, 0),
	}
}

func (p *Player) clone() *Player {
	cp := *p
	cp.Hand = append([]string(nil), p.Hand...)
	cp.Field = append([]string(nil), p.Field...)
	cp.Deck = append([]string(nil), p.Deck...)
	return &cp
}

// PlayResult is the outcome of a card play. On a rule violation Success is
// false and Error/ErrorKind describe it.
type PlayResult struct {
	Success    bool      `json:"success"`
	EnergyUsed int       `json:"energyUsed"`
	Effect     string    `json:"effect,omitempty"`
	GameEnded  bool      `json:"gameEnded"`
	Winner     string    `json:"winner,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
}

// FailedPlay converts a rule error into a result suitable for broadcasting
func FailedPlay(err error) PlayResult {
	res := PlayResult{Success: false, Error: err.Error()}
	if re, ok := err.(*RuleError); ok {
		res.ErrorKind = re.Kind
	}
	return res
}

// TurnResult is the outcome of ending a turn
type TurnResult struct {
	Player     string `json:"player"`
	NextPlayer string `json:"nextPlayer"`
	Turn       int    `json:"turn"`
	Energy     int    `json:"energy"`
	Drew       bool   `json:"drew"`
}

// Options configures an engine
type Options struct {
	// EnforceTurnOrder rejects plays from the player who does not hold the turn
	EnforceTurnOrder bool
	// Source seeds deck shuffling; nil uses a time-seeded PCG
	Source rand.Source
}

// Engine holds the authoritative rules state of one game. It is not safe for
// concurrent use; callers serialize access through a Registry.
type Engine struct {
	gameID        string
	catalog       *card.Catalog
	players       map[string]*Player
	order         []string
	turn          int
	currentPlayer string
	over          bool
	winner        string
	enforceTurns  bool
	rng           *rand.Rand
	version       int64
}

// NewEngine creates an empty engine for gameID
func NewEngine(gameID string, catalog *card.Catalog, opts Options) *Engine {
	src := opts.Source
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	}
	return &Engine{
		gameID:       gameID,
		catalog:      catalog,
		players:      make(map[string]*Player, MaxPlayers),
		order:        make([]string, 0, MaxPlayers),
		enforceTurns: opts.EnforceTurnOrder,
		rng:          rand.New(src),
	}
}

// GameID returns the id of the game this engine adjudicates
func (e *Engine) GameID() string { return e.gameID }

// Turn returns the turn counter; 0 before the game starts
func (e *Engine) Turn() int { return e.turn }

// CurrentPlayer returns the address holding the turn, or "" before start
func (e *Engine) CurrentPlayer() string { return e.currentPlayer }

// Winner returns the winner of a finished game, or ""
func (e *Engine) Winner() string { return e.winner }

// IsOver reports whether the game reached a terminal state
func (e *Engine) IsOver() bool { return e.over }

// Version returns the stored version this engine's state was last saved as
// or loaded from
func (e *Engine) Version() int64 { return e.version }

// SetVersion records the stored version after a successful save
func (e *Engine) SetVersion(v int64) { e.version = v }

// Players returns player addresses in the order they were added
func (e *Engine) Players() []string {
	return append([]string(nil), e.order...)
}

// Player returns a copy of a player's state
func (e *Engine) Player(address string) (Player, bool) {
	p, ok := e.players[address]
	if !ok {
		return Player{}, false
	}
	return *p.clone(), true
}

// Phase derives the lifecycle stage from the current state
func (e *Engine) Phase() Phase {
	switch {
	case e.over:
		return PhaseTerminal
	case e.turn > 0:
		return PhaseInProgress
	case len(e.players) == MaxPlayers:
		return PhaseReady
	case len(e.players) > 0:
		return PhaseForming
	default:
		return PhaseEmpty
	}
}

// AddPlayer seats a new player with starting resources
func (e *Engine) AddPlayer(address string) error {
	if address == "" {
		return ErrInvalidAddress
	}
	if _, exists := e.players[address]; exists {
		return ErrDuplicatePlayer
	}
	if len(e.players) >= MaxPlayers {
		return ErrGameFull
	}
	e.players[address] = newPlayer(address)
	e.order = append(e.order, address)
	return nil
}

// StartGame builds and shuffles a deck for each player, deals opening hands,
// and gives the first turn to the first player added.
func (e *Engine) StartGame() error {
	if len(e.players) != MaxPlayers {
		return ErrInvalidPlayerCount
	}
	if e.turn > 0 || e.over {
		return ErrAlreadyStarted
	}

	for _, address := range e.order {
		p := e.players[address]
		p.Deck = e.generateDeck()
		e.shuffle(p.Deck)
		p.Hand = make([]string, 0, StartingHandSize)
		for i := 0; i < StartingHandSize && len(p.Deck) > 0; i++ {
			p.Hand = append(p.Hand, p.popDeck())
		}
	}

	e.currentPlayer = e.order[0]
	e.turn = 1
	return nil
}

// PlayCard moves a card from a player's hand to their field, pays its cost and
// resolves its ability against the opponent. Rule violations are returned as
// *RuleError and leave the state untouched.
func (e *Engine) PlayCard(address, cardID, target string) (PlayResult, error) {
	if e.over {
		return PlayResult{}, ErrGameOver
	}
	if e.turn == 0 {
		return PlayResult{}, ErrGameNotStarted
	}
	player, ok := e.players[address]
	if !ok {
		return PlayResult{}, ErrPlayerNotFound
	}
	if e.enforceTurns && e.currentPlayer != address {
		return PlayResult{}, ErrNotYourTurn
	}
	def, ok := e.catalog.Get(cardID)
	if !ok {
		return PlayResult{}, ErrCardNotFound
	}
	handIdx := indexOf(player.Hand, cardID)
	if handIdx < 0 {
		return PlayResult{}, ErrCardNotInHand
	}
	if player.Energy < def.Cost {
		return PlayResult{}, ErrInsufficientEnergy
	}
	if len(player.Field) >= MaxFieldSize {
		return PlayResult{}, ErrFieldFull
	}

	player.Energy -= def.Cost
	player.Hand = append(player.Hand[:handIdx], player.Hand[handIdx+1:]...)
	player.Field = append(player.Field, def.ID)

	effect := e.applyAbility(def, player)

	res := PlayResult{
		Success:    true,
		EnergyUsed: def.Cost,
		Effect:     effect,
	}
	if e.checkWinCondition() {
		res.GameEnded = true
		res.Winner = e.winner
	}
	return res, nil
}

// EndTurn passes the turn to the opponent. The incoming player's energy is
// refilled for the new round and they draw one card.
func (e *Engine) EndTurn(address string) (TurnResult, error) {
	if e.over {
		return TurnResult{}, ErrGameOver
	}
	if e.turn == 0 {
		return TurnResult{}, ErrGameNotStarted
	}
	if _, ok := e.players[address]; !ok {
		return TurnResult{}, ErrPlayerNotFound
	}
	if e.currentPlayer != address {
		return TurnResult{}, ErrNotYourTurn
	}

	next := e.players[e.opponentOf(address)]
	e.turn++
	e.currentPlayer = next.Address

	round := (e.turn + 1) / 2
	next.Energy = min(StartingEnergy+round-1, next.MaxEnergy)

	res := TurnResult{
		Player:     address,
		NextPlayer: next.Address,
		Turn:       e.turn,
		Energy:     next.Energy,
	}
	if len(next.Deck) > 0 {
		next.Hand = append(next.Hand, next.popDeck())
		res.Drew = true
	}
	return res, nil
}

// applyAbility resolves a card's effect and returns a description of it
func (e *Engine) applyAbility(def card.Definition, caster *Player) string {
	opponent := e.players[e.opponentOf(caster.Address)]

	switch def.Ability {
	case card.AbilityDirectDamage:
		opponent.Health -= def.Power
		return fmt.Sprintf("Dealt %d damage to opponent", def.Power)
	case card.AbilityShield:
		return "Shield applied to your field"
	case card.AbilityEnergyBoost:
		caster.MaxEnergy++
		return "Maximum energy increased"
	case card.AbilityFlying:
		return "Flying creature deployed"
	case card.AbilityDestroyAll:
		for _, address := range e.order {
			e.players[address].Field = make([]string, 0)
		}
		opponent.Health -= def.Power
		return "Black hole consumed all creatures"
	case card.AbilityDrawCard:
		if len(caster.Deck) == 0 {
			return "No cards left to draw"
		}
		drawn := caster.popDeck()
		caster.Hand = append(caster.Hand, drawn)
		name := drawn
		if d, ok := e.catalog.Get(drawn); ok {
			name = d.Name
		}
		return fmt.Sprintf("Drew %s", name)
	case card.AbilityNone:
		return "Card played successfully"
	}
	return "Card played successfully"
}

// checkWinCondition marks the game terminal once any player is defeated.
// The winner is the first player still standing; "" when nobody is.
func (e *Engine) checkWinCondition() bool {
	defeated := false
	for _, address := range e.order {
		if e.players[address].Health <= 0 {
			defeated = true
			break
		}
	}
	if !defeated {
		return false
	}

	e.over = true
	e.winner = ""
	for _, address := range e.order {
		if e.players[address].Health > 0 {
			e.winner = address
			break
		}
	}
	return true
}

func (e *Engine) opponentOf(address string) string {
	for _, a := range e.order {
		if a != address {
			return a
		}
	}
	return ""
}

func (p *Player) popDeck() string {
	last := len(p.Deck) - 1
	id := p.Deck[last]
	p.Deck = p.Deck[:last]
	return id
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
