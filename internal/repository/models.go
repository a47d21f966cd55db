package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cosmicduel/duel-server/internal/card"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when a session is not in the expected status
	ErrStatusConflict = errors.New("game session status changed concurrently")
	// ErrVersionConflict is returned when another writer saved the game state
	// since the caller read it
	ErrVersionConflict = errors.New("game state was saved concurrently")
)

// GameStatus is the persisted lifecycle of a game session
type GameStatus string

const (
	StatusWaiting   GameStatus = "waiting"
	StatusActive    GameStatus = "active"
	StatusFinished  GameStatus = "finished"
	StatusCancelled GameStatus = "cancelled"
)

// ActionType classifies entries in the game action log
type ActionType string

const (
	ActionCreateGame ActionType = "CREATE_GAME"
	ActionJoinGame   ActionType = "JOIN_GAME"
	ActionPlayCard   ActionType = "PLAY_CARD"
	ActionEndTurn    ActionType = "END_TURN"
	ActionGameEnd    ActionType = "GAME_END"
)

// SystemPlayer is recorded as the actor of server-initiated actions
const SystemPlayer = "system"

// GameSession is one staked match. Player2 and Winner are empty until set.
// Version counts state saves; SaveState only succeeds against the version
// the caller last read.
type GameSession struct {
	ID            uuid.UUID  `json:"id"`
	Player1       string     `json:"player1"`
	Player2       string     `json:"player2,omitempty"`
	StakeAmount   int64      `json:"stakeAmount"`
	Status        GameStatus `json:"status"`
	Winner        string     `json:"winner,omitempty"`
	Turn          int        `json:"turn"`
	CurrentPlayer string     `json:"currentPlayer,omitempty"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Players returns the seated addresses in seat order
func (s *GameSession) Players() []string {
	if s.Player2 == "" {
		return []string{s.Player1}
	}
	return []string{s.Player1, s.Player2}
}

// PlayerState is the persisted copy of one player's engine state
type PlayerState struct {
	GameID    uuid.UUID `json:"gameId"`
	Address   string    `json:"address"`
	Health    int       `json:"health"`
	Energy    int       `json:"energy"`
	MaxEnergy int       `json:"maxEnergy"`
	Hand      []string  `json:"hand"`
	Field     []string  `json:"field"`
	Deck      []string  `json:"deck"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GameAction is an append-only log entry
type GameAction struct {
	ID         uuid.UUID       `json:"id"`
	GameID     uuid.UUID       `json:"gameId"`
	Player     string          `json:"player"`
	ActionType ActionType      `json:"actionType"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewAction builds a log entry, encoding data as JSON
func NewAction(gameID uuid.UUID, player string, actionType ActionType, data any) (*GameAction, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &GameAction{
		ID:         uuid.New(),
		GameID:     gameID,
		Player:     player,
		ActionType: actionType,
		Data:       raw,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// Store is the durable storage the game server needs
type Store interface {
	CreateSession(ctx context.Context, s *GameSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*GameSession, error)
	// TransitionSession writes s only if the stored status still equals from
	TransitionSession(ctx context.Context, s *GameSession, from GameStatus) error

	ListPlayerStates(ctx context.Context, gameID uuid.UUID) ([]PlayerState, error)
	// SaveState updates the session's turn fields and upserts the player rows atomically
	SaveState(ctx context.Context, s *GameSession, states []PlayerState) error

	ListCards(ctx context.Context) ([]card.Record, error)
	UpsertCards(ctx context.Context, cards []card.Record) error

	AppendAction(ctx context.Context, a *GameAction) error
	// ListActions returns the newest limit entries, newest first
	ListActions(ctx context.Context, gameID uuid.UUID, limit int) ([]GameAction, error)
}
