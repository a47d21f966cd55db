package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cosmicduel/duel-server/internal/game"
)

// Outbound event types
const (
	EventConnectionEstablished = "connection_established"
	EventCardPlayed            = "card_played"
	EventPlayerJoined          = "player_joined"
	EventPlayerLeft            = "player_left"
	EventTurnEnded             = "turn_ended"
	EventGameState             = "game_state"
	EventGameEnded             = "game_ended"
	EventError                 = "error"
)

// Inbound intent types
const (
	IntentPlayCard = "play_card"
	IntentJoinGame = "join_game"
	IntentEndTurn  = "end_turn"
)

var ErrUnknownIntent = errors.New("unknown intent type")

// Intent is a message received from a client
type Intent struct {
	Type          string `json:"type"`
	PlayerAddress string `json:"playerAddress"`
	CardID        string `json:"cardId,omitempty"`
	Target        string `json:"target,omitempty"`
}

// ParseIntent decodes and checks a client message
func ParseIntent(data []byte) (Intent, error) {
	var in Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return Intent{}, fmt.Errorf("malformed message: %w", err)
	}
	switch in.Type {
	case IntentPlayCard:
		if in.CardID == "" {
			return Intent{}, fmt.Errorf("play_card requires cardId")
		}
	case IntentJoinGame, IntentEndTurn:
	default:
		return Intent{}, fmt.Errorf("%w: %q", ErrUnknownIntent, in.Type)
	}
	return in, nil
}

// Event is a message sent to clients. Only the fields of its type are set.
type Event struct {
	Type       string               `json:"type"`
	Message    string               `json:"message,omitempty"`
	Player     string               `json:"player,omitempty"`
	CardID     string               `json:"cardId,omitempty"`
	Result     *game.PlayResult     `json:"result,omitempty"`
	NextPlayer string               `json:"nextPlayer,omitempty"`
	Turn       int                  `json:"turn,omitempty"`
	Winner     *string              `json:"winner,omitempty"`
	StakeWon   *int64               `json:"stakeWon,omitempty"`
	State      *game.ProjectedState `json:"state,omitempty"`
	ErrorKind  game.ErrorKind       `json:"errorKind,omitempty"`
}

func connectionEstablished() Event {
	return Event{Type: EventConnectionEstablished, Message: "Connected to game"}
}

func cardPlayed(player, cardID string, result game.PlayResult) Event {
	return Event{Type: EventCardPlayed, Player: player, CardID: cardID, Result: &result}
}

func playerJoined(player string) Event {
	return Event{Type: EventPlayerJoined, Player: player, Message: fmt.Sprintf("Player %s joined the game", player)}
}

func playerLeft(player string) Event {
	return Event{Type: EventPlayerLeft, Player: player}
}

func turnEnded(res game.TurnResult) Event {
	return Event{Type: EventTurnEnded, Player: res.Player, NextPlayer: res.NextPlayer, Turn: res.Turn}
}

func gameState(state game.ProjectedState) Event {
	return Event{Type: EventGameState, State: &state}
}

// gameEnded reports the payout; a draw has no winner
func gameEnded(winner string, stakeWon int64) Event {
	ev := Event{Type: EventGameEnded, StakeWon: &stakeWon}
	if winner != "" {
		ev.Winner = &winner
	}
	return ev
}

func errorEvent(err error) Event {
	ev := Event{Type: EventError, Message: err.Error()}
	var re *game.RuleError
	if errors.As(err, &re) {
		ev.ErrorKind = re.Kind
	}
	return ev
}

func encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return data, nil
}
