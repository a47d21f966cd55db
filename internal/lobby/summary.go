package lobby

import (
	"context"
	"errors"
	"fmt"

	"github.com/cosmicduel/duel-server/internal/game"
	"github.com/cosmicduel/duel-server/internal/repository"
	"github.com/google/uuid"
)

// PlayerSummary is the public size-only view of a persisted player row
type PlayerSummary struct {
	Health    int `json:"health"`
	Energy    int `json:"energy"`
	MaxEnergy int `json:"maxEnergy"`
	HandSize  int `json:"handSize"`
	FieldSize int `json:"fieldSize"`
	DeckSize  int `json:"deckSize"`
}

// Summary describes a session from storage without loading its engine
type Summary struct {
	GameID        string                   `json:"gameId"`
	Status        repository.GameStatus    `json:"status"`
	StakeAmount   int64                    `json:"stakeAmount"`
	Turn          int                      `json:"turn"`
	CurrentPlayer string                   `json:"currentPlayer,omitempty"`
	Winner        string                   `json:"winner,omitempty"`
	Players       map[string]PlayerSummary `json:"players"`
}

// Summary returns the stored status of a game. Card identities are never
// included.
func (s *Service) Summary(ctx context.Context, gameID string) (*Summary, error) {
	id, err := uuid.Parse(gameID)
	if err != nil {
		return nil, ErrGameNotFound
	}
	session, err := s.store.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	rows, err := s.store.ListPlayerStates(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load player states: %w", err)
	}

	out := &Summary{
		GameID:        gameID,
		Status:        session.Status,
		StakeAmount:   session.StakeAmount,
		Turn:          session.Turn,
		CurrentPlayer: session.CurrentPlayer,
		Winner:        session.Winner,
		Players:       make(map[string]PlayerSummary, len(rows)),
	}
	for _, row := range rows {
		out.Players[row.Address] = PlayerSummary{
			Health:    row.Health,
			Energy:    row.Energy,
			MaxEnergy: row.MaxEnergy,
			HandSize:  len(row.Hand),
			FieldSize: len(row.Field),
			DeckSize:  len(row.Deck),
		}
	}
	return out, nil
}

// History returns the newest limit action log entries of a game
func (s *Service) History(ctx context.Context, gameID string, limit int) ([]repository.GameAction, error) {
	id, err := uuid.Parse(gameID)
	if err != nil {
		return nil, ErrGameNotFound
	}
	if _, err := s.store.GetSession(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	actions, err := s.store.ListActions(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

// ReplayView is a finished game's recorded states with the checksum each was
// verified against
type ReplayView struct {
	GameID    string           `json:"gameId"`
	States    []*game.Snapshot `json:"states"`
	Checksums []string         `json:"checksums"`
}

// Replay returns the saved replay of a finished game. Full hands and decks
// are included, so nothing is served while the game is running.
func (s *Service) Replay(ctx context.Context, gameID string) (*ReplayView, error) {
	id, err := uuid.Parse(gameID)
	if err != nil {
		return nil, ErrGameNotFound
	}
	session, err := s.store.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.Status != repository.StatusFinished {
		return nil, ErrGameNotFinished
	}

	replay, err := s.replays.Load(gameID)
	if errors.Is(err, game.ErrReplayNotFound) {
		return nil, ErrReplayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load replay: %w", err)
	}

	out := &ReplayView{
		GameID:    gameID,
		States:    replay.States,
		Checksums: make([]string, 0, len(replay.Checksums)),
	}
	for _, c := range replay.Checksums {
		out.Checksums = append(out.Checksums, c.Hash)
	}
	return out, nil
}
