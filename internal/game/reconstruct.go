package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/cosmicduel/duel-server/internal/card"
	"github.com/cosmicduel/duel-server/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionReader is the part of storage needed to rebuild an engine
type SessionReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (*repository.GameSession, error)
	ListPlayerStates(ctx context.Context, gameID uuid.UUID) ([]repository.PlayerState, error)
}

// Reconstructor rebuilds engines from persisted sessions and player rows
type Reconstructor struct {
	store   SessionReader
	catalog *card.Catalog
	opts    Options
	logger  *zap.Logger
}

// NewReconstructor creates a reconstructor
func NewReconstructor(store SessionReader, catalog *card.Catalog, opts Options, logger *zap.Logger) *Reconstructor {
	return &Reconstructor{
		store:   store,
		catalog: catalog,
		opts:    opts,
		logger:  logger,
	}
}

// Load rebuilds the engine of gameID. It returns ErrSessionNotFound for a
// missing or cancelled session and ErrIncompleteSession unless exactly two
// player rows exist; it never returns a partially populated engine.
func (r *Reconstructor) Load(ctx context.Context, gameID string) (*Engine, error) {
	id, err := uuid.Parse(gameID)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	session, err := r.store.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", gameID, err)
	}
	if session.Status == repository.StatusCancelled {
		return nil, ErrSessionNotFound
	}

	rows, err := r.store.ListPlayerStates(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load player states %s: %w", gameID, err)
	}
	if len(rows) != MaxPlayers {
		return nil, ErrIncompleteSession
	}

	engine, err := RestoreEngine(SnapshotFromRows(session, rows), r.catalog, r.opts)
	if err != nil {
		return nil, err
	}

	r.logger.Info("game engine reconstructed",
		zap.String("game_id", gameID),
		zap.Int("turn", engine.Turn()),
		zap.String("current_player", engine.CurrentPlayer()),
		zap.Bool("game_over", engine.IsOver()),
	)
	return engine, nil
}

// SnapshotFromRows converts persisted rows into an engine snapshot
func SnapshotFromRows(session *repository.GameSession, rows []repository.PlayerState) *Snapshot {
	s := &Snapshot{
		GameID:        session.ID.String(),
		Turn:          session.Turn,
		CurrentPlayer: session.CurrentPlayer,
		Over:          session.Status == repository.StatusFinished,
		Winner:        session.Winner,
		PlayerOrder:   make([]string, 0, len(rows)),
		Version:       session.Version,
		Players:       make(map[string]PlayerSnapshot, len(rows)),
		Timestamp:     session.UpdatedAt,
	}
	for _, row := range rows {
		s.PlayerOrder = append(s.PlayerOrder, row.Address)
		s.Players[row.Address] = PlayerSnapshot{
			Address:   row.Address,
			Health:    row.Health,
			Energy:    row.Energy,
			MaxEnergy: row.MaxEnergy,
			Hand:      row.Hand,
			Field:     row.Field,
			Deck:      row.Deck,
		}
	}
	// active sessions written without a turn counter are already dealt
	if s.Turn == 0 && !s.Over && session.Status == repository.StatusActive {
		s.Turn = 1
	}
	return s
}

// PlayerStates converts a snapshot into persisted player rows in seat order
func (s *Snapshot) PlayerStates() []repository.PlayerState {
	out := make([]repository.PlayerState, 0, len(s.PlayerOrder))
	for _, address := range s.PlayerOrder {
		p := s.Players[address]
		out = append(out, repository.PlayerState{
			Address:   p.Address,
			Health:    p.Health,
			Energy:    p.Energy,
			MaxEnergy: p.MaxEnergy,
			Hand:      append([]string{}, p.Hand...),
			Field:     append([]string{}, p.Field...),
			Deck:      append([]string{}, p.Deck...),
		})
	}
	return out
}
