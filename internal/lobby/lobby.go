// Package lobby creates, joins and cancels staked game sessions.
package lobby

import (
	"context"
	"errors"
	"fmt"

	"github.com/cosmicduel/duel-server/internal/card"
	"github.com/cosmicduel/duel-server/internal/game"
	"github.com/cosmicduel/duel-server/internal/ledger"
	"github.com/cosmicduel/duel-server/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMissingPlayer       = errors.New("player address required")
	ErrInvalidStake        = errors.New("stake amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrGameNotFound        = errors.New("game not found")
	ErrGameUnavailable     = errors.New("game not found or already started")
	ErrOwnGame             = errors.New("cannot join your own game")
	ErrNotCreator          = errors.New("only the creator can cancel a game")
	ErrGameNotFinished     = errors.New("game has not finished")
	ErrReplayNotFound      = errors.New("no replay recorded for this game")
)

// Service runs the session workflows that happen outside a live match
type Service struct {
	store        repository.Store
	stakes       ledger.StakeLedger
	registry     *game.Registry
	catalog      *card.Catalog
	opts         game.Options
	defaultStake int64
	replays      *game.ReplayRecorder
	logger       *zap.Logger
}

// NewService creates a lobby
func NewService(store repository.Store, stakes ledger.StakeLedger, registry *game.Registry, catalog *card.Catalog, opts game.Options, defaultStake int64, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		stakes:       stakes,
		registry:     registry,
		catalog:      catalog,
		opts:         opts,
		defaultStake: defaultStake,
		logger:       logger,
	}
}

// SetReplays records the opening state of every started game and serves
// saved replays of finished ones
func (s *Service) SetReplays(r *game.ReplayRecorder) { s.replays = r }

// CreateGame opens a waiting session staked by player. A zero stake uses the
// configured default.
func (s *Service) CreateGame(ctx context.Context, player string, stake int64) (*repository.GameSession, error) {
	if player == "" {
		return nil, ErrMissingPlayer
	}
	if stake == 0 {
		stake = s.defaultStake
	}
	if stake <= 0 {
		return nil, ErrInvalidStake
	}
	if err := s.checkBalance(ctx, player, stake); err != nil {
		return nil, err
	}

	session := &repository.GameSession{
		Player1:     player,
		StakeAmount: stake,
		Status:      repository.StatusWaiting,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.lock(ctx, player, stake, session.ID); err != nil {
		cancelled := *session
		cancelled.Status = repository.StatusCancelled
		if txErr := s.store.TransitionSession(ctx, &cancelled, repository.StatusWaiting); txErr != nil {
			s.logger.Error("failed to cancel unstaked game", zap.String("game_id", session.ID.String()), zap.Error(txErr))
		}
		return nil, err
	}

	s.logAction(ctx, session.ID, player, repository.ActionCreateGame, map[string]any{"stakeAmount": stake})
	s.logger.Info("game created",
		zap.String("game_id", session.ID.String()),
		zap.String("player", player),
		zap.Int64("stake", stake),
	)
	return session, nil
}

// JoinGame seats player as the second player of a waiting session, deals the
// opening state and makes the game live.
func (s *Service) JoinGame(ctx context.Context, gameID, player string) (*repository.GameSession, error) {
	if player == "" {
		return nil, ErrMissingPlayer
	}
	id, err := uuid.Parse(gameID)
	if err != nil {
		return nil, ErrGameUnavailable
	}
	session, err := s.store.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrGameUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.Status != repository.StatusWaiting {
		return nil, ErrGameUnavailable
	}
	if session.Player1 == player {
		return nil, ErrOwnGame
	}
	if err := s.checkBalance(ctx, player, session.StakeAmount); err != nil {
		return nil, err
	}

	engine := game.NewEngine(gameID, s.catalog, s.opts)
	for _, address := range []string{session.Player1, player} {
		if err := engine.AddPlayer(address); err != nil {
			return nil, err
		}
	}
	if err := engine.StartGame(); err != nil {
		return nil, err
	}
	snapshot := engine.Snapshot()

	waiting := *session
	session.Player2 = player
	session.Status = repository.StatusActive
	session.Turn = snapshot.Turn
	session.CurrentPlayer = snapshot.CurrentPlayer
	if err := s.store.TransitionSession(ctx, session, repository.StatusWaiting); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGameUnavailable
		}
		return nil, fmt.Errorf("activate session: %w", err)
	}

	if err := s.lock(ctx, player, session.StakeAmount, id); err != nil {
		s.reopen(ctx, session, &waiting)
		return nil, err
	}
	if err := s.store.SaveState(ctx, session, snapshot.PlayerStates()); err != nil {
		s.reopen(ctx, session, &waiting)
		if _, refundErr := s.stakes.TransferStake(ctx, gameID, player, session.StakeAmount); refundErr != nil {
			s.logger.Error("failed to refund joiner", zap.String("game_id", gameID), zap.Error(refundErr))
		}
		return nil, fmt.Errorf("save initial state: %w", err)
	}

	engine.SetVersion(session.Version)
	s.registry.Put(gameID, engine)
	s.replays.Record(snapshot)
	s.logAction(ctx, id, player, repository.ActionJoinGame, map[string]any{})
	s.logger.Info("game started",
		zap.String("game_id", gameID),
		zap.Strings("players", session.Players()),
		zap.Int64("stake", session.StakeAmount),
	)
	return session, nil
}

// CancelGame withdraws a waiting game and returns the creator's stake
func (s *Service) CancelGame(ctx context.Context, gameID, player string) error {
	id, err := uuid.Parse(gameID)
	if err != nil {
		return ErrGameNotFound
	}
	session, err := s.store.GetSession(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrGameNotFound
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session.Player1 != player {
		return ErrNotCreator
	}
	if session.Status != repository.StatusWaiting {
		return ErrGameUnavailable
	}

	session.Status = repository.StatusCancelled
	if err := s.store.TransitionSession(ctx, session, repository.StatusWaiting); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return ErrGameUnavailable
		}
		return fmt.Errorf("cancel session: %w", err)
	}

	if _, err := s.stakes.TransferStake(ctx, gameID, player, session.StakeAmount); err != nil {
		s.logger.Error("failed to refund cancelled game",
			zap.String("game_id", gameID),
			zap.String("player", player),
			zap.Error(err),
		)
	}
	s.logger.Info("game cancelled", zap.String("game_id", gameID), zap.String("player", player))
	return nil
}

func (s *Service) checkBalance(ctx context.Context, player string, stake int64) error {
	balance, err := s.stakes.GetBalance(ctx, player)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}
	if balance < stake {
		return ErrInsufficientBalance
	}
	return nil
}

func (s *Service) lock(ctx context.Context, player string, stake int64, gameID uuid.UUID) error {
	ok, err := s.stakes.LockStake(ctx, player, stake, gameID.String())
	if err != nil {
		return fmt.Errorf("lock stake: %w", err)
	}
	if !ok {
		return ErrInsufficientBalance
	}
	return nil
}

// reopen puts an activated session back to waiting after a failed join
func (s *Service) reopen(ctx context.Context, active, waiting *repository.GameSession) {
	if err := s.store.TransitionSession(ctx, waiting, repository.StatusActive); err != nil {
		s.logger.Error("failed to reopen game", zap.String("game_id", active.ID.String()), zap.Error(err))
	}
}

func (s *Service) logAction(ctx context.Context, gameID uuid.UUID, player string, actionType repository.ActionType, data any) {
	action, err := repository.NewAction(gameID, player, actionType, data)
	if err == nil {
		err = s.store.AppendAction(ctx, action)
	}
	if err != nil {
		s.logger.Error("failed to log game action",
			zap.String("game_id", gameID.String()),
			zap.String("action_type", string(actionType)),
			zap.Error(err),
		)
	}
}
