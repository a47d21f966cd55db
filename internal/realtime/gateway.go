package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cosmicduel/duel-server/internal/game"
	"github.com/cosmicduel/duel-server/internal/ledger"
	"github.com/cosmicduel/duel-server/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrPlayerMismatch = errors.New("player address does not match connection")
	ErrSpectator      = errors.New("spectators cannot act; connect with a player address")
	errSaveFailed     = errors.New("failed to save game state")
)

// maxStaleRetries bounds how often one intent is re-applied after another
// process saved the game first
const maxStaleRetries = 3

// Relay forwards group broadcasts to other server processes
type Relay interface {
	Publish(ctx context.Context, gameID string, payload []byte) error
}

// Gateway turns client intents into engine calls and fans the outcome out to
// the game's broadcast group. All engine access goes through the registry,
// so intents for the same game are applied one at a time.
type Gateway struct {
	hub      *Hub
	registry *game.Registry
	store    repository.Store
	stakes   ledger.StakeLedger
	replays  *game.ReplayRecorder
	relay    Relay
	logger   *zap.Logger
}

// NewGateway creates a gateway
func NewGateway(hub *Hub, registry *game.Registry, store repository.Store, stakes ledger.StakeLedger, logger *zap.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		registry: registry,
		store:    store,
		stakes:   stakes,
		logger:   logger,
	}
}

// SetRelay enables cross-process fan-out
func (g *Gateway) SetRelay(r Relay) { g.relay = r }

// SetReplays records a snapshot after every accepted intent
func (g *Gateway) SetReplays(r *game.ReplayRecorder) { g.replays = r }

// Hub returns the gateway's broadcast groups
func (g *Gateway) Hub() *Hub { return g.hub }

// Connect registers c in its game's group and acknowledges it. A seated
// player also receives their private projection when the game is running.
// A game found over but not yet settled is settled here.
func (g *Gateway) Connect(ctx context.Context, c *Client) error {
	data, err := encode(connectionEstablished())
	if err != nil {
		return err
	}
	g.hub.Register(c)
	g.hub.Send(c, data)

	err = g.registry.View(ctx, c.gameID, func(e *game.Engine) error {
		if _, ok := e.Player(c.player); ok {
			data, err := encode(gameState(e.State(c.player)))
			if err != nil {
				return err
			}
			g.hub.Send(c, data)
		}
		g.settle(ctx, e)
		return nil
	})
	if err != nil {
		g.logger.Debug("no state for new connection",
			zap.String("game_id", c.gameID),
			zap.String("player", c.player),
			zap.Error(err),
		)
	}
	return nil
}

// Disconnect removes c from its group. Game state is left untouched.
func (g *Gateway) Disconnect(ctx context.Context, c *Client) {
	if !g.hub.Unregister(c) {
		return
	}
	g.logger.Debug("client disconnected",
		zap.String("game_id", c.gameID),
		zap.String("client_id", c.id.String()),
	)
	if c.player != "" {
		g.broadcast(ctx, c.gameID, playerLeft(c.player))
	}
}

// Receive handles one message from c
func (g *Gateway) Receive(ctx context.Context, c *Client, data []byte) {
	in, err := ParseIntent(data)
	if err != nil {
		g.sendError(c, err)
		return
	}

	if c.player == "" && in.Type != IntentJoinGame {
		g.sendError(c, ErrSpectator)
		return
	}

	player := in.PlayerAddress
	if player == "" {
		player = c.player
	}
	if c.player != "" && player != c.player {
		g.sendError(c, ErrPlayerMismatch)
		return
	}
	if player == "" {
		g.sendError(c, game.ErrPlayerNotFound)
		return
	}

	switch in.Type {
	case IntentPlayCard:
		err = g.playCard(ctx, c.gameID, player, in.CardID, in.Target)
	case IntentEndTurn:
		err = g.endTurn(ctx, c.gameID, player)
	case IntentJoinGame:
		g.broadcast(ctx, c.gameID, playerJoined(player))
	}
	if err != nil {
		if !game.IsRuleError(err) {
			g.logger.Warn("intent failed",
				zap.String("game_id", c.gameID),
				zap.String("type", in.Type),
				zap.String("player", player),
				zap.Error(err),
			)
		}
		g.sendError(c, publicError(err))
	}
}

// apply runs fn under the game's lock. When another process saved the game
// first, the registry drops the cached engine and fn runs again on the
// reconstructed one.
func (g *Gateway) apply(ctx context.Context, gameID string, fn func(*game.Engine) error) error {
	var err error
	for attempt := 1; attempt <= maxStaleRetries; attempt++ {
		err = g.registry.Do(ctx, gameID, fn)
		if !errors.Is(err, game.ErrStaleEngine) {
			return err
		}
		g.logger.Info("cached game was stale; reapplying intent",
			zap.String("game_id", gameID),
			zap.Int("attempt", attempt),
		)
	}
	return err
}

func (g *Gateway) playCard(ctx context.Context, gameID, player, cardID, target string) error {
	return g.apply(ctx, gameID, func(e *game.Engine) error {
		before := e.Snapshot()

		res, err := e.PlayCard(player, cardID, target)
		if err != nil {
			if !game.IsRuleError(err) {
				return err
			}
			res = game.FailedPlay(err)
			g.broadcast(ctx, gameID, cardPlayed(player, cardID, res))
			g.logAction(ctx, gameID, player, repository.ActionPlayCard, playData{CardID: cardID, Target: target, Result: res})
			g.settle(ctx, e)
			return nil
		}

		snapshot, err := g.persist(ctx, e, before)
		if err != nil {
			return err
		}

		g.broadcast(ctx, gameID, cardPlayed(player, cardID, res))
		g.logAction(ctx, gameID, player, repository.ActionPlayCard, playData{CardID: cardID, Target: target, Result: res})
		g.replays.Record(snapshot)
		g.syncState(gameID, e)
		g.settle(ctx, e)
		return nil
	})
}

func (g *Gateway) endTurn(ctx context.Context, gameID, player string) error {
	return g.apply(ctx, gameID, func(e *game.Engine) error {
		before := e.Snapshot()

		res, err := e.EndTurn(player)
		if err != nil {
			if game.IsRuleError(err) {
				g.settle(ctx, e)
			}
			return err
		}

		snapshot, err := g.persist(ctx, e, before)
		if err != nil {
			return err
		}

		g.broadcast(ctx, gameID, turnEnded(res))
		g.logAction(ctx, gameID, player, repository.ActionEndTurn, res)
		g.replays.Record(snapshot)
		g.syncState(gameID, e)
		return nil
	})
}

type playData struct {
	CardID string          `json:"cardId"`
	Target string          `json:"target,omitempty"`
	Result game.PlayResult `json:"result"`
}

// persist saves the engine state against the version it was loaded at. On
// failure the engine is rolled back to before so memory never runs ahead of
// storage. A version conflict means another process saved first; the engine
// is stale and ErrStaleEngine is returned.
func (g *Gateway) persist(ctx context.Context, e *game.Engine, before *game.Snapshot) (*game.Snapshot, error) {
	id, err := uuid.Parse(e.GameID())
	if err != nil {
		return nil, game.ErrSessionNotFound
	}

	s := e.Snapshot()
	session := &repository.GameSession{ID: id, Turn: s.Turn, CurrentPlayer: s.CurrentPlayer, Version: s.Version}
	if err := g.store.SaveState(ctx, session, s.PlayerStates()); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			g.logger.Info("game saved by another process", zap.String("game_id", e.GameID()), zap.Int64("version", s.Version))
			return nil, game.ErrStaleEngine
		}
		g.logger.Error("failed to save game state", zap.String("game_id", e.GameID()), zap.Error(err))
		if rbErr := e.Rollback(before); rbErr != nil {
			g.logger.Error("failed to roll back engine", zap.String("game_id", e.GameID()), zap.Error(rbErr))
		}
		return nil, errSaveFailed
	}
	e.SetVersion(session.Version)
	s.Version = session.Version
	return s, nil
}

// settle finishes the game if the engine reports it over. A game restored
// from rows that already show a defeated player is settled on the next touch.
func (g *Gateway) settle(ctx context.Context, e *game.Engine) {
	if e.IsOver() {
		g.finish(ctx, e)
	}
}

// finish settles a game the engine reports as over. The active to finished
// transition happens at most once, so the payout and the GAME_END entry do too.
func (g *Gateway) finish(ctx context.Context, e *game.Engine) {
	ctx = context.WithoutCancel(ctx)
	gameID := e.GameID()
	logger := g.logger.With(zap.String("game_id", gameID))

	id, err := uuid.Parse(gameID)
	if err != nil {
		return
	}
	session, err := g.store.GetSession(ctx, id)
	if err != nil {
		logger.Error("failed to load session for settlement", zap.Error(err))
		return
	}
	if session.Status != repository.StatusActive {
		logger.Debug("game already settled", zap.String("status", string(session.Status)))
		return
	}

	winner := e.Winner()
	session.Status = repository.StatusFinished
	session.Winner = winner
	if err := g.store.TransitionSession(ctx, session, repository.StatusActive); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			logger.Debug("game settled concurrently")
			return
		}
		logger.Error("failed to mark game finished", zap.Error(err))
		return
	}

	var stakeWon int64
	if winner != "" {
		stakeWon = session.StakeAmount * 2
		g.transfer(ctx, gameID, winner, stakeWon)
	} else {
		// nobody survived; everyone gets their stake back
		for _, p := range session.Players() {
			g.transfer(ctx, gameID, p, session.StakeAmount)
		}
	}

	g.broadcast(ctx, gameID, gameEnded(winner, stakeWon))
	g.logAction(ctx, gameID, repository.SystemPlayer, repository.ActionGameEnd, map[string]any{
		"winner":   winner,
		"stakeWon": stakeWon,
	})
	if err := g.replays.Finish(gameID); err != nil {
		logger.Warn("failed to save replay", zap.Error(err))
	}

	logger.Info("game finished", zap.String("winner", winner), zap.Int64("stake_won", stakeWon))
}

// transfer pays out through the ledger. Failures are logged only; the game
// result stands either way.
func (g *Gateway) transfer(ctx context.Context, gameID, to string, amount int64) {
	ok, err := g.stakes.TransferStake(ctx, gameID, to, amount)
	if err != nil {
		g.logger.Error("stake transfer failed",
			zap.String("game_id", gameID),
			zap.String("to", to),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return
	}
	if !ok {
		g.logger.Warn("stake transfer rejected",
			zap.String("game_id", gameID),
			zap.String("to", to),
			zap.Int64("amount", amount),
		)
	}
}

// syncState sends every connection in the group its own projection; the
// caller holds the engine
func (g *Gateway) syncState(gameID string, e *game.Engine) {
	g.hub.Each(gameID, func(c *Client) []byte {
		data, err := encode(gameState(e.State(c.player)))
		if err != nil {
			g.logger.Error("failed to encode state", zap.String("game_id", gameID), zap.Error(err))
			return nil
		}
		return data
	})
}

func (g *Gateway) broadcast(ctx context.Context, gameID string, ev Event) {
	data, err := encode(ev)
	if err != nil {
		g.logger.Error("failed to encode event", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	g.hub.Broadcast(gameID, data)

	if g.relay != nil {
		if err := g.relay.Publish(ctx, gameID, data); err != nil {
			g.logger.Warn("relay publish failed", zap.String("game_id", gameID), zap.Error(err))
		}
	}
}

// DeliverRemote hands a broadcast from another process to local clients.
// Events that changed the game invalidate the cached engine, and local
// viewers get a fresh projection from storage.
func (g *Gateway) DeliverRemote(ctx context.Context, gameID string, payload []byte) {
	g.hub.Broadcast(gameID, payload)

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		g.logger.Warn("malformed relayed event", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	switch head.Type {
	case EventCardPlayed, EventTurnEnded, EventGameEnded:
	default:
		return
	}

	g.registry.Evict(gameID)
	if g.hub.Size(gameID) == 0 {
		return
	}
	err := g.registry.View(ctx, gameID, func(e *game.Engine) error {
		g.syncState(gameID, e)
		return nil
	})
	if err != nil {
		g.logger.Warn("failed to refresh relayed game", zap.String("game_id", gameID), zap.Error(err))
	}
}

func (g *Gateway) logAction(ctx context.Context, gameID, player string, actionType repository.ActionType, data any) {
	id, err := uuid.Parse(gameID)
	if err != nil {
		return
	}
	action, err := repository.NewAction(id, player, actionType, data)
	if err == nil {
		err = g.store.AppendAction(ctx, action)
	}
	if err != nil {
		g.logger.Error("failed to log game action",
			zap.String("game_id", gameID),
			zap.String("action_type", string(actionType)),
			zap.Error(err),
		)
	}
}

func (g *Gateway) sendError(c *Client, err error) {
	data, encErr := encode(errorEvent(err))
	if encErr != nil {
		return
	}
	g.hub.Send(c, data)
}

// publicError hides storage details from clients
func publicError(err error) error {
	switch {
	case game.IsRuleError(err),
		errors.Is(err, game.ErrSessionNotFound),
		errors.Is(err, game.ErrIncompleteSession),
		errors.Is(err, game.ErrStaleEngine),
		errors.Is(err, errSaveFailed),
		errors.Is(err, ErrPlayerMismatch),
		errors.Is(err, ErrSpectator):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errors.New("game is temporarily unavailable")
	default:
		return errors.New("internal error")
	}
}
