package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cosmicduel/duel-server/internal/card"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *DB
}

// NewPostgresStore creates a store backed by db
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const sessionColumns = `id, player1, COALESCE(player2, ''), stake_amount, status,
	COALESCE(winner, ''), turn, COALESCE(current_player, ''), version, created_at, updated_at`

func scanSession(row pgx.Row) (*GameSession, error) {
	var s GameSession
	var status string
	err := row.Scan(
		&s.ID,
		&s.Player1,
		&s.Player2,
		&s.StakeAmount,
		&status,
		&s.Winner,
		&s.Turn,
		&s.CurrentPlayer,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = GameStatus(status)
	return &s, nil
}

// CreateSession inserts a new session, assigning an id when missing
func (p *PostgresStore) CreateSession(ctx context.Context, s *GameSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StatusWaiting
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	_, err := p.db.pool.Exec(ctx, `
		INSERT INTO game_sessions (
			id, player1, player2, stake_amount, status, winner, turn, current_player, version, created_at, updated_at
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10, $11)
	`,
		s.ID, s.Player1, s.Player2, s.StakeAmount, string(s.Status),
		s.Winner, s.Turn, s.CurrentPlayer, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create game session: %w", err)
	}
	return nil
}

// GetSession loads a session by id
func (p *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*GameSession, error) {
	row := p.db.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game session: %w", err)
	}
	return s, nil
}

// TransitionSession writes the session if its stored status is still from
func (p *PostgresStore) TransitionSession(ctx context.Context, s *GameSession, from GameStatus) error {
	s.UpdatedAt = time.Now().UTC()
	err := p.db.pool.QueryRow(ctx, `
		UPDATE game_sessions SET
			player2 = NULLIF($2, ''),
			stake_amount = $3,
			status = $4,
			winner = NULLIF($5, ''),
			turn = $6,
			current_player = NULLIF($7, ''),
			updated_at = $8
		WHERE id = $1 AND status = $9
		RETURNING version
	`,
		s.ID, s.Player2, s.StakeAmount, string(s.Status), s.Winner,
		s.Turn, s.CurrentPlayer, s.UpdatedAt, string(from),
	).Scan(&s.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := p.GetSession(ctx, s.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update game session: %w", err)
	}
	return nil
}

// ListPlayerStates returns the player rows of a game in seat order
func (p *PostgresStore) ListPlayerStates(ctx context.Context, gameID uuid.UUID) ([]PlayerState, error) {
	rows, err := p.db.pool.Query(ctx, `
		SELECT ps.game_id, ps.player_address, ps.health, ps.energy, ps.max_energy,
			ps.hand, ps.field, ps.deck, ps.updated_at
		FROM player_states ps
		JOIN game_sessions gs ON gs.id = ps.game_id
		WHERE ps.game_id = $1
		ORDER BY (ps.player_address = gs.player1) DESC, ps.player_address
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list player states: %w", err)
	}
	defer rows.Close()

	states := make([]PlayerState, 0, 2)
	for rows.Next() {
		var st PlayerState
		if err := rows.Scan(
			&st.GameID, &st.Address, &st.Health, &st.Energy, &st.MaxEnergy,
			&st.Hand, &st.Field, &st.Deck, &st.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan player state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate player states: %w", err)
	}
	return states, nil
}

// SaveState writes the session turn fields and upserts all player rows in one
// transaction. The write only applies while the stored version still equals
// s.Version; on success s.Version is advanced.
func (p *PostgresStore) SaveState(ctx context.Context, s *GameSession, states []PlayerState) error {
	tx, err := p.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()
	s.UpdatedAt = now
	var version int64
	err = tx.QueryRow(ctx, `
		UPDATE game_sessions SET
			turn = $2, current_player = NULLIF($3, ''), updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $5
		RETURNING version
	`, s.ID, s.Turn, s.CurrentPlayer, now, s.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := p.GetSession(ctx, s.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update session turn: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range states {
		st := &states[i]
		st.GameID = s.ID
		st.UpdatedAt = now
		batch.Queue(`
			INSERT INTO player_states (
				game_id, player_address, health, energy, max_energy, hand, field, deck, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (game_id, player_address) DO UPDATE SET
				health = EXCLUDED.health,
				energy = EXCLUDED.energy,
				max_energy = EXCLUDED.max_energy,
				hand = EXCLUDED.hand,
				field = EXCLUDED.field,
				deck = EXCLUDED.deck,
				updated_at = EXCLUDED.updated_at
		`,
			st.GameID, st.Address, st.Health, st.Energy, st.MaxEnergy,
			nonNil(st.Hand), nonNil(st.Field), nonNil(st.Deck), st.UpdatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert player states: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	s.Version = version
	return nil
}

// ListCards returns every stored card record
func (p *PostgresStore) ListCards(ctx context.Context) ([]card.Record, error) {
	rows, err := p.db.pool.Query(ctx, `
		SELECT id, name, card_type, cost, power, health, ability, description, rarity
		FROM cards ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	records := make([]card.Record, 0)
	for rows.Next() {
		var r card.Record
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &r.Cost, &r.Power, &r.Health,
			&r.Ability, &r.Description, &r.Rarity); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards: %w", err)
	}
	return records, nil
}

// UpsertCards inserts or replaces card records in one transaction
func (p *PostgresStore) UpsertCards(ctx context.Context, cards []card.Record) error {
	if len(cards) == 0 {
		return nil
	}
	tx, err := p.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, r := range cards {
		batch.Queue(`
			INSERT INTO cards (id, name, card_type, cost, power, health, ability, description, rarity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				card_type = EXCLUDED.card_type,
				cost = EXCLUDED.cost,
				power = EXCLUDED.power,
				health = EXCLUDED.health,
				ability = EXCLUDED.ability,
				description = EXCLUDED.description,
				rarity = EXCLUDED.rarity
		`, r.ID, r.Name, r.Type, r.Cost, r.Power, r.Health, r.Ability, r.Description, r.Rarity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert cards: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cards: %w", err)
	}
	return nil
}

// AppendAction inserts a log entry
func (p *PostgresStore) AppendAction(ctx context.Context, a *GameAction) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	data := a.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	_, err := p.db.pool.Exec(ctx, `
		INSERT INTO game_actions (id, game_id, player, action_type, data, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.GameID, a.Player, string(a.ActionType), data, a.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append game action: %w", err)
	}
	return nil
}

// ListActions returns up to limit entries, newest first
func (p *PostgresStore) ListActions(ctx context.Context, gameID uuid.UUID, limit int) ([]GameAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.pool.Query(ctx, `
		SELECT id, game_id, player, action_type, data, timestamp
		FROM game_actions WHERE game_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list game actions: %w", err)
	}
	defer rows.Close()

	actions := make([]GameAction, 0)
	for rows.Next() {
		var a GameAction
		var actionType string
		if err := rows.Scan(&a.ID, &a.GameID, &a.Player, &actionType, &a.Data, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan game action: %w", err)
		}
		a.ActionType = ActionType(actionType)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate game actions: %w", err)
	}
	return actions, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
