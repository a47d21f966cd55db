package repository

import (
	"context"
	"fmt"

	"github.com/cosmicduel/duel-server/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DB wraps the pgx connection pool
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDB opens and pings a connection pool
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connected",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)

	return &DB{pool: pool, logger: logger}, nil
}

// Pool exposes the underlying pool
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Stats returns pool statistics
func (db *DB) Stats() *pgxpool.Stat {
	return db.pool.Stat()
}

// Close releases all connections
func (db *DB) Close() {
	db.pool.Close()
}

// Migrate creates the schema if it does not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	db.logger.Info("database schema applied")
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS game_sessions (
	id             UUID PRIMARY KEY,
	player1        TEXT NOT NULL,
	player2        TEXT,
	stake_amount   BIGINT NOT NULL DEFAULT 10,
	status         TEXT NOT NULL DEFAULT 'waiting'
		CHECK (status IN ('waiting', 'active', 'finished', 'cancelled')),
	winner         TEXT,
	turn           INTEGER NOT NULL DEFAULT 0,
	current_player TEXT,
	version        BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE game_sessions ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;

CREATE TABLE IF NOT EXISTS player_states (
	game_id        UUID NOT NULL REFERENCES game_sessions(id) ON DELETE CASCADE,
	player_address TEXT NOT NULL,
	health         INTEGER NOT NULL DEFAULT 30,
	energy         INTEGER NOT NULL DEFAULT 3,
	max_energy     INTEGER NOT NULL DEFAULT 10,
	hand           JSONB NOT NULL DEFAULT '[]',
	field          JSONB NOT NULL DEFAULT '[]',
	deck           JSONB NOT NULL DEFAULT '[]',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (game_id, player_address)
);

CREATE TABLE IF NOT EXISTS cards (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	card_type   TEXT NOT NULL,
	cost        INTEGER NOT NULL,
	power       INTEGER NOT NULL,
	health      INTEGER NOT NULL,
	ability     TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	rarity      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS game_actions (
	id          UUID PRIMARY KEY,
	game_id     UUID NOT NULL REFERENCES game_sessions(id) ON DELETE CASCADE,
	player      TEXT NOT NULL,
	action_type TEXT NOT NULL
		CHECK (action_type IN ('CREATE_GAME', 'JOIN_GAME', 'PLAY_CARD', 'END_TURN', 'GAME_END')),
	data        JSONB NOT NULL DEFAULT '{}',
	timestamp   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS game_actions_game_time_idx ON game_actions (game_id, timestamp DESC);
`
