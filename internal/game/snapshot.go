package game

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cosmicduel/duel-server/internal/card"
)

// PlayerSnapshot is a full copy of one player's state
type PlayerSnapshot struct {
	Address   string   `json:"address"`
	Health    int      `json:"health"`
	Energy    int      `json:"energy"`
	MaxEnergy int      `json:"maxEnergy"`
	Hand      []string `json:"hand"`
	Field     []string `json:"field"`
	Deck      []string `json:"deck"`
}

// Snapshot is a complete copy of an engine's state. It is the unit persisted
// after each mutation and recorded into replays. Version is the stored
// version the state was saved as and is not part of the checksum.
type Snapshot struct {
	GameID        string                    `json:"gameId"`
	Turn          int                       `json:"turn"`
	CurrentPlayer string                    `json:"currentPlayer"`
	Over          bool                      `json:"over"`
	Winner        string                    `json:"winner,omitempty"`
	PlayerOrder   []string                  `json:"playerOrder"`
	Players       map[string]PlayerSnapshot `json:"players"`
	Version       int64                     `json:"-"`
	Timestamp     time.Time                 `json:"timestamp"`
}

// SerializationChecksum is a deterministic digest of a snapshot
type SerializationChecksum struct {
	Hash      string // SHA-256 of the canonical representation
	Timestamp string // when the snapshot was taken
	Version   int
}

// Snapshot copies the engine state
func (e *Engine) Snapshot() *Snapshot {
	s := &Snapshot{
		GameID:        e.gameID,
		Turn:          e.turn,
		CurrentPlayer: e.currentPlayer,
		Over:          e.over,
		Winner:        e.winner,
		PlayerOrder:   append([]string(nil), e.order...),
		Players:       make(map[string]PlayerSnapshot, len(e.players)),
		Version:       e.version,
		Timestamp:     time.Now(),
	}
	for _, address := range e.order {
		p := e.players[address].clone()
		s.Players[address] = PlayerSnapshot{
			Address:   p.Address,
			Health:    p.Health,
			Energy:    p.Energy,
			MaxEnergy: p.MaxEnergy,
			Hand:      p.Hand,
			Field:     p.Field,
			Deck:      p.Deck,
		}
	}
	return s
}

// RestoreEngine rebuilds an engine from a snapshot. Every player is re-added
// through AddPlayer and every card id must resolve against catalog.
func RestoreEngine(s *Snapshot, catalog *card.Catalog, opts Options) (*Engine, error) {
	if len(s.PlayerOrder) != MaxPlayers || len(s.Players) != MaxPlayers {
		return nil, ErrIncompleteSession
	}

	e := NewEngine(s.GameID, catalog, opts)
	for _, address := range s.PlayerOrder {
		ps, ok := s.Players[address]
		if !ok {
			return nil, ErrIncompleteSession
		}
		if err := e.AddPlayer(address); err != nil {
			return nil, fmt.Errorf("restore player %s: %w", address, err)
		}
		for _, pile := range [][]string{ps.Hand, ps.Field, ps.Deck} {
			for _, id := range pile {
				if !catalog.Has(id) {
					return nil, fmt.Errorf("%w: %s", ErrUnknownCardID, id)
				}
			}
		}
		p := e.players[address]
		p.Health = ps.Health
		p.Energy = ps.Energy
		p.MaxEnergy = ps.MaxEnergy
		p.Hand = append(make([]string, 0, len(ps.Hand)), ps.Hand...)
		p.Field = append(make([]string, 0, len(ps.Field)), ps.Field...)
		p.Deck = append(make([]string, 0, len(ps.Deck)), ps.Deck...)
	}

	e.turn = s.Turn
	e.currentPlayer = s.CurrentPlayer
	if e.turn > 0 && e.currentPlayer == "" {
		e.currentPlayer = e.order[0]
	}
	e.over = s.Over
	e.winner = s.Winner
	e.version = s.Version
	if !e.over {
		// a crash between the play and the session update leaves a defeated
		// player in the rows while the session still reads active
		e.checkWinCondition()
	}
	return e, nil
}

// Rollback puts the engine back into the state captured by s
func (e *Engine) Rollback(s *Snapshot) error {
	restored, err := RestoreEngine(s, e.catalog, Options{EnforceTurnOrder: e.enforceTurns})
	if err != nil {
		return err
	}
	rng := e.rng
	*e = *restored
	e.rng = rng
	return nil
}

// ComputeChecksum digests the snapshot, ignoring the timestamp
func (s *Snapshot) ComputeChecksum() (*SerializationChecksum, error) {
	hash := sha256.New()
	if _, err := hash.Write([]byte(s.canonical())); err != nil {
		return nil, fmt.Errorf("failed to compute hash: %w", err)
	}
	return &SerializationChecksum{
		Hash:      hex.EncodeToString(hash.Sum(nil)),
		Timestamp: s.Timestamp.Format("2006-01-02T15:04:05.000Z"),
		Version:   1,
	}, nil
}

// VerifyChecksum reports whether the snapshot still matches expected
func (s *Snapshot) VerifyChecksum(expected *SerializationChecksum) (bool, error) {
	computed, err := s.ComputeChecksum()
	if err != nil {
		return false, fmt.Errorf("failed to compute checksum: %w", err)
	}
	return computed.Hash == expected.Hash, nil
}

// canonical renders the snapshot independent of map iteration order. Pile
// order is significant (the deck is a stack), so piles are not sorted.
func (s *Snapshot) canonical() string {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("GAME:%s|%d|%s|%t|%s\n",
		s.GameID, s.Turn, s.CurrentPlayer, s.Over, s.Winner))

	addresses := make([]string, 0, len(s.Players))
	for address := range s.Players {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	for _, address := range addresses {
		p := s.Players[address]
		buf.WriteString(fmt.Sprintf("PLAYER:%s|%d|%d|%d\n", address, p.Health, p.Energy, p.MaxEnergy))
		buf.WriteString("  HAND:" + strings.Join(p.Hand, ",") + "\n")
		buf.WriteString("  FIELD:" + strings.Join(p.Field, ",") + "\n")
		buf.WriteString("  DECK:" + strings.Join(p.Deck, ",") + "\n")
	}

	buf.WriteString("PLAYER_ORDER:" + strings.Join(s.PlayerOrder, ",") + "\n")
	return buf.String()
}
