package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cosmicduel/duel-server/internal/card"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used when no database is configured and in tests
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]GameSession
	states   map[uuid.UUID]map[string]PlayerState
	cards    map[string]card.Record
	actions  map[uuid.UUID][]GameAction
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]GameSession),
		states:   make(map[uuid.UUID]map[string]PlayerState),
		cards:    make(map[string]card.Record),
		actions:  make(map[uuid.UUID][]GameAction),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateSession(_ context.Context, s *GameSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StatusWaiting
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) TransitionSession(_ context.Context, s *GameSession, from GameStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != from {
		return ErrStatusConflict
	}
	s.Version = current.Version
	s.CreatedAt = current.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) ListPlayerStates(_ context.Context, gameID uuid.UUID) ([]PlayerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.states[gameID]
	out := make([]PlayerState, 0, len(rows))
	for _, st := range rows {
		out = append(out, copyState(st))
	}

	player1 := m.sessions[gameID].Player1
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Address == player1) != (out[j].Address == player1) {
			return out[i].Address == player1
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

func (m *MemoryStore) SaveState(_ context.Context, s *GameSession, states []PlayerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != s.Version {
		return ErrVersionConflict
	}
	now := time.Now().UTC()
	current.Version++
	current.Turn = s.Turn
	current.CurrentPlayer = s.CurrentPlayer
	current.UpdatedAt = now
	m.sessions[s.ID] = current
	s.Version = current.Version
	s.UpdatedAt = now

	rows, ok := m.states[s.ID]
	if !ok {
		rows = make(map[string]PlayerState, len(states))
		m.states[s.ID] = rows
	}
	for i := range states {
		states[i].GameID = s.ID
		states[i].UpdatedAt = now
		rows[states[i].Address] = copyState(states[i])
	}
	return nil
}

func (m *MemoryStore) ListCards(_ context.Context) ([]card.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]card.Record, 0, len(m.cards))
	for _, r := range m.cards {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertCards(_ context.Context, cards []card.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range cards {
		m.cards[r.ID] = r
	}
	return nil
}

func (m *MemoryStore) AppendAction(_ context.Context, a *GameAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	m.actions[a.GameID] = append(m.actions[a.GameID], *a)
	return nil
}

func (m *MemoryStore) ListActions(_ context.Context, gameID uuid.UUID, limit int) ([]GameAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.actions[gameID]
	if limit <= 0 {
		limit = 100
	}
	out := make([]GameAction, 0, min(limit, len(log)))
	// appended in time order, so walking backwards yields newest first
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, log[i])
	}
	return out, nil
}

func copyState(st PlayerState) PlayerState {
	st.Hand = append([]string{}, st.Hand...)
	st.Field = append([]string{}, st.Field...)
	st.Deck = append([]string{}, st.Deck...)
	return st
}
