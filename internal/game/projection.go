package game

// FieldCardView is the public detail of a card on a field
type FieldCardView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Power  int    `json:"power"`
	Health int    `json:"health"`
}

// HandCardView is the private detail of a card in the viewer's own hand
type HandCardView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Cost int    `json:"cost"`
}

// PlayerView is one player's state as seen by a viewer. Hand is only set
// when the viewer is that player.
type PlayerView struct {
	Health    int             `json:"health"`
	Energy    int             `json:"energy"`
	MaxEnergy int             `json:"maxEnergy"`
	HandSize  int             `json:"handSize"`
	FieldSize int             `json:"fieldSize"`
	DeckSize  int             `json:"deckSize"`
	Field     []FieldCardView `json:"field"`
	Hand      []HandCardView  `json:"hand,omitempty"`
}

// ProjectedState is the engine state filtered for one viewer
type ProjectedState struct {
	GameID        string                `json:"gameId"`
	Turn          int                   `json:"turn"`
	CurrentPlayer string                `json:"currentPlayer,omitempty"`
	GameOver      bool                  `json:"gameOver"`
	Winner        string                `json:"winner,omitempty"`
	Players       map[string]PlayerView `json:"players"`
}

// State projects the game for forPlayer. Every field is public; only
// forPlayer's own hand is included. An empty forPlayer gets a spectator view.
func (e *Engine) State(forPlayer string) ProjectedState {
	state := ProjectedState{
		GameID:        e.gameID,
		Turn:          e.turn,
		CurrentPlayer: e.currentPlayer,
		GameOver:      e.over,
		Winner:        e.winner,
		Players:       make(map[string]PlayerView, len(e.players)),
	}

	for _, address := range e.order {
		p := e.players[address]
		view := PlayerView{
			Health:    p.Health,
			Energy:    p.Energy,
			MaxEnergy: p.MaxEnergy,
			HandSize:  len(p.Hand),
			FieldSize: len(p.Field),
			DeckSize:  len(p.Deck),
			Field:     make([]FieldCardView, 0, len(p.Field)),
		}
		for _, id := range p.Field {
			def, _ := e.catalog.Get(id)
			view.Field = append(view.Field, FieldCardView{
				ID:     id,
				Name:   def.Name,
				Power:  def.Power,
				Health: def.Health,
			})
		}
		if forPlayer != "" && forPlayer == address {
			view.Hand = make([]HandCardView, 0, len(p.Hand))
			for _, id := range p.Hand {
				def, _ := e.catalog.Get(id)
				view.Hand = append(view.Hand, HandCardView{
					ID:   id,
					Name: def.Name,
					Cost: def.Cost,
				})
			}
		}
		state.Players[address] = view
	}

	return state
}
