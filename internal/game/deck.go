package game

// generateDeck copies every catalog card by its rarity weight and limits the
// result to MaxDeckSize. Catalog order is stable, so only the shuffle is random.
func (e *Engine) generateDeck() []string {
	deck := make([]string, 0, MaxDeckSize)
	for _, def := range e.catalog.All() {
		for i := 0; i < def.Rarity.Copies(); i++ {
			deck = append(deck, def.ID)
		}
	}
	if len(deck) > MaxDeckSize {
		deck = deck[:MaxDeckSize]
	}
	return deck
}

// shuffle permutes ids uniformly in place
func (e *Engine) shuffle(ids []string) {
	e.rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}
