package card

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Source provides card records from durable storage
type Source interface {
	ListCards(ctx context.Context) ([]Record, error)
}

// Catalog is an immutable registry of card definitions keyed by id
type Catalog struct {
	cards map[string]Definition
	ids   []string
	// fallback is true when the built-in set was used
	fallback bool
}

// NewCatalog builds a catalog from definitions. Later duplicates replace earlier ones.
func NewCatalog(defs []Definition) *Catalog {
	c := &Catalog{cards: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		c.cards[d.ID] = d
	}
	c.ids = make([]string, 0, len(c.cards))
	for id := range c.cards {
		c.ids = append(c.ids, id)
	}
	sort.Strings(c.ids)
	return c
}

// DefaultCatalog returns a catalog holding the built-in card set
func DefaultCatalog() *Catalog {
	c := NewCatalog(DefaultCards())
	c.fallback = true
	return c
}

// Load reads the catalog from src. Any storage error, an empty result, or a result
// where no row parses falls back to the built-in set.
func Load(ctx context.Context, src Source, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if src == nil {
		logger.Info("no card source configured, using built-in cards")
		return DefaultCatalog()
	}

	records, err := src.ListCards(ctx)
	if err != nil {
		logger.Warn("failed to load card catalog, using built-in cards", zap.Error(err))
		return DefaultCatalog()
	}

	defs := make([]Definition, 0, len(records))
	for _, r := range records {
		def, err := FromRecord(r)
		if err != nil {
			logger.Warn("skipping invalid card", zap.String("card_id", r.ID), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		logger.Warn("card catalog is empty, using built-in cards")
		return DefaultCatalog()
	}

	logger.Info("card catalog loaded", zap.Int("cards", len(defs)))
	return NewCatalog(defs)
}

// Get returns the definition for id
func (c *Catalog) Get(id string) (Definition, bool) {
	d, ok := c.cards[id]
	return d, ok
}

// Has reports whether id is in the catalog
func (c *Catalog) Has(id string) bool {
	_, ok := c.cards[id]
	return ok
}

// All returns every definition ordered by id
func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.cards[id])
	}
	return out
}

// Len returns the number of cards
func (c *Catalog) Len() int {
	return len(c.ids)
}

// IsFallback reports whether the catalog came from the built-in set
func (c *Catalog) IsFallback() bool {
	return c.fallback
}

// DefaultCards returns the built-in card set
func DefaultCards() []Definition {
	return []Definition{
		{
			ID:          "cosmic_ray",
			Name:        "Cosmic Ray",
			Type:        TypeCosmic,
			Cost:        2,
			Power:       3,
			Health:      0,
			Ability:     AbilityDirectDamage,
			Description: "Fires a beam of pure cosmic energy",
			Rarity:      RarityCommon,
		},
		{
			ID:          "quantum_shield",
			Name:        "Quantum Shield",
			Type:        TypeQuantum,
			Cost:        1,
			Power:       0,
			Health:      5,
			Ability:     AbilityShield,
			Description: "Creates a protective quantum barrier",
			Rarity:      RarityCommon,
		},
		{
			ID:          "nebula_dragon",
			Name:        "Nebula Dragon",
			Type:        TypeNebula,
			Cost:        4,
			Power:       6,
			Health:      4,
			Ability:     AbilityFlying,
			Description: "Ancient dragon born from cosmic dust",
			Rarity:      RarityEpic,
		},
		{
			ID:          "stellar_engine",
			Name:        "Stellar Engine",
			Type:        TypeStellar,
			Cost:        3,
			Power:       2,
			Health:      4,
			Ability:     AbilityEnergyBoost,
			Description: "Generates additional energy each turn",
			Rarity:      RarityRare,
		},
		{
			ID:          "black_hole",
			Name:        "Black Hole",
			Type:        TypeCosmic,
			Cost:        5,
			Power:       8,
			Health:      0,
			Ability:     AbilityDestroyAll,
			Description: "Creates a singularity that consumes everything",
			Rarity:      RarityLegendary,
		},
		{
			ID:          "galaxy_wisp",
			Name:        "Galaxy Wisp",
			Type:        TypeStellar,
			Cost:        1,
			Power:       1,
			Health:      1,
			Ability:     AbilityDrawCard,
			Description: "Ethereal being that reveals cosmic secrets",
			Rarity:      RarityCommon,
		},
	}
}
