package card

import (
	"fmt"
	"strings"
)

// Type is the elemental family of a card
type Type string

const (
	TypeCosmic  Type = "COSMIC"
	TypeQuantum Type = "QUANTUM"
	TypeNebula  Type = "NEBULA"
	TypeStellar Type = "STELLAR"
)

// ParseType converts a stored card type into a Type
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeCosmic, TypeQuantum, TypeNebula, TypeStellar:
		return t, nil
	default:
		return "", fmt.Errorf("unknown card type %q", s)
	}
}

// Ability identifies the effect a card applies when played
type Ability string

const (
	AbilityDirectDamage Ability = "direct_damage"
	AbilityShield       Ability = "shield"
	AbilityEnergyBoost  Ability = "energy_boost"
	AbilityFlying       Ability = "flying"
	AbilityDestroyAll   Ability = "destroy_all"
	AbilityDrawCard     Ability = "draw_card"
	AbilityNone         Ability = "none"
)

// ParseAbility converts a stored ability name into an Ability.
// An empty string is treated as AbilityNone.
func ParseAbility(s string) (Ability, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return AbilityNone, nil
	}
	switch a := Ability(s); a {
	case AbilityDirectDamage, AbilityShield, AbilityEnergyBoost, AbilityFlying,
		AbilityDestroyAll, AbilityDrawCard, AbilityNone:
		return a, nil
	default:
		return "", fmt.Errorf("unknown card ability %q", s)
	}
}

// Rarity controls how many copies of a card go into a generated deck
type Rarity string

const (
	RarityCommon    Rarity = "COMMON"
	RarityRare      Rarity = "RARE"
	RarityEpic      Rarity = "EPIC"
	RarityLegendary Rarity = "LEGENDARY"
)

// ParseRarity converts a stored rarity into a Rarity
func ParseRarity(s string) (Rarity, error) {
	switch r := Rarity(strings.ToUpper(strings.TrimSpace(s))); r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return r, nil
	default:
		return "", fmt.Errorf("unknown card rarity %q", s)
	}
}

// Copies returns the number of copies of a card of this rarity in a deck
func (r Rarity) Copies() int {
	switch r {
	case RarityCommon:
		return 3
	case RarityRare:
		return 2
	case RarityEpic, RarityLegendary:
		return 1
	default:
		return 0
	}
}

// Definition holds the static attributes of a card
type Definition struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        Type    `json:"type"`
	Cost        int     `json:"cost"`
	Power       int     `json:"power"`
	Health      int     `json:"health"`
	Ability     Ability `json:"ability"`
	Description string  `json:"description"`
	Rarity      Rarity  `json:"rarity"`
}

// Validate checks that a definition is usable by the rules engine
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("card id is required")
	}
	if d.Cost < 0 || d.Power < 0 || d.Health < 0 {
		return fmt.Errorf("card %s: cost, power and health must be non-negative", d.ID)
	}
	if _, err := ParseType(string(d.Type)); err != nil {
		return fmt.Errorf("card %s: %w", d.ID, err)
	}
	if _, err := ParseAbility(string(d.Ability)); err != nil {
		return fmt.Errorf("card %s: %w", d.ID, err)
	}
	if _, err := ParseRarity(string(d.Rarity)); err != nil {
		return fmt.Errorf("card %s: %w", d.ID, err)
	}
	return nil
}

// Record is an untyped card row as read from storage or an import file
type Record struct {
	ID          string
	Name        string
	Type        string
	Cost        int
	Power       int
	Health      int
	Ability     string
	Description string
	Rarity      string
}

// FromRecord parses a raw record into a Definition
func FromRecord(r Record) (Definition, error) {
	t, err := ParseType(r.Type)
	if err != nil {
		return Definition{}, fmt.Errorf("card %s: %w", r.ID, err)
	}
	a, err := ParseAbility(r.Ability)
	if err != nil {
		return Definition{}, fmt.Errorf("card %s: %w", r.ID, err)
	}
	rar, err := ParseRarity(r.Rarity)
	if err != nil {
		return Definition{}, fmt.Errorf("card %s: %w", r.ID, err)
	}
	def := Definition{
		ID:          strings.TrimSpace(r.ID),
		Name:        r.Name,
		Type:        t,
		Cost:        r.Cost,
		Power:       r.Power,
		Health:      r.Health,
		Ability:     a,
		Description: r.Description,
		Rarity:      rar,
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// ToRecord converts a Definition back to its storage form
func (d Definition) ToRecord() Record {
	return Record{
		ID:          d.ID,
		Name:        d.Name,
		Type:        string(d.Type),
		Cost:        d.Cost,
		Power:       d.Power,
		Health:      d.Health,
		Ability:     string(d.Ability),
		Description: d.Description,
		Rarity:      string(d.Rarity),
	}
}
